package tools

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/velvetlab/taskpilot/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestUser(t *testing.T, s *store.Store) *store.User {
	t.Helper()

	u, err := s.CreateUser(fmt.Sprintf("user-%d@example.com", time.Now().UnixNano()), "Test User", "hash")
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestExecute_UnknownTool(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s)
	x := NewExecutor(s, u.ID, nil)

	env := x.Execute("launch_rockets", nil)
	if env.Success {
		t.Fatal("unknown tool must fail")
	}
	if env.Error != "Unknown tool: launch_rockets" {
		t.Errorf("error = %q", env.Error)
	}
}

func TestAddTask(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s)
	x := NewExecutor(s, u.ID, nil)

	env := x.Execute(ToolAddTask, map[string]any{
		"title":       "Buy groceries",
		"description": "milk and eggs",
	})
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}

	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is %T, want map", env.Data)
	}
	if data["title"] != "Buy groceries" {
		t.Errorf("title = %v", data["title"])
	}
	if data["id"] == "" {
		t.Error("expected a task id")
	}

	tasks, err := s.ListTasks(u.ID, store.FilterAll, store.SortCreated)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task persisted, got %d", len(tasks))
	}
}

func TestAddTask_MissingTitle(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s)
	x := NewExecutor(s, u.ID, nil)

	for _, params := range []map[string]any{
		{},
		{"title": ""},
		{"title": "   "},
	} {
		env := x.Execute(ToolAddTask, params)
		if env.Success {
			t.Errorf("params %v: expected failure", params)
		}
	}
}

func TestExecute_UnknownParameter(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s)
	x := NewExecutor(s, u.ID, nil)

	env := x.Execute(ToolAddTask, map[string]any{"title": "x", "deadline": "tomorrow"})
	if env.Success {
		t.Fatal("unknown parameter must fail, not be silently dropped")
	}
	if !strings.HasPrefix(env.Error, "Tool execution failed:") {
		t.Errorf("error = %q", env.Error)
	}
}

func TestListTasks_Empty(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s)
	x := NewExecutor(s, u.ID, nil)

	env := x.Execute(ToolListTasks, nil)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}
	if env.Data != "No tasks found." {
		t.Errorf("data = %v", env.Data)
	}
}

func TestListTasks_TableFormat(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s)
	x := NewExecutor(s, u.ID, nil)

	created, err := s.CreateTask(u.ID, "A very long task title that exceeds the column", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	short, err := s.CreateTask(u.ID, "Short", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	short.Completed = true
	if err := s.UpdateTask(short); err != nil {
		t.Fatal(err)
	}

	env := x.Execute(ToolListTasks, map[string]any{"status": "all"})
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}

	table, ok := env.Data.(string)
	if !ok {
		t.Fatalf("data is %T, want string", env.Data)
	}

	lines := strings.Split(table, "\n")
	if lines[0] != "```" || lines[len(lines)-1] != "```" {
		t.Errorf("table must be fenced, got first=%q last=%q", lines[0], lines[len(lines)-1])
	}
	if lines[1] != "ID       | Title                    | Status" {
		t.Errorf("header = %q", lines[1])
	}
	if lines[2] != "---------|--------------------------|----------" {
		t.Errorf("separator = %q", lines[2])
	}

	// Newest first: truncated id and title, pending status padded to width.
	wantRow := short.ID[:8] + " | Short                    | Completed"
	if lines[3] != wantRow {
		t.Errorf("row = %q, want %q", lines[3], wantRow)
	}
	wantRow = created.ID[:8] + " | A very long task title t | Pending  "
	if lines[4] != wantRow {
		t.Errorf("row = %q, want %q", lines[4], wantRow)
	}
}

func TestListTasks_StatusFilter(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s)
	x := NewExecutor(s, u.ID, nil)

	pending, err := s.CreateTask(u.ID, "Pending one", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	done, err := s.CreateTask(u.ID, "Done one", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	done.Completed = true
	if err := s.UpdateTask(done); err != nil {
		t.Fatal(err)
	}

	env := x.Execute(ToolListTasks, map[string]any{"status": "pending"})
	table := env.Data.(string)
	if !strings.Contains(table, pending.ID[:8]) || strings.Contains(table, done.ID[:8]) {
		t.Errorf("pending filter wrong:\n%s", table)
	}

	env = x.Execute(ToolListTasks, map[string]any{"status": "completed"})
	table = env.Data.(string)
	if strings.Contains(table, pending.ID[:8]) || !strings.Contains(table, done.ID[:8]) {
		t.Errorf("completed filter wrong:\n%s", table)
	}
}

func TestCompleteTask(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s)
	x := NewExecutor(s, u.ID, nil)

	task, err := s.CreateTask(u.ID, "Finish this", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	env := x.Execute(ToolCompleteTask, map[string]any{"task_id": task.ID})
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}

	got, err := s.TaskByID(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Completed {
		t.Error("task should be completed")
	}
}

func TestOwnership(t *testing.T) {
	s := newTestStore(t)
	alice := newTestUser(t, s)
	bob := newTestUser(t, s)

	task, err := s.CreateTask(alice.ID, "Alice's task", nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	x := NewExecutor(s, bob.ID, nil)

	for _, tool := range []string{ToolCompleteTask, ToolDeleteTask, ToolUpdateTask} {
		env := x.Execute(tool, map[string]any{"task_id": task.ID})
		if env.Success {
			t.Errorf("%s: expected failure for foreign task", tool)
		}
		if env.Error != "You don't have permission to access this task." {
			t.Errorf("%s: error = %q", tool, env.Error)
		}
	}

	// The task is untouched.
	if _, err := s.TaskByID(task.ID); err != nil {
		t.Fatalf("task should still exist: %v", err)
	}
}

func TestTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s)
	x := NewExecutor(s, u.ID, nil)

	env := x.Execute(ToolDeleteTask, map[string]any{"task_id": "no-such-task"})
	if env.Success {
		t.Fatal("expected failure")
	}
	if env.Error != "Task not found. Please check the task ID." {
		t.Errorf("error = %q", env.Error)
	}
}

func TestUpdateTask_PartialFields(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s)
	x := NewExecutor(s, u.ID, nil)

	desc := "original description"
	task, err := s.CreateTask(u.ID, "Original", &desc, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	env := x.Execute(ToolUpdateTask, map[string]any{
		"task_id": task.ID,
		"title":   "Renamed",
	})
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}

	got, err := s.TaskByID(task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Renamed" {
		t.Errorf("title = %q", got.Title)
	}
	// Omitted fields stay untouched.
	if got.Description == nil || *got.Description != desc {
		t.Errorf("description = %v, want %q", got.Description, desc)
	}
	if got.Completed {
		t.Error("completed flag should be untouched")
	}
}

func TestGetUserProfile(t *testing.T) {
	s := newTestStore(t)
	u := newTestUser(t, s)
	x := NewExecutor(s, u.ID, nil)

	env := x.Execute(ToolGetUserProfile, nil)
	if !env.Success {
		t.Fatalf("expected success, got %q", env.Error)
	}

	data := env.Data.(map[string]any)
	if data["email"] != u.Email {
		t.Errorf("email = %v, want %q", data["email"], u.Email)
	}
	if data["name"] != "Test User" {
		t.Errorf("name = %v", data["name"])
	}
}

func TestGetUserProfile_MissingUser(t *testing.T) {
	s := newTestStore(t)
	x := NewExecutor(s, "ghost-user", nil)

	env := x.Execute(ToolGetUserProfile, nil)
	if env.Success {
		t.Fatal("expected failure")
	}
	if env.Error != "User not found." {
		t.Errorf("error = %q", env.Error)
	}
}

func TestCatalog(t *testing.T) {
	catalog := Catalog()
	if len(catalog) != 6 {
		t.Fatalf("expected 6 tools, got %d", len(catalog))
	}

	names := make(map[string]bool)
	for _, tool := range catalog {
		names[tool.Name] = true
		if tool.Description == "" {
			t.Errorf("%s: missing description", tool.Name)
		}
	}
	for _, want := range []string{ToolAddTask, ToolListTasks, ToolCompleteTask, ToolDeleteTask, ToolUpdateTask, ToolGetUserProfile} {
		if !names[want] {
			t.Errorf("catalog missing %s", want)
		}
	}

	// add_task requires a title parameter.
	for _, tool := range catalog {
		if tool.Name == ToolAddTask {
			if def, ok := tool.ParameterDefinitions["title"]; !ok || !def.Required {
				t.Error("add_task must declare a required title parameter")
			}
		}
	}
}
