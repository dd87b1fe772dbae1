package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/velvetlab/taskpilot/internal/store"
)

// Envelope is the uniform result wrapper for every tool execution.
// Tool failures never surface as Go errors; they become envelope
// fields so the orchestration loop can hand them back to the model.
type Envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failure(format string, args ...any) Envelope {
	return Envelope{Success: false, Error: fmt.Sprintf(format, args...)}
}

// AsMap renders the envelope as a generic map for the provider's
// tool_results wire format.
func (e Envelope) AsMap() map[string]any {
	m := map[string]any{"success": e.Success}
	if e.Data != nil {
		m["data"] = e.Data
	}
	if e.Error != "" {
		m["error"] = e.Error
	}
	return m
}

// Executor runs tool invocations on behalf of one authenticated user.
// Every operation that addresses a record by id verifies ownership
// before mutating anything.
type Executor struct {
	store  *store.Store
	userID string
	logger *slog.Logger
}

// NewExecutor creates an executor bound to the given requester.
func NewExecutor(st *store.Store, userID string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: st, userID: userID, logger: logger}
}

// Typed parameter structs, one per tool. Decoding rejects unknown
// fields so a parameter-name mismatch fails instead of being ignored.

type addTaskParams struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

type listTasksParams struct {
	Status string `json:"status"`
}

type taskIDParams struct {
	TaskID string `json:"task_id"`
}

type updateTaskParams struct {
	TaskID      string  `json:"task_id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Completed   *bool   `json:"completed"`
}

func decodeParams(params map[string]any, dst any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// Execute runs a tool by name. The dispatch set is closed: each known
// tool decodes into its own parameter struct, and anything else is an
// unknown-tool failure. Execute never returns a Go error.
func (x *Executor) Execute(name string, params map[string]any) Envelope {
	if params == nil {
		params = map[string]any{}
	}

	var env Envelope
	switch name {
	case ToolAddTask:
		var p addTaskParams
		if err := decodeParams(params, &p); err != nil {
			return failure("Tool execution failed: %v", err)
		}
		env = x.addTask(p)
	case ToolListTasks:
		var p listTasksParams
		if err := decodeParams(params, &p); err != nil {
			return failure("Tool execution failed: %v", err)
		}
		env = x.listTasks(p)
	case ToolCompleteTask:
		var p taskIDParams
		if err := decodeParams(params, &p); err != nil {
			return failure("Tool execution failed: %v", err)
		}
		env = x.completeTask(p)
	case ToolDeleteTask:
		var p taskIDParams
		if err := decodeParams(params, &p); err != nil {
			return failure("Tool execution failed: %v", err)
		}
		env = x.deleteTask(p)
	case ToolUpdateTask:
		var p updateTaskParams
		if err := decodeParams(params, &p); err != nil {
			return failure("Tool execution failed: %v", err)
		}
		env = x.updateTask(p)
	case ToolGetUserProfile:
		env = x.getUserProfile()
	default:
		return failure("Unknown tool: %s", name)
	}

	if !env.Success {
		x.logger.Warn("tool execution failed", "tool", name, "error", env.Error)
	}
	return env
}

func (x *Executor) addTask(p addTaskParams) Envelope {
	if strings.TrimSpace(p.Title) == "" {
		return failure("Tool execution failed: title is required")
	}

	task, err := x.store.CreateTask(x.userID, p.Title, p.Description, nil, nil)
	if err != nil {
		return failure("Failed to create task: %v", err)
	}

	return Envelope{
		Success: true,
		Data: map[string]any{
			"id":          task.ID,
			"title":       task.Title,
			"description": task.Description,
			"completed":   task.Completed,
			"created_at":  task.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
}

// Table layout for list_tasks. The result is rendered once, here, into
// a fenced fixed-width block; the model is instructed to reproduce it
// verbatim rather than re-render (models miscount when asked to
// reformat enumerated data).
const (
	tableHeader    = "ID       | Title                    | Status"
	tableSeparator = "---------|--------------------------|----------"
	titleWidth     = 24
)

func (x *Executor) listTasks(p listTasksParams) Envelope {
	filter := store.FilterAll
	switch p.Status {
	case "pending":
		filter = store.FilterPending
	case "completed":
		filter = store.FilterCompleted
	}

	tasks, err := x.store.ListTasks(x.userID, filter, store.SortCreated)
	if err != nil {
		return failure("Failed to list tasks: %v", err)
	}

	if len(tasks) == 0 {
		return Envelope{Success: true, Data: "No tasks found."}
	}

	lines := []string{"```", tableHeader, tableSeparator}
	for _, t := range tasks {
		id := t.ID
		if len(id) > 8 {
			id = id[:8]
		}
		title := t.Title
		if len(title) > titleWidth {
			title = title[:titleWidth]
		}
		status := "Pending  "
		if t.Completed {
			status = "Completed"
		}
		lines = append(lines, fmt.Sprintf("%s | %-*s | %s", id, titleWidth, title, status))
	}
	lines = append(lines, "```")

	return Envelope{Success: true, Data: strings.Join(lines, "\n")}
}

// ownedTask fetches a task by primary key and verifies the requester
// owns it. The lookup deliberately bypasses any owner filter so the
// permission check cannot be skipped by query construction.
func (x *Executor) ownedTask(taskID string) (*store.Task, Envelope) {
	task, err := x.store.TaskByID(taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, failure("Task not found. Please check the task ID.")
	}
	if err != nil {
		return nil, failure("Tool execution failed: %v", err)
	}
	if task.UserID != x.userID {
		return nil, failure("You don't have permission to access this task.")
	}
	return task, Envelope{}
}

func (x *Executor) completeTask(p taskIDParams) Envelope {
	task, env := x.ownedTask(p.TaskID)
	if task == nil {
		return env
	}

	task.Completed = true
	if err := x.store.UpdateTask(task); err != nil {
		return failure("Failed to complete task: %v", err)
	}

	return Envelope{
		Success: true,
		Data: map[string]any{
			"id":         task.ID,
			"title":      task.Title,
			"completed":  task.Completed,
			"updated_at": task.UpdatedAt.UTC().Format(time.RFC3339),
		},
	}
}

func (x *Executor) deleteTask(p taskIDParams) Envelope {
	task, env := x.ownedTask(p.TaskID)
	if task == nil {
		return env
	}

	if err := x.store.DeleteTask(task.ID); err != nil {
		return failure("Failed to delete task: %v", err)
	}

	return Envelope{
		Success: true,
		Data: map[string]any{
			"id":    task.ID,
			"title": task.Title,
		},
	}
}

func (x *Executor) updateTask(p updateTaskParams) Envelope {
	task, env := x.ownedTask(p.TaskID)
	if task == nil {
		return env
	}

	if p.Title != nil {
		task.Title = *p.Title
	}
	if p.Description != nil {
		task.Description = p.Description
	}
	if p.Completed != nil {
		task.Completed = *p.Completed
	}

	if err := x.store.UpdateTask(task); err != nil {
		return failure("Failed to update task: %v", err)
	}

	return Envelope{
		Success: true,
		Data: map[string]any{
			"id":          task.ID,
			"title":       task.Title,
			"description": task.Description,
			"completed":   task.Completed,
			"updated_at":  task.UpdatedAt.UTC().Format(time.RFC3339),
		},
	}
}

func (x *Executor) getUserProfile() Envelope {
	user, err := x.store.UserByID(x.userID)
	if errors.Is(err, store.ErrNotFound) {
		return failure("User not found.")
	}
	if err != nil {
		return failure("Failed to get user profile: %v", err)
	}

	return Envelope{
		Success: true,
		Data: map[string]any{
			"id":         user.ID,
			"email":      user.Email,
			"name":       user.Name,
			"created_at": user.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
}
