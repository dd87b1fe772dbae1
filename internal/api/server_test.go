package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/velvetlab/taskpilot/internal/agent"
	"github.com/velvetlab/taskpilot/internal/auth"
	"github.com/velvetlab/taskpilot/internal/llm"
	"github.com/velvetlab/taskpilot/internal/store"
)

// fakeClient replays scripted responses.
type fakeClient struct {
	responses []*llm.ChatResponse
	calls     int
}

func (f *fakeClient) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return &llm.ChatResponse{Text: "ok"}, nil
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

type testServer struct {
	handler http.Handler
	store   *store.Store
	authn   *auth.Authenticator
	client  *fakeClient
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	st, err := store.Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	authn := auth.New("test-secret", time.Hour)
	client := &fakeClient{}
	loop := agent.NewLoop(nil, st, client, agent.Config{})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer("", 0, st, authn, loop, logger)

	return &testServer{
		handler: srv.Handler(),
		store:   st,
		authn:   authn,
		client:  client,
	}
}

// do runs a request against the handler and returns the recorder.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
	return v
}

// signup registers a user and returns the user id and a bearer token.
func (ts *testServer) signup(t *testing.T, email string) (string, string) {
	t.Helper()

	rec := ts.do(t, "POST", "/api/auth/signup", "", map[string]string{
		"name":     "Test User",
		"email":    email,
		"password": "password123",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decode[tokenResponse](t, rec)
	return resp.User.ID, resp.Token
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, rec)["error"]
}

func TestSignupAndLogin(t *testing.T) {
	ts := newTestServer(t)

	userID, token := ts.signup(t, "alice@example.com")
	if userID == "" || token == "" {
		t.Fatal("signup must return user id and token")
	}

	// Duplicate email rejected.
	rec := ts.do(t, "POST", "/api/auth/signup", "", map[string]string{
		"name": "Other", "email": "alice@example.com", "password": "password123",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("duplicate signup status = %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Email already exists" {
		t.Errorf("error = %q", msg)
	}

	// Login with the right password.
	rec = ts.do(t, "POST", "/api/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d", rec.Code)
	}
	login := decode[tokenResponse](t, rec)
	if login.User.ID != userID {
		t.Errorf("login user id = %q, want %q", login.User.ID, userID)
	}

	// Wrong password and unknown email give the same answer.
	for _, creds := range []map[string]string{
		{"email": "alice@example.com", "password": "wrong"},
		{"email": "nobody@example.com", "password": "password123"},
	} {
		rec = ts.do(t, "POST", "/api/auth/login", "", creds)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("login %v status = %d", creds, rec.Code)
		}
		if msg := errorMessage(t, rec); msg != "Invalid email or password" {
			t.Errorf("login %v error = %q", creds, msg)
		}
	}
}

func TestSignup_Validation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body map[string]string
	}{
		{"missing name", map[string]string{"email": "a@b.com", "password": "password123"}},
		{"bad email", map[string]string{"name": "A", "email": "not-an-email", "password": "password123"}},
		{"short password", map[string]string{"name": "A", "email": "a@b.com", "password": "short"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, "POST", "/api/auth/signup", "", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestAuthMe(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.signup(t, "me@example.com")

	rec := ts.do(t, "GET", "/api/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	user := decode[userResponse](t, rec)
	if user.ID != userID || user.Email != "me@example.com" {
		t.Errorf("user = %+v", user)
	}
}

func TestBearerAuth(t *testing.T) {
	ts := newTestServer(t)

	// No token.
	rec := ts.do(t, "GET", "/api/tasks", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Missing authentication token" {
		t.Errorf("error = %q", msg)
	}

	// Garbage token.
	rec = ts.do(t, "GET", "/api/tasks", "not-a-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Invalid token" {
		t.Errorf("error = %q", msg)
	}

	// Expired token.
	expired := auth.New("test-secret", -time.Minute)
	token, err := expired.IssueToken("someone", "x@example.com")
	if err != nil {
		t.Fatal(err)
	}
	rec = ts.do(t, "GET", "/api/tasks", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Token has expired" {
		t.Errorf("error = %q", msg)
	}
}

func TestTaskCRUD(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "tasks@example.com")

	// Create.
	rec := ts.do(t, "POST", "/api/tasks", token, map[string]any{
		"title":       "Buy groceries",
		"description": "milk and eggs",
		"priority":    "high",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	created := decode[store.Task](t, rec)
	if created.Title != "Buy groceries" {
		t.Errorf("title = %q", created.Title)
	}
	if created.Priority == nil || *created.Priority != store.PriorityHigh {
		t.Errorf("priority = %v", created.Priority)
	}

	// Get.
	rec = ts.do(t, "GET", "/api/tasks/"+created.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	// Update.
	rec = ts.do(t, "PUT", "/api/tasks/"+created.ID, token, map[string]any{
		"title": "Buy groceries today",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	updated := decode[store.Task](t, rec)
	if updated.Title != "Buy groceries today" {
		t.Errorf("title = %q", updated.Title)
	}
	// Untouched fields survive.
	if updated.Description == nil || *updated.Description != "milk and eggs" {
		t.Errorf("description = %v", updated.Description)
	}

	// Toggle completion.
	rec = ts.do(t, "PATCH", "/api/tasks/"+created.ID+"/complete", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", rec.Code)
	}
	toggled := decode[store.Task](t, rec)
	if !toggled.Completed {
		t.Error("task should be completed after toggle")
	}
	rec = ts.do(t, "PATCH", "/api/tasks/"+created.ID+"/complete", token, nil)
	if decode[store.Task](t, rec).Completed {
		t.Error("second toggle should flip back to pending")
	}

	// List.
	rec = ts.do(t, "GET", "/api/tasks?status=pending", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	tasks := decode[[]store.Task](t, rec)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 pending task, got %d", len(tasks))
	}

	// Delete.
	rec = ts.do(t, "DELETE", "/api/tasks/"+created.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = ts.do(t, "GET", "/api/tasks/"+created.ID, token, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestTask_Validation(t *testing.T) {
	ts := newTestServer(t)
	_, token := ts.signup(t, "validate@example.com")

	rec := ts.do(t, "POST", "/api/tasks", token, map[string]any{"title": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty title status = %d", rec.Code)
	}

	rec = ts.do(t, "POST", "/api/tasks", token, map[string]any{"title": "x", "priority": "urgent"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad priority status = %d", rec.Code)
	}

	rec = ts.do(t, "GET", "/api/tasks?status=bogus", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad status filter = %d", rec.Code)
	}
}

func TestTask_OwnershipForbidden(t *testing.T) {
	ts := newTestServer(t)
	_, aliceToken := ts.signup(t, "alice@example.com")
	_, bobToken := ts.signup(t, "bob@example.com")

	rec := ts.do(t, "POST", "/api/tasks", aliceToken, map[string]any{"title": "Alice's task"})
	task := decode[store.Task](t, rec)

	for _, method := range []string{"GET", "PUT", "DELETE"} {
		rec = ts.do(t, method, "/api/tasks/"+task.ID, bobToken, map[string]any{"title": "stolen"})
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s status = %d, want 403", method, rec.Code)
		}
	}
}

func TestChat(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.signup(t, "chat@example.com")

	ts.client.responses = []*llm.ChatResponse{
		{ToolCalls: []llm.ToolCall{{Name: "add_task", Parameters: map[string]any{"title": "Buy milk"}}}},
		{Text: "Added \"Buy milk\"."},
	}

	rec := ts.do(t, "POST", "/api/"+userID+"/chat", token, map[string]string{
		"message": "add buy milk to my list",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	resp := decode[chatResponse](t, rec)
	if resp.ConversationID == "" {
		t.Error("expected a conversation id")
	}
	if resp.Response != "Added \"Buy milk\"." {
		t.Errorf("response = %q", resp.Response)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "add_task" {
		t.Errorf("tool_calls = %+v", resp.ToolCalls)
	}

	// The conversation transcript is readable afterwards.
	rec = ts.do(t, "GET", "/api/"+userID+"/conversations/"+resp.ConversationID+"/messages", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("messages status = %d", rec.Code)
	}
	transcript := decode[conversationMessagesResponse](t, rec)
	if len(transcript.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(transcript.Messages))
	}
	if transcript.Messages[0].Role != store.RoleUser {
		t.Errorf("first role = %q", transcript.Messages[0].Role)
	}
}

func TestChat_Validation(t *testing.T) {
	ts := newTestServer(t)
	userID, token := ts.signup(t, "chatval@example.com")

	rec := ts.do(t, "POST", "/api/"+userID+"/chat", token, map[string]string{"message": "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank message status = %d", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Message cannot be empty" {
		t.Errorf("error = %q", msg)
	}

	long := make([]byte, 5001)
	for i := range long {
		long[i] = 'a'
	}
	rec = ts.do(t, "POST", "/api/"+userID+"/chat", token, map[string]string{"message": string(long)})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("long message status = %d", rec.Code)
	}
}

func TestChat_SubjectMismatch(t *testing.T) {
	ts := newTestServer(t)
	aliceID, _ := ts.signup(t, "alice@example.com")
	_, bobToken := ts.signup(t, "bob@example.com")

	rec := ts.do(t, "POST", "/api/"+aliceID+"/chat", bobToken, map[string]string{"message": "hi"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}

	rec = ts.do(t, "GET", "/api/"+aliceID+"/conversations/whatever/messages", bobToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Errorf("messages status = %d, want 403", rec.Code)
	}
}

func TestConversationMessages_NotFound(t *testing.T) {
	ts := newTestServer(t)
	aliceID, aliceToken := ts.signup(t, "alice@example.com")
	bobID, bobToken := ts.signup(t, "bob@example.com")

	// Unknown conversation.
	rec := ts.do(t, "GET", "/api/"+aliceID+"/conversations/no-such/messages", aliceToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if msg := errorMessage(t, rec); msg != "Conversation not found" {
		t.Errorf("error = %q", msg)
	}

	// Someone else's conversation looks identical to a missing one.
	conv, err := ts.store.CreateConversation(aliceID)
	if err != nil {
		t.Fatal(err)
	}
	rec = ts.do(t, "GET", fmt.Sprintf("/api/%s/conversations/%s/messages", bobID, conv.ID), bobToken, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("foreign conversation status = %d, want 404", rec.Code)
	}
}

func TestHealthAndRoot(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	if decode[map[string]string](t, rec)["status"] != "healthy" {
		t.Error("unexpected health body")
	}

	rec = ts.do(t, "GET", "/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("root status = %d", rec.Code)
	}
}
