package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/velvetlab/taskpilot/internal/store"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 1000
)

type createTaskRequest struct {
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	Priority    *string    `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

type updateTaskRequest struct {
	Title       *string    `json:"title"`
	Description *string    `json:"description"`
	Completed   *bool      `json:"completed"`
	Priority    *string    `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

// ownedTask loads the task from the path {id} and enforces ownership.
// It writes the error response itself and returns nil when the caller
// should bail out.
func (s *Server) ownedTask(w http.ResponseWriter, r *http.Request, userID string) *store.Task {
	task, err := s.store.TaskByID(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found", s.logger)
			return nil
		}
		s.logger.Error("failed to load task", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load task", s.logger)
		return nil
	}
	if task.UserID != userID {
		writeError(w, http.StatusForbidden, "Not authorized to access this task", s.logger)
		return nil
	}
	return task
}

func parsePriority(raw *string) (*store.Priority, bool) {
	if raw == nil {
		return nil, true
	}
	p := store.Priority(strings.ToLower(*raw))
	if !p.Valid() {
		return nil, false
	}
	return &p, true
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request, userID string) {
	filter := store.FilterAll
	if v := r.URL.Query().Get("status"); v != "" {
		switch store.TaskFilter(v) {
		case store.FilterAll, store.FilterPending, store.FilterCompleted:
			filter = store.TaskFilter(v)
		default:
			writeError(w, http.StatusBadRequest, "Invalid status filter. Use all, pending or completed", s.logger)
			return
		}
	}

	sort := store.SortCreated
	if v := r.URL.Query().Get("sort"); v != "" {
		switch store.TaskSort(v) {
		case store.SortCreated, store.SortTitle, store.SortDueDate:
			sort = store.TaskSort(v)
		default:
			writeError(w, http.StatusBadRequest, "Invalid sort field. Use created, title or due_date", s.logger)
			return
		}
	}

	tasks, err := s.store.ListTasks(userID, filter, sort)
	if err != nil {
		s.logger.Error("failed to list tasks", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list tasks", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, tasks, s.logger)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request, userID string) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", s.logger)
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "Task title is required", s.logger)
		return
	}
	if len(req.Title) > maxTitleLength {
		writeError(w, http.StatusBadRequest, "Task title must be 200 characters or fewer", s.logger)
		return
	}
	if req.Description != nil && len(*req.Description) > maxDescriptionLength {
		writeError(w, http.StatusBadRequest, "Task description must be 1000 characters or fewer", s.logger)
		return
	}

	priority, ok := parsePriority(req.Priority)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid priority. Use low, medium or high", s.logger)
		return
	}

	task, err := s.store.CreateTask(userID, req.Title, req.Description, priority, req.DueDate)
	if err != nil {
		s.logger.Error("failed to create task", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create task", s.logger)
		return
	}

	writeJSON(w, http.StatusCreated, task, s.logger)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, userID string) {
	task := s.ownedTask(w, r, userID)
	if task == nil {
		return
	}
	writeJSON(w, http.StatusOK, task, s.logger)
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request, userID string) {
	task := s.ownedTask(w, r, userID)
	if task == nil {
		return
	}

	var req updateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", s.logger)
		return
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			writeError(w, http.StatusBadRequest, "Task title cannot be empty", s.logger)
			return
		}
		if len(title) > maxTitleLength {
			writeError(w, http.StatusBadRequest, "Task title must be 200 characters or fewer", s.logger)
			return
		}
		task.Title = title
	}
	if req.Description != nil {
		if len(*req.Description) > maxDescriptionLength {
			writeError(w, http.StatusBadRequest, "Task description must be 1000 characters or fewer", s.logger)
			return
		}
		task.Description = req.Description
	}
	if req.Completed != nil {
		task.Completed = *req.Completed
	}
	if req.Priority != nil {
		priority, ok := parsePriority(req.Priority)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid priority. Use low, medium or high", s.logger)
			return
		}
		task.Priority = priority
	}
	if req.DueDate != nil {
		task.DueDate = req.DueDate
	}

	if err := s.store.UpdateTask(task); err != nil {
		s.logger.Error("failed to update task", "task_id", task.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update task", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, task, s.logger)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request, userID string) {
	task := s.ownedTask(w, r, userID)
	if task == nil {
		return
	}

	if err := s.store.DeleteTask(task.ID); err != nil {
		s.logger.Error("failed to delete task", "task_id", task.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete task", s.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleTask(w http.ResponseWriter, r *http.Request, userID string) {
	task := s.ownedTask(w, r, userID)
	if task == nil {
		return
	}

	task.Completed = !task.Completed
	if err := s.store.UpdateTask(task); err != nil {
		s.logger.Error("failed to toggle task", "task_id", task.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update task", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, task, s.logger)
}
