package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/velvetlab/taskpilot/internal/auth"
	"github.com/velvetlab/taskpilot/internal/store"
)

type signupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type tokenResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name}
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", s.logger)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required", s.logger)
		return
	}
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "A valid email address is required", s.logger)
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters", s.logger)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("failed to hash password", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create user", s.logger)
		return
	}

	user, err := s.store.CreateUser(req.Email, req.Name, hash)
	if err != nil {
		if errors.Is(err, store.ErrEmailExists) {
			writeError(w, http.StatusBadRequest, "Email already exists", s.logger)
			return
		}
		s.logger.Error("failed to create user", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create user", s.logger)
		return
	}

	token, err := s.authn.IssueToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create user", s.logger)
		return
	}

	s.logger.Info("user registered", "user_id", user.ID, "email", user.Email)
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, User: toUserResponse(user)}, s.logger)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", s.logger)
		return
	}

	user, err := s.store.UserByEmail(strings.TrimSpace(req.Email))
	if err != nil {
		// Identical response for unknown email and bad password so the
		// endpoint does not leak which accounts exist.
		writeError(w, http.StatusUnauthorized, "Invalid email or password", s.logger)
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, http.StatusUnauthorized, "Invalid email or password", s.logger)
		return
	}

	token, err := s.authn.IssueToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to issue token", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to log in", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: token, User: toUserResponse(user)}, s.logger)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := s.store.UserByID(userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "User not found", s.logger)
			return
		}
		s.logger.Error("failed to load user", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load user", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user), s.logger)
}
