// Package api implements the HTTP API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/velvetlab/taskpilot/internal/agent"
	"github.com/velvetlab/taskpilot/internal/auth"
	"github.com/velvetlab/taskpilot/internal/buildinfo"
	"github.com/velvetlab/taskpilot/internal/store"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// writeError sends a JSON error body with the given status.
func writeError(w http.ResponseWriter, status int, message string, logger *slog.Logger) {
	writeJSON(w, status, map[string]string{"error": message}, logger)
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	store   *store.Store
	authn   *auth.Authenticator
	loop    *agent.Loop
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, st *store.Store, authn *auth.Authenticator, loop *agent.Loop, logger *slog.Logger) *Server {
	return &Server{
		address: address,
		port:    port,
		store:   st,
		authn:   authn,
		loop:    loop,
		logger:  logger,
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Auth endpoints
	mux.HandleFunc("POST /api/auth/signup", s.handleSignup)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/auth/me", s.requireAuth(s.handleMe))

	// Task CRUD endpoints
	mux.HandleFunc("GET /api/tasks", s.requireAuth(s.handleListTasks))
	mux.HandleFunc("POST /api/tasks", s.requireAuth(s.handleCreateTask))
	mux.HandleFunc("GET /api/tasks/{id}", s.requireAuth(s.handleGetTask))
	mux.HandleFunc("PUT /api/tasks/{id}", s.requireAuth(s.handleUpdateTask))
	mux.HandleFunc("DELETE /api/tasks/{id}", s.requireAuth(s.handleDeleteTask))
	mux.HandleFunc("PATCH /api/tasks/{id}/complete", s.requireAuth(s.handleToggleTask))

	// Chat endpoints
	mux.HandleFunc("POST /api/{user_id}/chat", s.requireAuth(s.handleChat))
	mux.HandleFunc("GET /api/{user_id}/conversations/{conversation_id}/messages", s.requireAuth(s.handleConversationMessages))

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // chat requests wait on the provider
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// authedHandler receives the verified token subject alongside the request.
type authedHandler func(w http.ResponseWriter, r *http.Request, userID string)

// requireAuth wraps a handler with bearer-token verification. Expired
// and malformed tokens get distinct messages so clients can trigger a
// re-login only when appropriate.
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "Missing authentication token", s.logger)
			return
		}

		userID, err := s.authn.VerifyToken(token)
		if err != nil {
			switch err {
			case auth.ErrTokenExpired:
				writeError(w, http.StatusUnauthorized, "Token has expired", s.logger)
			default:
				writeError(w, http.StatusUnauthorized, "Invalid token", s.logger)
			}
			return
		}

		next(w, r, userID)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "TaskPilot Backend API",
		"version": buildinfo.Version,
		"health":  "/health",
	}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"}, s.logger)
}
