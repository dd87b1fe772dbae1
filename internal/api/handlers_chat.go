package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/velvetlab/taskpilot/internal/agent"
	"github.com/velvetlab/taskpilot/internal/store"
)

const maxMessageLength = 5000

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string                 `json:"conversation_id"`
	Response       string                 `json:"response"`
	ToolCalls      []agent.ToolCallRecord `json:"tool_calls"`
}

// requireSelf enforces that the {user_id} path segment matches the
// authenticated subject. Chat routes are scoped per user in the path.
func (s *Server) requireSelf(w http.ResponseWriter, r *http.Request, userID string) bool {
	if r.PathValue("user_id") != userID {
		writeError(w, http.StatusForbidden, "You don't have permission to access this resource", s.logger)
		return false
	}
	return true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, userID string) {
	if !s.requireSelf(w, r, userID) {
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", s.logger)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message cannot be empty", s.logger)
		return
	}
	if utf8.RuneCountInString(req.Message) > maxMessageLength {
		writeError(w, http.StatusBadRequest, "Message is too long. Maximum 5000 characters allowed.", s.logger)
		return
	}

	result, err := s.loop.ProcessMessage(r.Context(), userID, req.ConversationID, req.Message)
	if err != nil {
		if errors.Is(err, agent.ErrConversationNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found", s.logger)
			return
		}
		s.logger.Error("failed to process chat message", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process chat message", s.logger)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		ConversationID: result.ConversationID,
		Response:       result.Response,
		ToolCalls:      result.ToolCalls,
	}, s.logger)
}

type conversationMessagesResponse struct {
	ConversationID string           `json:"conversation_id"`
	Messages       []*store.Message `json:"messages"`
}

func (s *Server) handleConversationMessages(w http.ResponseWriter, r *http.Request, userID string) {
	if !s.requireSelf(w, r, userID) {
		return
	}

	conversationID := r.PathValue("conversation_id")
	conv, err := s.store.ConversationByID(conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Conversation not found", s.logger)
			return
		}
		s.logger.Error("failed to load conversation", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load conversation", s.logger)
		return
	}
	// A conversation owned by someone else is indistinguishable from a
	// missing one to the requester.
	if conv.UserID != userID {
		writeError(w, http.StatusNotFound, "Conversation not found", s.logger)
		return
	}

	messages, err := s.store.Messages(conversationID)
	if err != nil {
		s.logger.Error("failed to load messages", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load messages", s.logger)
		return
	}
	if messages == nil {
		messages = []*store.Message{}
	}

	writeJSON(w, http.StatusOK, conversationMessagesResponse{
		ConversationID: conversationID,
		Messages:       messages,
	}, s.logger)
}
