// Package agent implements the chat orchestration loop.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/velvetlab/taskpilot/internal/llm"
	"github.com/velvetlab/taskpilot/internal/store"
	"github.com/velvetlab/taskpilot/internal/tools"
)

// System instructions for the two completion phases. The list_tasks
// wording enforces the render-once contract: the tool's table is
// reproduced verbatim, never re-rendered by the model.
const (
	toolPreamble = "You are a helpful task management assistant. When displaying task lists, you MUST output the exact text from the tool's 'data' field without any modifications, summaries, or interpretations. Do not count, group, or reformat tasks - just show the exact formatted string provided by the tool."

	resultPreamble = "You are a task management assistant. When the list_tasks tool returns data, output it EXACTLY as provided without any interpretation, counting, grouping, or reformatting. Just show the raw data field content."
)

// ErrConversationNotFound is returned in strict mode when the supplied
// conversation id does not resolve to a conversation the requester owns.
var ErrConversationNotFound = errors.New("conversation not found")

// ToolCallRecord is one entry of the tool audit trail returned to the
// caller, in execution order.
type ToolCallRecord struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
	Result     tools.Envelope `json:"result"`
}

// Result is the outcome of processing one inbound message.
type Result struct {
	ConversationID string
	Response       string
	ToolCalls      []ToolCallRecord
}

// Config tunes the loop.
type Config struct {
	// HistoryLimit caps how many prior turns are sent to the model.
	// Zero defaults to 20.
	HistoryLimit int
	// RequestTimeout bounds each provider completion call.
	// Zero defaults to 60 seconds.
	RequestTimeout time.Duration
	// StrictConversations rejects unresolvable conversation ids instead
	// of silently starting a new conversation.
	StrictConversations bool
}

// Loop turns one free-text user message into validated tool executions
// and a natural-language reply, preserving conversation state.
type Loop struct {
	logger         *slog.Logger
	store          *store.Store
	client         llm.Client
	historyLimit   int
	requestTimeout time.Duration
	strict         bool
}

// NewLoop creates the orchestration loop. The provider client is
// injected; the loop never constructs or shares one globally.
func NewLoop(logger *slog.Logger, st *store.Store, client llm.Client, cfg Config) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	return &Loop{
		logger:         logger,
		store:          st,
		client:         client,
		historyLimit:   cfg.HistoryLimit,
		requestTimeout: cfg.RequestTimeout,
		strict:         cfg.StrictConversations,
	}
}

// ProcessMessage runs the loop for one inbound message. Provider
// failures are downgraded to a friendly assistant turn, so a nil error
// with an apology Response is the norm during provider outages; a
// non-nil error means an internal fault (storage) that the transport
// layer should surface as a 500.
func (l *Loop) ProcessMessage(ctx context.Context, userID, conversationID, message string) (*Result, error) {
	conv, err := l.resolveConversation(conversationID, userID)
	if err != nil {
		return nil, err
	}

	l.logger.Info("processing message", "user", userID, "conversation", conv.ID)

	history, err := l.loadHistory(conv.ID)
	if err != nil {
		return nil, err
	}

	// The user turn is committed before any provider call so history
	// survives a provider outage. It is never rolled back.
	if _, err := l.store.AppendMessage(conv.ID, store.RoleUser, message, nil); err != nil {
		return nil, fmt.Errorf("persist user turn: %w", err)
	}
	if conv.Title == nil {
		if err := l.store.SetConversationTitle(conv.ID, Summarize(message)); err != nil {
			l.logger.Warn("failed to set conversation title", "conversation", conv.ID, "error", err)
		}
	}

	resp, err := l.complete(ctx, &llm.ChatRequest{
		Message:  message,
		Preamble: toolPreamble,
		History:  history,
		Tools:    tools.Catalog(),
	})
	if err != nil {
		return l.apologize(conv.ID, err)
	}

	var audit []ToolCallRecord
	if len(resp.ToolCalls) > 0 {
		l.logger.Info("tool calls requested", "conversation", conv.ID, "count", len(resp.ToolCalls))

		audit = l.executeTools(userID, resp.ToolCalls)

		results := make([]llm.ToolResult, 0, len(audit))
		for _, rec := range audit {
			results = append(results, llm.ToolResult{
				Call:    llm.ToolCall{Name: rec.Name, Parameters: rec.Parameters},
				Outputs: []map[string]any{rec.Result.AsMap()},
			})
		}

		// Single-step mode: the model must answer with text only.
		resp, err = l.complete(ctx, &llm.ChatRequest{
			Message:         "",
			Preamble:        resultPreamble,
			History:         history,
			Tools:           tools.Catalog(),
			ToolResults:     results,
			ForceSingleStep: true,
		})
		if err != nil {
			return l.apologize(conv.ID, err)
		}
	}

	if err := l.saveAssistantTurn(conv.ID, resp.Text, audit); err != nil {
		return nil, err
	}

	l.logger.Info("message processed", "conversation", conv.ID, "tool_calls", len(audit))
	return &Result{
		ConversationID: conv.ID,
		Response:       resp.Text,
		ToolCalls:      audit,
	}, nil
}

func (l *Loop) resolveConversation(conversationID, userID string) (*store.Conversation, error) {
	if l.strict && conversationID != "" {
		conv, err := l.store.ConversationByID(conversationID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		if err != nil {
			return nil, err
		}
		if conv.UserID != userID {
			return nil, ErrConversationNotFound
		}
		return conv, nil
	}

	return l.store.GetOrCreateConversation(conversationID, userID)
}

// loadHistory returns the most recent turns in model wire roles,
// oldest first.
func (l *Loop) loadHistory(conversationID string) ([]llm.HistoryTurn, error) {
	messages, err := l.store.RecentMessages(conversationID, l.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	history := make([]llm.HistoryTurn, 0, len(messages))
	for _, m := range messages {
		role := llm.HistoryRoleChatbot
		if m.Role == store.RoleUser {
			role = llm.HistoryRoleUser
		}
		history = append(history, llm.HistoryTurn{Role: role, Message: m.Content})
	}
	return history, nil
}

// complete runs one provider call under the loop's bounded timeout.
func (l *Loop) complete(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, l.requestTimeout)
	defer cancel()
	return l.client.Chat(callCtx, req)
}

// executeTools runs each requested tool synchronously, in the order
// received, preserving that order in the audit trail. Failures are
// embedded in each envelope and never abort sibling executions.
func (l *Loop) executeTools(userID string, calls []llm.ToolCall) []ToolCallRecord {
	executor := tools.NewExecutor(l.store, userID, l.logger)

	records := make([]ToolCallRecord, 0, len(calls))
	for _, call := range calls {
		l.logger.Info("executing tool", "tool", call.Name)
		records = append(records, ToolCallRecord{
			Name:       call.Name,
			Parameters: call.Parameters,
			Result:     executor.Execute(call.Name, call.Parameters),
		})
	}
	return records
}

func (l *Loop) saveAssistantTurn(conversationID, text string, audit []ToolCallRecord) error {
	var toolCalls *string
	if len(audit) > 0 {
		raw, err := json.Marshal(audit)
		if err != nil {
			return fmt.Errorf("serialize tool audit: %w", err)
		}
		s := string(raw)
		toolCalls = &s
	}

	if _, err := l.store.AppendMessage(conversationID, store.RoleAssistant, text, toolCalls); err != nil {
		return fmt.Errorf("persist assistant turn: %w", err)
	}
	return l.store.TouchConversation(conversationID)
}

// apologize converts a provider failure into a friendly assistant turn.
// The classification and the fixed message per class keep the chat
// endpoint's "always returns a conversational reply" contract.
func (l *Loop) apologize(conversationID string, cause error) (*Result, error) {
	class := llm.Classify(cause)
	text := class.UserMessage()

	l.logger.Error("provider call failed",
		"conversation", conversationID,
		"class", class.String(),
		"error", cause,
	)

	if _, err := l.store.AppendMessage(conversationID, store.RoleAssistant, text, nil); err != nil {
		return nil, fmt.Errorf("persist apology turn: %w", err)
	}
	if err := l.store.TouchConversation(conversationID); err != nil {
		return nil, err
	}

	return &Result{ConversationID: conversationID, Response: text}, nil
}
