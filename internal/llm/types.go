// Package llm provides the chat-completion provider client.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// HistoryTurn is one prior conversation turn sent to the model.
type HistoryTurn struct {
	Role    string `json:"role"` // "User" or "Chatbot"
	Message string `json:"message"`
}

// History roles in the provider's wire vocabulary.
const (
	HistoryRoleUser    = "User"
	HistoryRoleChatbot = "Chatbot"
)

// ParamDef describes one tool parameter.
type ParamDef struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Tool is a callable operation advertised to the model.
type Tool struct {
	Name                 string              `json:"name"`
	Description          string              `json:"description"`
	ParameterDefinitions map[string]ParamDef `json:"parameter_definitions"`
}

// ToolCall is a structured request from the model to execute one named
// operation with given parameters.
type ToolCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// ToolResult feeds one executed tool call back to the model.
type ToolResult struct {
	Call    ToolCall         `json:"call"`
	Outputs []map[string]any `json:"outputs"`
}

// ChatRequest is a provider-neutral chat completion request.
type ChatRequest struct {
	// Message is the new user message. Empty when resending tool results.
	Message string
	// Preamble is the system instruction for this completion.
	Preamble string
	// History holds prior turns, oldest first.
	History []HistoryTurn
	// Tools is the catalog the model may call.
	Tools []Tool
	// ToolResults carries executed tool outputs for the follow-up
	// completion.
	ToolResults []ToolResult
	// ForceSingleStep forbids further tool requests in the response.
	// Required when ToolResults are present.
	ForceSingleStep bool
}

// ChatResponse is the provider's completion result.
type ChatResponse struct {
	// Text is the model's natural-language reply.
	Text string
	// ToolCalls lists the operations the model wants executed, in the
	// order received.
	ToolCalls []ToolCall
}
