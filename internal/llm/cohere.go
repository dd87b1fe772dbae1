package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/velvetlab/taskpilot/internal/httpkit"
)

const (
	defaultCohereBaseURL = "https://api.cohere.ai"
	defaultCohereModel   = "command-r-08-2024"
)

// CohereClient is a client for the Cohere v1 chat API. It is constructed
// explicitly and injected wherever a completion is needed; there is no
// process-wide shared instance.
type CohereClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// CohereOption configures a CohereClient.
type CohereOption func(*CohereClient)

// WithModel overrides the default chat model.
func WithModel(model string) CohereOption {
	return func(c *CohereClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(url string) CohereOption {
	return func(c *CohereClient) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// NewCohereClient creates a Cohere client.
func NewCohereClient(apiKey string, logger *slog.Logger, opts ...CohereOption) *CohereClient {
	if logger == nil {
		logger = slog.Default()
	}
	// Completions can take a while before headers arrive (long prompts,
	// tool planning). Use a generous response header timeout and rely on
	// ctx deadlines for overall timeout control.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	c := &CohereClient{
		apiKey:  apiKey,
		model:   defaultCohereModel,
		baseURL: defaultCohereBaseURL,
		logger:  logger.With("provider", "cohere"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(t),
		),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Cohere request/response wire types

type cohereRequest struct {
	Message         string        `json:"message"`
	Model           string        `json:"model"`
	Preamble        string        `json:"preamble,omitempty"`
	ChatHistory     []HistoryTurn `json:"chat_history,omitempty"`
	Tools           []Tool        `json:"tools,omitempty"`
	ToolResults     []ToolResult  `json:"tool_results,omitempty"`
	ForceSingleStep bool          `json:"force_single_step,omitempty"`
}

type cohereResponse struct {
	Text      string       `json:"text"`
	ToolCalls []cohereCall `json:"tool_calls,omitempty"`
}

type cohereCall struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

type cohereError struct {
	Message string `json:"message"`
}

// Chat sends a chat completion request.
func (c *CohereClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	wire := cohereRequest{
		Message:         req.Message,
		Model:           c.model,
		Preamble:        req.Preamble,
		ChatHistory:     req.History,
		Tools:           req.Tools,
		ToolResults:     req.ToolResults,
		ForceSingleStep: req.ForceSingleStep,
	}

	c.logger.Debug("preparing request",
		"model", c.model,
		"history", len(req.History),
		"tools", len(req.Tools),
		"tool_results", len(req.ToolResults),
		"single_step", req.ForceSingleStep,
	)

	jsonData, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "json", string(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	var wireResp cohereResponse
	if err := json.NewDecoder(resp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result := &ChatResponse{Text: wireResp.Text}
	for _, tc := range wireResp.ToolCalls {
		params := tc.Parameters
		if params == nil {
			params = map[string]any{}
		}
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			Name:       tc.Name,
			Parameters: params,
		})
	}

	c.logger.Debug("response received",
		"text_len", len(result.Text),
		"tool_calls", len(result.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Text)

	return result, nil
}

// statusError builds an error whose text carries the provider's failure
// category, so Classify can map it to a user-facing message.
func (c *CohereClient) statusError(status int, body string) error {
	var ce cohereError
	detail := body
	if json.Unmarshal([]byte(body), &ce) == nil && ce.Message != "" {
		detail = ce.Message
	}

	c.logger.Error("API error", "status", status, "body", detail)

	switch status {
	case http.StatusTooManyRequests:
		return fmt.Errorf("cohere API rate limit exceeded (%d): %s", status, detail)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("cohere API key rejected (%d): %s", status, detail)
	case http.StatusGatewayTimeout:
		return fmt.Errorf("cohere API timeout (%d): %s", status, detail)
	default:
		return fmt.Errorf("cohere API error %d: %s", status, detail)
	}
}

// Ping checks if the Cohere API is reachable. Cohere has no dedicated
// health endpoint, so a minimal completion verifies the API key works.
func (c *CohereClient) Ping(ctx context.Context) error {
	_, err := c.Chat(ctx, &ChatRequest{Message: "ping"})
	return err
}
