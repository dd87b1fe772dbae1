package llm

import "context"

// Client is the interface a chat-completion provider must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Ping checks if the provider is reachable with valid credentials.
	Ping(ctx context.Context) error
}
