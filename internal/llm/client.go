package llm

import "context"

// Client is implemented by every model provider adapter.
type Client interface {
	// Chat sends the conversation and tool definitions and returns the
	// model's next message, normalized to the canonical types.
	Chat(ctx context.Context, model string, messages []Message, tools []ToolSpec) (*ChatResponse, error)

	// Ping checks that the provider is reachable and credentials work.
	Ping(ctx context.Context) error
}
