package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/ollama/ollama/api"

	"github.com/masonworks/mason-code-agent/internal/httpkit"
)

// OllamaClient adapts the official Ollama API client to the Client
// interface, for local models.
type OllamaClient struct {
	client *api.Client
	logger *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) (*OllamaClient, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama url %q: %w", baseURL, err)
	}

	// Large local models with tools need time.
	httpClient := httpkit.NewClient(httpkit.WithTimeout(5 * time.Minute))

	return &OllamaClient{
		client: api.NewClient(parsed, httpClient),
		logger: logger.With("provider", "ollama"),
	}, nil
}

// Chat sends a chat completion request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolSpec) (*ChatResponse, error) {
	req := &api.ChatRequest{
		Model:    model,
		Messages: ollamaMessages(messages),
		Tools:    ollamaTools(tools),
		Stream:   new(bool),
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(req.Messages),
		"tools", len(req.Tools),
	)

	var last api.ChatResponse
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		last = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	resp := normalizeOllama(&last)
	c.logger.Debug("response received",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(resp.Message.ToolCalls),
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", resp.Message.Content)

	return resp, nil
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	if _, err := c.client.List(ctx); err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	return nil
}

// ListModels returns the names of locally available models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	resp, err := c.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	names := make([]string, len(resp.Models))
	for i, m := range resp.Models {
		names[i] = m.Name
	}
	return names, nil
}

// ollamaMessages converts canonical messages to the API's message shape.
// Ollama carries no call ids, so ids are dropped on the way out and
// synthesized on the way back in.
func ollamaMessages(messages []Message) []api.Message {
	out := make([]api.Message, 0, len(messages))
	for _, msg := range messages {
		m := api.Message{
			Role:    msg.Role,
			Content: msg.Content,
		}
		for _, tc := range msg.ToolCalls {
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				Function: api.ToolCallFunction{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, m)
	}
	return out
}

// ollamaTools converts tool specs to the API's tool shape.
func ollamaTools(tools []ToolSpec) []api.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]api.Tool, 0, len(tools))
	for _, tool := range tools {
		fn := api.ToolFunction{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters: api.ToolFunctionParameters{
				Type:       "object",
				Properties: map[string]api.ToolProperty{},
			},
		}
		switch req := tool.Parameters["required"].(type) {
		case []string:
			fn.Parameters.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					fn.Parameters.Required = append(fn.Parameters.Required, s)
				}
			}
		}
		if props, ok := tool.Parameters["properties"].(map[string]any); ok {
			for name, raw := range props {
				fn.Parameters.Properties[name] = ollamaProperty(raw)
			}
		}
		out = append(out, api.Tool{Type: "function", Function: fn})
	}
	return out
}

// ollamaProperty converts one JSON Schema property into the API's typed
// property shape.
func ollamaProperty(raw any) api.ToolProperty {
	prop := api.ToolProperty{}
	m, ok := raw.(map[string]any)
	if !ok {
		return prop
	}
	switch t := m["type"].(type) {
	case string:
		prop.Type = api.PropertyType{t}
	case []string:
		prop.Type = api.PropertyType(t)
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok {
				prop.Type = append(prop.Type, s)
			}
		}
	}
	if desc, ok := m["description"].(string); ok {
		prop.Description = desc
	}
	if enum, ok := m["enum"].([]any); ok {
		prop.Enum = enum
	}
	return prop
}

// normalizeOllama converts the API response to the canonical shape,
// assigning synthetic call ids so downstream correlation works the same
// as with providers that issue real ids.
func normalizeOllama(resp *api.ChatResponse) *ChatResponse {
	msg := Message{
		Role:    RoleAssistant,
		Content: resp.Message.Content,
	}
	for _, tc := range resp.Message.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        syntheticCallID(),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	return &ChatResponse{
		Model:        resp.Model,
		Message:      msg,
		StopReason:   resp.DoneReason,
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}
}

// syntheticCallID generates a call id for providers that don't issue one.
func syntheticCallID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return "call_" + uuid.NewString()
	}
	return "call_" + id.String()
}
