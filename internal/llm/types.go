// Package llm defines the model provider boundary: the canonical message
// and tool types the rest of the program speaks, plus adapters that
// translate them to and from each provider's wire format.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles. Only these four appear in a conversation log.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is the canonical chat message. Provider responses are normalized
// into this shape at the adapter boundary: text blocks collapse into
// Content and tool_use blocks into ToolCalls, so nothing downstream ever
// sees a provider's string-versus-blocks split.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // set on tool-role messages
}

// HasToolCalls reports whether the message requests any tool executions.
// An empty-but-present ToolCalls slice counts as none.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ToolCall is a single tool invocation requested by the model. ID is the
// provider-assigned call id; results are correlated by it, never by order.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolSpec describes a callable tool to the model. Parameters is a JSON
// Schema object: {"type":"object","properties":{...},"required":[...]}.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ChatResponse is the unified response from any provider.
type ChatResponse struct {
	Model        string
	Message      Message
	StopReason   string
	InputTokens  int
	OutputTokens int
}
