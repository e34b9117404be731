package agent

import "github.com/masonworks/mason-code-agent/internal/llm"

// Destination is where the loop goes after a model response.
type Destination int

const (
	// ToUser returns control to the operator.
	ToUser Destination = iota
	// ToTools routes into tool execution.
	ToTools
)

// String returns the destination name for logs and events.
func (d Destination) String() string {
	switch d {
	case ToUser:
		return "user"
	case ToTools:
		return "tools"
	default:
		return "unknown"
	}
}

// Route decides the next stage of the loop from the last produced
// message. Pure: no side effects, same answer for the same input.
//
// The only path into tool execution is an assistant message carrying at
// least one tool call. Everything else — user messages, tool results,
// assistant messages with an empty (even non-nil) call list — returns
// control to the operator.
func Route(msg llm.Message) Destination {
	if msg.Role == llm.RoleAssistant && msg.HasToolCalls() {
		return ToTools
	}
	return ToUser
}
