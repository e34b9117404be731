package agent

import (
	"testing"

	"github.com/masonworks/mason-code-agent/internal/llm"
)

func TestRoute(t *testing.T) {
	call := llm.ToolCall{ID: "call_1", Name: "list_files", Arguments: map[string]any{"path": "."}}

	tests := []struct {
		name string
		msg  llm.Message
		want Destination
	}{
		{
			name: "assistant with tool calls",
			msg:  llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call}},
			want: ToTools,
		},
		{
			name: "assistant with several tool calls",
			msg:  llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call, {ID: "call_2", Name: "read_file"}}},
			want: ToTools,
		},
		{
			name: "assistant plain text",
			msg:  llm.Message{Role: llm.RoleAssistant, Content: "Hi there!"},
			want: ToUser,
		},
		{
			name: "assistant with empty non-nil tool calls",
			msg:  llm.Message{Role: llm.RoleAssistant, Content: "done", ToolCalls: []llm.ToolCall{}},
			want: ToUser,
		},
		{
			name: "user message",
			msg:  llm.Message{Role: llm.RoleUser, Content: "hello"},
			want: ToUser,
		},
		{
			name: "tool message",
			msg:  llm.Message{Role: llm.RoleTool, Content: "a.txt", ToolCallID: "call_1"},
			want: ToUser,
		},
		{
			name: "non-assistant with tool calls still goes to user",
			msg:  llm.Message{Role: llm.RoleUser, ToolCalls: []llm.ToolCall{call}},
			want: ToUser,
		},
		{
			name: "zero message",
			msg:  llm.Message{},
			want: ToUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Route(tt.msg); got != tt.want {
				t.Errorf("Route() = %v, want %v", got, tt.want)
			}
		})
	}
}

// Route must be referentially transparent: repeated calls on the same
// message give the same answer and leave the message untouched.
func TestRouteIsPure(t *testing.T) {
	msg := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   "running tests",
		ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "run_tests", Arguments: map[string]any{}}},
	}

	first := Route(msg)
	for i := 0; i < 100; i++ {
		if got := Route(msg); got != first {
			t.Fatalf("call %d: Route() = %v, first call gave %v", i, got, first)
		}
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].ID != "call_1" {
		t.Error("Route mutated its input")
	}
}

func TestDestinationString(t *testing.T) {
	if ToUser.String() != "user" || ToTools.String() != "tools" {
		t.Errorf("unexpected names: %v %v", ToUser, ToTools)
	}
}
