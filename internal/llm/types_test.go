package llm

import (
	"encoding/json"
	"testing"
)

func TestHasToolCalls(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{
			name: "no tool calls",
			msg:  Message{Role: RoleAssistant, Content: "Hi there!"},
			want: false,
		},
		{
			name: "empty but present slice",
			msg:  Message{Role: RoleAssistant, ToolCalls: []ToolCall{}},
			want: false,
		},
		{
			name: "one tool call",
			msg: Message{
				Role:      RoleAssistant,
				ToolCalls: []ToolCall{{ID: "toolu_1", Name: "list_files"}},
			},
			want: true,
		},
		{
			name: "user message never has tool calls",
			msg:  Message{Role: RoleUser, Content: "hello"},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.HasToolCalls(); got != tt.want {
				t.Errorf("HasToolCalls() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMessageJSONRoundTrip(t *testing.T) {
	orig := Message{
		Role:    RoleAssistant,
		Content: "Running the tool now.",
		ToolCalls: []ToolCall{{
			ID:        "toolu_42",
			Name:      "run_tests",
			Arguments: map[string]any{"package": "./..."},
		}},
	}

	data, err := json.Marshal(orig)
	if err != nil {
		t.Fatal(err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}

	if decoded.Role != orig.Role || decoded.Content != orig.Content {
		t.Errorf("round trip changed message: %+v", decoded)
	}
	if len(decoded.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(decoded.ToolCalls))
	}
	if decoded.ToolCalls[0].ID != "toolu_42" || decoded.ToolCalls[0].Name != "run_tests" {
		t.Errorf("round trip changed tool call: %+v", decoded.ToolCalls[0])
	}
}

func TestToolRoleMessageOmitsEmptyFields(t *testing.T) {
	msg := Message{Role: RoleTool, Content: "done", ToolCallID: "toolu_9"}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if _, present := raw["tool_calls"]; present {
		t.Error("expected tool_calls omitted when empty")
	}
	if raw["tool_call_id"] != "toolu_9" {
		t.Errorf("expected tool_call_id preserved, got %v", raw["tool_call_id"])
	}
}
