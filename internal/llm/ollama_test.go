package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllamaMessagesDropCallIDs(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "list files"},
		{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{{
				ID:        "call_internal",
				Name:      "list_files",
				Arguments: map[string]any{"path": "."},
			}},
		},
		{Role: RoleTool, Content: "a.txt, b.txt", ToolCallID: "call_internal"},
	}

	result := ollamaMessages(messages)
	if len(result) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(result))
	}
	if len(result[1].ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call on assistant message, got %d", len(result[1].ToolCalls))
	}
	if result[1].ToolCalls[0].Function.Name != "list_files" {
		t.Errorf("unexpected tool name %q", result[1].ToolCalls[0].Function.Name)
	}
	if result[2].Role != "tool" {
		t.Errorf("expected tool role preserved, got %q", result[2].Role)
	}
}

func TestOllamaTools(t *testing.T) {
	tools := []ToolSpec{{
		Name:        "read_file",
		Description: "Read a file",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":   map[string]any{"type": "string", "description": "Relative path"},
				"format": map[string]any{"type": "string", "enum": []any{"text", "json"}},
			},
			"required": []string{"path"},
		},
	}}

	result := ollamaTools(tools)
	if len(result) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(result))
	}
	fn := result[0].Function
	if fn.Name != "read_file" {
		t.Errorf("expected read_file, got %s", fn.Name)
	}
	if len(fn.Parameters.Required) != 1 || fn.Parameters.Required[0] != "path" {
		t.Errorf("expected required [path], got %v", fn.Parameters.Required)
	}
	pathProp, ok := fn.Parameters.Properties["path"]
	if !ok {
		t.Fatal("expected path property")
	}
	if len(pathProp.Type) != 1 || pathProp.Type[0] != "string" {
		t.Errorf("expected string type, got %v", pathProp.Type)
	}
	formatProp := fn.Parameters.Properties["format"]
	if len(formatProp.Enum) != 2 {
		t.Errorf("expected 2 enum values, got %v", formatProp.Enum)
	}
}

func TestOllamaChatSynthesizesCallIDs(t *testing.T) {
	var captured map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"model":"qwen3:4b","created_at":"2025-01-01T00:00:00Z","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"list_files","arguments":{"path":"."}}},{"function":{"name":"read_file","arguments":{"path":"a.txt"}}}]},"done":true,"done_reason":"stop","prompt_eval_count":20,"eval_count":8}`)
	}))
	defer ts.Close()

	client, err := NewOllamaClient(ts.URL, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Chat(context.Background(), "qwen3:4b", []Message{
		{Role: RoleUser, Content: "list files"},
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	if stream, ok := captured["stream"].(bool); !ok || stream {
		t.Errorf("expected stream=false in request, got %v", captured["stream"])
	}

	if len(resp.Message.ToolCalls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(resp.Message.ToolCalls))
	}
	first, second := resp.Message.ToolCalls[0], resp.Message.ToolCalls[1]
	if first.ID == "" || second.ID == "" {
		t.Error("expected synthesized call ids")
	}
	if first.ID == second.ID {
		t.Errorf("expected distinct call ids, both %q", first.ID)
	}
	if first.Name != "list_files" || second.Name != "read_file" {
		t.Errorf("unexpected tool call order: %s, %s", first.Name, second.Name)
	}
	if resp.InputTokens != 20 || resp.OutputTokens != 8 {
		t.Errorf("unexpected usage: in=%d out=%d", resp.InputTokens, resp.OutputTokens)
	}
}

func TestOllamaClientImplementsInterface(t *testing.T) {
	var _ Client = (*OllamaClient)(nil)
}
