package console

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/masonworks/mason-code-agent/internal/agent"
)

// Console must satisfy the engine's human boundary.
var _ agent.UI = (*Console)(nil)

func newPlain(input string) (*Console, *bytes.Buffer) {
	var out bytes.Buffer
	c := New(strings.NewReader(input), &out, Options{NoColor: true})
	return c, &out
}

func TestPromptUser(t *testing.T) {
	c, out := newPlain("list files\nsecond line\n")

	got, err := c.PromptUser()
	if err != nil {
		t.Fatal(err)
	}
	if got != "list files" {
		t.Errorf("got %q", got)
	}
	if !strings.Contains(out.String(), ">") {
		t.Error("prompt marker missing")
	}

	got, err = c.PromptUser()
	if err != nil || got != "second line" {
		t.Errorf("got %q, %v", got, err)
	}
}

func TestPromptUserEOF(t *testing.T) {
	c, _ := newPlain("")
	if _, err := c.PromptUser(); !errors.Is(err, io.EOF) {
		t.Errorf("err = %v, want io.EOF", err)
	}
}

func TestPromptUserFinalLineWithoutNewline(t *testing.T) {
	c, _ := newPlain("no newline")
	got, err := c.PromptUser()
	if err != nil {
		t.Fatal(err)
	}
	if got != "no newline" {
		t.Errorf("got %q", got)
	}
}

func TestShowAssistantPlain(t *testing.T) {
	c, out := newPlain("")
	c.ShowAssistant("**bold** reply")
	s := out.String()
	if !strings.Contains(s, "Assistant") {
		t.Errorf("missing label: %q", s)
	}
	// NoColor skips markdown rendering entirely.
	if !strings.Contains(s, "**bold** reply") {
		t.Errorf("missing body: %q", s)
	}
}

func TestShowToolCall(t *testing.T) {
	c, out := newPlain("")
	c.ShowToolCall("list_files", map[string]any{"path": "."})
	s := out.String()
	if !strings.Contains(s, "list_files") || !strings.Contains(s, `"path":"."`) {
		t.Errorf("output = %q", s)
	}

	out.Reset()
	c.ShowToolCall("run_tests", nil)
	if !strings.Contains(out.String(), "{}") {
		t.Errorf("empty args should render as {}: %q", out.String())
	}
}

func TestShowToolResultTruncates(t *testing.T) {
	c, out := newPlain("")
	c.ShowToolResult("call_1", strings.Repeat("y", maxResultDisplay+50))
	s := out.String()
	if !strings.Contains(s, "call_1") {
		t.Errorf("missing call id: %q", s)
	}
	if !strings.Contains(s, "display truncated") {
		t.Error("long result not truncated for display")
	}
}

func TestShowErrorAndNotice(t *testing.T) {
	c, out := newPlain("")
	c.ShowError("model down")
	c.ShowNotice("resumed session")
	s := out.String()
	if !strings.Contains(s, "model down") || !strings.Contains(s, "resumed session") {
		t.Errorf("output = %q", s)
	}
}
