package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/masonworks/mason-code-agent/internal/events"
	"github.com/masonworks/mason-code-agent/internal/llm"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newEchoRegistry returns a registry with a single "echo" tool that
// reflects its text argument back.
func newEchoRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(&Tool{
		Name:        "echo",
		Description: "Echo the input",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return fmt.Sprintf("echo: %v", args["text"]), nil
		},
	})
	return registry
}

func TestInvoker_Execute(t *testing.T) {
	inv := NewInvoker(newEchoRegistry(), testLogger(), nil)

	result := inv.Execute(context.Background(), llm.ToolCall{
		ID:        "call-1",
		Name:      "echo",
		Arguments: map[string]any{"text": "hi"},
	})

	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "echo: hi" {
		t.Errorf("Content = %q, want %q", result.Content, "echo: hi")
	}
	if result.CallID != "call-1" {
		t.Errorf("CallID = %q, want %q", result.CallID, "call-1")
	}
	if result.Name != "echo" {
		t.Errorf("Name = %q, want %q", result.Name, "echo")
	}
}

func TestInvoker_UnknownTool(t *testing.T) {
	inv := NewInvoker(NewRegistry(), testLogger(), nil)

	result := inv.Execute(context.Background(), llm.ToolCall{ID: "call-2", Name: "bogus"})

	if !result.IsError {
		t.Fatal("expected error result for unknown tool")
	}
	want := `ERROR: tool 'bogus' failed: tool "bogus" is not available`
	if result.Content != want {
		t.Errorf("Content = %q, want %q", result.Content, want)
	}
	if result.CallID != "call-2" {
		t.Errorf("CallID = %q, want %q", result.CallID, "call-2")
	}
}

func TestInvoker_HandlerError(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&Tool{
		Name: "broken",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("boom")
		},
	})
	inv := NewInvoker(registry, testLogger(), nil)

	result := inv.Execute(context.Background(), llm.ToolCall{ID: "call-3", Name: "broken"})

	if !result.IsError {
		t.Fatal("expected error result")
	}
	want := "ERROR: tool 'broken' failed: boom"
	if result.Content != want {
		t.Errorf("Content = %q, want %q", result.Content, want)
	}
}

func TestInvoker_PanicIsolation(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&Tool{
		Name: "panics",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			panic("kaboom")
		},
	})
	inv := NewInvoker(registry, testLogger(), nil)

	result := inv.Execute(context.Background(), llm.ToolCall{ID: "call-4", Name: "panics"})

	if !result.IsError {
		t.Fatal("expected error result from panicking handler")
	}
	if !strings.Contains(result.Content, "panic: kaboom") {
		t.Errorf("Content = %q, want panic message", result.Content)
	}
}

func TestInvoker_Timeout(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&Tool{
		Name: "slow",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			time.Sleep(2 * time.Second)
			return "done", nil
		},
	})
	inv := NewInvoker(registry, testLogger(), nil)
	inv.SetTimeout(50 * time.Millisecond)

	result := inv.Execute(context.Background(), llm.ToolCall{ID: "call-5", Name: "slow"})

	if !result.IsError {
		t.Fatal("expected timeout result")
	}
	if !strings.Contains(result.Content, "timed out after") {
		t.Errorf("Content = %q, want timeout message", result.Content)
	}
}

func TestInvoker_TimeoutDisabled(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&Tool{
		Name: "slowish",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			time.Sleep(30 * time.Millisecond)
			return "done", nil
		},
	})
	inv := NewInvoker(registry, testLogger(), nil)
	inv.SetTimeout(0)

	result := inv.Execute(context.Background(), llm.ToolCall{ID: "call-6", Name: "slowish"})

	if result.IsError {
		t.Fatalf("unexpected error result: %s", result.Content)
	}
	if result.Content != "done" {
		t.Errorf("Content = %q, want %q", result.Content, "done")
	}
}

func TestInvoker_ParentCancellation(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&Tool{
		Name: "sleeper",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			time.Sleep(2 * time.Second)
			return "done", nil
		},
	})
	inv := NewInvoker(registry, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	result := inv.Execute(ctx, llm.ToolCall{ID: "call-7", Name: "sleeper"})

	if !result.IsError {
		t.Fatal("expected error result after cancellation")
	}
	if !strings.Contains(result.Content, "context canceled") {
		t.Errorf("Content = %q, want cancellation message", result.Content)
	}
}

func TestInvoker_ExecuteBatch(t *testing.T) {
	registry := newEchoRegistry()
	registry.Register(&Tool{
		Name: "broken",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("boom")
		},
	})
	inv := NewInvoker(registry, testLogger(), nil)

	calls := []llm.ToolCall{
		{ID: "id-1", Name: "echo", Arguments: map[string]any{"text": "a"}},
		{ID: "id-2", Name: "bogus"},
		{ID: "id-3", Name: "broken"},
	}

	results := inv.ExecuteBatch(context.Background(), calls)

	if len(results) != len(calls) {
		t.Fatalf("got %d results, want %d", len(results), len(calls))
	}
	// Results come back in input order with matching ids.
	for i, call := range calls {
		if results[i].CallID != call.ID {
			t.Errorf("results[%d].CallID = %q, want %q", i, results[i].CallID, call.ID)
		}
	}
	if results[0].IsError {
		t.Errorf("echo result should succeed: %s", results[0].Content)
	}
	if !results[1].IsError || !strings.Contains(results[1].Content, "not available") {
		t.Errorf("bogus result = %+v, want unknown-tool error", results[1])
	}
	if !results[2].IsError || !strings.Contains(results[2].Content, "boom") {
		t.Errorf("broken result = %+v, want handler error", results[2])
	}
}

func TestInvoker_BatchRunsConcurrently(t *testing.T) {
	// Each handler waits for the other to start. Serial execution would
	// deadlock until the per-call timeout fires.
	var rendezvous sync.WaitGroup
	rendezvous.Add(2)

	registry := NewRegistry()
	registry.Register(&Tool{
		Name: "meet",
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			rendezvous.Done()
			rendezvous.Wait()
			return "met", nil
		},
	})
	inv := NewInvoker(registry, testLogger(), nil)
	inv.SetTimeout(2 * time.Second)

	results := inv.ExecuteBatch(context.Background(), []llm.ToolCall{
		{ID: "id-1", Name: "meet"},
		{ID: "id-2", Name: "meet"},
	})

	for _, r := range results {
		if r.IsError {
			t.Errorf("batch call %s failed, calls did not overlap: %s", r.CallID, r.Content)
		}
	}
}

func TestInvoker_PublishesEvents(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(8)
	defer bus.Unsubscribe(ch)

	inv := NewInvoker(newEchoRegistry(), testLogger(), bus)
	ctx := WithSessionKey(context.Background(), "sess-9")

	inv.Execute(ctx, llm.ToolCall{ID: "call-9", Name: "echo", Arguments: map[string]any{"text": "x"}})

	waitEvent := func() events.Event {
		select {
		case e := <-ch:
			return e
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
			return events.Event{}
		}
	}

	started := waitEvent()
	if started.Kind != events.KindToolCall {
		t.Errorf("first event kind = %q, want %q", started.Kind, events.KindToolCall)
	}
	if started.Source != events.SourceTools {
		t.Errorf("source = %q, want %q", started.Source, events.SourceTools)
	}
	if started.Data["session"] != "sess-9" {
		t.Errorf("session = %v, want sess-9", started.Data["session"])
	}
	if started.Data["tool"] != "echo" {
		t.Errorf("tool = %v, want echo", started.Data["tool"])
	}

	done := waitEvent()
	if done.Kind != events.KindToolDone {
		t.Errorf("second event kind = %q, want %q", done.Kind, events.KindToolDone)
	}
	if done.Data["ok"] != true {
		t.Errorf("ok = %v, want true", done.Data["ok"])
	}
	if done.Data["call_id"] != "call-9" {
		t.Errorf("call_id = %v, want call-9", done.Data["call_id"])
	}
}

func TestResult_Message(t *testing.T) {
	r := Result{CallID: "call-7", Name: "echo", Content: "output"}

	msg := r.Message()
	if msg.Role != llm.RoleTool {
		t.Errorf("Role = %q, want %q", msg.Role, llm.RoleTool)
	}
	if msg.Content != "output" {
		t.Errorf("Content = %q, want %q", msg.Content, "output")
	}
	if msg.ToolCallID != "call-7" {
		t.Errorf("ToolCallID = %q, want %q", msg.ToolCallID, "call-7")
	}
}
