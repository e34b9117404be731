package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/masonworks/mason-code-agent/internal/events"
	"github.com/masonworks/mason-code-agent/internal/llm"
)

// DefaultToolTimeout bounds a single tool execution unless the invoker
// is configured otherwise.
const DefaultToolTimeout = 60 * time.Second

// Result is the outcome of one tool call. Error results flow back to
// the model as ordinary tool messages so it can observe the failure and
// decide what to do next; they never abort the conversation.
type Result struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Message converts the result into the tool-role message answering the
// original call id.
func (r Result) Message() llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    r.Content,
		ToolCallID: r.CallID,
	}
}

// Invoker executes model tool calls against a registry. Failures are
// isolated per call: a missing tool, a handler error, a panic, or a
// timeout each produce an error Result carrying the original call id,
// never an escaping error.
type Invoker struct {
	registry *Registry
	timeout  time.Duration
	logger   *slog.Logger
	bus      *events.Bus
}

// NewInvoker creates an invoker with the default per-call timeout. The
// bus may be nil.
func NewInvoker(registry *Registry, logger *slog.Logger, bus *events.Bus) *Invoker {
	return &Invoker{
		registry: registry,
		timeout:  DefaultToolTimeout,
		logger:   logger,
		bus:      bus,
	}
}

// SetTimeout overrides the per-call timeout. Zero or negative disables
// the bound.
func (inv *Invoker) SetTimeout(d time.Duration) {
	inv.timeout = d
}

// Execute runs a single tool call and returns its result.
func (inv *Invoker) Execute(ctx context.Context, call llm.ToolCall) Result {
	start := time.Now()
	session := SessionKeyFromContext(ctx)

	inv.bus.Publish(events.Event{
		Timestamp: start,
		Source:    events.SourceTools,
		Kind:      events.KindToolCall,
		Data: map[string]any{
			"session": session,
			"tool":    call.Name,
			"call_id": call.ID,
		},
	})

	content, err := inv.run(ctx, call)

	result := Result{CallID: call.ID, Name: call.Name, Content: content}
	if err != nil {
		result.IsError = true
		result.Content = fmt.Sprintf("ERROR: tool '%s' failed: %v", call.Name, err)
		inv.logger.Warn("tool failed",
			"tool", call.Name,
			"call_id", call.ID,
			"error", err,
		)
	} else {
		inv.logger.Debug("tool completed",
			"tool", call.Name,
			"call_id", call.ID,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}

	inv.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceTools,
		Kind:      events.KindToolDone,
		Data: map[string]any{
			"session":     session,
			"tool":        call.Name,
			"call_id":     call.ID,
			"ok":          err == nil,
			"duration_ms": time.Since(start).Milliseconds(),
		},
	})

	return result
}

// ExecuteBatch runs every call concurrently and waits for all of them.
// Results are returned in input order, each carrying its call id, so
// callers pair answers to requests by id rather than position. One
// failing call never affects its siblings.
func (inv *Invoker) ExecuteBatch(ctx context.Context, calls []llm.ToolCall) []Result {
	results := make([]Result, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i] = inv.Execute(ctx, call)
		}(i, call)
	}
	wg.Wait()

	return results
}

// run resolves the tool and executes its handler with panic isolation
// and the per-call timeout applied.
func (inv *Invoker) run(ctx context.Context, call llm.ToolCall) (string, error) {
	tool, ok := inv.registry.Get(call.Name)
	if !ok {
		return "", &ErrToolNotFound{ToolName: call.Name}
	}

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	type outcome struct {
		content string
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		content, err := tool.Handler(ctx, call.Arguments)
		done <- outcome{content: content, err: err}
	}()

	select {
	case out := <-done:
		return out.content, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("timed out after %s", inv.timeout)
		}
		return "", ctx.Err()
	}
}
