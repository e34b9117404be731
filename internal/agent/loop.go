// Package agent implements the conversation engine: a three-state loop
// that alternates between operator input, model generation, and tool
// execution, with every history mutation committed to the checkpoint
// store before the loop proceeds.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/masonworks/mason-code-agent/internal/checkpoint"
	"github.com/masonworks/mason-code-agent/internal/conversation"
	"github.com/masonworks/mason-code-agent/internal/events"
	"github.com/masonworks/mason-code-agent/internal/llm"
	"github.com/masonworks/mason-code-agent/internal/prompts"
	"github.com/masonworks/mason-code-agent/internal/tools"
)

// State identifies the engine's position in the loop.
type State int

const (
	// StateAwaitingInput is the initial state: blocked on the operator.
	StateAwaitingInput State = iota
	// StateGenerating is a model call in flight.
	StateGenerating
	// StateExecutingTools is a tool round in flight.
	StateExecutingTools
)

// String returns the state name for logs and events.
func (s State) String() string {
	switch s {
	case StateAwaitingInput:
		return "awaiting_input"
	case StateGenerating:
		return "generating"
	case StateExecutingTools:
		return "executing_tools"
	default:
		return "unknown"
	}
}

// UI is the human interaction boundary. Presentation only; the engine
// never formats output itself. A nil UI silences all of it, which is
// what one-shot and test runs want.
type UI interface {
	// PromptUser blocks until the operator enters a line. io.EOF ends
	// the session.
	PromptUser() (string, error)
	ShowAssistant(text string)
	ShowToolCall(name string, args map[string]any)
	ShowToolResult(callID, text string)
	ShowError(text string)
	ShowNotice(text string)
}

// SessionStore is the durable side of a session. The engine loads prior
// history once at startup; afterwards the conversation log writes
// through it on every append. *checkpoint.Store satisfies it.
type SessionStore interface {
	conversation.Persister
	Load(ctx context.Context, sessionKey string) ([]llm.Message, error)
	Touch(ctx context.Context, sessionKey string) error
}

// Options configures an Engine. Zero values get working defaults.
type Options struct {
	// SessionKey identifies the durable session (default "default").
	SessionKey string
	// Model is the model identifier passed to the llm client.
	Model string
	// Workdir appears in the per-call environment context message.
	Workdir string
	// ModelTimeout bounds one model call (default 2m).
	ModelTimeout time.Duration
	// MaxToolRounds bounds tool rounds within one user turn (default 25).
	MaxToolRounds int
}

// ErrToolRoundsExceeded is returned when one user turn burns through the
// configured tool-round budget without the model producing a plain
// reply. The conversation stays intact; the operator decides what next.
var ErrToolRoundsExceeded = errors.New("tool round limit exceeded")

// Engine drives one session's conversation loop. At most one step is in
// flight at a time; the internal mutex serializes Step, Reset, and
// session start against each other so append ordering and call-id
// matching can never interleave.
type Engine struct {
	mu      sync.Mutex
	state   State
	logger  *slog.Logger
	bus     *events.Bus
	client  llm.Client
	reg     *tools.Registry
	invoker *tools.Invoker
	store   SessionStore
	log     *conversation.Log
	ui      UI
	opts    Options
}

// New creates an engine. store and ui may be nil (ephemeral session,
// silent presentation). The conversation log is created here so nothing
// else can hold a reference to it.
func New(client llm.Client, reg *tools.Registry, invoker *tools.Invoker, store SessionStore, ui UI, logger *slog.Logger, bus *events.Bus, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.SessionKey == "" {
		opts.SessionKey = "default"
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = 2 * time.Minute
	}
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = 25
	}

	var persister conversation.Persister
	if store != nil {
		persister = store
	}

	return &Engine{
		state:   StateAwaitingInput,
		logger:  logger.With("component", "agent", "session", opts.SessionKey),
		bus:     bus,
		client:  client,
		reg:     reg,
		invoker: invoker,
		store:   store,
		log:     conversation.NewLog(opts.SessionKey, persister),
		ui:      ui,
		opts:    opts,
	}
}

// State returns the engine's current loop state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// History returns the session's committed messages.
func (e *Engine) History() []llm.Message {
	return e.log.Messages()
}

// StartSession loads the durable session or seeds a new one with the
// fixed greeting. If the loaded history ends in an interrupted tool
// round (committed assistant message, missing answers), the round is
// completed before control returns, so no tool call is ever left
// unanswered across a restart.
func (e *Engine) StartSession(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store == nil {
		return e.seedGreeting(ctx)
	}

	history, err := e.store.Load(ctx, e.opts.SessionKey)
	if err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return e.seedGreeting(ctx)
		}
		return fmt.Errorf("load session %q: %w", e.opts.SessionKey, err)
	}
	if err := e.store.Touch(ctx, e.opts.SessionKey); err != nil {
		return fmt.Errorf("touch session %q: %w", e.opts.SessionKey, err)
	}

	e.log.Restore(history)
	e.logger.Info("session resumed", "messages", len(history))
	e.notice(fmt.Sprintf("Resumed session %q (%d messages).", e.opts.SessionKey, len(history)))

	if pending := e.log.PendingToolCalls(); len(pending) > 0 {
		e.notice(fmt.Sprintf("Completing %d interrupted tool call(s).", len(pending)))
		if err := e.finishInterruptedRound(ctx, pending); err != nil {
			return err
		}
	}
	return nil
}

// seedGreeting primes an empty log with the assistant greeting. The
// greeting carries no tool calls, so the first routing decision lands in
// AwaitingUserInput before the operator ever speaks.
func (e *Engine) seedGreeting(ctx context.Context) error {
	greeting := llm.Message{Role: llm.RoleAssistant, Content: prompts.Greeting}
	if err := e.log.Append(ctx, greeting); err != nil {
		return fmt.Errorf("seed greeting: %w", err)
	}
	e.logger.Info("session started")
	if e.ui != nil {
		e.ui.ShowAssistant(prompts.Greeting)
	}
	return nil
}

// finishInterruptedRound executes the unanswered tool calls left behind
// by a crash mid-round, then drives generation to a plain reply exactly
// as the interrupted step would have.
func (e *Engine) finishInterruptedRound(ctx context.Context, pendingIDs []string) error {
	// The unanswered calls live on the most recent assistant message,
	// which may be followed by already-committed answers.
	msgs := e.log.Messages()
	var origin llm.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleAssistant {
			origin = msgs[i]
			break
		}
	}

	pending := make(map[string]bool, len(pendingIDs))
	for _, id := range pendingIDs {
		pending[id] = true
	}
	var calls []llm.ToolCall
	for _, tc := range origin.ToolCalls {
		if pending[tc.ID] {
			calls = append(calls, tc)
		}
	}

	ctx = tools.WithSessionKey(ctx, e.opts.SessionKey)
	if err := e.executeToolRound(ctx, calls); err != nil {
		e.state = StateAwaitingInput
		return err
	}
	_, err := e.generateUntilReply(ctx)
	e.state = StateAwaitingInput
	return err
}

// Step runs one full user turn: append the user message, then alternate
// model calls and tool rounds until the model produces a plain reply.
// The reply is returned; any error leaves the conversation at the last
// committed message (a failed turn never corrupts history).
func (e *Engine) Step(ctx context.Context, userText string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	e.bus.Publish(events.Event{
		Timestamp: start,
		Source:    events.SourceAgent,
		Kind:      events.KindRequestStart,
		Data: map[string]any{
			"session":   e.opts.SessionKey,
			"input_len": len(userText),
		},
	})

	ctx = tools.WithSessionKey(ctx, e.opts.SessionKey)

	userMsg := llm.Message{Role: llm.RoleUser, Content: userText}
	if err := e.log.Append(ctx, userMsg); err != nil {
		return "", fmt.Errorf("commit user message: %w", err)
	}

	reply, err := e.generateUntilReply(ctx)
	e.state = StateAwaitingInput

	e.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindRequestComplete,
		Data: map[string]any{
			"session":    e.opts.SessionKey,
			"ok":         err == nil,
			"elapsed_ms": time.Since(start).Milliseconds(),
		},
	})

	return reply, err
}

// generateUntilReply alternates Generating and ExecutingTools until the
// router sends control back to the operator. Callers hold e.mu.
func (e *Engine) generateUntilReply(ctx context.Context) (string, error) {
	for round := 1; round <= e.opts.MaxToolRounds; round++ {
		e.state = StateGenerating

		msg, err := e.callModel(ctx, round)
		if err != nil {
			// Turn-level failure: nothing appended, history intact.
			return "", err
		}

		if err := e.log.Append(ctx, msg); err != nil {
			// Either the response is structurally malformed (duplicate
			// call ids) or persistence failed. Both abort the step with
			// the conversation at its last committed message.
			return "", fmt.Errorf("commit assistant message: %w", err)
		}

		if e.ui != nil && strings.TrimSpace(msg.Content) != "" {
			e.ui.ShowAssistant(msg.Content)
		}

		if Route(msg) == ToUser {
			return msg.Content, nil
		}

		if err := e.executeToolRound(ctx, msg.ToolCalls); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("%w (%d rounds)", ErrToolRoundsExceeded, e.opts.MaxToolRounds)
}

// callModel assembles the prompt and invokes the model under the
// configured timeout. The system preamble and environment context are
// injected here, fresh on every call, and never reach the log.
func (e *Engine) callModel(ctx context.Context, round int) (llm.Message, error) {
	history := e.log.Messages()
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs,
		llm.Message{Role: llm.RoleSystem, Content: prompts.SystemPreamble()},
		llm.Message{Role: llm.RoleUser, Content: prompts.EnvironmentContext(e.opts.Workdir)},
	)
	msgs = append(msgs, history...)

	e.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindModelCall,
		Data: map[string]any{
			"session": e.opts.SessionKey,
			"round":   round,
			"model":   e.opts.Model,
		},
	})

	callCtx, cancel := context.WithTimeout(ctx, e.opts.ModelTimeout)
	defer cancel()

	resp, err := e.client.Chat(callCtx, e.opts.Model, msgs, e.reg.Specs())
	if err != nil {
		e.logger.Error("model call failed", "round", round, "error", err)
		return llm.Message{}, fmt.Errorf("model call: %w", err)
	}

	msg := resp.Message
	if msg.Role != llm.RoleAssistant {
		return llm.Message{}, fmt.Errorf("model call: unexpected role %q in response", msg.Role)
	}

	e.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindModelResponse,
		Data: map[string]any{
			"session":    e.opts.SessionKey,
			"round":      round,
			"model":      resp.Model,
			"tokens_in":  resp.InputTokens,
			"tokens_out": resp.OutputTokens,
			"tool_calls": len(msg.ToolCalls),
		},
	})

	return msg, nil
}

// executeToolRound runs one batch of tool calls and commits all of the
// answers atomically. Tool failures land in the results, never here;
// the only error path out is a persistence failure. Callers hold e.mu.
func (e *Engine) executeToolRound(ctx context.Context, calls []llm.ToolCall) error {
	e.state = StateExecutingTools

	if e.ui != nil {
		for _, call := range calls {
			e.ui.ShowToolCall(call.Name, call.Arguments)
		}
	}

	results := e.invoker.ExecuteBatch(ctx, calls)

	batch := make([]llm.Message, len(results))
	for i, res := range results {
		batch[i] = res.Message()
		if e.ui == nil {
			continue
		}
		if res.IsError {
			e.ui.ShowError(res.Content)
		} else {
			e.ui.ShowToolResult(res.CallID, res.Content)
		}
	}

	if err := e.log.Append(ctx, batch...); err != nil {
		return fmt.Errorf("commit tool results: %w", err)
	}
	return nil
}

// Reset clears the durable session and reseeds the greeting.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.log.Reset(ctx); err != nil {
		return err
	}
	e.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindSessionReset,
		Data:      map[string]any{"session": e.opts.SessionKey},
	})
	e.logger.Info("session reset")
	return e.seedGreeting(ctx)
}

// Run is the interactive loop: prompt, step, repeat. It returns nil on
// EOF or /quit, or the context error on cancellation. Step errors are
// shown to the operator and the loop continues; the conversation is
// already safe at its last committed message.
func (e *Engine) Run(ctx context.Context) error {
	if e.ui == nil {
		return errors.New("run requires a ui")
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		input, err := e.ui.PromptUser()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			if err := e.Reset(ctx); err != nil {
				e.ui.ShowError(err.Error())
			}
			continue
		}

		if _, err := e.Step(ctx, input); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.ui.ShowError(err.Error())
		}
	}
}

// notice forwards a status line to the ui when one is attached.
func (e *Engine) notice(text string) {
	if e.ui != nil {
		e.ui.ShowNotice(text)
	}
}
