// Package conversation holds the ordered message log that is the single
// source of truth for a session's history.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/masonworks/mason-code-agent/internal/llm"
)

var (
	// ErrToolCallsPending is returned when a non-tool message is appended
	// while tool calls from the last assistant message are unanswered.
	ErrToolCallsPending = errors.New("tool calls pending")

	// ErrUnmatchedToolResult is returned when a tool-role message does not
	// answer exactly one pending tool call.
	ErrUnmatchedToolResult = errors.New("tool result does not match a pending call")

	// ErrSystemMessage is returned when a system-role message is appended.
	// The system preamble and environment context are injected fresh into
	// every model call and never stored.
	ErrSystemMessage = errors.New("system messages are never persisted")
)

// Persister durably stores message batches before they become visible in
// memory. The checkpoint store implements it.
type Persister interface {
	// AppendBatch writes msgs at sequence positions startSeq onward in a
	// single transaction: all rows or none.
	AppendBatch(ctx context.Context, sessionKey string, startSeq int, msgs []llm.Message) error

	// Clear removes all stored messages for the session.
	Clear(ctx context.Context, sessionKey string) error
}

// Log is a strictly ordered, append-only, in-memory message log with
// write-through persistence. A batch is durable before it becomes visible:
// if the persister fails, the in-memory log is untouched and the caller
// sees the history exactly as it was.
//
// The log also guards the tool-call pairing rules structurally: an
// assistant message carrying N tool calls must be answered by exactly N
// tool-role messages (matched by call id, order irrelevant) before any
// other message may follow. Violations are append errors, so a malformed
// turn can never be recorded.
type Log struct {
	mu         sync.RWMutex
	sessionKey string
	persister  Persister
	messages   []llm.Message
	pending    []string // unanswered call ids from the last assistant message, in call order
}

// NewLog creates an empty log for a session. The persister may be nil for
// ephemeral sessions (one-shot runs, tests).
func NewLog(sessionKey string, p Persister) *Log {
	return &Log{
		sessionKey: sessionKey,
		persister:  p,
	}
}

// SessionKey returns the session this log belongs to.
func (l *Log) SessionKey() string {
	return l.sessionKey
}

// Append validates msgs against the pairing rules, persists them as one
// durable batch, and only then makes them visible. All or nothing: on any
// error the log is unchanged.
func (l *Log) Append(ctx context.Context, msgs ...llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pending, err := l.validate(msgs)
	if err != nil {
		return err
	}

	if l.persister != nil {
		if err := l.persister.AppendBatch(ctx, l.sessionKey, len(l.messages), msgs); err != nil {
			return fmt.Errorf("persist batch: %w", err)
		}
	}

	l.messages = append(l.messages, msgs...)
	l.pending = pending
	return nil
}

// validate simulates appending msgs in order and returns the pending call
// ids that would remain afterwards. The log itself is not modified.
func (l *Log) validate(msgs []llm.Message) ([]string, error) {
	pending := append([]string(nil), l.pending...)

	for i, msg := range msgs {
		switch msg.Role {
		case llm.RoleSystem:
			return nil, fmt.Errorf("message %d: %w", i, ErrSystemMessage)

		case llm.RoleTool:
			if msg.ToolCallID == "" {
				return nil, fmt.Errorf("message %d: tool message has no call id: %w", i, ErrUnmatchedToolResult)
			}
			idx := -1
			for j, id := range pending {
				if id == msg.ToolCallID {
					idx = j
					break
				}
			}
			if idx < 0 {
				return nil, fmt.Errorf("message %d: call id %q: %w", i, msg.ToolCallID, ErrUnmatchedToolResult)
			}
			pending = append(pending[:idx], pending[idx+1:]...)

		case llm.RoleUser, llm.RoleAssistant:
			if len(pending) > 0 {
				return nil, fmt.Errorf("message %d (%s): %d unanswered: %w", i, msg.Role, len(pending), ErrToolCallsPending)
			}
			if msg.Role == llm.RoleAssistant && msg.HasToolCalls() {
				seen := make(map[string]bool, len(msg.ToolCalls))
				for _, tc := range msg.ToolCalls {
					if tc.ID == "" {
						return nil, fmt.Errorf("message %d: tool call %q has no id", i, tc.Name)
					}
					if seen[tc.ID] {
						return nil, fmt.Errorf("message %d: duplicate tool call id %q", i, tc.ID)
					}
					seen[tc.ID] = true
					pending = append(pending, tc.ID)
				}
			}

		default:
			return nil, fmt.Errorf("message %d: unknown role %q", i, msg.Role)
		}
	}

	return pending, nil
}

// Messages returns the full ordered history as a defensive copy.
func (l *Log) Messages() []llm.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]llm.Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// Len returns the number of messages in the log.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

// Last returns the most recent message, or false on an empty log.
func (l *Log) Last() (llm.Message, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.messages) == 0 {
		return llm.Message{}, false
	}
	return l.messages[len(l.messages)-1], true
}

// PendingToolCalls returns the call ids from the last assistant message
// that have not been answered yet, in call order.
func (l *Log) PendingToolCalls() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.pending...)
}

// Restore replaces the log contents with an already-durable history, as
// loaded from a checkpoint. Nothing is persisted. Pending tool calls are
// reconstructed from the tail so an interrupted tool round is visible to
// the caller.
func (l *Log) Restore(msgs []llm.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append([]llm.Message(nil), msgs...)
	l.pending = nil

	// Walk back to the last assistant message; everything after it can
	// only be tool results.
	last := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llm.RoleAssistant {
			last = i
			break
		}
	}
	if last < 0 || !msgs[last].HasToolCalls() {
		return
	}

	answered := make(map[string]bool)
	for _, m := range msgs[last+1:] {
		if m.Role == llm.RoleTool {
			answered[m.ToolCallID] = true
		}
	}
	for _, tc := range msgs[last].ToolCalls {
		if !answered[tc.ID] {
			l.pending = append(l.pending, tc.ID)
		}
	}
}

// Reset clears the durable session and the in-memory log. The durable
// clear happens first; a persistence failure leaves the log intact.
func (l *Log) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.persister != nil {
		if err := l.persister.Clear(ctx, l.sessionKey); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
	}

	l.messages = nil
	l.pending = nil
	return nil
}
