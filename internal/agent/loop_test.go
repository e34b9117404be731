package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/masonworks/mason-code-agent/internal/checkpoint"
	"github.com/masonworks/mason-code-agent/internal/llm"
	"github.com/masonworks/mason-code-agent/internal/tools"
)

// fakeClient replays a scripted sequence of model responses and records
// every prompt it was sent.
type fakeClient struct {
	mu        sync.Mutex
	responses []fakeResponse
	prompts   [][]llm.Message
}

type fakeResponse struct {
	msg llm.Message
	err error
}

func (f *fakeClient) push(msg llm.Message) {
	f.responses = append(f.responses, fakeResponse{msg: msg})
}

func (f *fakeClient) pushErr(err error) {
	f.responses = append(f.responses, fakeResponse{err: err})
}

func (f *fakeClient) Chat(ctx context.Context, model string, messages []llm.Message, specs []llm.ToolSpec) (*llm.ChatResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prompt := append([]llm.Message(nil), messages...)
	f.prompts = append(f.prompts, prompt)

	if len(f.responses) == 0 {
		return nil, errors.New("fakeClient: no scripted response left")
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &llm.ChatResponse{Model: model, Message: next.msg}, nil
}

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

// memStore is an in-memory SessionStore with a switchable failure.
type memStore struct {
	mu       sync.Mutex
	sessions map[string][]llm.Message
	failNext error
}

func newMemStore() *memStore {
	return &memStore{sessions: make(map[string][]llm.Message)}
}

func (s *memStore) AppendBatch(ctx context.Context, key string, startSeq int, msgs []llm.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	if got := len(s.sessions[key]); got != startSeq {
		return fmt.Errorf("sequence gap: have %d messages, batch starts at %d", got, startSeq)
	}
	s.sessions[key] = append(s.sessions[key], msgs...)
	return nil
}

func (s *memStore) Clear(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = nil
	return nil
}

func (s *memStore) Load(ctx context.Context, key string) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs, ok := s.sessions[key]
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	return append([]llm.Message(nil), msgs...), nil
}

func (s *memStore) Touch(ctx context.Context, key string) error { return nil }

// seed stores a pre-built history under key, bypassing the engine.
func (s *memStore) seed(key string, msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[key] = append([]llm.Message(nil), msgs...)
}

// fakeUI records presentation calls and replays scripted input lines.
type fakeUI struct {
	mu       sync.Mutex
	inputs   []string
	shown    []string
	toolUses []string
	errors   []string
}

func (u *fakeUI) PromptUser() (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.inputs) == 0 {
		return "", io.EOF
	}
	line := u.inputs[0]
	u.inputs = u.inputs[1:]
	return line, nil
}

func (u *fakeUI) ShowAssistant(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.shown = append(u.shown, text)
}

func (u *fakeUI) ShowToolCall(name string, args map[string]any) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.toolUses = append(u.toolUses, name)
}

func (u *fakeUI) ShowToolResult(callID, text string) {}

func (u *fakeUI) ShowError(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errors = append(u.errors, text)
}

func (u *fakeUI) ShowNotice(text string) {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRegistry carries the tools the scenarios need: a working
// list_files and a tool that always fails.
func testRegistry() *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name:        "list_files",
		Description: "List files in a directory.",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "a.txt, b.txt", nil
		},
	})
	reg.Register(&tools.Tool{
		Name:        "broken_tool",
		Description: "Always fails.",
		Parameters:  map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("boom")
		},
	})
	return reg
}

func newTestEngine(t *testing.T, client llm.Client, store SessionStore, ui UI, opts Options) *Engine {
	t.Helper()
	reg := testRegistry()
	logger := testLogger()
	inv := tools.NewInvoker(reg, logger, nil)
	if opts.Model == "" {
		opts.Model = "test-model"
	}
	if opts.Workdir == "" {
		opts.Workdir = "/ws"
	}
	return New(client, reg, inv, store, ui, logger, nil, opts)
}

func assistantCall(text string, calls ...llm.ToolCall) llm.Message {
	return llm.Message{Role: llm.RoleAssistant, Content: text, ToolCalls: calls}
}

func TestStartSessionSeedsGreeting(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, &fakeClient{}, store, nil, Options{})

	if err := e.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}

	history := e.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 message, got %d", len(history))
	}
	if history[0].Role != llm.RoleAssistant || history[0].Content != "What can I do for you?" {
		t.Errorf("unexpected greeting: %+v", history[0])
	}
	if history[0].HasToolCalls() {
		t.Error("greeting must not carry tool calls")
	}
	if e.State() != StateAwaitingInput {
		t.Errorf("state = %v, want awaiting input", e.State())
	}

	// The greeting is durable before anything else happens.
	stored, err := store.Load(context.Background(), "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Errorf("expected greeting persisted, got %d messages", len(stored))
	}
}

// Scenario: the model answers with one tool call, the tool runs, and
// the follow-up model call sees the conversation grown by exactly the
// assistant message and its answer.
func TestStepWithToolCall(t *testing.T) {
	client := &fakeClient{}
	client.push(assistantCall("", llm.ToolCall{
		ID: "call_1", Name: "list_files", Arguments: map[string]any{"path": "."},
	}))
	client.push(llm.Message{Role: llm.RoleAssistant, Content: "The directory holds a.txt and b.txt."})

	e := newTestEngine(t, client, newMemStore(), nil, Options{})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}

	reply, err := e.Step(ctx, "list files")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "The directory holds a.txt and b.txt." {
		t.Errorf("unexpected reply: %q", reply)
	}

	// greeting + user + assistant(call) + tool + assistant
	history := e.History()
	if len(history) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(history))
	}
	toolMsg := history[3]
	if toolMsg.Role != llm.RoleTool || toolMsg.ToolCallID != "call_1" {
		t.Errorf("unexpected tool message: %+v", toolMsg)
	}
	if toolMsg.Content != "a.txt, b.txt" {
		t.Errorf("tool content = %q", toolMsg.Content)
	}

	// The second model call received two more messages than the first:
	// the assistant's tool request and its answer.
	if len(client.prompts) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(client.prompts))
	}
	if got := len(client.prompts[1]) - len(client.prompts[0]); got != 2 {
		t.Errorf("second prompt grew by %d messages, want 2", got)
	}
}

// Scenario: plain text response routes straight back to the operator.
func TestStepPlainReply(t *testing.T) {
	client := &fakeClient{}
	client.push(llm.Message{Role: llm.RoleAssistant, Content: "Hi there!"})

	e := newTestEngine(t, client, newMemStore(), nil, Options{})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}
	before := len(e.History())

	reply, err := e.Step(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Hi there!" {
		t.Errorf("reply = %q", reply)
	}
	if got := len(e.History()) - before; got != 2 {
		t.Errorf("history grew by %d, want 2 (user + assistant)", got)
	}
	if len(client.prompts) != 1 {
		t.Errorf("expected exactly 1 model call, got %d", len(client.prompts))
	}
	if e.State() != StateAwaitingInput {
		t.Errorf("state = %v, want awaiting input", e.State())
	}
}

// Scenario: a tool that raises does not crash the loop; its failure is
// reported to the model as an ordinary tool message.
func TestStepBrokenTool(t *testing.T) {
	client := &fakeClient{}
	client.push(assistantCall("", llm.ToolCall{
		ID: "call_9", Name: "broken_tool", Arguments: map[string]any{},
	}))
	client.push(llm.Message{Role: llm.RoleAssistant, Content: "That tool is broken."})

	e := newTestEngine(t, client, newMemStore(), nil, Options{})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}

	reply, err := e.Step(ctx, "use the broken tool")
	if err != nil {
		t.Fatalf("step must survive a failing tool: %v", err)
	}
	if reply != "That tool is broken." {
		t.Errorf("reply = %q", reply)
	}

	var toolMsg llm.Message
	for _, m := range e.History() {
		if m.Role == llm.RoleTool {
			toolMsg = m
		}
	}
	if toolMsg.ToolCallID != "call_9" {
		t.Errorf("tool message call id = %q, want call_9", toolMsg.ToolCallID)
	}
	if !strings.Contains(toolMsg.Content, "broken_tool") {
		t.Errorf("error content should name the tool: %q", toolMsg.Content)
	}
	if len(client.prompts) != 2 {
		t.Errorf("loop should have proceeded to the next model call, got %d", len(client.prompts))
	}
}

// Every tool call in a batch gets exactly one answer, matched by id.
func TestStepMultipleToolCalls(t *testing.T) {
	client := &fakeClient{}
	client.push(assistantCall("checking",
		llm.ToolCall{ID: "call_a", Name: "list_files", Arguments: map[string]any{"path": "."}},
		llm.ToolCall{ID: "call_b", Name: "broken_tool", Arguments: map[string]any{}},
		llm.ToolCall{ID: "call_c", Name: "no_such_tool", Arguments: map[string]any{}},
	))
	client.push(llm.Message{Role: llm.RoleAssistant, Content: "done"})

	e := newTestEngine(t, client, newMemStore(), nil, Options{})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Step(ctx, "go"); err != nil {
		t.Fatal(err)
	}

	answered := map[string]llm.Message{}
	for _, m := range e.History() {
		if m.Role == llm.RoleTool {
			answered[m.ToolCallID] = m
		}
	}
	if len(answered) != 3 {
		t.Fatalf("expected 3 tool answers, got %d", len(answered))
	}
	if !strings.Contains(answered["call_c"].Content, "no_such_tool") {
		t.Errorf("missing-tool answer should name the tool: %q", answered["call_c"].Content)
	}
	if strings.Contains(answered["call_a"].Content, "ERROR") {
		t.Errorf("healthy tool answer unexpectedly an error: %q", answered["call_a"].Content)
	}
}

func TestModelFailureKeepsUserMessage(t *testing.T) {
	client := &fakeClient{}
	client.pushErr(errors.New("transport sneeze"))

	e := newTestEngine(t, client, newMemStore(), nil, Options{})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := e.Step(ctx, "hello")
	if err == nil {
		t.Fatal("expected step error")
	}

	history := e.History()
	if len(history) != 2 {
		t.Fatalf("expected greeting + committed user message, got %d", len(history))
	}
	if history[1].Role != llm.RoleUser {
		t.Errorf("last message role = %q, want user", history[1].Role)
	}
	if e.State() != StateAwaitingInput {
		t.Errorf("state = %v, want awaiting input", e.State())
	}

	// A later turn proceeds normally.
	client.push(llm.Message{Role: llm.RoleAssistant, Content: "recovered"})
	if _, err := e.Step(ctx, "retry"); err != nil {
		t.Fatalf("follow-up step failed: %v", err)
	}
}

func TestPersistenceFailureAbortsStep(t *testing.T) {
	store := newMemStore()
	e := newTestEngine(t, &fakeClient{}, store, nil, Options{})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}

	store.failNext = errors.New("disk on fire")
	_, err := e.Step(ctx, "hello")
	if err == nil {
		t.Fatal("expected step error")
	}

	if len(e.History()) != 1 {
		t.Errorf("uncommitted user message leaked into history: %d messages", len(e.History()))
	}
	stored, _ := store.Load(ctx, "default")
	if len(stored) != 1 {
		t.Errorf("uncommitted user message leaked into store: %d messages", len(stored))
	}
}

func TestToolRoundLimit(t *testing.T) {
	client := &fakeClient{}
	for i := 0; i < 5; i++ {
		client.push(assistantCall("", llm.ToolCall{
			ID: fmt.Sprintf("call_%d", i), Name: "list_files", Arguments: map[string]any{"path": "."},
		}))
	}

	e := newTestEngine(t, client, newMemStore(), nil, Options{MaxToolRounds: 3})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}

	_, err := e.Step(ctx, "loop forever")
	if !errors.Is(err, ErrToolRoundsExceeded) {
		t.Fatalf("err = %v, want ErrToolRoundsExceeded", err)
	}
	if len(client.prompts) != 3 {
		t.Errorf("expected 3 model calls, got %d", len(client.prompts))
	}
	// Every dispatched tool call still has its answer.
	if pending := e.log.PendingToolCalls(); len(pending) != 0 {
		t.Errorf("pending calls after limit: %v", pending)
	}
}

// The preamble and environment context ride along on every model call
// but never enter the conversation.
func TestPromptInjectionNotPersisted(t *testing.T) {
	client := &fakeClient{}
	client.push(llm.Message{Role: llm.RoleAssistant, Content: "ok"})
	client.push(llm.Message{Role: llm.RoleAssistant, Content: "ok again"})

	e := newTestEngine(t, client, newMemStore(), nil, Options{Workdir: "/ws"})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Step(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Step(ctx, "two"); err != nil {
		t.Fatal(err)
	}

	for i, prompt := range client.prompts {
		if prompt[0].Role != llm.RoleSystem {
			t.Errorf("call %d: first prompt message role = %q, want system", i, prompt[0].Role)
		}
		if prompt[1].Content != "Working directory: /ws" {
			t.Errorf("call %d: env context = %q", i, prompt[1].Content)
		}
	}
	for _, m := range e.History() {
		if m.Role == llm.RoleSystem || strings.HasPrefix(m.Content, "Working directory:") {
			t.Errorf("injected context leaked into history: %+v", m)
		}
	}
}

// A second engine on the same store sees the identical history and the
// next step proceeds as if the restart never happened.
func TestResumptionDeterminism(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	client1 := &fakeClient{}
	client1.push(llm.Message{Role: llm.RoleAssistant, Content: "Hi there!"})
	e1 := newTestEngine(t, client1, store, nil, Options{})
	if err := e1.StartSession(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e1.Step(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	before := e1.History()

	client2 := &fakeClient{}
	client2.push(llm.Message{Role: llm.RoleAssistant, Content: "Welcome back."})
	e2 := newTestEngine(t, client2, store, nil, Options{})
	if err := e2.StartSession(ctx); err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(e2.History(), before) {
		t.Errorf("restored history differs:\n got %+v\nwant %+v", e2.History(), before)
	}

	reply, err := e2.Step(ctx, "back again")
	if err != nil {
		t.Fatal(err)
	}
	if reply != "Welcome back." {
		t.Errorf("reply = %q", reply)
	}
	if len(e2.History()) != len(before)+2 {
		t.Errorf("history length = %d, want %d", len(e2.History()), len(before)+2)
	}
}

// A crash between committing the assistant's tool request and its
// answers leaves pending calls in the checkpoint; starting the session
// completes the round instead of abandoning it.
func TestResumeCompletesInterruptedToolRound(t *testing.T) {
	store := newMemStore()
	store.seed("default",
		llm.Message{Role: llm.RoleAssistant, Content: "What can I do for you?"},
		llm.Message{Role: llm.RoleUser, Content: "list files"},
		assistantCall("", llm.ToolCall{
			ID: "call_1", Name: "list_files", Arguments: map[string]any{"path": "."},
		}),
	)

	client := &fakeClient{}
	client.push(llm.Message{Role: llm.RoleAssistant, Content: "Found two files."})

	e := newTestEngine(t, client, store, nil, Options{})
	if err := e.StartSession(context.Background()); err != nil {
		t.Fatal(err)
	}

	if pending := e.log.PendingToolCalls(); len(pending) != 0 {
		t.Errorf("pending calls after resume: %v", pending)
	}
	history := e.History()
	last := history[len(history)-1]
	if last.Role != llm.RoleAssistant || last.Content != "Found two files." {
		t.Errorf("unexpected final message: %+v", last)
	}
	var sawAnswer bool
	for _, m := range history {
		if m.Role == llm.RoleTool && m.ToolCallID == "call_1" {
			sawAnswer = true
		}
	}
	if !sawAnswer {
		t.Error("interrupted call was never answered")
	}
}

func TestReset(t *testing.T) {
	store := newMemStore()
	client := &fakeClient{}
	client.push(llm.Message{Role: llm.RoleAssistant, Content: "Hi there!"})

	e := newTestEngine(t, client, store, nil, Options{})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Step(ctx, "hello"); err != nil {
		t.Fatal(err)
	}

	if err := e.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	history := e.History()
	if len(history) != 1 || history[0].Content != "What can I do for you?" {
		t.Errorf("reset should leave only the greeting, got %+v", history)
	}
	stored, err := store.Load(ctx, "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Errorf("durable session should hold only the greeting, got %d", len(stored))
	}
}

func TestRunInteractiveLoop(t *testing.T) {
	client := &fakeClient{}
	client.push(llm.Message{Role: llm.RoleAssistant, Content: "Hi there!"})

	ui := &fakeUI{inputs: []string{"hello", "", "/quit", "never read"}}
	e := newTestEngine(t, client, newMemStore(), ui, Options{})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}

	if err := e.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	// greeting + step reply
	if len(ui.shown) != 2 || ui.shown[1] != "Hi there!" {
		t.Errorf("shown = %v", ui.shown)
	}
	if len(ui.inputs) != 1 {
		t.Errorf("run consumed past /quit: %v", ui.inputs)
	}
}

func TestRunEndsOnEOF(t *testing.T) {
	ui := &fakeUI{} // no inputs: first prompt returns io.EOF
	e := newTestEngine(t, &fakeClient{}, newMemStore(), ui, Options{})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunReportsStepErrors(t *testing.T) {
	client := &fakeClient{}
	client.pushErr(errors.New("model down"))

	ui := &fakeUI{inputs: []string{"hello", "/quit"}}
	e := newTestEngine(t, client, newMemStore(), ui, Options{})
	ctx := context.Background()
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}
	if err := e.Run(ctx); err != nil {
		t.Fatalf("run should survive a failed step: %v", err)
	}
	if len(ui.errors) != 1 || !strings.Contains(ui.errors[0], "model down") {
		t.Errorf("errors = %v", ui.errors)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ui := &fakeUI{inputs: []string{"hello"}}
	e := newTestEngine(t, &fakeClient{}, newMemStore(), ui, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.StartSession(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
