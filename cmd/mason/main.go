// Mason is a conversational coding assistant for the terminal.
//
// It runs a turn-based loop against an LLM provider (Anthropic or a
// local Ollama), giving the model workspace-scoped file tools, a test
// runner, web fetch, documentation outline, optional GitHub tools, and
// any tools exposed by configured MCP servers. Conversation history is
// checkpointed to SQLite so sessions survive restarts. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	mason                        Start an interactive chat (default session)
//	mason chat                   Same, explicitly
//	mason ask <question>         One-shot question in the current session
//	mason sessions list          List stored sessions
//	mason sessions show <key>    Print a session's transcript
//	mason sessions reset <key>   Clear a session back to its greeting
//	mason sessions delete <key>  Remove a session entirely
//	mason init [dir]             Write a commented default config
//	mason version                Print version and build information
//	mason -o json version        Output version information as JSON
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/masonworks/mason-code-agent/internal/agent"
	"github.com/masonworks/mason-code-agent/internal/buildinfo"
	"github.com/masonworks/mason-code-agent/internal/checkpoint"
	"github.com/masonworks/mason-code-agent/internal/config"
	"github.com/masonworks/mason-code-agent/internal/console"
	"github.com/masonworks/mason-code-agent/internal/docs"
	"github.com/masonworks/mason-code-agent/internal/events"
	"github.com/masonworks/mason-code-agent/internal/fetch"
	"github.com/masonworks/mason-code-agent/internal/forge"
	"github.com/masonworks/mason-code-agent/internal/httpkit"
	"github.com/masonworks/mason-code-agent/internal/llm"
	"github.com/masonworks/mason-code-agent/internal/mcp"
	"github.com/masonworks/mason-code-agent/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run] so the full
// startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdin, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// cliOptions holds the parsed command line.
type cliOptions struct {
	configPath string
	sessionKey string
	outputFmt  string // "text" (default) or "json"
	verbose    bool
	noColor    bool
	command    string
	cmdArgs    []string
}

// parseArgs parses the command line by hand. The flag package relies on
// package-level globals (flag.CommandLine), which makes it impossible
// to call run() concurrently from tests. Our argument surface is small
// enough that manual parsing is clearer than a CLI framework.
func parseArgs(args []string) (cliOptions, error) {
	var opts cliOptions

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			opts.configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			opts.configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-session" && i+1 < len(args):
			opts.sessionKey = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-session="):
			opts.sessionKey = strings.TrimPrefix(args[i], "-session=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			opts.outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			opts.outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			opts.outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-verbose" || args[i] == "-v":
			opts.verbose = true
		case args[i] == "-no-color":
			opts.noColor = true
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			opts.command = "help"
		case !strings.HasPrefix(args[i], "-") && opts.command == "":
			opts.command = args[i]
		default:
			if opts.command != "" {
				// Collect remaining args as subcommand arguments.
				opts.cmdArgs = append(opts.cmdArgs, args[i])
			} else {
				return opts, fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if opts.sessionKey == "" {
		opts.sessionKey = "default"
	}
	if opts.outputFmt == "" {
		opts.outputFmt = "text"
	}
	if opts.outputFmt != "text" && opts.outputFmt != "json" {
		return opts, fmt.Errorf("unknown output format: %q (expected text or json)", opts.outputFmt)
	}

	return opts, nil
}

// run is the real entry point for the mason command. All OS-level
// dependencies are injected as parameters: ctx controls process
// lifetime, stdin/stdout carry the conversation, stderr receives logs,
// and args is os.Args[1:]. run returns nil on clean shutdown; the
// caller (main) prints any error and exits.
func run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) error {
	opts, err := parseArgs(args)
	if err != nil {
		return err
	}

	switch opts.command {
	case "", "chat":
		return runChat(ctx, stdin, stdout, stderr, opts)
	case "ask":
		if len(opts.cmdArgs) == 0 {
			return fmt.Errorf("usage: mason ask <question>")
		}
		return runAsk(ctx, stdout, stderr, opts)
	case "sessions":
		return runSessions(ctx, stdout, stderr, opts)
	case "init":
		dir := "."
		if len(opts.cmdArgs) > 0 {
			dir = opts.cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, opts.outputFmt)
	case "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", opts.command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Mason - Conversational Coding Assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: mason [flags] [command] [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  chat                   Start an interactive chat (the default)")
	fmt.Fprintln(w, "  ask <question>         One-shot question in the current session")
	fmt.Fprintln(w, "  sessions list          List stored sessions")
	fmt.Fprintln(w, "  sessions show <key>    Print a session's transcript")
	fmt.Fprintln(w, "  sessions reset <key>   Clear a session back to its greeting")
	fmt.Fprintln(w, "  sessions delete <key>  Remove a session entirely")
	fmt.Fprintln(w, "  init [dir]             Write a commented default config (default: .)")
	fmt.Fprintln(w, "  version                Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -session <key>    Session to use (default: \"default\")")
	fmt.Fprintln(w, "  -v, -verbose      Echo model and tool activity")
	fmt.Fprintln(w, "  -no-color         Disable styling and markdown rendering")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintf(w, "  %s\n", strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// newLogger builds the process logger writing to w at the configured
// level. A bad level string falls back to info with a warning, so a
// typo in the config never blocks startup.
func newLogger(w io.Writer, levelStr string) *slog.Logger {
	logger, err := config.NewLogger(w, levelStr)
	if err != nil {
		logger.Warn("invalid log level, using info", "error", err)
	}
	return logger
}

// loadConfig discovers and loads the config file, returning the config
// and the path it came from.
func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", fmt.Errorf("%w\n\nRun 'mason init' to create a starter config", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, path, nil
}

// openCheckpoints opens the session database under the data dir. WAL
// mode keeps concurrent `mason sessions` invocations from tripping
// over an active chat; the busy timeout covers the rest.
func openCheckpoints(cfg *config.Config) (*sql.DB, *checkpoint.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	path := filepath.Join(cfg.DataDir, "checkpoints.db")
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", path, err)
	}

	store, err := checkpoint.NewStore(db)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("checkpoint store: %w", err)
	}
	return db, store, nil
}

// createLLMClient assembles the multi-provider client. Ollama is always
// registered (it needs no credentials); Anthropic joins when an API key
// is configured. Model overrides route specific model names away from
// the default provider.
func createLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, error) {
	ollamaClient, err := llm.NewOllamaClient(cfg.Ollama.URL, logger)
	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}

	var anthropicClient llm.Client
	if cfg.Anthropic.Configured() {
		anthropicClient, err = llm.NewAnthropicClient(llm.AnthropicOptions{
			APIKey:      cfg.Anthropic.APIKey,
			BaseURL:     cfg.Anthropic.BaseURL,
			MaxTokens:   cfg.Model.MaxTokens,
			Temperature: cfg.Model.Temperature,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("anthropic client: %w", err)
		}
	}

	var fallback llm.Client
	switch cfg.Model.Provider {
	case "anthropic":
		// Validate guarantees the key is present for this provider.
		fallback = anthropicClient
	case "ollama":
		fallback = ollamaClient
	}

	multi := llm.NewMultiClient(fallback)
	multi.AddProvider("ollama", ollamaClient)
	if anthropicClient != nil {
		multi.AddProvider("anthropic", anthropicClient)
	}
	for model, provider := range cfg.Model.Overrides {
		multi.AddModel(model, provider)
	}
	return multi, nil
}

// buildRegistry registers every built-in tool the config enables.
func buildRegistry(cfg *config.Config, workspace string, logger *slog.Logger) *tools.Registry {
	registry := tools.NewRegistry()

	// Workspace file tools: list, read, write, edit.
	fileTools := tools.NewFileTools(workspace, logger)
	fileTools.RegisterAll(registry)

	// Test runner, pinned to the configured command.
	runner := tools.NewTestRunner(tools.TestRunnerConfig{
		Command:        cfg.RunTests.Command,
		WorkingDir:     workspace,
		DefaultTimeout: time.Duration(cfg.RunTests.TimeoutSec) * time.Second,
	})
	runner.RegisterAll(registry)

	// Web page fetch with readable-text extraction.
	fetcher := fetch.New(fetch.Options{
		Timeout:  time.Duration(cfg.Fetch.TimeoutSec) * time.Second,
		MaxBytes: cfg.Fetch.MaxBytes,
	})
	registry.Register(&tools.Tool{
		Name:        "web_fetch",
		Description: "Fetch a web page and return its readable text content.",
		Parameters:  fetch.ToolDefinition(),
		Handler:     fetch.ToolHandler(fetcher),
	})

	// Markdown outline, reading through the file tools so it honors the
	// same workspace path rules.
	registry.Register(&tools.Tool{
		Name:        "doc_outline",
		Description: "Return the heading outline of a markdown file in the workspace.",
		Parameters:  docs.ToolDefinition(),
		Handler: docs.ToolHandler(func(ctx context.Context, path string) (string, error) {
			return fileTools.Read(ctx, path, 0, 0)
		}),
	})

	// GitHub tools, only when a token is configured.
	if cfg.GitHub.Configured() {
		gh, err := forge.NewGitHub(httpkit.NewClient(httpkit.WithTimeout(30*time.Second)),
			cfg.GitHub.Token, cfg.GitHub.BaseURL, logger)
		if err != nil {
			logger.Warn("github tools disabled", "error", err)
		} else {
			registry.SetForgeTools(forge.NewTools(gh))
		}
	}

	return registry
}

// connectMCPServers connects each configured MCP server and bridges its
// tools into the registry. A server that fails to connect is skipped
// with a warning; one broken server should not take the session down.
// The returned closer shuts down every server that did connect.
func connectMCPServers(ctx context.Context, cfg *config.Config, registry *tools.Registry, bus *events.Bus, logger *slog.Logger) func() {
	var servers []*mcp.Server

	for _, sc := range cfg.MCP.Servers {
		server, err := mcp.Connect(ctx, mcp.ServerConfig{
			Name:      sc.Name,
			Transport: sc.Transport,
			Command:   sc.Command,
			Args:      sc.Args,
			Env:       sc.Env,
			URL:       sc.URL,
			Headers:   sc.Headers,
		}, logger)
		if err != nil {
			logger.Warn("mcp server unavailable", "server", sc.Name, "error", err)
			continue
		}
		servers = append(servers, server)

		n := mcp.BridgeTools(server, registry, sc.IncludeTools, sc.ExcludeTools, logger)
		bus.Publish(events.Event{
			Source: events.SourceMCP,
			Kind:   events.KindServerConnected,
			Data:   map[string]any{"server": sc.Name, "tools": n},
		})
	}

	return func() {
		for _, s := range servers {
			if err := s.Close(); err != nil {
				logger.Warn("mcp server close", "server", s.Name(), "error", err)
			}
		}
	}
}

// watchEvents echoes bus traffic to the console for -verbose runs. It
// returns when the bus closes the subscription or ctx ends.
func watchEvents(ctx context.Context, bus *events.Bus, ui *console.Console) {
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			switch e.Kind {
			case events.KindModelCall:
				ui.ShowNotice(fmt.Sprintf("· model call (round %v)", e.Data["round"]))
			case events.KindModelResponse:
				ui.ShowNotice(fmt.Sprintf("· model response: %v in / %v out tokens",
					e.Data["tokens_in"], e.Data["tokens_out"]))
			case events.KindRequestComplete:
				ui.ShowNotice(fmt.Sprintf("· turn complete in %vms", e.Data["elapsed_ms"]))
			case events.KindServerConnected:
				ui.ShowNotice(fmt.Sprintf("· mcp server %v connected (%v tools)",
					e.Data["server"], e.Data["tools"]))
			}
		}
	}
}

// resolveWorkspace turns the configured workspace path into an absolute
// directory, defaulting to the process working directory.
func resolveWorkspace(cfg *config.Config) (string, error) {
	path := cfg.Workspace.Path
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		path = wd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve workspace path: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", fmt.Errorf("workspace is not a directory: %s", abs)
	}
	return abs, nil
}

// runChat handles the interactive `mason chat` loop.
func runChat(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, opts cliOptions) error {
	// Logs go to stderr; stdout belongs to the conversation.
	logger := newLogger(stderr, "")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Configuration ---

	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger = newLogger(stderr, cfg.LogLevel)
	logger.Info("config loaded", "path", cfgPath)

	workspace, err := resolveWorkspace(cfg)
	if err != nil {
		return err
	}

	// --- Session persistence ---

	db, store, err := openCheckpoints(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// --- Model providers ---

	client, err := createLLMClient(cfg, logger)
	if err != nil {
		return err
	}

	// --- Tools ---

	bus := events.New()
	registry := buildRegistry(cfg, workspace, logger)
	closeMCP := connectMCPServers(ctx, cfg, registry, bus, logger)
	defer closeMCP()
	invoker := tools.NewInvoker(registry, logger, bus)

	// --- Console and engine ---

	ui := console.New(stdin, stdout, console.Options{NoColor: opts.noColor})
	if opts.verbose {
		go watchEvents(ctx, bus, ui)
	}

	engine := agent.New(client, registry, invoker, store, ui, logger, bus, agent.Options{
		SessionKey:    opts.sessionKey,
		Model:         cfg.Model.Name,
		Workdir:       workspace,
		ModelTimeout:  time.Duration(cfg.Model.TimeoutSec) * time.Second,
		MaxToolRounds: cfg.Model.MaxToolRounds,
	})

	if err := engine.StartSession(ctx); err != nil {
		return fmt.Errorf("start session %q: %w", opts.sessionKey, err)
	}

	ui.ShowNotice(fmt.Sprintf("mason %s · session %q · model %s · workspace %s",
		buildinfo.Version, opts.sessionKey, cfg.Model.Name, workspace))
	ui.ShowNotice(`Type "/reset" to clear the session, "/quit" or Ctrl-D to leave.`)

	return engine.Run(ctx)
}

// runAsk handles `mason ask <question>`: one step in the named session,
// reply on stdout. The session persists, so a later `mason chat` picks
// up where the question left off.
func runAsk(ctx context.Context, stdout, stderr io.Writer, opts cliOptions) error {
	logger := newLogger(stderr, "")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	logger = newLogger(stderr, cfg.LogLevel)
	logger.Debug("config loaded", "path", cfgPath)

	workspace, err := resolveWorkspace(cfg)
	if err != nil {
		return err
	}

	db, store, err := openCheckpoints(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	client, err := createLLMClient(cfg, logger)
	if err != nil {
		return err
	}

	bus := events.New()
	registry := buildRegistry(cfg, workspace, logger)
	closeMCP := connectMCPServers(ctx, cfg, registry, bus, logger)
	defer closeMCP()
	invoker := tools.NewInvoker(registry, logger, bus)

	// No UI: tool activity is logged, not rendered.
	engine := agent.New(client, registry, invoker, store, nil, logger, bus, agent.Options{
		SessionKey:    opts.sessionKey,
		Model:         cfg.Model.Name,
		Workdir:       workspace,
		ModelTimeout:  time.Duration(cfg.Model.TimeoutSec) * time.Second,
		MaxToolRounds: cfg.Model.MaxToolRounds,
	})

	if err := engine.StartSession(ctx); err != nil {
		return fmt.Errorf("start session %q: %w", opts.sessionKey, err)
	}

	question := strings.Join(opts.cmdArgs, " ")
	reply, err := engine.Step(ctx, question)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, reply)
	return nil
}

// runSessions handles the `mason sessions <list|show|reset|delete>`
// subcommands against the checkpoint database.
func runSessions(ctx context.Context, stdout, stderr io.Writer, opts cliOptions) error {
	if len(opts.cmdArgs) == 0 {
		return fmt.Errorf("usage: mason sessions <list|show|reset|delete> [key]")
	}
	action := opts.cmdArgs[0]

	cfg, _, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	db, store, err := openCheckpoints(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	keyArg := func() (string, error) {
		if len(opts.cmdArgs) < 2 {
			return "", fmt.Errorf("usage: mason sessions %s <key>", action)
		}
		return opts.cmdArgs[1], nil
	}

	switch action {
	case "list":
		infos, err := store.List(ctx)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Fprintln(stdout, "no stored sessions")
			return nil
		}
		fmt.Fprintf(stdout, "%-20s %8s  %s\n", "KEY", "MESSAGES", "UPDATED")
		for _, info := range infos {
			fmt.Fprintf(stdout, "%-20s %8d  %s\n",
				info.Key, info.Messages, info.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		}
		return nil

	case "show":
		key, err := keyArg()
		if err != nil {
			return err
		}
		msgs, err := store.Load(ctx, key)
		if err != nil {
			return fmt.Errorf("session %q: %w", key, err)
		}
		for _, m := range msgs {
			fmt.Fprintf(stdout, "[%s]", m.Role)
			if m.ToolCallID != "" {
				fmt.Fprintf(stdout, " (%s)", m.ToolCallID)
			}
			fmt.Fprintln(stdout)
			if m.Content != "" {
				fmt.Fprintln(stdout, m.Content)
			}
			for _, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Arguments)
				fmt.Fprintf(stdout, "  → %s %s (%s)\n", tc.Name, args, tc.ID)
			}
			fmt.Fprintln(stdout)
		}
		return nil

	case "reset":
		key, err := keyArg()
		if err != nil {
			return err
		}
		if err := store.Clear(ctx, key); err != nil {
			return fmt.Errorf("reset session %q: %w", key, err)
		}
		fmt.Fprintf(stdout, "session %q cleared\n", key)
		return nil

	case "delete":
		key, err := keyArg()
		if err != nil {
			return err
		}
		if err := store.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete session %q: %w", key, err)
		}
		fmt.Fprintf(stdout, "session %q deleted\n", key)
		return nil

	default:
		return fmt.Errorf("unknown sessions action: %s", action)
	}
}
