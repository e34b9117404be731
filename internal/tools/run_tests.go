package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// TestRunner executes the configured test command inside the workspace.
// The command is fixed at construction; the model cannot run arbitrary
// shell commands through it.
type TestRunner struct {
	command        string
	workingDir     string
	defaultTimeout time.Duration
	maxOutputBytes int
}

// TestRunnerConfig configures the test runner.
type TestRunnerConfig struct {
	Command        string
	WorkingDir     string
	DefaultTimeout time.Duration
	MaxOutputBytes int
}

// NewTestRunner creates a test runner. Zero config fields fall back to
// safe defaults.
func NewTestRunner(cfg TestRunnerConfig) *TestRunner {
	if cfg.Command == "" {
		cfg.Command = "go test ./..."
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = 5 * time.Minute
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = 100 * 1024
	}
	return &TestRunner{
		command:        cfg.Command,
		workingDir:     cfg.WorkingDir,
		defaultTimeout: cfg.DefaultTimeout,
		maxOutputBytes: cfg.MaxOutputBytes,
	}
}

// Command returns the configured test command.
func (tr *TestRunner) Command() string {
	return tr.command
}

// Run executes the test command and formats the outcome for the model.
// A failing test suite is a successful tool run; the exit status is
// part of the report, not an error.
func (tr *TestRunner) Run(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, tr.defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", tr.command)
	if tr.workingDir != "" {
		cmd.Dir = tr.workingDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("test command timed out after %s", tr.defaultTimeout)
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", fmt.Errorf("run test command: %w", err)
		}
	}

	var report strings.Builder
	fmt.Fprintf(&report, "$ %s\n", tr.command)

	out := truncateOutput(stdout.String(), tr.maxOutputBytes)
	if out != "" {
		report.WriteString(out)
		if !strings.HasSuffix(out, "\n") {
			report.WriteString("\n")
		}
	}
	errOut := truncateOutput(stderr.String(), tr.maxOutputBytes)
	if errOut != "" {
		report.WriteString("--- stderr ---\n")
		report.WriteString(errOut)
		if !strings.HasSuffix(errOut, "\n") {
			report.WriteString("\n")
		}
	}

	if exitCode == 0 {
		if out == "" && errOut == "" {
			report.WriteString("(no output)\n")
		}
		report.WriteString("exit status 0")
	} else {
		fmt.Fprintf(&report, "exit status %d", exitCode)
	}

	return report.String(), nil
}

// RegisterAll registers the run_tests tool on the registry.
func (tr *TestRunner) RegisterAll(r *Registry) {
	r.Register(&Tool{
		Name:        "run_tests",
		Description: fmt.Sprintf("Run the project's test suite (%s) in the workspace and report the output and exit status.", tr.command),
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return tr.Run(ctx)
		},
	})
}

// truncateOutput truncates output to maxBytes, adding a note if truncated.
func truncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	return s[:maxBytes] + "\n\n[... output truncated ...]"
}
