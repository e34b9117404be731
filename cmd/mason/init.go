package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// defaultConfigYAML is the starter config written by `mason init`. Every
// section is present and commented so the file doubles as documentation.
const defaultConfigYAML = `# Mason configuration.
#
# Environment references like ${ANTHROPIC_API_KEY} are expanded when the
# file is loaded.

model:
  # Default provider: "anthropic" or "ollama".
  provider: anthropic
  name: claude-3-7-sonnet-latest
  max_tokens: 4096
  temperature: 0.3
  # Seconds allowed for a single model call.
  timeout_sec: 120
  # Tool rounds allowed within one user turn.
  max_tool_rounds: 25
  # Route specific models to a different provider:
  # overrides:
  #   qwen2.5-coder: ollama

anthropic:
  api_key: ${ANTHROPIC_API_KEY}
  # base_url: https://api.anthropic.com

ollama:
  url: http://localhost:11434

workspace:
  # Root directory for file tools. Empty means the directory mason is
  # started from.
  path: ""

run_tests:
  command: go test ./...
  timeout_sec: 300

# github:
#   token: ${GITHUB_TOKEN}

fetch:
  timeout_sec: 30
  max_bytes: 2097152

# mcp:
#   servers:
#     - name: docs
#       transport: stdio
#       command: mcp-docs-server
#     - name: tracker
#       transport: http
#       url: http://localhost:8931/mcp

# Where checkpoints.db lives.
data_dir: .mason

# trace, debug, info, warn, error
log_level: info
`

// runInit writes a starter config into dir. Existing files are never
// overwritten, so re-running init on a working setup is harmless.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Mason workspace in %s\n", dir)

	for _, sub := range []string{".", ".mason"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	// 0600: the config may hold API tokens.
	configPath := filepath.Join(dir, "mason.yaml")
	if err := writeIfMissing(configPath, []byte(defaultConfigYAML), 0o600); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ✓ %s\n", configPath)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Edit mason.yaml, export ANTHROPIC_API_KEY, then run 'mason' to chat.")
	return nil
}

// writeIfMissing writes content to path unless the file already exists.
func writeIfMissing(path string, content []byte, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	if err := os.WriteFile(path, content, mode); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
