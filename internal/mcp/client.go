// Package mcp connects Mason to external Model Context Protocol tool
// servers and bridges their tools into the native registry. Servers are
// declared in configuration (stdio command or streamable HTTP URL),
// connected once at startup, and closed at shutdown; each bridged tool
// looks like any other registry tool to the conversation engine.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/masonworks/mason-code-agent/internal/buildinfo"
)

// protocolVersion is advertised during the initialize handshake.
const protocolVersion = "2025-03-26"

// DefaultConnectTimeout bounds the connect/initialize/list handshake.
const DefaultConnectTimeout = 30 * time.Second

// ServerConfig describes one MCP server connection.
type ServerConfig struct {
	// Name namespaces the server's tools (mcp_<name>_<tool>).
	Name string
	// Transport is "stdio" or "http".
	Transport string
	// Command, Args and Env launch a stdio server as a child process.
	Command string
	Args    []string
	Env     []string
	// URL and Headers reach a streamable HTTP server.
	URL     string
	Headers map[string]string
	// IncludeTools/ExcludeTools filter which tools get bridged.
	IncludeTools []string
	ExcludeTools []string
}

// Server is a connected MCP server with its discovered tool list.
type Server struct {
	name   string
	client *client.Client
	tools  []mcptypes.Tool
	logger *slog.Logger
}

// Connect establishes the transport, runs the initialize handshake, and
// lists the server's tools. The caller owns the returned Server and must
// Close it at shutdown. ctx should carry a deadline; Connect applies
// DefaultConnectTimeout when it does not.
func Connect(ctx context.Context, cfg ServerConfig, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp", "server", cfg.Name)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultConnectTimeout)
		defer cancel()
	}

	var (
		c   *client.Client
		err error
	)
	switch cfg.Transport {
	case "stdio":
		c, err = client.NewStdioMCPClient(cfg.Command, cfg.Env, cfg.Args...)
		if err != nil {
			return nil, fmt.Errorf("start %s: %w", cfg.Name, err)
		}
	case "http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(cfg.Headers))
		}
		c, err = client.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", cfg.Name, err)
		}
		if err := c.GetTransport().Start(ctx); err != nil {
			return nil, fmt.Errorf("start transport for %s: %w", cfg.Name, err)
		}
	default:
		return nil, fmt.Errorf("server %s: unknown transport %q", cfg.Name, cfg.Transport)
	}

	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    "mason",
				Version: buildinfo.Version,
			},
		},
	}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("initialize %s: %w", cfg.Name, err)
	}

	listed, err := c.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("list tools from %s: %w", cfg.Name, err)
	}

	logger.Info("connected", "tools", len(listed.Tools))

	return &Server{
		name:   cfg.Name,
		client: c,
		tools:  listed.Tools,
		logger: logger,
	}, nil
}

// Name returns the configured server name.
func (s *Server) Name() string {
	return s.name
}

// Tools returns the tool definitions discovered at connect time.
func (s *Server) Tools() []mcptypes.Tool {
	return s.tools
}

// CallTool invokes a tool by its server-side name and returns the
// result's text content. A result flagged IsError comes back as an
// error carrying that text, so the invoker treats it like any other
// tool failure.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	res, err := s.client.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return "", fmt.Errorf("call %s/%s: %w", s.name, name, err)
	}

	text := contentText(res.Content)
	if res.IsError {
		if text == "" {
			text = "tool reported an error with no message"
		}
		return "", errors.New(text)
	}
	return text, nil
}

// Close tears down the transport. For stdio servers this ends the child
// process.
func (s *Server) Close() error {
	return s.client.Close()
}

// contentText flattens a result's content blocks into one string. Text
// blocks are joined; anything else (images, resources) falls back to its
// JSON form so the model still sees something useful.
func contentText(blocks []mcptypes.Content) string {
	var parts []string
	for _, block := range blocks {
		switch c := block.(type) {
		case mcptypes.TextContent:
			parts = append(parts, c.Text)
		case *mcptypes.TextContent:
			parts = append(parts, c.Text)
		default:
			if raw, err := json.Marshal(block); err == nil {
				parts = append(parts, string(raw))
			}
		}
	}
	return strings.Join(parts, "\n")
}
