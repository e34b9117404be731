package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/masonworks/mason-code-agent/internal/tools"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// toolSource is the slice of a connected server the bridge needs.
// *Server satisfies it; tests substitute fakes.
type toolSource interface {
	Name() string
	Tools() []mcptypes.Tool
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// BridgeTools registers a connected server's tools on the registry,
// namespaced as "mcp_{server}_{tool}" so they can never collide with
// native tools or another server's.
//
// The include and exclude lists filter by the server-side tool name:
//   - a non-empty include list bridges only the tools it names;
//   - otherwise a non-empty exclude list skips the tools it names;
//   - both empty bridges everything.
//
// Returns the number of tools registered.
func BridgeTools(src toolSource, registry *tools.Registry, include, exclude []string, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}

	includeSet := toSet(include)
	excludeSet := toSet(exclude)

	count := 0
	for _, td := range src.Tools() {
		if len(includeSet) > 0 {
			if !includeSet[td.Name] {
				continue
			}
		} else if excludeSet[td.Name] {
			continue
		}

		name := ToolName(src.Name(), td.Name)
		registry.Register(bridgeTool(src, name, td))
		count++

		logger.Debug("bridged tool",
			"mcp_name", td.Name,
			"registered_as", name,
			"server", src.Name(),
		)
	}

	return count
}

// ToolName builds the namespaced registry name for an MCP tool. Both
// components are sanitized to lowercase alphanumerics and underscores.
func ToolName(serverName, mcpToolName string) string {
	return fmt.Sprintf("mcp_%s_%s", sanitize(serverName), sanitize(mcpToolName))
}

// bridgeTool wraps one MCP tool as a registry tool that proxies calls
// back to the server under the original server-side name.
func bridgeTool(src toolSource, name string, td mcptypes.Tool) *tools.Tool {
	mcpName := td.Name

	return &tools.Tool{
		Name:        name,
		Description: td.Description,
		Parameters:  schemaToMap(td.InputSchema),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return src.CallTool(ctx, mcpName, args)
		},
	}
}

// schemaToMap converts the typed MCP input schema into the plain JSON
// Schema object the registry and providers expect.
func schemaToMap(schema mcptypes.ToolInputSchema) map[string]any {
	m := map[string]any{"type": schema.Type}
	if m["type"] == "" {
		m["type"] = "object"
	}
	if len(schema.Properties) > 0 {
		m["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		m["required"] = schema.Required
	}
	return m
}

// sanitize lowercases a name and squeezes everything that is not
// alphanumeric into single underscores.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = sanitizeRe.ReplaceAllString(s, "_")
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return strings.Trim(s, "_")
}

// toSet converts a string slice to a set for O(1) lookups.
func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
