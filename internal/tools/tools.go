// Package tools defines the tools available to the agent: a registry of
// named tools with JSON-schema parameters, and an invoker that executes
// model tool calls against it.
package tools

import (
	"context"
	"sort"

	"github.com/masonworks/mason-code-agent/internal/forge"
	"github.com/masonworks/mason-code-agent/internal/llm"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Registry holds available tools. Registration happens during startup
// wiring; reads are concurrent afterwards.
type Registry struct {
	tools      map[string]*Tool
	forgeTools *forge.Tools
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool to the registry, replacing any existing tool
// with the same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs returns the tool definitions handed to the model provider, in
// name order so the prompt is stable across runs.
func (r *Registry) Specs() []llm.ToolSpec {
	var specs []llm.ToolSpec
	for _, name := range r.Names() {
		t := r.tools[name]
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return specs
}
