// Package tools provides the tool registry and execution framework.
//
// This file defines sentinel error types for tool execution.
package tools

import "fmt"

// ErrToolNotFound is returned when a tool call targets a tool that is
// not present in the registry. This indicates a capability mismatch
// (nonexistent or never registered), not a transient execution failure.
// The invoker converts it into an error result for the model rather
// than letting it escape.
type ErrToolNotFound struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolNotFound) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
