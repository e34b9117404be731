// Package prompts holds the fixed prompt text injected at the model
// boundary: the system preamble, the per-call environment context, and
// the greeting that seeds a new session. None of this text is ever
// persisted into a conversation; it is assembled fresh on every call.
package prompts

import "fmt"

// Greeting seeds a brand-new session so the loop's first transition is a
// routing decision (the greeting carries no tool calls) rather than a
// model call. The operator sees it before typing anything.
const Greeting = "What can I do for you?"

// systemPreamble defines Mason's role and development discipline. It is
// sent as the provider-level system prompt on every model call.
const systemPreamble = `You are a specialised agent for maintaining and developing codebases.

## Development Guidelines:

1. **Test Failures:**
   - When tests fail, fix the implementation first, not the tests.
   - Tests represent expected behavior; implementation should conform to tests
   - Only modify tests if they clearly don't match specifications

2. **Code Changes:**
   - Make the smallest possible changes to fix issues
   - Focus on fixing the specific problem rather than rewriting large portions
   - Add unit tests for all new functionality before implementing it

3. **Best Practices:**
   - Keep functions small with a single responsibility
   - Implement proper error handling with appropriate exceptions
   - Be mindful of configuration dependencies in tests

Ask for clarification when needed. Remember to examine test failure messages carefully to understand the root cause before making any changes.`

// SystemPreamble returns the system prompt. Exported as a function so a
// future persona layer can parameterize it without changing callers.
func SystemPreamble() string {
	return systemPreamble
}

// EnvironmentContext returns the ephemeral context message injected
// after the system preamble on every model call. Exactly one line; no
// timestamps or other volatile state, so identical histories produce
// identical prompts.
func EnvironmentContext(workdir string) string {
	return fmt.Sprintf("Working directory: %s", workdir)
}
