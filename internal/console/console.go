// Package console is the human interaction boundary: it reads operator
// input and renders assistant replies, tool activity, and errors to the
// terminal. Presentation only; swapping it out cannot affect the
// conversation engine.
package console

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	markdown "github.com/MichaelMure/go-term-markdown"
	"github.com/charmbracelet/lipgloss"
)

// defaultWidth is the render width when none is configured.
const defaultWidth = 100

// maxResultDisplay caps how much of a tool result is shown. The model
// always receives the full text; this only limits the terminal echo.
const maxResultDisplay = 2000

// Options configures a Console.
type Options struct {
	// Width is the markdown render width (default 100).
	Width int
	// NoColor disables styling and markdown rendering, for pipes and
	// dumb terminals.
	NoColor bool
}

// Console reads from in and writes to out.
type Console struct {
	in      *bufio.Reader
	out     io.Writer
	width   int
	noColor bool

	promptStyle    lipgloss.Style
	assistantStyle lipgloss.Style
	toolStyle      lipgloss.Style
	errorStyle     lipgloss.Style
	noticeStyle    lipgloss.Style
}

// New creates a console over the given streams.
func New(in io.Reader, out io.Writer, opts Options) *Console {
	if opts.Width <= 0 {
		opts.Width = defaultWidth
	}
	return &Console{
		in:      bufio.NewReader(in),
		out:     out,
		width:   opts.Width,
		noColor: opts.NoColor,

		promptStyle:    lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true),
		assistantStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true),
		toolStyle:      lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		errorStyle:     lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		noticeStyle:    lipgloss.NewStyle().Faint(true),
	}
}

// PromptUser prints the input prompt and blocks for one line. Returns
// io.EOF when the input stream ends.
func (c *Console) PromptUser() (string, error) {
	fmt.Fprintf(c.out, "\n%s ", c.render(c.promptStyle, ">"))
	line, err := c.in.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ShowAssistant renders an assistant reply as markdown.
func (c *Console) ShowAssistant(text string) {
	fmt.Fprintf(c.out, "\n%s\n", c.render(c.assistantStyle, "Assistant"))
	if c.noColor {
		fmt.Fprintf(c.out, "%s\n", text)
		return
	}
	fmt.Fprintf(c.out, "%s\n", strings.TrimRight(string(markdown.Render(text, c.width, 2)), "\n"))
}

// ShowToolCall announces a tool invocation with its arguments.
func (c *Console) ShowToolCall(name string, args map[string]any) {
	fmt.Fprintf(c.out, "%s\n", c.render(c.toolStyle, fmt.Sprintf("⚙ %s %s", name, compactArgs(args))))
}

// ShowToolResult echoes a tool result, truncated for display.
func (c *Console) ShowToolResult(callID, text string) {
	text = strings.TrimSpace(text)
	if len(text) > maxResultDisplay {
		text = text[:maxResultDisplay] + "\n[... display truncated ...]"
	}
	fmt.Fprintf(c.out, "%s\n%s\n", c.render(c.toolStyle, fmt.Sprintf("→ result (%s)", callID)), indent(text, "  "))
}

// ShowError prints an error line.
func (c *Console) ShowError(text string) {
	fmt.Fprintf(c.out, "%s\n", c.render(c.errorStyle, "✗ "+text))
}

// ShowNotice prints a low-key status line.
func (c *Console) ShowNotice(text string) {
	fmt.Fprintf(c.out, "%s\n", c.render(c.noticeStyle, text))
}

// render applies a style unless colors are off.
func (c *Console) render(style lipgloss.Style, s string) string {
	if c.noColor {
		return s
	}
	return style.Render(s)
}

// compactArgs renders a tool's argument map as one-line JSON.
func compactArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return string(raw)
}

// indent prefixes every line of s.
func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
