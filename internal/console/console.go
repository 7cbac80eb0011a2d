// Package console owns the operator-facing terminal output: the tagged
// child lines and the advisory banners around them.
//
// Every forwarded line is written as "[TAG] text" in a single Write call
// under a mutex, so lines from different children never interleave
// mid-line. Colour is applied to the tag only and is dropped automatically
// when the writer is not a terminal.
package console

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-devstack/internal/process"
)

// ruleWidth matches the width of the launcher's "=" rules.
const ruleWidth = 60

// Options configures a Console.
type Options struct {
	// NoColor disables all styling even on a terminal.
	NoColor bool

	// Title is printed in the start banner.
	Title string
}

// Console writes tagged lines and status messages to one writer.
// It implements forwarder.Sink.
type Console struct {
	mu  sync.Mutex
	out io.Writer

	title    string
	color    bool
	renderer *lipgloss.Renderer
	styles   styles
}

// New creates a console writing to w.
func New(w io.Writer, opts Options) *Console {
	if w == nil {
		w = io.Discard
	}
	title := opts.Title
	if title == "" {
		title = "Starting Services"
	}
	r := lipgloss.NewRenderer(w)
	return &Console{
		out:      w,
		title:    title,
		color:    !opts.NoColor,
		renderer: r,
		styles:   newStyles(r),
	}
}

// WriteLine writes one forwarded child line as "[TAG] line".
func (c *Console) WriteLine(tag, line string) {
	prefix := "[" + tag + "]"
	if c.color {
		prefix = c.styles.tag(tag).Render(prefix)
	}
	c.write(prefix + " " + line + "\n")
}

// Println writes a plain advisory line.
func (c *Console) Println(msg string) {
	c.write(msg + "\n")
}

// Printf writes a formatted advisory line. A trailing newline is added.
func (c *Console) Printf(format string, args ...any) {
	c.write(fmt.Sprintf(format, args...) + "\n")
}

// Errorf writes a "❌" diagnostic line.
func (c *Console) Errorf(format string, args ...any) {
	c.write(c.paint(c.styles.bad, "❌ "+fmt.Sprintf(format, args...)) + "\n")
}

// Successf writes a "✅" status line.
func (c *Console) Successf(format string, args ...any) {
	c.write(c.paint(c.styles.good, "✅ "+fmt.Sprintf(format, args...)) + "\n")
}

// Banner prints the start banner.
func (c *Console) Banner() {
	var b strings.Builder
	b.WriteString(rule() + "\n")
	b.WriteString(c.paint(c.styles.title, c.title) + "\n")
	b.WriteString(rule() + "\n\n")
	c.write(b.String())
}

// Starting announces a service launch with its directory, port and URL.
func (c *Console) Starting(spec process.Spec) {
	var b strings.Builder
	fmt.Fprintf(&b, "🚀 Starting %s...\n", spec.Role)
	fmt.Fprintf(&b, "   Directory: %s\n", spec.Dir)
	if spec.Port > 0 {
		fmt.Fprintf(&b, "   Port: %d\n", spec.Port)
		fmt.Fprintf(&b, "   URL: %s\n", spec.URL())
	}
	b.WriteString("\n")
	c.write(b.String())
}

// Endpoint is one line of the access summary.
type Endpoint struct {
	Label string
	URL   string
}

// AccessSummary prints the post-start block listing where each service can
// be reached and how to stop them.
func (c *Console) AccessSummary(endpoints []Endpoint) {
	var b strings.Builder
	b.WriteString("\n" + rule() + "\n")
	b.WriteString(c.paint(c.styles.good, "✅ All services are starting...") + "\n")
	b.WriteString(rule() + "\n\n")
	for _, ep := range endpoints {
		fmt.Fprintf(&b, "📍 %s: %s\n", ep.Label, c.paint(c.styles.url, ep.URL))
	}
	if len(endpoints) > 0 {
		b.WriteString("\n")
	}
	b.WriteString(c.paint(c.styles.muted, "Press Ctrl+C to stop all services") + "\n")
	b.WriteString(rule() + "\n\n")
	c.write(b.String())
}

// ShuttingDown prints the shutdown notice.
func (c *Console) ShuttingDown() {
	c.write("\n" + c.paint(c.styles.warn, "🛑 Shutting down services...") + "\n")
}

// Stopping announces that one service is being stopped.
func (c *Console) Stopping(role string) {
	c.Printf("Stopping %s...", role)
}

// AllStopped prints the final shutdown confirmation.
func (c *Console) AllStopped() {
	c.Successf("All services stopped")
}

// UnexpectedExit reports a child that died on its own, followed by the
// last lines it printed.
func (c *Console) UnexpectedExit(spec process.Spec, exitCode int, lastLines []string) {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(c.paint(c.styles.bad,
		fmt.Sprintf("❌ %s process exited unexpectedly (exit code %d)", spec.DisplayName(), exitCode)) + "\n")
	if len(lastLines) > 0 {
		fmt.Fprintf(&b, "   Last %d lines from %s:\n", len(lastLines), spec.Role)
		for _, line := range lastLines {
			b.WriteString("   " + c.paint(c.styles.muted, "│") + " " + line + "\n")
		}
	}
	c.write(b.String())
}

// Write implements io.Writer so preformatted blocks (preflight results,
// exit summary) share the console's lock.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out.Write(p)
}

func (c *Console) write(s string) {
	c.mu.Lock()
	_, _ = io.WriteString(c.out, s)
	c.mu.Unlock()
}

func (c *Console) paint(style lipgloss.Style, s string) string {
	if !c.color {
		return s
	}
	return style.Render(s)
}

func rule() string {
	return strings.Repeat("=", ruleWidth)
}
