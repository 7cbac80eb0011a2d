package console

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

// Colors based on the same dark palette as the TUI.
var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan
	colorSuccess   = lipgloss.Color("#10B981") // Green
	colorWarning   = lipgloss.Color("#F59E0B") // Amber
	colorError     = lipgloss.Color("#EF4444") // Red
	colorInfo      = lipgloss.Color("#3B82F6") // Blue
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
)

// knownTagColors pins the two standard services to stable colours.
var knownTagColors = map[string]lipgloss.Color{
	"BACKEND":   colorSecondary,
	"DASHBOARD": colorPrimary,
}

// fallbackTagColors are assigned to other tags by hash.
var fallbackTagColors = []lipgloss.Color{colorInfo, colorWarning, colorSuccess}

type styles struct {
	renderer *lipgloss.Renderer

	title lipgloss.Style
	good  lipgloss.Style
	bad   lipgloss.Style
	warn  lipgloss.Style
	muted lipgloss.Style
	url   lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		renderer: r,
		title:    r.NewStyle().Foreground(colorPrimary).Bold(true),
		good:     r.NewStyle().Foreground(colorSuccess).Bold(true),
		bad:      r.NewStyle().Foreground(colorError).Bold(true),
		warn:     r.NewStyle().Foreground(colorWarning).Bold(true),
		muted:    r.NewStyle().Foreground(colorTextMuted),
		url:      r.NewStyle().Foreground(colorInfo).Underline(true),
	}
}

// tag returns the style for a child tag.
func (s styles) tag(tag string) lipgloss.Style {
	return s.renderer.NewStyle().Foreground(TagColor(tag)).Bold(true)
}

// TagColor returns the colour used for a child tag. Unknown tags get a
// stable colour derived from the tag text.
func TagColor(tag string) lipgloss.Color {
	if c, ok := knownTagColors[tag]; ok {
		return c
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(tag))
	return fallbackTagColors[h.Sum32()%uint32(len(fallbackTagColors))]
}
