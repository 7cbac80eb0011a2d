package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-devstack/internal/process"
)

const (
	// eventLines is the height of the events panel body.
	eventLines = 4

	// minLogLines is the smallest log panel body.
	minLogLines = 3
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard: every service's status and
// latest output.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderServices())

	perPanel := m.logLinesPerPanel()
	for _, role := range m.roles {
		sections = append(sections, m.renderLogPanel(role, perPanel))
	}

	if m.events != nil {
		sections = append(sections, m.renderEvents())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders the focused service's output at full height.
func (m Model) renderDetailedView() string {
	fixed := 2 + 1 + 3 + 2 // header, focus info, panel chrome, footer
	lines := m.height - fixed
	if lines < minLogLines {
		lines = minLogLines
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.renderFocusInfo(),
		m.renderLogPanel(m.Focused(), lines),
		m.renderFooter(),
	)
}

// renderFocusInfo renders one line of key facts about the focused service.
func (m Model) renderFocusInfo() string {
	role := m.Focused()
	c, ok := m.child(role)
	if !ok {
		return RenderKeyValue("Service", role+" (not started)")
	}
	return lipgloss.JoinHorizontal(lipgloss.Left,
		RenderKeyValue("Service", role), "  ",
		RenderKeyValue("PID", fmt.Sprintf("%d", c.Pid)), "  ",
		RenderKeyValue("Uptime", formatDuration(c.Uptime)),
	)
}

// logLinesPerPanel splits the space left after the fixed sections between
// the service log panels.
func (m Model) logLinesPerPanel() int {
	if len(m.roles) == 0 {
		return minLogLines
	}
	fixed := 2 + (4 + len(m.roles)) + 2 // header, services box, footer
	if m.events != nil {
		fixed += 3 + eventLines
	}
	per := (m.height-fixed)/len(m.roles) - 3
	if per < minLogLines {
		per = minLogLines
	}
	return per
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" %s │ %s │ Services: %s %d/%d │ Elapsed: %s ",
		m.title,
		GetStateLabel(m.state),
		renderHealthBar(m.UpCount(), len(m.roles)),
		m.UpCount(),
		len(m.roles),
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Services Table
// =============================================================================

func (m Model) renderServices() string {
	rows := []string{
		sectionHeaderStyle.Render("Services"),
		tableHeaderStyle.Render(fmt.Sprintf("%-12s %-14s %8s %10s %8s %9s", "Service", "Status", "PID", "Uptime", "Lines", "Rate")),
	}

	for _, role := range m.roles {
		c, ok := m.child(role)
		if !ok {
			rows = append(rows, fmt.Sprintf("%-12s %s", role, mutedStyle.Render("○ not started")))
			continue
		}
		status := GetChildLabel(c)
		pad := 14 - lipgloss.Width(status)
		if pad < 1 {
			pad = 1
		}
		rows = append(rows, fmt.Sprintf("%-12s %s%s %8d %10s %8s %9s",
			role,
			status,
			strings.Repeat(" ", pad-1),
			c.Pid,
			formatDuration(c.Uptime),
			formatNumber(c.Lines),
			m.formatRate(role),
		))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// formatRate renders role's output rate, or "-" when unknown.
func (m Model) formatRate(role string) string {
	if m.rate == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f/s", m.rate(role))
}

// =============================================================================
// Log Panels
// =============================================================================

func (m Model) renderLogPanel(role string, lines int) string {
	var recent []string
	if m.source != nil {
		recent = m.source.RecentLines(role, lines)
	}

	tag := process.Spec{Role: role}.Prefix()
	body := make([]string, 0, lines+1)
	body = append(body, sectionHeaderStyle.Render(tag))

	inner := m.width - 6
	if inner < 10 {
		inner = 10
	}
	clip := lipgloss.NewStyle().MaxWidth(inner)
	for _, line := range recent {
		body = append(body, clip.Render(line))
	}
	for i := len(recent); i < lines; i++ {
		body = append(body, "")
	}
	if len(recent) == 0 {
		body[1] = dimStyle.Render("(no output yet)")
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, body...))
}

// =============================================================================
// Events
// =============================================================================

func (m Model) renderEvents() string {
	events := m.events.Recent(eventLines)
	body := []string{sectionHeaderStyle.Render("Events")}
	clip := lipgloss.NewStyle().MaxWidth(m.width - 6)
	for _, e := range events {
		body = append(body, clip.Render(e))
	}
	for i := len(events); i < eventLines; i++ {
		body = append(body, "")
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, body...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: stop all",
		"d: toggle details",
		"tab: next service",
	}

	var links []string
	for _, l := range m.links {
		links = append(links, l.Label+": "+l.URL)
	}
	if m.metricsAddr != "" {
		links = append(links, "metrics: http://"+m.metricsAddr+"/metrics")
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := dimStyle.Render(strings.Join(links, "  "))

	// Pad to fill width
	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
