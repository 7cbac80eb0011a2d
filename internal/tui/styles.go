// Package tui provides an optional live terminal dashboard for devstack.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays:
// - Supervisor state and service status
// - The latest output lines of each service
// - Supervisor events (starts, exits, shutdown)
package tui

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-devstack/internal/supervisor"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	// Primary colors
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	// Status colors
	colorSuccess = lipgloss.Color("#10B981") // Green
	colorWarning = lipgloss.Color("#F59E0B") // Amber
	colorError   = lipgloss.Color("#EF4444") // Red
	colorInfo    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)
)

// =============================================================================
// Status Indicator Styles
// =============================================================================

var (
	statusOK = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	statusWarning = lipgloss.NewStyle().
			Foreground(colorWarning).
			Bold(true)

	statusError = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	statusInfo = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)
)

// =============================================================================
// Layout Styles
// =============================================================================

var (
	// Box/panel styles
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	// Header style
	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	// Section header style
	sectionHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true)

	// Footer style
	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)
)

// =============================================================================
// Value Styles
// =============================================================================

var (
	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(12)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true)
)

// =============================================================================
// State Indicator
// =============================================================================

// GetStateStyle returns the style for a supervisor state.
func GetStateStyle(state supervisor.State) lipgloss.Style {
	switch state {
	case supervisor.StateRunning:
		return statusOK
	case supervisor.StateStarting:
		return statusInfo
	case supervisor.StateShuttingDown:
		return statusWarning
	case supervisor.StateStopped:
		return statusError
	default:
		return mutedStyle
	}
}

// GetStateLabel returns a styled "● state" label.
func GetStateLabel(state supervisor.State) string {
	return GetStateStyle(state).Render("● " + state.String())
}

// GetChildLabel returns the styled status of one service.
func GetChildLabel(c supervisor.ChildStatus) string {
	if c.Alive {
		return statusOK.Render("● up")
	}
	if c.ExitCode == 0 {
		return mutedStyle.Render("○ exited (0)")
	}
	return statusError.Render("○ exited (" + strconv.Itoa(c.ExitCode) + ")")
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// renderHealthBar renders filled circles for running services, e.g. "●●○".
func renderHealthBar(up, total int) string {
	if up > total {
		up = total
	}
	if up < 0 {
		up = 0
	}
	return strings.Repeat("●", up) + strings.Repeat("○", total-up)
}
