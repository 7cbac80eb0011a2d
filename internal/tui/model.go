package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-devstack/internal/supervisor"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Source provides the live supervisor view. *supervisor.Supervisor
// implements it.
type Source interface {
	State() supervisor.State
	Children() []supervisor.ChildStatus
	RecentLines(role string, n int) []string
}

// Link is an endpoint shown in the footer.
type Link struct {
	Label string
	URL   string
}

// Config holds TUI configuration.
type Config struct {
	Title       string
	Roles       []string // services in start order
	Links       []Link
	MetricsAddr string
	Source      Source
	Events      *EventLog

	// Rate returns a service's recent lines per second. Optional.
	Rate func(role string) float64

	// Stop is called when the operator quits. Typically Supervisor.Stop.
	Stop func()
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	title       string
	roles       []string
	links       []Link
	metricsAddr string
	source      Source
	events      *EventLog
	rate        func(role string) float64
	stop        func()

	// Current state
	state      supervisor.State
	children   []supervisor.ChildStatus
	startTime  time.Time
	lastUpdate time.Time

	// focus is the index into roles shown alone in the detailed view.
	focus        int
	detailedView bool

	// Display options
	width  int
	height int

	// Quit flag
	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	title := cfg.Title
	if title == "" {
		title = "devstack"
	}
	return Model{
		title:       title,
		roles:       cfg.Roles,
		links:       cfg.Links,
		metricsAddr: cfg.MetricsAddr,
		source:      cfg.Source,
		events:      cfg.Events,
		rate:        cfg.Rate,
		stop:        cfg.Stop,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.stop != nil {
				m.stop()
			}
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "tab":
			if len(m.roles) > 0 {
				m.focus = (m.focus + 1) % len(m.roles)
			}
			return m, nil
		case "r":
			// Force refresh
			return m.refresh(), nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m = m.refresh()
		if m.state.IsTerminal() {
			m.quitting = true
			return m, tea.Quit
		}
		return m, tickCmd()

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// refresh pulls the latest state from the source.
func (m Model) refresh() Model {
	if m.source != nil {
		m.state = m.source.State()
		m.children = m.source.Children()
	}
	m.lastUpdate = time.Now()
	return m
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.detailedView && len(m.roles) > 0 {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// UpCount returns how many services are running.
func (m Model) UpCount() int {
	n := 0
	for _, c := range m.children {
		if c.Alive {
			n++
		}
	}
	return n
}

// Focused returns the role shown in the detailed view.
func (m Model) Focused() string {
	if len(m.roles) == 0 {
		return ""
	}
	return m.roles[m.focus]
}

// child returns the latest status of role.
func (m Model) child(role string) (supervisor.ChildStatus, bool) {
	for _, c := range m.children {
		if c.Role == role {
			return c, true
		}
	}
	return supervisor.ChildStatus{}, false
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}
