package stats

import (
	"fmt"
	"strings"
	"time"
)

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════"
	lightRule = "───────────────────────────────────────────────────────────────────"
)

// SummaryConfig holds configuration for summary formatting.
type SummaryConfig struct {
	// Duration is the total run duration
	Duration time.Duration

	// ExitCode is the supervisor's own exit code
	ExitCode int

	// Reason describes what triggered shutdown, e.g. "signal"
	Reason string

	// MetricsAddr is the Prometheus metrics endpoint address, if served
	MetricsAddr string
}

// FormatExitSummary formats per-child stats for display at program exit.
//
// The summary includes:
//   - run duration and shutdown reason
//   - output volume per child
//   - line gap percentiles
//   - how each child exited
func FormatExitSummary(children []ChildSnapshot, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule + "\n")
	b.WriteString("                       devstack Exit Summary\n")
	b.WriteString(heavyRule + "\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	if cfg.Reason != "" {
		fmt.Fprintf(&b, "Shutdown Reason:        %s\n", cfg.Reason)
	}
	fmt.Fprintf(&b, "Exit Code:              %d %s\n\n", cfg.ExitCode, exitCodeLabel(cfg.ExitCode))

	if len(children) == 0 {
		b.WriteString("(no services were started)\n\n")
	} else {
		sectionHeader(&b, "Output")
		fmt.Fprintf(&b, "  %-12s %10s %12s %14s\n", "Service", "Lines", "Bytes", "First Line")
		b.WriteString("  " + strings.Repeat("─", 51) + "\n")
		for _, c := range children {
			first := "-"
			if c.TimeToFirstLine > 0 {
				first = FormatMs(c.TimeToFirstLine)
			}
			fmt.Fprintf(&b, "  %-12s %10s %12s %14s\n",
				c.Role,
				FormatNumber(c.Lines),
				FormatBytes(c.Bytes),
				first,
			)
		}
		b.WriteString("\n")

		if hasGaps(children) {
			sectionHeader(&b, "Line Gaps")
			fmt.Fprintf(&b, "  %-12s %10s %10s %10s %10s\n", "Service", "P50", "P95", "P99", "Max")
			b.WriteString("  " + strings.Repeat("─", 55) + "\n")
			for _, c := range children {
				if c.GapMax == 0 {
					continue
				}
				fmt.Fprintf(&b, "  %-12s %10s %10s %10s %10s\n",
					c.Role,
					FormatMs(c.GapP50),
					FormatMs(c.GapP95),
					FormatMs(c.GapP99),
					FormatMs(c.GapMax),
				)
			}
			b.WriteString("\n")
		}

		sectionHeader(&b, "Exit Status")
		for _, c := range children {
			b.WriteString(formatExit(c))
		}
		b.WriteString("\n")
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(heavyRule + "\n")

	return b.String()
}

func sectionHeader(b *strings.Builder, title string) {
	b.WriteString(lightRule + "\n")
	pad := (len([]rune(lightRule)) - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(lightRule + "\n\n")
}

func hasGaps(children []ChildSnapshot) bool {
	for _, c := range children {
		if c.GapMax > 0 {
			return true
		}
	}
	return false
}

// formatExit renders one child's exit line.
func formatExit(c ChildSnapshot) string {
	if c.Exit == nil {
		return fmt.Sprintf("  %-12s still running\n", c.Role)
	}
	e := c.Exit

	var notes []string
	if e.Expected {
		notes = append(notes, "stopped")
	} else {
		notes = append(notes, "exited unexpectedly")
	}
	if e.Killed {
		notes = append(notes, "killed after timeout")
	}

	return fmt.Sprintf("  %-12s %3d %-10s uptime %s, %s\n",
		c.Role,
		e.Code,
		exitCodeLabel(e.Code),
		FormatDuration(e.Uptime),
		strings.Join(notes, ", "),
	)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 130:
		return "(SIGINT)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
