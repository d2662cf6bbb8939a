// Package styles provides centralized Lipgloss styling for vperf output.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/willibrandon/vperf/internal/perf"
)

// Color palette
var (
	// Plan colors
	ColorHistorical = lipgloss.Color("12") // Blue - rollups only
	ColorRealtime   = lipgloss.Color("10") // Green - real-time buffer only
	ColorMerged     = lipgloss.Color("13") // Magenta - both sources

	// UI element colors
	ColorBorder  = lipgloss.Color("240") // Gray - all borders
	ColorAccent  = lipgloss.Color("6")   // Cyan - titles, highlights
	ColorMuted   = lipgloss.Color("8")   // Dark gray - secondary text
	ColorSuccess = lipgloss.Color("10")  // Green - success messages
	ColorError   = lipgloss.Color("9")   // Red - error messages

	// Selection colors
	ColorSelectedFg = lipgloss.Color("229") // Light yellow text
	ColorSelectedBg = lipgloss.Color("57")  // Purple background

	// Sparkline
	ColorSparkline = lipgloss.Color("117") // Light blue
)

// PlanColor returns the color used to label a plan kind.
func PlanColor(kind perf.PlanKind) lipgloss.Color {
	switch kind {
	case perf.HistoricalOnly:
		return ColorHistorical
	case perf.RealtimeOnly:
		return ColorRealtime
	case perf.Merged:
		return ColorMerged
	default:
		return ColorMuted
	}
}

// PlanBadge renders the plan kind as a colored label.
func PlanBadge(kind perf.PlanKind) string {
	return lipgloss.NewStyle().
		Foreground(PlanColor(kind)).
		Bold(true).
		Render(kind.String())
}
