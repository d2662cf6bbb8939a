package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/ui/styles"
)

// Chart size limits. Width includes the y-axis labels.
const (
	minChartWidth  = 20
	minChartHeight = 3
	minChartPoints = 2
	axisWidth      = 10
)

// Chart describes one asciigraph line chart of a series. The zero value
// renders at the minimum size in green.
type Chart struct {
	Title  string
	Window string // label of the window the data covers
	Unit   string
	Width  int
	Height int
	Color  asciigraph.AnsiColor
}

// Caption joins title, unit and window label.
func (c Chart) Caption() string {
	title := c.Title
	if c.Unit != "" {
		title = fmt.Sprintf("%s (%s)", title, c.Unit)
	}
	return strings.TrimSpace(strings.Join([]string{title, c.Window}, "  "))
}

// Render draws values, or a placeholder when there are fewer than two.
func (c Chart) Render(values []float64) string {
	width := max(c.Width, minChartWidth)
	height := max(c.Height, minChartHeight)

	if len(values) < minChartPoints {
		msg := fmt.Sprintf("Not enough samples (%d/%d)", len(values), minChartPoints)
		// The message never wraps, even at the minimum width.
		box := lipgloss.NewStyle().
			Width(max(width-4, lipgloss.Width(msg))).
			Height(height-2).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(styles.ColorMuted).
			Render(msg)
		return lipgloss.JoinVertical(lipgloss.Left, styles.TitleStyle.Render(c.Caption()), box)
	}

	color := c.Color
	if color == asciigraph.Default {
		color = asciigraph.Green
	}
	plotWidth := max(width-axisWidth, minChartWidth)
	out := asciigraph.Plot(Resample(values, plotWidth),
		asciigraph.Width(plotWidth),
		asciigraph.Height(max(height-2, 2)),
		asciigraph.Caption(c.Caption()),
		asciigraph.SeriesColors(color),
	)
	return strings.TrimRight(out, "\n")
}

// chartColors cycles across the charts of one panel.
var chartColors = []asciigraph.AnsiColor{
	asciigraph.Green,
	asciigraph.Blue,
	asciigraph.Cyan,
	asciigraph.Yellow,
	asciigraph.Magenta,
}

// RenderMetricCharts stacks one chart per metric of set, in metric order.
// units maps counter keys to unit labels and may be nil.
func RenderMetricCharts(set metrics.SampleSet, window string, units map[string]string, width, height int) string {
	ids := set.Metrics()
	if len(ids) == 0 {
		return styles.MutedStyle.Render("No samples in window")
	}

	byMetric := set.ByMetric()
	charts := make([]string, len(ids))
	for i, id := range ids {
		series := byMetric[id]
		series.Sort()
		charts[i] = Chart{
			Title:  id.String(),
			Window: window,
			Unit:   units[id.Counter],
			Width:  width,
			Height: height,
			Color:  chartColors[i%len(chartColors)],
		}.Render(series.Values())
	}
	return strings.Join(charts, "\n\n")
}
