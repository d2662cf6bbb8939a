package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/pterm/pterm"

	"github.com/willibrandon/vperf/internal/ui/styles"
)

// Bar is one ranked entry of a BarChart.
type Bar struct {
	Label string
	Value float64
	Rank  int // 1 is the top entry
}

// BarChart draws ranked entities as horizontal bars, brightest for the top
// ranks. Zero fields take the defaults below.
type BarChart struct {
	Title      string
	Width      int
	MaxBars    int
	LabelWidth int
	Format     func(float64) string
}

const (
	minBarChartWidth = 40
	defaultMaxBars   = 10
	minLabelWidth    = 10
	valueWidth       = 10
)

func (c BarChart) withDefaults() BarChart {
	c.Width = max(c.Width, minBarChartWidth)
	if c.MaxBars < 1 {
		c.MaxBars = defaultMaxBars
	}
	c.LabelWidth = max(c.LabelWidth, minLabelWidth)
	if c.Format == nil {
		c.Format = func(v float64) string { return fmt.Sprintf("%.1f", v) }
	}
	return c
}

// Render draws bars through pterm, falling back to plain block runs when
// pterm refuses the input.
func (c BarChart) Render(bars []Bar) string {
	c = c.withDefaults()
	if len(bars) == 0 {
		return c.titled(styles.MutedStyle.Render("No data available"))
	}
	bars = bars[:min(c.MaxBars, len(bars))]

	// Rank colors are applied afterwards with lipgloss.
	pterm.DisableColor()
	defer pterm.EnableColor()

	labels := make([]string, len(bars))
	pbars := make(pterm.Bars, len(bars))
	for i, b := range bars {
		labels[i] = c.label(b)
		pbars[i] = pterm.Bar{Label: labels[i], Value: int(b.Value + 0.5)}
	}

	out, err := pterm.DefaultBarChart.
		WithBars(pbars).
		WithHorizontal(true).
		WithWidth(max(c.Width-c.LabelWidth-26, 10)).
		Srender()
	if err != nil {
		return c.titled(c.plain(bars))
	}

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	for i, line := range lines {
		for j, label := range labels {
			if strings.Contains(line, label) {
				lines[i] = colorBlocks(line, rankStyle(bars[j].Rank))
				break
			}
		}
	}
	return c.titled(strings.Join(lines, "\n"))
}

func (c BarChart) label(b Bar) string {
	return fitCells(b.Label, c.LabelWidth) + " " + runewidth.FillLeft(c.Format(b.Value), valueWidth)
}

// plain draws bars scaled to the largest value without pterm.
func (c BarChart) plain(bars []Bar) string {
	top := 1.0
	for _, b := range bars {
		top = max(top, b.Value)
	}
	span := max(c.Width-c.LabelWidth-15, 10)

	lines := make([]string, len(bars))
	for i, b := range bars {
		n := int(float64(span) * b.Value / top)
		if n == 0 && b.Value > 0 {
			n = 1
		}
		lines[i] = fitCells(b.Label, c.LabelWidth) + " " +
			rankStyle(b.Rank).Render(strings.Repeat("█", n)) + " " + c.Format(b.Value)
	}
	return strings.Join(lines, "\n")
}

func (c BarChart) titled(body string) string {
	if c.Title == "" {
		return body
	}
	return lipgloss.JoinVertical(lipgloss.Left, styles.TitleStyle.Render(c.Title), "", body)
}

// rankShades is a cyan gradient, two ranks per shade.
var rankShades = []lipgloss.Color{"51", "44", "37", "30", "23"}

func rankStyle(rank int) lipgloss.Style {
	i := min(max(rank-1, 0)/2, len(rankShades)-1)
	return lipgloss.NewStyle().Foreground(rankShades[i])
}

// colorBlocks styles each run of block characters in line.
func colorBlocks(line string, style lipgloss.Style) string {
	var out, run strings.Builder
	flush := func() {
		if run.Len() > 0 {
			out.WriteString(style.Render(run.String()))
			run.Reset()
		}
	}
	for _, r := range line {
		if strings.ContainsRune("█▓▒░▄▀■", r) {
			run.WriteRune(r)
			continue
		}
		flush()
		out.WriteRune(r)
	}
	flush()
	return out.String()
}

// fitCells truncates or pads s to exactly width display cells.
func fitCells(s string, width int) string {
	if runewidth.StringWidth(s) > width {
		s = runewidth.Truncate(s, width, "…")
	}
	return runewidth.FillRight(s, width)
}
