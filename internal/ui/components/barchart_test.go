package components

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarChart_Empty(t *testing.T) {
	assert.Contains(t, BarChart{}.Render(nil), "No data available")
}

func TestBarChart_Render(t *testing.T) {
	view := BarChart{Title: "cpu.usage.average"}.Render([]Bar{{Label: "vm/web-01", Value: 80, Rank: 1}})

	assert.Contains(t, view, "cpu.usage.average")
	assert.Contains(t, view, "vm/web-01")
	assert.Contains(t, view, "80.0")
}

func TestBarChart_UsesFormat(t *testing.T) {
	chart := BarChart{Format: func(float64) string { return "42 widgets" }}
	assert.Contains(t, chart.Render([]Bar{{Label: "vm/a", Value: 42, Rank: 1}}), "42 widgets")
}

func TestBarChart_Defaults(t *testing.T) {
	c := BarChart{Width: 10}.withDefaults()

	assert.Equal(t, minBarChartWidth, c.Width)
	assert.Equal(t, defaultMaxBars, c.MaxBars)
	assert.Equal(t, minLabelWidth, c.LabelWidth)
	require.NotNil(t, c.Format)
	assert.Equal(t, "1.5", c.Format(1.5))
}

func TestBarChart_Plain(t *testing.T) {
	c := BarChart{}.withDefaults()
	out := c.plain([]Bar{
		{Label: "vm/a", Value: 100, Rank: 1},
		{Label: "vm/b", Value: 50, Rank: 2},
		{Label: "vm/c", Value: 0, Rank: 3},
	})
	lines := strings.Split(out, "\n")

	require.Len(t, lines, 3)
	assert.Greater(t, strings.Count(lines[0], "█"), strings.Count(lines[1], "█"))
	assert.Zero(t, strings.Count(lines[2], "█"))
}

func TestRankStyle(t *testing.T) {
	tests := []struct {
		rank int
		want string
	}{
		{0, "51"}, {1, "51"}, {2, "51"}, {3, "44"}, {6, "37"}, {8, "30"}, {9, "23"}, {40, "23"},
	}
	for _, tt := range tests {
		assert.Equal(t, lipgloss.Color(tt.want), rankStyle(tt.rank).GetForeground(), "rank %d", tt.rank)
	}
}

func TestFitCells(t *testing.T) {
	tests := []struct {
		in    string
		width int
	}{
		{"short", 10},
		{"vm/4c4c4544-0042-3510-8052-b7c04f4e4432", 12},
		{"ホスト名", 6},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.width, runewidth.StringWidth(fitCells(tt.in, tt.width)), tt.in)
	}
}
