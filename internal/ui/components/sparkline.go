// Package components provides reusable terminal rendering components.
package components

import (
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/willibrandon/vperf/internal/ui/styles"
)

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders values as one line of at most width block characters,
// scaled between the min and max of what is drawn. No data renders a
// dashed placeholder. A zero color leaves the line unstyled.
func Sparkline(values []float64, width int, color lipgloss.Color) string {
	if len(values) == 0 {
		return strings.Repeat("─", width)
	}

	values = Resample(values, width)
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	top := len(sparkBlocks) - 1
	var sb strings.Builder
	for _, v := range values {
		level := int((v - lo) / span * float64(top))
		sb.WriteRune(sparkBlocks[max(0, min(level, top))])
	}
	if color == "" {
		return sb.String()
	}
	return lipgloss.NewStyle().Foreground(color).Render(sb.String())
}

// MetricSparkline is Sparkline in the table colour.
func MetricSparkline(values []float64, width int) string {
	return Sparkline(values, width, styles.ColorSparkline)
}

// Resample averages values into width equal buckets. Input no longer than
// width is returned unchanged.
func Resample(values []float64, width int) []float64 {
	n := len(values)
	if width <= 0 || n <= width {
		return values
	}
	out := make([]float64, width)
	for i := range out {
		lo, hi := i*n/width, (i+1)*n/width
		var sum float64
		for _, v := range values[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}

// Trend is the overall direction of a series.
type Trend int

const (
	TrendStable Trend = iota
	TrendUp
	TrendDown
)

// TrendOf fits a least-squares line through values. The series is rising
// or falling when the fitted change across it exceeds 10% of the mean
// magnitude and 1 in absolute terms.
func TrendOf(values []float64) Trend {
	n := float64(len(values))
	if n < 2 {
		return TrendStable
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	slope := (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
	change := slope * (n - 1)
	threshold := math.Max(math.Abs(sumY/n)*0.1, 1)

	switch {
	case change > threshold:
		return TrendUp
	case change < -threshold:
		return TrendDown
	}
	return TrendStable
}

func (t Trend) String() string {
	switch t {
	case TrendUp:
		return "↑"
	case TrendDown:
		return "↓"
	}
	return "→"
}
