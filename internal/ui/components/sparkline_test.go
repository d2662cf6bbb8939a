package components

import (
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSparkline(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		width  int
		want   string
	}{
		{"empty", nil, 5, "─────"},
		{"ramp", []float64{0, 1, 2, 3, 4, 5, 6, 7}, 8, "▁▂▃▄▅▆▇█"},
		{"flat", []float64{3, 3, 3}, 3, "▁▁▁"},
		{"shorter than width", []float64{0, 7}, 10, "▁█"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sparkline(tt.values, tt.width, ""))
		})
	}
}

func TestSparkline_ResamplesToWidth(t *testing.T) {
	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i)
	}
	got := Sparkline(values, 10, "")
	assert.Equal(t, 10, utf8.RuneCountInString(got))
	assert.Equal(t, '▁', []rune(got)[0])
	assert.Equal(t, '█', []rune(got)[9])
}

func TestResample(t *testing.T) {
	assert.Equal(t, []float64{2, 6}, Resample([]float64{1, 3, 5, 7}, 2))
	assert.Equal(t, []float64{1, 2}, Resample([]float64{1, 2}, 10))
	assert.Equal(t, []float64{2, 5}, Resample([]float64{1, 2, 3, 4, 5, 6}, 2))
}

func TestTrendOf(t *testing.T) {
	tests := []struct {
		name   string
		values []float64
		want   Trend
	}{
		{"single", []float64{5}, TrendStable},
		{"up", []float64{10, 10, 10, 20, 30, 40}, TrendUp},
		{"down", []float64{40, 30, 20, 10, 10, 10}, TrendDown},
		{"noise", []float64{100, 101, 99, 100, 102, 100}, TrendStable},
		{"tiny values", []float64{0.1, 0.2, 0.3}, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TrendOf(tt.values))
		})
	}
}

func TestTrend_String(t *testing.T) {
	assert.Equal(t, "↑", TrendUp.String())
	assert.Equal(t, "↓", TrendDown.String())
	assert.Equal(t, "→", TrendStable.String())
}
