package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCounterInfo_FullName(t *testing.T) {
	c := CounterInfo{Group: "cpu", Name: "usage", Rollup: "average"}
	assert.Equal(t, "cpu.usage.average", c.FullName())
}

func TestDefaultCounters_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for _, c := range DefaultCounters() {
		assert.False(t, seen[c.Key], "duplicate counter %s", c.Key)
		seen[c.Key] = true
		assert.NotEmpty(t, c.Unit, c.Key)
		assert.True(t, c.Level >= 1 && c.Level <= 4, "level of %s", c.Key)
	}
}

func TestLevelForInterval(t *testing.T) {
	tests := []struct {
		seconds int
		want    int
	}{
		{20, 4}, {300, 4}, {301, 3}, {1800, 3}, {7200, 2}, {86400, 1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForInterval(tt.seconds), "interval %d", tt.seconds)
	}
}
