package perf

import (
	"errors"
	"testing"
	"time"
)

func TestLookupCycle(t *testing.T) {
	tests := []struct {
		name     string
		expected Interval
	}{
		{"day", 300},
		{"week", 1800},
		{"month", 7200},
		{"year", 66400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LookupCycle(tt.name)
			if err != nil {
				t.Fatalf("LookupCycle(%q) error: %v", tt.name, err)
			}
			if got != tt.expected {
				t.Errorf("LookupCycle(%q) = %d, want %d", tt.name, got, tt.expected)
			}
		})
	}
}

func TestLookupCycle_Unknown(t *testing.T) {
	for _, name := range []string{"", "hour", "Day", "weekly", "300"} {
		if _, err := LookupCycle(name); !errors.Is(err, ErrUnknownCycle) {
			t.Errorf("LookupCycle(%q) error = %v, want ErrUnknownCycle", name, err)
		}
	}
}

func TestAllCycles(t *testing.T) {
	cycles := AllCycles()
	if len(cycles) != 4 {
		t.Fatalf("expected 4 cycles, got %d", len(cycles))
	}
	for i := 1; i < len(cycles); i++ {
		if cycles[i].Interval() <= cycles[i-1].Interval() {
			t.Errorf("cycles not ordered finest to coarsest: %v", cycles)
		}
	}
}

func TestInterval_Duration(t *testing.T) {
	if IntervalWeek.Duration() != 30*time.Minute {
		t.Errorf("expected 30m, got %v", IntervalWeek.Duration())
	}
	if Interval(0).String() != "none" {
		t.Errorf("expected none, got %s", Interval(0).String())
	}
	if IntervalDay.String() != "300s" {
		t.Errorf("expected 300s, got %s", IntervalDay.String())
	}
}
