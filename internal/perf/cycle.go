// Package perf resolves performance-sample requests against historical
// rollups and the short-retention real-time buffer.
//
// A request is normalized into a ResolvedWindow, classified against the
// real-time retention boundary into a Plan, and executed against a Provider
// with one historical query, one real-time query, or both.
package perf

import (
	"fmt"
	"strconv"
	"time"
)

// Interval is a sampling interval length in whole seconds. Zero means no
// interval was requested.
type Interval int

// Rollup intervals of the named cycles.
const (
	IntervalDay   Interval = 300
	IntervalWeek  Interval = 1800
	IntervalMonth Interval = 7200
	IntervalYear  Interval = 66400
)

// Duration returns the interval as a time.Duration.
func (i Interval) Duration() time.Duration {
	return time.Duration(i) * time.Second
}

// String renders the interval in seconds, or "none".
func (i Interval) String() string {
	if i <= 0 {
		return "none"
	}
	return strconv.Itoa(int(i)) + "s"
}

// Cycle names a rollup cycle.
type Cycle string

const (
	CycleDay   Cycle = "day"
	CycleWeek  Cycle = "week"
	CycleMonth Cycle = "month"
	CycleYear  Cycle = "year"
)

var cycleTable = map[Cycle]Interval{
	CycleDay:   IntervalDay,
	CycleWeek:  IntervalWeek,
	CycleMonth: IntervalMonth,
	CycleYear:  IntervalYear,
}

// AllCycles returns all named cycles from finest to coarsest.
func AllCycles() []Cycle {
	return []Cycle{CycleDay, CycleWeek, CycleMonth, CycleYear}
}

// Interval returns the sampling interval of the cycle, or zero if unknown.
func (c Cycle) Interval() Interval {
	return cycleTable[c]
}

// LookupCycle maps a cycle name to its sampling interval.
func LookupCycle(name string) (Interval, error) {
	interval, ok := cycleTable[Cycle(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q (known: day, week, month, year)", ErrUnknownCycle, name)
	}
	return interval, nil
}
