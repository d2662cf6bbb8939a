package perf

import (
	"fmt"
	"time"
)

// DefaultTimeLayout is the wall-clock layout of ExplicitRange inputs.
const DefaultTimeLayout = "2006-01-02 15:04:05"

// DefaultSpan is the length of the window produced for DefaultSpec.
const DefaultSpan = time.Hour

// windowShape tags which half of a ResolvedWindow is set. The zero value
// marks a window built by neither constructor.
type windowShape uint8

const (
	shapeNone windowShape = iota
	shapeInterval
	shapeRange
)

// ResolvedWindow is either a rollup interval or a concrete UTC range.
type ResolvedWindow struct {
	shape    windowShape
	interval Interval
	start    time.Time
	end      time.Time
}

// IntervalWindow returns a window addressing the latest rollup at interval.
func IntervalWindow(interval Interval) ResolvedWindow {
	return ResolvedWindow{shape: shapeInterval, interval: interval}
}

// RangeWindow returns a window over [start, end], converted to UTC.
func RangeWindow(start, end time.Time) ResolvedWindow {
	return ResolvedWindow{shape: shapeRange, start: start.UTC(), end: end.UTC()}
}

// IsInterval reports whether the window is an interval identifier.
func (w ResolvedWindow) IsInterval() bool {
	return w.shape == shapeInterval
}

// validate reports why w cannot be queried, or "" when it can.
func (w ResolvedWindow) validate() string {
	switch w.shape {
	case shapeInterval:
		if w.interval <= 0 {
			return "interval must be positive"
		}
	case shapeRange:
		if w.start.IsZero() || w.end.IsZero() {
			return "range bounds must be set"
		}
	default:
		return "window is empty"
	}
	return ""
}

// Interval returns the interval identifier, or zero for a range window.
func (w ResolvedWindow) Interval() Interval {
	return w.interval
}

// Start returns the range start, zero for an interval window.
func (w ResolvedWindow) Start() time.Time {
	return w.start
}

// End returns the range end, zero for an interval window.
func (w ResolvedWindow) End() time.Time {
	return w.end
}

func (w ResolvedWindow) String() string {
	switch w.shape {
	case shapeInterval:
		return "interval:" + w.interval.String()
	case shapeNone:
		return "empty"
	}
	return fmt.Sprintf("[%s, %s]", w.start.Format(time.RFC3339), w.end.Format(time.RFC3339))
}

// Normalizer turns a TimeSpec into a ResolvedWindow. ExplicitRange strings
// are read as wall-clock times in Location.
type Normalizer struct {
	Location *time.Location
	Layout   string
}

// NewNormalizer returns a Normalizer reading ranges in loc with layout.
// A nil loc means time.Local; an empty layout means DefaultTimeLayout.
func NewNormalizer(loc *time.Location, layout string) Normalizer {
	if loc == nil {
		loc = time.Local
	}
	if layout == "" {
		layout = DefaultTimeLayout
	}
	return Normalizer{Location: loc, Layout: layout}
}

// Normalize resolves spec relative to now. It does not validate the range
// against now; that is the classifier's job.
func (n Normalizer) Normalize(spec TimeSpec, now time.Time) (ResolvedWindow, error) {
	switch spec.Kind() {
	case SpecNamedCycle:
		interval, err := LookupCycle(spec.Cycle())
		if err != nil {
			return ResolvedWindow{}, err
		}
		return IntervalWindow(interval), nil

	case SpecExplicitRange:
		rawStart, rawEnd := spec.Range()
		start, err := n.parse(rawStart)
		if err != nil {
			return ResolvedWindow{}, fmt.Errorf("%w: start: %v", ErrInvalidWindowSpec, err)
		}
		end, err := n.parse(rawEnd)
		if err != nil {
			return ResolvedWindow{}, fmt.Errorf("%w: end: %v", ErrInvalidWindowSpec, err)
		}
		return RangeWindow(start, end), nil

	default:
		now = now.UTC()
		return RangeWindow(now.Add(-DefaultSpan), now), nil
	}
}

// parse reads a wall-clock string, falling back to RFC 3339 for inputs that
// carry their own offset.
func (n Normalizer) parse(raw string) (time.Time, error) {
	loc := n.Location
	if loc == nil {
		loc = time.Local
	}
	layout := n.Layout
	if layout == "" {
		layout = DefaultTimeLayout
	}

	t, err := time.ParseInLocation(layout, raw, loc)
	if err == nil {
		return t.UTC(), nil
	}
	if t2, err2 := time.Parse(time.RFC3339, raw); err2 == nil {
		return t2.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse %q with layout %q", raw, layout)
}
