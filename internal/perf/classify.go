package perf

import (
	"fmt"
	"time"
)

// PlanKind is the outcome of classifying a window.
type PlanKind int

const (
	HistoricalOnly PlanKind = iota + 1
	RealtimeOnly
	Merged
)

func (k PlanKind) String() string {
	switch k {
	case HistoricalOnly:
		return "historical"
	case RealtimeOnly:
		return "realtime"
	case Merged:
		return "merged"
	default:
		return "unknown"
	}
}

// Span is one provider query. A zero Start/End means "most recent sample at
// Interval". For real-time spans Interval is the refresh rate.
type Span struct {
	Interval Interval
	Start    time.Time
	End      time.Time
}

// HasRange reports whether the span carries explicit bounds.
func (s Span) HasRange() bool {
	return !s.Start.IsZero() || !s.End.IsZero()
}

func (s Span) String() string {
	if !s.HasRange() {
		return "latest@" + s.Interval.String()
	}
	return fmt.Sprintf("[%s, %s]@%s", s.Start.Format(time.RFC3339), s.End.Format(time.RFC3339), s.Interval)
}

// Plan lists the queries needed to satisfy a window. Historical is set for
// HistoricalOnly and Merged; Realtime for RealtimeOnly and Merged.
type Plan struct {
	Kind       PlanKind
	Historical *Span
	Realtime   *Span
}

// Classify decides which sources serve window. It is pure: identical inputs
// always produce the identical plan.
//
// Rules, in order:
//   - an empty window, a non-positive interval or a range with an unset
//     bound is ErrInvalidWindowSpec;
//   - a range with start > end or end > now is ErrInvalidRange;
//   - without real-time support, a range ending before boundary is
//     historical, any other range is ErrWindowUnsupported, and an interval is
//     a latest-sample historical query;
//   - with real-time support an interval is ErrInvalidWindowSpec; a range
//     ending before boundary is historical, one starting at or after it is
//     real-time, and one crossing it is split at boundary.
func Classify(window ResolvedWindow, capability Capability, boundary, now time.Time) (Plan, error) {
	reject := func(sentinel error, reason string) (Plan, error) {
		return Plan{}, &WindowError{
			Err:      sentinel,
			Window:   window,
			Boundary: boundary,
			Now:      now,
			Reason:   reason,
		}
	}

	if reason := window.validate(); reason != "" {
		return reject(ErrInvalidWindowSpec, reason)
	}

	start, end := window.Start(), window.End()

	if !window.IsInterval() {
		if start.After(end) {
			return reject(ErrInvalidRange, "start is after end")
		}
		if end.After(now) {
			return reject(ErrInvalidRange, "end is in the future")
		}
	}

	if !capability.SupportsRealtime {
		if window.IsInterval() {
			return Plan{
				Kind:       HistoricalOnly,
				Historical: &Span{Interval: window.Interval()},
			}, nil
		}
		if end.Before(boundary) {
			return historical(start, end), nil
		}
		return reject(ErrWindowUnsupported, "entity has no real-time sampling and the window reaches past the rollup boundary")
	}

	if window.IsInterval() {
		return reject(ErrInvalidWindowSpec, "a rollup cycle cannot be served by a real-time capable entity")
	}

	refresh := Interval(capability.RefreshRate)

	switch {
	case end.Before(boundary):
		return historical(start, end), nil
	case !start.Before(boundary):
		return Plan{
			Kind:     RealtimeOnly,
			Realtime: &Span{Interval: refresh, Start: start, End: end},
		}, nil
	default:
		return Plan{
			Kind:       Merged,
			Historical: &Span{Start: start, End: boundary},
			Realtime:   &Span{Interval: refresh, Start: boundary, End: end},
		}, nil
	}
}

func historical(start, end time.Time) Plan {
	return Plan{
		Kind:       HistoricalOnly,
		Historical: &Span{Start: start, End: end},
	}
}
