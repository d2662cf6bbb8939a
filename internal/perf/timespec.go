package perf

import "fmt"

// SpecKind tells which shape of TimeSpec is active.
type SpecKind int

const (
	SpecDefault SpecKind = iota
	SpecNamedCycle
	SpecExplicitRange
)

func (k SpecKind) String() string {
	switch k {
	case SpecNamedCycle:
		return "cycle"
	case SpecExplicitRange:
		return "range"
	default:
		return "default"
	}
}

// TimeSpec is a caller's time request: a named rollup cycle, an explicit
// local wall-clock range, or nothing at all. Exactly one shape is active.
type TimeSpec struct {
	kind  SpecKind
	cycle string
	start string
	end   string
}

// NamedCycle requests the most recent rollup of a cycle (day, week, ...).
func NamedCycle(name string) TimeSpec {
	return TimeSpec{kind: SpecNamedCycle, cycle: name}
}

// ExplicitRange requests samples between two local wall-clock times.
func ExplicitRange(start, end string) TimeSpec {
	return TimeSpec{kind: SpecExplicitRange, start: start, end: end}
}

// DefaultSpec requests the last hour.
func DefaultSpec() TimeSpec {
	return TimeSpec{kind: SpecDefault}
}

// ParseTimeSpec builds a TimeSpec from raw, possibly empty, caller inputs.
// A cycle excludes a range, and a range needs both ends.
func ParseTimeSpec(cycle, start, end string) (TimeSpec, error) {
	hasRange := start != "" || end != ""

	switch {
	case cycle != "" && hasRange:
		return TimeSpec{}, fmt.Errorf("%w: cycle %q cannot be combined with start/end", ErrInvalidWindowSpec, cycle)
	case cycle != "":
		return NamedCycle(cycle), nil
	case start != "" && end != "":
		return ExplicitRange(start, end), nil
	case hasRange:
		return TimeSpec{}, fmt.Errorf("%w: start and end must be given together (start=%q, end=%q)", ErrInvalidWindowSpec, start, end)
	default:
		return DefaultSpec(), nil
	}
}

// Kind returns the active shape.
func (s TimeSpec) Kind() SpecKind {
	return s.kind
}

// Cycle returns the cycle name of a NamedCycle spec.
func (s TimeSpec) Cycle() string {
	return s.cycle
}

// Range returns the raw start and end of an ExplicitRange spec.
func (s TimeSpec) Range() (start, end string) {
	return s.start, s.end
}

func (s TimeSpec) String() string {
	switch s.kind {
	case SpecNamedCycle:
		return "cycle:" + s.cycle
	case SpecExplicitRange:
		return fmt.Sprintf("range:%s..%s", s.start, s.end)
	default:
		return "default"
	}
}
