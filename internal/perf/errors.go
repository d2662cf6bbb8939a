package perf

import (
	"errors"
	"fmt"
	"time"
)

// Validation failures. These indicate a caller contract violation and are
// never retried.
var (
	ErrUnknownCycle      = errors.New("unknown rollup cycle")
	ErrInvalidWindowSpec = errors.New("invalid window spec")
	ErrInvalidRange      = errors.New("invalid range")
	ErrWindowUnsupported = errors.New("window unsupported")
)

// Provider failures. Retrying is the caller's decision.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderQueryFailed = errors.New("provider query failed")
)

// WindowError reports a window rejected by the classifier together with the
// values it was judged against.
type WindowError struct {
	Err      error
	Window   ResolvedWindow
	Boundary time.Time
	Now      time.Time
	Reason   string
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("%v: %s (window=%s, boundary=%s, now=%s)",
		e.Err, e.Reason, e.Window,
		e.Boundary.Format(time.RFC3339), e.Now.Format(time.RFC3339))
}

// Unwrap exposes the sentinel for errors.Is.
func (e *WindowError) Unwrap() error {
	return e.Err
}

// Op names the provider operation that failed.
type Op string

const (
	OpClock      Op = "clock"
	OpProbe      Op = "probe"
	OpHistorical Op = "historical"
	OpRealtime   Op = "realtime"
)

// ProviderError tags a collaborator failure with the sub-query that raised it.
type ProviderError struct {
	Err    error
	Op     Op
	Entity Entity
	Cause  error
}

func (e *ProviderError) Error() string {
	if e.Entity.IsZero() {
		return fmt.Sprintf("%v: %s: %v", e.Err, e.Op, e.Cause)
	}
	return fmt.Sprintf("%v: %s %s: %v", e.Err, e.Op, e.Entity, e.Cause)
}

// Unwrap exposes both the sentinel and the underlying cause, so
// errors.Is(err, context.DeadlineExceeded) works on timed-out queries.
func (e *ProviderError) Unwrap() []error {
	return []error{e.Err, e.Cause}
}

func queryFailed(op Op, entity Entity, cause error) error {
	return &ProviderError{Err: ErrProviderQueryFailed, Op: op, Entity: entity, Cause: cause}
}

func unavailable(op Op, entity Entity, cause error) error {
	return &ProviderError{Err: ErrProviderUnavailable, Op: op, Entity: entity, Cause: cause}
}
