package perf

import (
	"context"
	"log/slog"
	"time"

	"github.com/willibrandon/vperf/internal/metrics"
)

// DefaultRetention is how far back the real-time buffer reaches. Samples
// older than now - DefaultRetention are only available as rollups.
const DefaultRetention = time.Hour

// Engine resolves retrieval requests against a Provider. It holds no
// per-request state and is safe for concurrent use when its Provider is.
type Engine struct {
	provider   Provider
	clock      Clock
	normalizer Normalizer
	retention  time.Duration
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the source of "now". Defaults to the provider when it
// implements Clock, else the local clock.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLocation sets the zone ExplicitRange strings are read in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		e.normalizer.Location = loc
	}
}

// WithLayout sets the layout ExplicitRange strings are parsed with.
func WithLayout(layout string) Option {
	return func(e *Engine) {
		e.normalizer.Layout = layout
	}
}

// WithRetention sets the real-time retention that places the boundary.
func WithRetention(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.retention = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an Engine over provider.
func NewEngine(provider Provider, opts ...Option) *Engine {
	e := &Engine{
		provider:   provider,
		normalizer: NewNormalizer(nil, ""),
		retention:  DefaultRetention,
	}
	if c, ok := provider.(Clock); ok {
		e.clock = c
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.clock == nil {
		e.clock = SystemClock{}
	}
	if e.logger == nil {
		e.logger = slog.Default().With("component", "perf")
	}

	return e
}

// Boundary returns the retention boundary for now.
func (e *Engine) Boundary(now time.Time) time.Time {
	return now.Add(-e.retention)
}

// Normalize resolves spec relative to now with the engine's zone and layout.
func (e *Engine) Normalize(spec TimeSpec, now time.Time) (ResolvedWindow, error) {
	return e.normalizer.Normalize(spec, now)
}

// Session captures now and the retention boundary once, so every retrieval
// made through it classifies against the same instant even as wall-clock
// time advances.
type Session struct {
	engine   *Engine
	Now      time.Time
	Boundary time.Time
}

// NewSession reads the clock and fixes the boundary for a retrieval session.
func (e *Engine) NewSession(ctx context.Context) (*Session, error) {
	now, err := e.clock.CurrentTime(ctx)
	if err != nil {
		return nil, unavailable(OpClock, Entity{}, err)
	}
	now = now.UTC().Truncate(time.Second)

	return &Session{
		engine:   e,
		Now:      now,
		Boundary: e.Boundary(now),
	}, nil
}

// Retrieve runs a single request in its own session.
func (e *Engine) Retrieve(ctx context.Context, entity Entity, spec TimeSpec) (*Result, error) {
	s, err := e.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return s.Retrieve(ctx, entity, spec)
}

// Retrieve normalizes spec, probes the entity and fetches its samples.
func (s *Session) Retrieve(ctx context.Context, entity Entity, spec TimeSpec) (*Result, error) {
	window, err := s.engine.Normalize(spec, s.Now)
	if err != nil {
		return nil, err
	}

	capability, err := s.engine.provider.ProbeCapability(ctx, entity)
	if err != nil {
		return nil, unavailable(OpProbe, entity, err)
	}

	return s.engine.RetrieveWindow(ctx, entity, window, capability, s.Boundary, s.Now)
}

// Result holds the samples of one retrieval. For a Merged plan both sets are
// filled; callers decide how to combine them since per-sample metadata can
// differ between the two sources.
type Result struct {
	Entity     Entity
	Window     ResolvedWindow
	Capability Capability
	Plan       Plan
	Historical metrics.SampleSet
	Realtime   metrics.SampleSet
}

// Pair returns the historical and real-time sets, in that order.
func (r *Result) Pair() (metrics.SampleSet, metrics.SampleSet) {
	return r.Historical, r.Realtime
}

// Samples returns historical samples followed by real-time samples.
func (r *Result) Samples() metrics.SampleSet {
	return r.Historical.Concat(r.Realtime)
}

// RetrieveWindow classifies an already normalized window and issues the
// resulting queries sequentially, historical first.
func (e *Engine) RetrieveWindow(ctx context.Context, entity Entity, window ResolvedWindow, capability Capability, boundary, now time.Time) (*Result, error) {
	plan, err := Classify(window, capability, boundary, now)
	if err != nil {
		e.logger.Debug("window rejected", "entity", entity.String(), "window", window.String(), "error", err)
		return nil, err
	}

	e.logger.Debug("window classified",
		"entity", entity.String(),
		"window", window.String(),
		"plan", plan.Kind.String(),
		"boundary", boundary,
	)

	result := &Result{
		Entity:     entity,
		Window:     window,
		Capability: capability,
		Plan:       plan,
	}

	if plan.Historical != nil {
		result.Historical, err = e.queryHistorical(ctx, entity, *plan.Historical)
		if err != nil {
			return nil, err
		}
	}
	if plan.Realtime != nil {
		result.Realtime, err = e.queryRealtime(ctx, entity, *plan.Realtime)
		if err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (e *Engine) queryHistorical(ctx context.Context, entity Entity, span Span) (metrics.SampleSet, error) {
	ids, err := e.provider.ListAvailableMetrics(ctx, entity, span.Interval)
	if err != nil {
		return nil, queryFailed(OpHistorical, entity, err)
	}
	if len(ids) == 0 {
		return metrics.SampleSet{}, nil
	}

	q := HistoricalQuery{
		Entity:   entity,
		Metrics:  ids,
		Interval: span.Interval,
		Start:    span.Start,
		End:      span.End,
	}
	if !span.HasRange() {
		q.MaxSamples = 1
	}

	samples, err := e.provider.QueryHistorical(ctx, q)
	if err != nil {
		return nil, queryFailed(OpHistorical, entity, err)
	}
	if samples == nil {
		samples = metrics.SampleSet{}
	}
	return samples, nil
}

func (e *Engine) queryRealtime(ctx context.Context, entity Entity, span Span) (metrics.SampleSet, error) {
	ids, err := e.provider.ListAvailableMetrics(ctx, entity, span.Interval)
	if err != nil {
		return nil, queryFailed(OpRealtime, entity, err)
	}
	if len(ids) == 0 {
		return metrics.SampleSet{}, nil
	}

	samples, err := e.provider.QueryRealtime(ctx, RealtimeQuery{
		Entity:      entity,
		Metrics:     ids,
		RefreshRate: int(span.Interval),
		Start:       span.Start,
		End:         span.End,
	})
	if err != nil {
		return nil, queryFailed(OpRealtime, entity, err)
	}
	if samples == nil {
		samples = metrics.SampleSet{}
	}
	return samples, nil
}
