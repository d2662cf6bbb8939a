package perf

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/willibrandon/vperf/internal/metrics"
)

// EntityKind is the type of a monitored entity.
type EntityKind string

const (
	KindCluster EntityKind = "cluster"
	KindHost    EntityKind = "host"
	KindVM      EntityKind = "vm"
)

// Entity is an opaque handle to a monitored cluster, host or VM. The engine
// only passes it through as a query key.
type Entity struct {
	Kind EntityKind `json:"kind" yaml:"kind"`
	ID   string     `json:"id" yaml:"id"`
}

// ParseEntity parses the kind/id form produced by Entity.String.
func ParseEntity(s string) (Entity, error) {
	kind, id, ok := strings.Cut(s, "/")
	if !ok || id == "" {
		return Entity{}, fmt.Errorf("entity %q: expected kind/id", s)
	}
	switch EntityKind(kind) {
	case KindCluster, KindHost, KindVM:
	default:
		return Entity{}, fmt.Errorf("entity %q: unknown kind %q", s, kind)
	}
	return Entity{Kind: EntityKind(kind), ID: id}, nil
}

func (e Entity) String() string {
	return string(e.Kind) + "/" + e.ID
}

// IsZero reports whether e is the zero Entity.
func (e Entity) IsZero() bool {
	return e.Kind == "" && e.ID == ""
}

// Capability reports whether an entity supports real-time sampling.
// It is fetched fresh for every retrieval and never cached.
type Capability struct {
	SupportsRealtime bool `json:"supports_realtime" yaml:"supports_realtime"`
	RefreshRate      int  `json:"refresh_rate" yaml:"refresh_rate"` // seconds
}

// HistoricalQuery asks for rolled-up samples. Zero Start/End means the
// provider returns its most recent MaxSamples samples at Interval.
type HistoricalQuery struct {
	Entity     Entity
	Metrics    []metrics.MetricID
	Interval   Interval
	Start      time.Time
	End        time.Time
	MaxSamples int
}

// HasRange reports whether the query carries explicit bounds.
func (q HistoricalQuery) HasRange() bool {
	return !q.Start.IsZero() || !q.End.IsZero()
}

// RealtimeQuery asks for real-time samples at the entity's refresh cadence.
type RealtimeQuery struct {
	Entity      Entity
	Metrics     []metrics.MetricID
	RefreshRate int
	Start       time.Time
	End         time.Time
}

// CapabilityProber reports an entity's real-time capability.
type CapabilityProber interface {
	ProbeCapability(ctx context.Context, entity Entity) (Capability, error)
}

// MetricResolver enumerates the metrics available for an entity at an
// interval. A zero interval asks for no specific granularity.
type MetricResolver interface {
	ListAvailableMetrics(ctx context.Context, entity Entity, interval Interval) ([]metrics.MetricID, error)
}

// HistoricalSource serves pre-aggregated rollups.
type HistoricalSource interface {
	QueryHistorical(ctx context.Context, q HistoricalQuery) (metrics.SampleSet, error)
}

// RealtimeSource serves the short-retention real-time buffer.
type RealtimeSource interface {
	QueryRealtime(ctx context.Context, q RealtimeQuery) (metrics.SampleSet, error)
}

// Provider is the full set of collaborators the engine consumes.
// Implementations must be safe for concurrent use if the engine is.
type Provider interface {
	CapabilityProber
	MetricResolver
	HistoricalSource
	RealtimeSource
}

// Clock reports the monitoring backend's current time.
type Clock interface {
	CurrentTime(ctx context.Context) (time.Time, error)
}

// SystemClock reads the local clock.
type SystemClock struct{}

// CurrentTime returns time.Now in UTC.
func (SystemClock) CurrentTime(context.Context) (time.Time, error) {
	return time.Now().UTC(), nil
}

type composite struct {
	CapabilityProber
	MetricResolver
	HistoricalSource
	RealtimeSource
}

// Compose assembles a Provider from separate collaborators, e.g. rollups
// from one store and the real-time buffer from another.
func Compose(prober CapabilityProber, resolver MetricResolver, historical HistoricalSource, realtime RealtimeSource) Provider {
	return composite{
		CapabilityProber: prober,
		MetricResolver:   resolver,
		HistoricalSource: historical,
		RealtimeSource:   realtime,
	}
}
