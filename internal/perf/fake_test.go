package perf

import (
	"context"
	"sync"
	"time"

	"github.com/willibrandon/vperf/internal/metrics"
)

// fakeProvider records every call and serves canned answers.
type fakeProvider struct {
	mu sync.Mutex

	capability Capability
	probeErr   error
	ids        []metrics.MetricID
	listErr    error
	histErr    error
	rtErr      error
	now        time.Time

	listCalls  []Interval
	histCalls  []HistoricalQuery
	rtCalls    []RealtimeQuery
	probeCalls int
}

func newFakeProvider(realtime bool) *fakeProvider {
	return &fakeProvider{
		capability: Capability{SupportsRealtime: realtime, RefreshRate: 20},
		ids:        []metrics.MetricID{metrics.AllInstances(metrics.CounterCPUUsage)},
	}
}

func (f *fakeProvider) ProbeCapability(ctx context.Context, entity Entity) (Capability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCalls++
	return f.capability, f.probeErr
}

func (f *fakeProvider) ListAvailableMetrics(ctx context.Context, entity Entity, interval Interval) ([]metrics.MetricID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, interval)
	return f.ids, f.listErr
}

func (f *fakeProvider) QueryHistorical(ctx context.Context, q HistoricalQuery) (metrics.SampleSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histCalls = append(f.histCalls, q)
	if f.histErr != nil {
		return nil, f.histErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ts := q.Start
	if ts.IsZero() {
		ts = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return metrics.SampleSet{metrics.NewSampleAt(metrics.MetricID{Counter: metrics.CounterCPUUsage}, ts, 1)}, nil
}

func (f *fakeProvider) QueryRealtime(ctx context.Context, q RealtimeQuery) (metrics.SampleSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rtCalls = append(f.rtCalls, q)
	if f.rtErr != nil {
		return nil, f.rtErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return metrics.SampleSet{metrics.NewSampleAt(metrics.MetricID{Counter: metrics.CounterCPUUsage}, q.End, 2)}, nil
}

// clockProvider adds a backend clock to fakeProvider.
type clockProvider struct {
	*fakeProvider
}

func (c clockProvider) CurrentTime(context.Context) (time.Time, error) {
	return c.now, nil
}

type fixedClock time.Time

func (c fixedClock) CurrentTime(context.Context) (time.Time, error) {
	return time.Time(c), nil
}
