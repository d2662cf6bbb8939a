package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/perf"
)

var (
	_ perf.Provider      = (*MetricsStore)(nil)
	_ metrics.SampleSink = (*MetricsStore)(nil)
	_ perf.Clock         = (*MetricsStore)(nil)
)

// base is aligned to every rollup interval used below.
var base = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

var testVM = perf.Entity{Kind: perf.KindVM, ID: "web-01"}

func setupTestMetricsStore(t *testing.T, opts ...StoreOption) (*MetricsStore, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "metrics_store_test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	db, err := Open(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open database: %v", err)
	}

	store := NewMetricsStore(db, opts...)

	cleanup := func() {
		db.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

func sampleAt(counter, instance string, offset time.Duration, value float64) metrics.Sample {
	return metrics.NewSampleAt(metrics.MetricID{Counter: counter, Instance: instance}, base.Add(offset), value)
}

func TestMetricsStore_SaveRealtime(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	ctx := context.Background()
	samples := metrics.SampleSet{
		sampleAt(metrics.CounterCPUUsage, "", 0, 1),
		sampleAt(metrics.CounterCPUUsage, "", 20*time.Second, 2),
		sampleAt(metrics.CounterCPUUsage, "", 40*time.Second, 3),
	}

	if err := store.SaveRealtime(ctx, testVM.String(), samples); err != nil {
		t.Fatalf("SaveRealtime failed: %v", err)
	}
	// Same timestamps replace rather than duplicate
	if err := store.SaveRealtime(ctx, testVM.String(), samples); err != nil {
		t.Fatalf("SaveRealtime failed: %v", err)
	}

	count, err := store.CountRealtime(ctx, testVM.String())
	if err != nil {
		t.Fatalf("CountRealtime failed: %v", err)
	}
	if count != 3 {
		t.Errorf("expected count 3, got %d", count)
	}
}

func TestMetricsStore_QueryRealtime(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	ctx := context.Background()
	samples := metrics.SampleSet{
		sampleAt(metrics.CounterCPUUsage, "0", 0, 1),
		sampleAt(metrics.CounterCPUUsage, "0", 10*time.Second, 3),
		sampleAt(metrics.CounterCPUUsage, "0", 20*time.Second, 5),
		sampleAt(metrics.CounterCPUUsage, "0", 30*time.Second, 7),
		sampleAt(metrics.CounterCPUUsage, "1", 0, 100),
		sampleAt(metrics.CounterMemConsumed, "", 0, 2048),
		sampleAt(metrics.CounterCPUUsage, "0", time.Minute, 9),
	}
	if err := store.SaveRealtime(ctx, testVM.String(), samples); err != nil {
		t.Fatalf("SaveRealtime failed: %v", err)
	}

	got, err := store.QueryRealtime(ctx, perf.RealtimeQuery{
		Entity:      testVM,
		Metrics:     []metrics.MetricID{metrics.AllInstances(metrics.CounterCPUUsage)},
		RefreshRate: 20,
		Start:       base,
		End:         base.Add(30 * time.Second),
	})
	if err != nil {
		t.Fatalf("QueryRealtime failed: %v", err)
	}

	want := []struct {
		instance string
		offset   time.Duration
		value    float64
	}{
		{"0", 0, 2},
		{"1", 0, 100},
		{"0", 20 * time.Second, 6},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d: %v", len(want), len(got), got)
	}
	for i, w := range want {
		if got[i].Metric.Instance != w.instance {
			t.Errorf("sample %d: expected instance %q, got %q", i, w.instance, got[i].Metric.Instance)
		}
		if !got[i].Timestamp.Equal(base.Add(w.offset)) {
			t.Errorf("sample %d: expected timestamp %v, got %v", i, base.Add(w.offset), got[i].Timestamp)
		}
		if got[i].Value != w.value {
			t.Errorf("sample %d: expected value %v, got %v", i, w.value, got[i].Value)
		}
	}

	// A concrete instance excludes the others
	got, err = store.QueryRealtime(ctx, perf.RealtimeQuery{
		Entity:  testVM,
		Metrics: []metrics.MetricID{{Counter: metrics.CounterCPUUsage, Instance: "1"}},
		Start:   base,
		End:     base.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("QueryRealtime failed: %v", err)
	}
	if len(got) != 1 || got[0].Value != 100 {
		t.Errorf("expected single instance 1 sample, got %v", got)
	}
}

func TestMetricsStore_QueryRealtime_NoMetrics(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	got, err := store.QueryRealtime(context.Background(), perf.RealtimeQuery{Entity: testVM})
	if err != nil {
		t.Fatalf("QueryRealtime failed: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil set, got %#v", got)
	}
}

func TestMetricsStore_QueryHistorical_Rebucket(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	ctx := context.Background()
	cpu := metrics.MetricID{Counter: metrics.CounterCPUUsage}
	rollups := []metrics.Rollup{
		{Entity: testVM.String(), Metric: cpu, Interval: 300, Bucket: base, Value: 10, Count: 1},
		{Entity: testVM.String(), Metric: cpu, Interval: 300, Bucket: base.Add(5 * time.Minute), Value: 40, Count: 2},
		{Entity: testVM.String(), Metric: cpu, Interval: 300, Bucket: base.Add(30 * time.Minute), Value: 7, Count: 1},
	}
	if err := store.SaveRollups(ctx, rollups); err != nil {
		t.Fatalf("SaveRollups failed: %v", err)
	}

	got, err := store.QueryHistorical(ctx, perf.HistoricalQuery{
		Entity:   testVM,
		Metrics:  []metrics.MetricID{metrics.AllInstances(metrics.CounterCPUUsage)},
		Interval: perf.IntervalWeek,
		Start:    base,
		End:      base.Add(30 * time.Minute),
	})
	if err != nil {
		t.Fatalf("QueryHistorical failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 bucket, got %d: %v", len(got), got)
	}
	if !got[0].Timestamp.Equal(base) {
		t.Errorf("expected bucket at %v, got %v", base, got[0].Timestamp)
	}
	// (10*1 + 40*2) / 3
	if got[0].Value != 30 {
		t.Errorf("expected weighted average 30, got %v", got[0].Value)
	}
}

func TestMetricsStore_QueryHistorical_UnalignedStart(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	ctx := context.Background()
	cpu := metrics.MetricID{Counter: metrics.CounterCPUUsage}
	rollups := []metrics.Rollup{
		{Entity: testVM.String(), Metric: cpu, Interval: 300, Bucket: base, Value: 10, Count: 1},
		{Entity: testVM.String(), Metric: cpu, Interval: 300, Bucket: base.Add(5 * time.Minute), Value: 20, Count: 1},
	}
	if err := store.SaveRollups(ctx, rollups); err != nil {
		t.Fatalf("SaveRollups failed: %v", err)
	}

	// 12:02 falls inside the 12:00 bucket, which must still be returned
	got, err := store.QueryHistorical(ctx, perf.HistoricalQuery{
		Entity:   testVM,
		Metrics:  []metrics.MetricID{metrics.AllInstances(metrics.CounterCPUUsage)},
		Interval: perf.IntervalDay,
		Start:    base.Add(2 * time.Minute),
		End:      base.Add(10 * time.Minute),
	})
	if err != nil {
		t.Fatalf("QueryHistorical failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 buckets, got %d: %v", len(got), got)
	}
	if !got[0].Timestamp.Equal(base) || got[0].Value != 10 {
		t.Errorf("expected 12:00 bucket with 10, got %v at %v", got[0].Value, got[0].Timestamp)
	}
}

func TestMetricsStore_QueryHistorical_Latest(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	ctx := context.Background()
	cpu := metrics.MetricID{Counter: metrics.CounterCPUUsage}
	var rollups []metrics.Rollup
	for i := 0; i < 3; i++ {
		rollups = append(rollups, metrics.Rollup{
			Entity:   testVM.String(),
			Metric:   cpu,
			Interval: 300,
			Bucket:   base.Add(time.Duration(i) * 5 * time.Minute),
			Value:    float64(i),
			Count:    1,
		})
	}
	if err := store.SaveRollups(ctx, rollups); err != nil {
		t.Fatalf("SaveRollups failed: %v", err)
	}

	got, err := store.QueryHistorical(ctx, perf.HistoricalQuery{
		Entity:     testVM,
		Metrics:    []metrics.MetricID{cpu},
		Interval:   perf.IntervalDay,
		MaxSamples: 2,
	})
	if err != nil {
		t.Fatalf("QueryHistorical failed: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d: %v", len(got), got)
	}
	if got[0].Value != 1 || got[1].Value != 2 {
		t.Errorf("expected latest values [1 2], got [%v %v]", got[0].Value, got[1].Value)
	}

	// Unknown entity yields no data rather than an error
	got, err = store.QueryHistorical(ctx, perf.HistoricalQuery{
		Entity:     perf.Entity{Kind: perf.KindHost, ID: "missing"},
		Metrics:    []metrics.MetricID{cpu},
		Interval:   perf.IntervalDay,
		MaxSamples: 1,
	})
	if err != nil {
		t.Fatalf("QueryHistorical failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no samples, got %v", got)
	}
}

func TestMetricsStore_ListAvailableMetrics(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	ctx := context.Background()
	if err := store.RegisterCounters(ctx, metrics.DefaultCounters()); err != nil {
		t.Fatalf("RegisterCounters failed: %v", err)
	}
	samples := metrics.SampleSet{
		sampleAt(metrics.CounterCPUUsage, "", 0, 1),
		sampleAt(metrics.CounterNetReceived, "vnet0", 0, 1),
	}
	if err := store.SaveRealtime(ctx, testVM.String(), samples); err != nil {
		t.Fatalf("SaveRealtime failed: %v", err)
	}

	tests := []struct {
		name     string
		interval perf.Interval
		want     []string
	}{
		{"unspecified", 0, []string{metrics.CounterCPUUsage, metrics.CounterNetReceived}},
		{"realtime", 20, []string{metrics.CounterCPUUsage, metrics.CounterNetReceived}},
		{"month", perf.IntervalMonth, []string{metrics.CounterCPUUsage}},
		{"year", perf.IntervalYear, []string{metrics.CounterCPUUsage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListAvailableMetrics(ctx, testVM, tt.interval)
			if err != nil {
				t.Fatalf("ListAvailableMetrics failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i, counter := range tt.want {
				if got[i] != metrics.AllInstances(counter) {
					t.Errorf("metric %d: expected %v, got %v", i, metrics.AllInstances(counter), got[i])
				}
			}
		})
	}
}

func TestMetricsStore_Rollup(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	ctx := context.Background()
	samples := metrics.SampleSet{
		sampleAt(metrics.CounterCPUUsage, "", 0, 2),
		sampleAt(metrics.CounterCPUUsage, "", 100*time.Second, 4),
		sampleAt(metrics.CounterCPUUsage, "", 300*time.Second, 10),
	}
	if err := store.SaveRealtime(ctx, testVM.String(), samples); err != nil {
		t.Fatalf("SaveRealtime failed: %v", err)
	}

	rollups, err := store.Rollup(ctx, 300, base.Add(350*time.Second))
	if err != nil {
		t.Fatalf("Rollup failed: %v", err)
	}
	if len(rollups) != 1 {
		t.Fatalf("expected 1 rollup, got %d", len(rollups))
	}
	if rollups[0].Value != 3 || rollups[0].Count != 2 {
		t.Errorf("expected avg 3 over 2 samples, got %v over %d", rollups[0].Value, rollups[0].Count)
	}
	if rollups[0].Entity != testVM.String() {
		t.Errorf("expected entity %s, got %s", testVM, rollups[0].Entity)
	}

	// Nothing new has closed
	rollups, err = store.Rollup(ctx, 300, base.Add(350*time.Second))
	if err != nil {
		t.Fatalf("Rollup failed: %v", err)
	}
	if len(rollups) != 0 {
		t.Errorf("expected no rollups on repeat, got %v", rollups)
	}

	rollups, err = store.Rollup(ctx, 300, base.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("Rollup failed: %v", err)
	}
	if len(rollups) != 1 || rollups[0].Value != 10 {
		t.Errorf("expected second bucket with value 10, got %v", rollups)
	}

	got, err := store.QueryHistorical(ctx, perf.HistoricalQuery{
		Entity:   testVM,
		Metrics:  []metrics.MetricID{metrics.AllInstances(metrics.CounterCPUUsage)},
		Interval: perf.IntervalDay,
		Start:    base,
		End:      base.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("QueryHistorical failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 historical samples, got %v", got)
	}
}

func TestMetricsStore_Rollup_InvalidInterval(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	if _, err := store.Rollup(context.Background(), 0, base); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestMetricsStore_ProbeCapability(t *testing.T) {
	now := base.Add(3 * time.Hour)
	store, cleanup := setupTestMetricsStore(t,
		WithCapabilityTTL(time.Hour),
		WithNow(func() time.Time { return now }),
	)
	defer cleanup()

	ctx := context.Background()

	_, err := store.ProbeCapability(ctx, testVM)
	if !errors.Is(err, ErrEntityNotFound) {
		t.Fatalf("expected ErrEntityNotFound, got %v", err)
	}

	live := perf.Capability{SupportsRealtime: true, RefreshRate: 20}
	if err := store.SaveCapability(ctx, testVM, live, now.Add(-time.Minute)); err != nil {
		t.Fatalf("SaveCapability failed: %v", err)
	}
	got, err := store.ProbeCapability(ctx, testVM)
	if err != nil {
		t.Fatalf("ProbeCapability failed: %v", err)
	}
	if got != live {
		t.Errorf("expected %+v, got %+v", live, got)
	}

	host := perf.Entity{Kind: perf.KindHost, ID: "node-1"}
	if err := store.SaveCapability(ctx, host, live, now.Add(-2*time.Hour)); err != nil {
		t.Fatalf("SaveCapability failed: %v", err)
	}
	got, err = store.ProbeCapability(ctx, host)
	if err != nil {
		t.Fatalf("ProbeCapability failed: %v", err)
	}
	if got.SupportsRealtime {
		t.Error("expected stale capability to report no real-time support")
	}

	entities, err := store.ListEntities(ctx)
	if err != nil {
		t.Fatalf("ListEntities failed: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(entities))
	}
	if entities[0].Entity != host || entities[1].Entity != testVM {
		t.Errorf("unexpected entity order: %v, %v", entities[0].Entity, entities[1].Entity)
	}
}

func TestMetricsStore_Prune(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	ctx := context.Background()
	samples := metrics.SampleSet{
		sampleAt(metrics.CounterCPUUsage, "", 0, 1),
		sampleAt(metrics.CounterCPUUsage, "", 100*time.Second, 2),
	}
	if err := store.SaveRealtime(ctx, testVM.String(), samples); err != nil {
		t.Fatalf("SaveRealtime failed: %v", err)
	}

	deleted, err := store.PruneRealtime(ctx, base.Add(50*time.Second))
	if err != nil {
		t.Fatalf("PruneRealtime failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}

	rollups := []metrics.Rollup{
		{Entity: testVM.String(), Metric: metrics.MetricID{Counter: metrics.CounterCPUUsage}, Interval: 300, Bucket: base, Value: 1, Count: 1},
	}
	if err := store.SaveRollups(ctx, rollups); err != nil {
		t.Fatalf("SaveRollups failed: %v", err)
	}
	deleted, err = store.PruneRollups(ctx, base.Add(time.Second))
	if err != nil {
		t.Fatalf("PruneRollups failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 rollup deleted, got %d", deleted)
	}
}

func TestMetricsStore_Counters(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	ctx := context.Background()
	if err := store.RegisterCounters(ctx, metrics.DefaultCounters()); err != nil {
		t.Fatalf("RegisterCounters failed: %v", err)
	}
	// Re-registering is an upsert
	if err := store.RegisterCounters(ctx, metrics.DefaultCounters()); err != nil {
		t.Fatalf("RegisterCounters failed: %v", err)
	}

	counters, err := store.ListCounters(ctx)
	if err != nil {
		t.Fatalf("ListCounters failed: %v", err)
	}
	if len(counters) != len(metrics.DefaultCounters()) {
		t.Errorf("expected %d counters, got %d", len(metrics.DefaultCounters()), len(counters))
	}
	for i := 1; i < len(counters); i++ {
		if counters[i-1].Key >= counters[i].Key {
			t.Errorf("counters not sorted: %s before %s", counters[i-1].Key, counters[i].Key)
		}
	}
}

func TestEngineOverStore(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	ctx := context.Background()
	now := base.Add(2 * time.Hour)
	if err := store.SaveCapability(ctx, testVM, perf.Capability{SupportsRealtime: true, RefreshRate: 20}, now); err != nil {
		t.Fatalf("SaveCapability failed: %v", err)
	}
	cpu := metrics.MetricID{Counter: metrics.CounterCPUUsage}
	if err := store.SaveRollups(ctx, []metrics.Rollup{
		{Entity: testVM.String(), Metric: cpu, Interval: 300, Bucket: base, Value: 5, Count: 1},
	}); err != nil {
		t.Fatalf("SaveRollups failed: %v", err)
	}
	if err := store.SaveRealtime(ctx, testVM.String(), metrics.SampleSet{
		metrics.NewSampleAt(cpu, now.Add(-10*time.Minute), 50),
	}); err != nil {
		t.Fatalf("SaveRealtime failed: %v", err)
	}

	engine := perf.NewEngine(store, perf.WithClock(fixedClock(now)), perf.WithLocation(time.UTC))
	result, err := engine.Retrieve(ctx, testVM, perf.ExplicitRange(
		base.Format(perf.DefaultTimeLayout),
		now.Format(perf.DefaultTimeLayout),
	))
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if result.Plan.Kind != perf.Merged {
		t.Fatalf("expected merged plan, got %v", result.Plan.Kind)
	}
	if len(result.Historical) != 1 || result.Historical[0].Value != 5 {
		t.Errorf("unexpected historical samples: %v", result.Historical)
	}
	if len(result.Realtime) != 1 || result.Realtime[0].Value != 50 {
		t.Errorf("unexpected realtime samples: %v", result.Realtime)
	}
}

type fixedClock time.Time

func (c fixedClock) CurrentTime(context.Context) (time.Time, error) {
	return time.Time(c), nil
}

func TestMetricsStore_CurrentTime(t *testing.T) {
	store, cleanup := setupTestMetricsStore(t)
	defer cleanup()

	before := time.Now().Add(-time.Second)
	got, err := store.CurrentTime(context.Background())
	if err != nil {
		t.Fatalf("CurrentTime failed: %v", err)
	}
	if got.Before(before.Truncate(time.Second)) || got.After(time.Now().Add(time.Second)) {
		t.Errorf("database clock %v far from local clock", got)
	}
	if got.Location() != time.UTC {
		t.Errorf("expected UTC, got %v", got.Location())
	}
}
