package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu    sync.Mutex
	saved map[string]SampleSet
	fail  error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{saved: make(map[string]SampleSet)}
}

func (s *recordingSink) SaveRealtime(ctx context.Context, entity string, samples SampleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.saved[entity] = append(s.saved[entity], samples...)
	return nil
}

func (s *recordingSink) count(entity string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved[entity])
}

func TestCollector_Record(t *testing.T) {
	c := NewCollector()

	c.Record("vm/a", NewSample(testMetric, 42.5))

	if !c.HasData("vm/a") {
		t.Error("expected data for vm/a")
	}

	s, ok := c.GetLatest("vm/a", testMetric)
	if !ok {
		t.Fatal("expected GetLatest to return true")
	}
	if s.Value != 42.5 {
		t.Errorf("expected value 42.5, got %f", s.Value)
	}
	if s.Timestamp.IsZero() {
		t.Error("expected non-zero timestamp")
	}
}

func TestCollector_GetLatest_PicksMetric(t *testing.T) {
	c := NewCollector()

	mem := MetricID{Counter: CounterMemConsumed}
	c.RecordBatch("vm/a", SampleSet{
		at(0, 10),
		NewSampleAt(mem, at(0, 0).Timestamp, 2048),
		at(time.Second, 20),
	})

	s, ok := c.GetLatest("vm/a", mem)
	if !ok || s.Value != 2048 {
		t.Errorf("expected mem sample 2048, got %v (ok=%v)", s.Value, ok)
	}

	s, ok = c.GetLatest("vm/a", AllInstances(CounterCPUUsage))
	if !ok || s.Value != 20 {
		t.Errorf("expected latest cpu sample 20, got %v (ok=%v)", s.Value, ok)
	}
}

func TestCollector_Between(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 10; i++ {
		c.Record("vm/a", at(time.Duration(i)*time.Second, float64(i+1)))
	}

	points := c.Between("vm/a", at(2*time.Second, 0).Timestamp, at(4*time.Second, 0).Timestamp)
	if len(points) != 3 {
		t.Errorf("expected 3 samples, got %d", len(points))
	}

	if c.Between("vm/missing", time.Time{}, time.Now()) != nil {
		t.Error("expected nil for unknown entity")
	}
}

func TestCollector_GetLatest_NoData(t *testing.T) {
	c := NewCollector()

	_, ok := c.GetLatest("vm/missing", testMetric)
	if ok {
		t.Error("expected false for unknown entity")
	}
}

func TestCollector_Entities(t *testing.T) {
	c := NewCollector()

	c.Record("vm/b", NewSample(testMetric, 1.0))
	c.Record("vm/a", NewSample(testMetric, 2.0))
	c.Record("host/h1", NewSample(testMetric, 3.0))

	names := c.Entities()
	expected := []string{"host/h1", "vm/a", "vm/b"}
	if len(names) != len(expected) {
		t.Fatalf("expected %d names, got %d", len(expected), len(names))
	}
	for i := range expected {
		if names[i] != expected[i] {
			t.Errorf("expected entity[%d]=%s, got %s", i, expected[i], names[i])
		}
	}
}

func TestCollector_WithCapacity(t *testing.T) {
	c := NewCollector(WithCapacity(5))

	for i := 0; i < 10; i++ {
		c.Record("vm/a", at(time.Duration(i)*time.Second, float64(i)))
	}

	values := c.Since("vm/a", time.Time{}).Values()
	if len(values) != 5 {
		t.Errorf("expected 5 values (capacity), got %d", len(values))
	}

	expected := []float64{5, 6, 7, 8, 9}
	for i, v := range values {
		if v != expected[i] {
			t.Errorf("expected value[%d]=%f, got %f", i, expected[i], v)
		}
	}
}

func TestCollector_Flush(t *testing.T) {
	sink := newRecordingSink()
	c := NewCollector(WithSink(sink))
	ctx := context.Background()

	c.RecordBatch("vm/a", SampleSet{at(0, 1), at(time.Second, 2)})
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if sink.count("vm/a") != 2 {
		t.Errorf("expected 2 saved samples, got %d", sink.count("vm/a"))
	}

	// Second flush without new data is a no-op
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if sink.count("vm/a") != 2 {
		t.Errorf("expected no duplicate saves, got %d", sink.count("vm/a"))
	}

	c.Record("vm/a", at(2*time.Second, 3))
	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if sink.count("vm/a") != 3 {
		t.Errorf("expected 3 saved samples, got %d", sink.count("vm/a"))
	}
}

func TestCollector_FlushRetriesAfterFailure(t *testing.T) {
	sink := newRecordingSink()
	sink.fail = errors.New("database is locked")
	c := NewCollector(WithSink(sink))
	ctx := context.Background()

	c.Record("vm/a", at(0, 1))
	if err := c.Flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}

	sink.mu.Lock()
	sink.fail = nil
	sink.mu.Unlock()

	if err := c.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if sink.count("vm/a") != 1 {
		t.Errorf("expected pending sample to be retried, got %d saved", sink.count("vm/a"))
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector(WithCapacity(1000))
	var wg sync.WaitGroup

	// Concurrent writers
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Record("vm/a", NewSample(testMetric, float64(id*100+j)))
			}
		}(i)
	}

	// Concurrent readers
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = c.Since("vm/a", time.Time{})
				_, _ = c.GetLatest("vm/a", testMetric)
				_ = c.HasData("vm/a")
			}
		}()
	}

	wg.Wait()

	if !c.HasData("vm/a") {
		t.Error("expected data after concurrent operations")
	}
}

func TestCollector_StartStop(t *testing.T) {
	sink := newRecordingSink()
	c := NewCollector(WithSink(sink), WithPersistInterval(time.Hour))

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	c.Record("vm/a", NewSample(testMetric, 1.0))

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// Stop performs a final flush
	if sink.count("vm/a") != 1 {
		t.Errorf("expected final flush to save 1 sample, got %d", sink.count("vm/a"))
	}

	// Data stays readable after stop
	if !c.HasData("vm/a") {
		t.Error("expected data after stop")
	}
}

func TestCollector_InvalidValues(t *testing.T) {
	c := NewCollector()

	c.Record("vm/a", Sample{Metric: testMetric, Value: 1.0}) // Zero timestamp

	if c.HasData("vm/a") {
		t.Error("expected no data for invalid timestamp")
	}
}
