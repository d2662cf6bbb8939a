package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// SampleSink persists real-time samples drained from the collector.
type SampleSink interface {
	SaveRealtime(ctx context.Context, entity string, samples SampleSet) error
}

// EntitySeries holds the buffered samples of one monitored entity.
type EntitySeries struct {
	Entity     string
	Buffer     *CircularBuffer
	LastUpdate time.Time

	// persisted is the newest timestamp handed to the sink.
	persisted time.Time
}

// Collector buffers real-time samples per entity and periodically hands
// newly recorded samples to a SampleSink.
type Collector struct {
	series   map[string]*EntitySeries
	sink     SampleSink
	logger   *slog.Logger
	mu       sync.RWMutex
	flushMu  sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	capacity int

	persistInterval time.Duration
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithCapacity sets the buffer capacity for each entity.
func WithCapacity(capacity int) CollectorOption {
	return func(c *Collector) {
		c.capacity = capacity
	}
}

// WithSink sets the persistence backend.
func WithSink(sink SampleSink) CollectorOption {
	return func(c *Collector) {
		c.sink = sink
	}
}

// WithPersistInterval sets how often to flush new samples to the sink.
func WithPersistInterval(d time.Duration) CollectorOption {
	return func(c *Collector) {
		c.persistInterval = d
	}
}

// WithLogger sets the logger used for flush failures.
func WithLogger(l *slog.Logger) CollectorOption {
	return func(c *Collector) {
		c.logger = l
	}
}

// NewCollector creates a new real-time sample collector.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		series:          make(map[string]*EntitySeries),
		capacity:        DefaultBufferCapacity,
		persistInterval: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c
}

// Record adds one sample for an entity. Invalid samples are dropped.
func (c *Collector) Record(entity string, s Sample) {
	if !s.IsValid() {
		return
	}
	c.RecordBatch(entity, SampleSet{s})
}

// RecordBatch adds all samples of one sampling tick atomically.
func (c *Collector) RecordBatch(entity string, samples SampleSet) {
	if len(samples) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	series, ok := c.series[entity]
	if !ok {
		series = &EntitySeries{
			Entity: entity,
			Buffer: NewCircularBuffer(c.capacity),
		}
		c.series[entity] = series
	}

	series.Buffer.PushBatch(samples)
	if latest, ok := series.Buffer.Latest(); ok && latest.Timestamp.After(series.LastUpdate) {
		series.LastUpdate = latest.Timestamp
	}
}

// Since returns buffered samples for an entity at or after t.
func (c *Collector) Since(entity string, t time.Time) SampleSet {
	series := c.lookup(entity)
	if series == nil {
		return nil
	}
	return series.Buffer.GetSince(t)
}

// Between returns buffered samples for an entity in [start, end].
func (c *Collector) Between(entity string, start, end time.Time) SampleSet {
	series := c.lookup(entity)
	if series == nil {
		return nil
	}
	return series.Buffer.Between(start, end)
}

// GetLatest returns the most recent sample of one metric for an entity.
func (c *Collector) GetLatest(entity string, metric MetricID) (Sample, bool) {
	series := c.lookup(entity)
	if series == nil {
		return Sample{}, false
	}

	recent := series.Buffer.GetRecent(series.Buffer.Len())
	for i := len(recent) - 1; i >= 0; i-- {
		if metric.Matches(recent[i].Metric) {
			return recent[i], true
		}
	}
	return Sample{}, false
}

// HasData returns true if any sample is buffered for the entity.
func (c *Collector) HasData(entity string) bool {
	series := c.lookup(entity)
	return series != nil && !series.Buffer.IsEmpty()
}

// Entities returns all entities with buffered data, sorted.
func (c *Collector) Entities() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Collector) lookup(entity string) *EntitySeries {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.series[entity]
}

// Start begins the background flush goroutine when a sink is configured.
func (c *Collector) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	if c.sink != nil {
		c.wg.Add(1)
		go c.persistLoop()
	}

	return nil
}

// Stop gracefully shuts down the collector, flushing pending samples.
func (c *Collector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

// persistLoop periodically flushes buffered samples to the sink.
func (c *Collector) persistLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			// Final flush before shutdown
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn("final flush failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
			if err := c.Flush(ctx); err != nil {
				c.logger.Warn("flush failed", "error", err)
			}
			cancel()
		}
	}
}

// Flush hands every sample recorded since the previous successful flush to
// the sink. An entity whose save fails is retried on the next flush; the
// first error is returned after all entities were attempted.
func (c *Collector) Flush(ctx context.Context) error {
	if c.sink == nil {
		return nil
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	var firstErr error
	for _, name := range c.Entities() {
		series := c.lookup(name)
		if series == nil {
			continue
		}

		pending := series.Buffer.GetAfter(series.persisted)
		if len(pending) == 0 {
			continue
		}

		if err := c.sink.SaveRealtime(ctx, name, pending); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		newest := series.persisted
		for _, s := range pending {
			if s.Timestamp.After(newest) {
				newest = s.Timestamp
			}
		}
		series.persisted = newest
	}
	return firstErr
}
