package metrics

import (
	"iter"
	"sync"
	"time"
)

// DefaultBufferCapacity is the default maximum number of samples per series.
const DefaultBufferCapacity = 10000

// CircularBuffer holds the newest samples of one series in a fixed ring,
// overwriting the oldest once full. It is the in-memory side of the
// real-time buffer and is safe for concurrent use.
type CircularBuffer struct {
	mu   sync.RWMutex
	ring []Sample
	next int // slot the next push writes
	n    int
}

// NewCircularBuffer returns a buffer holding up to capacity samples. A
// non-positive capacity means DefaultBufferCapacity.
func NewCircularBuffer(capacity int) *CircularBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &CircularBuffer{ring: make([]Sample, capacity)}
}

// Push appends s. Samples failing IsValid are dropped.
func (b *CircularBuffer) Push(s Sample) {
	if !s.IsValid() {
		return
	}
	b.mu.Lock()
	b.put(s)
	b.mu.Unlock()
}

// PushBatch appends every valid sample of set under one lock, so readers
// see either none or all of a sampling pass.
func (b *CircularBuffer) PushBatch(set SampleSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range set {
		if s.IsValid() {
			b.put(s)
		}
	}
}

func (b *CircularBuffer) put(s Sample) {
	b.ring[b.next] = s
	b.next = (b.next + 1) % len(b.ring)
	b.n = min(b.n+1, len(b.ring))
}

// oldestFirst yields the buffered samples from oldest to newest, skipping
// the first skip of them. Caller holds the read lock.
func (b *CircularBuffer) oldestFirst(skip int) iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		first := b.next - b.n
		for i := skip; i < b.n; i++ {
			if !yield(b.ring[(first+i+len(b.ring))%len(b.ring)]) {
				return
			}
		}
	}
}

func (b *CircularBuffer) filter(keep func(Sample) bool) SampleSet {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out SampleSet
	for s := range b.oldestFirst(0) {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

// GetRecent returns the newest n samples, oldest first.
func (b *CircularBuffer) GetRecent(n int) SampleSet {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n = min(n, b.n)
	if n <= 0 {
		return nil
	}
	out := make(SampleSet, 0, n)
	for s := range b.oldestFirst(b.n - n) {
		out = append(out, s)
	}
	return out
}

// GetSince returns the samples stamped at or after since.
func (b *CircularBuffer) GetSince(since time.Time) SampleSet {
	return b.filter(func(s Sample) bool { return !s.Timestamp.Before(since) })
}

// GetAfter returns the samples stamped strictly after t. The persist loop
// uses it with the last persisted timestamp as cursor.
func (b *CircularBuffer) GetAfter(t time.Time) SampleSet {
	return b.filter(func(s Sample) bool { return s.Timestamp.After(t) })
}

// Between returns the samples stamped in [start, end].
func (b *CircularBuffer) Between(start, end time.Time) SampleSet {
	return b.filter(func(s Sample) bool {
		return !s.Timestamp.Before(start) && !s.Timestamp.After(end)
	})
}

// Latest returns the most recently pushed sample.
func (b *CircularBuffer) Latest() (Sample, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.n == 0 {
		return Sample{}, false
	}
	return b.ring[(b.next-1+len(b.ring))%len(b.ring)], true
}

// Len returns the number of buffered samples.
func (b *CircularBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.n
}

// Cap returns the ring size.
func (b *CircularBuffer) Cap() int {
	return len(b.ring)
}

func (b *CircularBuffer) IsEmpty() bool { return b.Len() == 0 }
func (b *CircularBuffer) IsFull() bool  { return b.Len() == b.Cap() }

// Clear drops every sample.
func (b *CircularBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.ring)
	b.next, b.n = 0, 0
}
