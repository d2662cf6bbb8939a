package metrics

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMetric = MetricID{Counter: CounterCPUUsage}

func at(offset time.Duration, value float64) Sample {
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return NewSampleAt(testMetric, base.Add(offset), value)
}

// filled returns a buffer of capacity holding samples 1..n, one second apart.
func filled(capacity, n int) *CircularBuffer {
	buf := NewCircularBuffer(capacity)
	for i := 1; i <= n; i++ {
		buf.Push(at(time.Duration(i)*time.Second, float64(i)))
	}
	return buf
}

func TestCircularBuffer_FillAndEvict(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		pushed   int
		want     []float64
	}{
		{"empty", 3, 0, nil},
		{"partial", 3, 2, []float64{1, 2}},
		{"full", 3, 3, []float64{1, 2, 3}},
		{"one evicted", 3, 4, []float64{2, 3, 4}},
		{"wrapped twice", 3, 6, []float64{4, 5, 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := filled(tt.capacity, tt.pushed)
			assert.Equal(t, len(tt.want), buf.Len())
			assert.Equal(t, len(tt.want) == tt.capacity, buf.IsFull())
			assert.Equal(t, tt.want, buf.GetSince(time.Time{}).Values())
		})
	}
}

func TestCircularBuffer_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultBufferCapacity, NewCircularBuffer(0).Cap())
}

func TestCircularBuffer_RejectsInvalid(t *testing.T) {
	buf := NewCircularBuffer(5)
	buf.Push(Sample{Metric: testMetric, Timestamp: time.Now(), Value: math.NaN()})
	buf.Push(Sample{Metric: testMetric, Timestamp: time.Now(), Value: math.Inf(1)})
	buf.Push(Sample{Metric: testMetric, Value: 1})
	assert.True(t, buf.IsEmpty())

	buf.PushBatch(SampleSet{
		at(0, 1),
		{Metric: testMetric, Timestamp: time.Now(), Value: math.NaN()},
		at(time.Second, 2),
	})
	assert.Equal(t, []float64{1, 2}, buf.GetRecent(5).Values())
}

func TestCircularBuffer_GetRecent(t *testing.T) {
	buf := filled(5, 7)

	assert.Equal(t, []float64{5, 6, 7}, buf.GetRecent(3).Values())
	assert.Equal(t, []float64{3, 4, 5, 6, 7}, buf.GetRecent(10).Values())
	assert.Nil(t, buf.GetRecent(0))
	assert.Nil(t, NewCircularBuffer(5).GetRecent(3))
}

func TestCircularBuffer_TimeQueries(t *testing.T) {
	buf := filled(10, 6)
	ts := func(sec int) time.Time { return at(time.Duration(sec)*time.Second, 0).Timestamp }

	assert.Equal(t, []float64{4, 5, 6}, buf.GetSince(ts(4)).Values())
	assert.Equal(t, []float64{5, 6}, buf.GetAfter(ts(4)).Values())
	assert.Equal(t, []float64{2, 3, 4}, buf.Between(ts(2), ts(4)).Values())
	assert.Empty(t, buf.Between(ts(7), ts(9)))
}

func TestCircularBuffer_Latest(t *testing.T) {
	buf := NewCircularBuffer(2)
	_, ok := buf.Latest()
	assert.False(t, ok)

	for i := 1; i <= 3; i++ {
		buf.Push(at(time.Duration(i)*time.Second, float64(i)))
	}
	latest, ok := buf.Latest()
	require.True(t, ok)
	assert.Equal(t, 3.0, latest.Value)
}

func TestCircularBuffer_Clear(t *testing.T) {
	buf := filled(5, 5)
	buf.Clear()
	assert.True(t, buf.IsEmpty())
	_, ok := buf.Latest()
	assert.False(t, ok)

	buf.Push(at(0, 9))
	assert.Equal(t, []float64{9}, buf.GetRecent(1).Values())
}

func TestCircularBuffer_Concurrent(t *testing.T) {
	buf := NewCircularBuffer(1000)
	var wg sync.WaitGroup

	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf.Push(NewSample(testMetric, float64(w*100+j)))
			}
		}()
	}
	for r := 0; r < 5; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = buf.GetRecent(10)
				_, _ = buf.Latest()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000, buf.Len())
}

func BenchmarkCircularBuffer_Push(b *testing.B) {
	buf := NewCircularBuffer(DefaultBufferCapacity)
	s := NewSample(testMetric, 1.0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf.Push(s)
	}
}

func BenchmarkCircularBuffer_Between(b *testing.B) {
	buf := NewCircularBuffer(DefaultBufferCapacity)
	now := time.Now()
	for i := 0; i < DefaultBufferCapacity; i++ {
		buf.Push(NewSampleAt(testMetric, now.Add(time.Duration(i)*time.Second), float64(i)))
	}
	start := now.Add(time.Duration(DefaultBufferCapacity-100) * time.Second)
	end := now.Add(time.Duration(DefaultBufferCapacity) * time.Second)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Between(start, end)
	}
}
