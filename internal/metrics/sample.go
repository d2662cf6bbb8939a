// Package metrics provides the performance sample model and in-memory
// buffering for real-time samples.
package metrics

import (
	"math"
	"time"
)

// WildcardInstance selects every instance of a counter (all vCPUs, all disks, ...).
const WildcardInstance = "*"

// Common counter keys recorded by the hypervisor sampler.
const (
	CounterCPUUsage         = "cpu.usage.average"
	CounterCPUUsageSmoothed = "cpu.usage.smoothed"
	CounterCPUCores         = "cpu.cores.count"
	CounterMemConsumed      = "mem.consumed.average"
	CounterMemCapacity      = "mem.capacity.provisioned"
	CounterDiskRead         = "disk.read.rate"
	CounterDiskWrite        = "disk.write.rate"
	CounterNetReceived      = "net.received.rate"
	CounterNetTransmitted   = "net.transmitted.rate"
)

// MetricID identifies one counter on one instance of an entity.
// An empty Instance is the aggregate instance.
type MetricID struct {
	Counter  string `json:"counter" yaml:"counter"`
	Instance string `json:"instance,omitempty" yaml:"instance,omitempty"`
}

// AllInstances returns a MetricID requesting every instance of counter.
func AllInstances(counter string) MetricID {
	return MetricID{Counter: counter, Instance: WildcardInstance}
}

// Matches reports whether a concrete metric is selected by m.
func (m MetricID) Matches(other MetricID) bool {
	if m.Counter != other.Counter {
		return false
	}
	return m.Instance == WildcardInstance || m.Instance == other.Instance
}

// String renders counter[instance], or just the counter for the aggregate instance.
func (m MetricID) String() string {
	if m.Instance == "" {
		return m.Counter
	}
	return m.Counter + "[" + m.Instance + "]"
}

// Sample is a single metric measurement at a point in time.
type Sample struct {
	Metric    MetricID  `json:"metric" yaml:"metric"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Value     float64   `json:"value" yaml:"value"`
}

// IsValid returns true if the sample has a timestamp and a finite value.
func (s Sample) IsValid() bool {
	if s.Timestamp.IsZero() {
		return false
	}
	if math.IsInf(s.Value, 0) || math.IsNaN(s.Value) {
		return false
	}
	return true
}

// NewSample creates a Sample stamped with the current UTC time.
func NewSample(metric MetricID, value float64) Sample {
	return Sample{
		Metric:    metric,
		Timestamp: time.Now().UTC(),
		Value:     value,
	}
}

// NewSampleAt creates a Sample with the specified timestamp.
func NewSampleAt(metric MetricID, timestamp time.Time, value float64) Sample {
	return Sample{
		Metric:    metric,
		Timestamp: timestamp,
		Value:     value,
	}
}
