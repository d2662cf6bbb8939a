package metrics

import "time"

// CounterInfo describes a performance counter. Level is the statistics
// level at which the counter is still kept (1 = kept at every rollup,
// 4 = only in the finest rollups and real-time).
type CounterInfo struct {
	Key    string `json:"key" yaml:"key"`
	Group  string `json:"group" yaml:"group"`
	Name   string `json:"name" yaml:"name"`
	Rollup string `json:"rollup" yaml:"rollup"`
	Unit   string `json:"unit" yaml:"unit"`
	Level  int    `json:"level" yaml:"level"`
}

// FullName renders group.name.rollup.
func (c CounterInfo) FullName() string {
	return c.Group + "." + c.Name + "." + c.Rollup
}

// DefaultCounters is the catalog recorded by the hypervisor sampler.
func DefaultCounters() []CounterInfo {
	return []CounterInfo{
		{Key: CounterCPUUsage, Group: "cpu", Name: "usage", Rollup: "average", Unit: "%", Level: 1},
		{Key: CounterCPUUsageSmoothed, Group: "cpu", Name: "usage", Rollup: "smoothed", Unit: "%", Level: 3},
		{Key: CounterCPUCores, Group: "cpu", Name: "cores", Rollup: "count", Unit: "num", Level: 1},
		{Key: CounterMemConsumed, Group: "mem", Name: "consumed", Rollup: "average", Unit: "KB", Level: 1},
		{Key: CounterMemCapacity, Group: "mem", Name: "capacity", Rollup: "provisioned", Unit: "KB", Level: 2},
		{Key: CounterDiskRead, Group: "disk", Name: "read", Rollup: "rate", Unit: "B/s", Level: 2},
		{Key: CounterDiskWrite, Group: "disk", Name: "write", Rollup: "rate", Unit: "B/s", Level: 2},
		{Key: CounterNetReceived, Group: "net", Name: "received", Rollup: "rate", Unit: "B/s", Level: 4},
		{Key: CounterNetTransmitted, Group: "net", Name: "transmitted", Rollup: "rate", Unit: "B/s", Level: 4},
	}
}

// LevelForInterval maps a sampling interval in seconds to the highest
// counter level kept at that granularity. Real-time and the finest rollup
// keep every level.
func LevelForInterval(seconds int) int {
	switch {
	case seconds <= 300:
		return 4
	case seconds <= 1800:
		return 3
	case seconds <= 7200:
		return 2
	default:
		return 1
	}
}

// Rollup is one aggregated bucket of a metric.
type Rollup struct {
	Entity   string    `json:"entity"`
	Metric   MetricID  `json:"metric"`
	Interval int       `json:"interval"` // seconds
	Bucket   time.Time `json:"bucket"`
	Value    float64   `json:"value"`
	Count    int       `json:"count"`
}
