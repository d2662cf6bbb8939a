// Package report summarizes retrieval results and renders them for the CLI.
package report

import (
	"math"
	"sort"
	"time"

	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/perf"
)

// Source names which store a summary was computed from.
const (
	SourceHistorical = "historical"
	SourceRealtime   = "realtime"
)

// Report is the printable form of one entity's retrieval.
type Report struct {
	Entity     string          `json:"entity" yaml:"entity"`
	Window     string          `json:"window" yaml:"window"`
	Plan       string          `json:"plan" yaml:"plan"`
	Capability perf.Capability `json:"capability" yaml:"capability"`
	Spans      []SpanInfo      `json:"spans" yaml:"spans"`
	Metrics    []MetricSummary `json:"metrics" yaml:"metrics"`

	// Samples is only filled when the caller asks for raw samples.
	Samples metrics.SampleSet `json:"samples,omitempty" yaml:"samples,omitempty"`

	kind perf.PlanKind
}

// SpanInfo describes one provider query of the plan.
type SpanInfo struct {
	Source   string    `json:"source" yaml:"source"`
	Interval int       `json:"interval" yaml:"interval"` // seconds
	Start    time.Time `json:"start,omitzero" yaml:"start,omitempty"`
	End      time.Time `json:"end,omitzero" yaml:"end,omitempty"`
}

// MetricSummary condenses the samples of one metric from one source.
type MetricSummary struct {
	Metric   metrics.MetricID `json:"metric" yaml:"metric"`
	Source   string           `json:"source" yaml:"source"`
	Unit     string           `json:"unit,omitempty" yaml:"unit,omitempty"`
	Count    int              `json:"count" yaml:"count"`
	Min      float64          `json:"min" yaml:"min"`
	Max      float64          `json:"max" yaml:"max"`
	Avg      float64          `json:"avg" yaml:"avg"`
	Latest   float64          `json:"latest" yaml:"latest"`
	LatestAt time.Time        `json:"latest_at" yaml:"latest_at"`

	values []float64
}

// Values returns the summarized samples' values in time order.
func (m MetricSummary) Values() []float64 {
	return m.values
}

// Option configures Build.
type Option func(*builder)

type builder struct {
	units   map[string]string
	samples bool
}

// WithCounters attaches unit labels from the counter catalog.
func WithCounters(counters []metrics.CounterInfo) Option {
	return func(b *builder) {
		for _, c := range counters {
			b.units[c.Key] = c.Unit
		}
	}
}

// WithSamples keeps the raw samples in the report.
func WithSamples() Option {
	return func(b *builder) {
		b.samples = true
	}
}

// Build summarizes a retrieval result. Historical and real-time samples are
// summarized separately since the two sources aggregate differently.
func Build(res *perf.Result, opts ...Option) Report {
	b := &builder{units: make(map[string]string)}
	for _, opt := range opts {
		opt(b)
	}

	r := Report{
		Entity:     res.Entity.String(),
		Window:     res.Window.String(),
		Plan:       res.Plan.Kind.String(),
		Capability: res.Capability,
		kind:       res.Plan.Kind,
	}

	if s := res.Plan.Historical; s != nil {
		r.Spans = append(r.Spans, spanInfo(SourceHistorical, *s))
	}
	if s := res.Plan.Realtime; s != nil {
		r.Spans = append(r.Spans, spanInfo(SourceRealtime, *s))
	}

	r.Metrics = append(r.Metrics, summarize(res.Historical, SourceHistorical, b.units)...)
	r.Metrics = append(r.Metrics, summarize(res.Realtime, SourceRealtime, b.units)...)

	if b.samples {
		r.Samples = res.Samples()
	}
	return r
}

// Kind returns the plan kind the report was built from.
func (r Report) Kind() perf.PlanKind {
	return r.kind
}

func spanInfo(source string, s perf.Span) SpanInfo {
	return SpanInfo{Source: source, Interval: int(s.Interval), Start: s.Start, End: s.End}
}

func summarize(set metrics.SampleSet, source string, units map[string]string) []MetricSummary {
	byMetric := set.ByMetric()
	out := make([]MetricSummary, 0, len(byMetric))

	for _, id := range set.Metrics() {
		series := byMetric[id]
		series.Sort()

		s := MetricSummary{
			Metric: id,
			Source: source,
			Unit:   units[id.Counter],
			Count:  len(series),
			Min:    math.Inf(1),
			Max:    math.Inf(-1),
			values: series.Values(),
		}

		var sum float64
		for _, sample := range series {
			s.Min = math.Min(s.Min, sample.Value)
			s.Max = math.Max(s.Max, sample.Value)
			sum += sample.Value
		}
		last := series[len(series)-1]
		s.Avg = sum / float64(len(series))
		s.Latest = last.Value
		s.LatestAt = last.Timestamp
		out = append(out, s)
	}
	return out
}

// RankItem is one entity's aggregate for a counter.
type RankItem struct {
	Entity string  `json:"entity" yaml:"entity"`
	Value  float64 `json:"value" yaml:"value"`
	Rank   int     `json:"rank" yaml:"rank"`
}

// Rank orders entities by counter, highest first. Each instance is averaged
// over the window and instances are summed, so per-disk rates add up to the
// entity's total. Entities without the counter are omitted.
func Rank(results []*perf.Result, counter string) []RankItem {
	var items []RankItem
	for _, res := range results {
		sums := make(map[string]float64)
		counts := make(map[string]int)
		for _, s := range res.Samples() {
			if s.Metric.Counter != counter {
				continue
			}
			sums[s.Metric.Instance] += s.Value
			counts[s.Metric.Instance]++
		}
		if len(counts) == 0 {
			continue
		}

		var total float64
		for instance, n := range counts {
			total += sums[instance] / float64(n)
		}
		items = append(items, RankItem{Entity: res.Entity.String(), Value: total})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Value != items[j].Value {
			return items[i].Value > items[j].Value
		}
		return items[i].Entity < items[j].Entity
	})
	for i := range items {
		items[i].Rank = i + 1
	}
	return items
}
