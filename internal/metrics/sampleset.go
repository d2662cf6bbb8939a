package metrics

import (
	"sort"
	"time"
)

// SampleSet is an ordered sequence of samples returned by a provider query.
type SampleSet []Sample

// Concat returns s followed by other. Neither input is modified.
func (s SampleSet) Concat(other SampleSet) SampleSet {
	out := make(SampleSet, 0, len(s)+len(other))
	out = append(out, s...)
	return append(out, other...)
}

// Values returns the sample values in order.
func (s SampleSet) Values() []float64 {
	if len(s) == 0 {
		return nil
	}
	out := make([]float64, len(s))
	for i, sample := range s {
		out[i] = sample.Value
	}
	return out
}

// Between returns the samples with start <= timestamp <= end.
func (s SampleSet) Between(start, end time.Time) SampleSet {
	var out SampleSet
	for _, sample := range s {
		if sample.Timestamp.Before(start) || sample.Timestamp.After(end) {
			continue
		}
		out = append(out, sample)
	}
	return out
}

// Select keeps samples matched by any of ids.
func (s SampleSet) Select(ids []MetricID) SampleSet {
	if len(ids) == 0 {
		return nil
	}
	var out SampleSet
	for _, sample := range s {
		for _, id := range ids {
			if id.Matches(sample.Metric) {
				out = append(out, sample)
				break
			}
		}
	}
	return out
}

// ByMetric groups samples per metric, preserving order within each group.
func (s SampleSet) ByMetric() map[MetricID]SampleSet {
	out := make(map[MetricID]SampleSet)
	for _, sample := range s {
		out[sample.Metric] = append(out[sample.Metric], sample)
	}
	return out
}

// Metrics returns the distinct metrics in s, sorted by counter then instance.
func (s SampleSet) Metrics() []MetricID {
	seen := make(map[MetricID]struct{})
	var out []MetricID
	for _, sample := range s {
		if _, ok := seen[sample.Metric]; ok {
			continue
		}
		seen[sample.Metric] = struct{}{}
		out = append(out, sample.Metric)
	}
	SortMetricIDs(out)
	return out
}

// Sort orders samples by timestamp, then metric.
func (s SampleSet) Sort() {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].Timestamp.Equal(s[j].Timestamp) {
			return s[i].Timestamp.Before(s[j].Timestamp)
		}
		return lessMetric(s[i].Metric, s[j].Metric)
	})
}

// Bucket averages samples per metric into step-aligned buckets. Each output
// sample is stamped with its bucket start. A non-positive step returns s sorted.
func (s SampleSet) Bucket(step time.Duration) SampleSet {
	if len(s) == 0 {
		return nil
	}
	if step <= 0 {
		out := s.Concat(nil)
		out.Sort()
		return out
	}

	type key struct {
		metric MetricID
		bucket int64
	}
	type acc struct {
		sum   float64
		count int
	}

	stepSecs := int64(step / time.Second)
	if stepSecs <= 0 {
		stepSecs = 1
	}

	sums := make(map[key]*acc)
	var order []key
	for _, sample := range s {
		if !sample.IsValid() {
			continue
		}
		k := key{metric: sample.Metric, bucket: floorDiv(sample.Timestamp.Unix(), stepSecs) * stepSecs}
		a, ok := sums[k]
		if !ok {
			a = &acc{}
			sums[k] = a
			order = append(order, k)
		}
		a.sum += sample.Value
		a.count++
	}

	out := make(SampleSet, 0, len(order))
	for _, k := range order {
		a := sums[k]
		out = append(out, Sample{
			Metric:    k.metric,
			Timestamp: time.Unix(k.bucket, 0).UTC(),
			Value:     a.sum / float64(a.count),
		})
	}
	out.Sort()
	return out
}

// Latest keeps the n most recent samples of each metric.
func (s SampleSet) Latest(n int) SampleSet {
	if n <= 0 {
		return nil
	}
	var out SampleSet
	for _, group := range s.ByMetric() {
		group.Sort()
		if len(group) > n {
			group = group[len(group)-n:]
		}
		out = append(out, group...)
	}
	out.Sort()
	return out
}

// SortMetricIDs sorts ids by counter, then instance.
func SortMetricIDs(ids []MetricID) {
	sort.Slice(ids, func(i, j int) bool { return lessMetric(ids[i], ids[j]) })
}

func lessMetric(a, b MetricID) bool {
	if a.Counter != b.Counter {
		return a.Counter < b.Counter
	}
	return a.Instance < b.Instance
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
