package libvirt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/VividCortex/ewma"
	golibvirt "github.com/digitalocean/go-libvirt"
	"github.com/google/uuid"

	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/perf"
)

const statsMask = golibvirt.DomainStatsCPUTotal | golibvirt.DomainStatsBalloon |
	golibvirt.DomainStatsInterface | golibvirt.DomainStatsBlock |
	golibvirt.DomainStatsState | golibvirt.DomainStatsVCPU

const nameSuffix = ".name"

// domainRunning is VIR_DOMAIN_RUNNING.
const domainRunning = 1

// EntitySamples is one entity's samples from a sampling pass, together
// with the capability it reports.
type EntitySamples struct {
	Entity     perf.Entity
	Capability perf.Capability
	Samples    metrics.SampleSet
}

// domainRecord is a flattened DomainStatsRecord.
type domainRecord struct {
	ID      string
	Name    string
	State   uint64
	Uints   map[string]uint64
	Strings map[string]string
}

type domainSnapshot struct {
	at       time.Time
	cpuNs    uint64
	counters map[metrics.MetricID]uint64
}

// Sampler turns libvirt counters into samples. Cumulative counters (CPU
// time, block and interface bytes) are converted to rates between
// consecutive passes, so the first pass for a domain yields no rates.
type Sampler struct {
	conn        *ConnManager
	logger      *slog.Logger
	refreshRate int

	mu       sync.Mutex
	prev     map[string]domainSnapshot
	smoothed map[string]ewma.MovingAverage
	cores    float64
}

// NewSampler creates a Sampler reporting refreshRate seconds as the
// real-time cadence of running domains and the host.
func NewSampler(conn *ConnManager, refreshRate int, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		conn:        conn,
		logger:      logger.With("component", "sampler"),
		refreshRate: refreshRate,
		prev:        make(map[string]domainSnapshot),
		smoothed:    make(map[string]ewma.MovingAverage),
		cores:       1,
	}
}

// Sample reads the host and every domain once.
func (s *Sampler) Sample(ctx context.Context) ([]EntitySamples, error) {
	client, err := s.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	hostname, err := client.ConnectGetHostname()
	if err != nil {
		return nil, fmt.Errorf("ConnectGetHostname: %w", err)
	}
	_, memoryKiB, cpus, _, _, _, _, _, err := client.NodeGetInfo()
	if err != nil {
		return nil, fmt.Errorf("NodeGetInfo: %w", err)
	}

	now := time.Now().UTC()
	out := []EntitySamples{s.hostSamples(hostname, memoryKiB, int(cpus), now)}

	doms, _, err := client.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("ConnectListAllDomains: %w", err)
	}
	if len(doms) == 0 {
		return out, nil
	}

	records, err := client.ConnectGetAllDomainStats(doms, uint32(statsMask), 0)
	if err != nil {
		return nil, fmt.Errorf("ConnectGetAllDomainStats: %w", err)
	}

	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		dr := parseRecord(rec)
		seen[dr.ID] = true
		out = append(out, s.domainSamples(dr, now))
	}
	s.forgetExcept(seen)

	s.logger.Debug("sampled", "host", hostname, "domains", len(records))
	return out, nil
}

func (s *Sampler) hostSamples(hostname string, memoryKiB uint64, cpus int, at time.Time) EntitySamples {
	s.mu.Lock()
	if cpus > 0 {
		s.cores = float64(cpus)
	}
	s.mu.Unlock()

	return EntitySamples{
		Entity:     perf.Entity{Kind: perf.KindHost, ID: hostname},
		Capability: perf.Capability{SupportsRealtime: true, RefreshRate: s.refreshRate},
		Samples: metrics.SampleSet{
			metrics.NewSampleAt(metrics.MetricID{Counter: metrics.CounterCPUCores}, at, float64(cpus)),
			metrics.NewSampleAt(metrics.MetricID{Counter: metrics.CounterMemCapacity}, at, float64(memoryKiB)),
		},
	}
}

// domainSamples converts one record into samples. Domains that are not
// running report no real-time capability and no samples.
func (s *Sampler) domainSamples(dr domainRecord, at time.Time) EntitySamples {
	es := EntitySamples{
		Entity:  perf.Entity{Kind: perf.KindVM, ID: dr.ID},
		Samples: metrics.SampleSet{},
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dr.State != domainRunning {
		s.logger.Debug("domain not running", "vm", dr.Name, "state", DomainStateString(dr.State))
		delete(s.prev, dr.ID)
		delete(s.smoothed, dr.ID)
		return es
	}
	es.Capability = perf.Capability{SupportsRealtime: true, RefreshRate: s.refreshRate}

	add := func(counter, instance string, value float64) {
		es.Samples = append(es.Samples, metrics.NewSampleAt(metrics.MetricID{Counter: counter, Instance: instance}, at, value))
	}

	add(metrics.CounterCPUCores, "", float64(dr.Uints[golibvirt.DomainStatsVCPUCurrent]))
	add(metrics.CounterMemConsumed, "", float64(dr.Uints[golibvirt.DomainStatsBalloonCurrent]))
	if maxKiB := dr.Uints[golibvirt.DomainStatsBalloonMaximum]; maxKiB > 0 {
		add(metrics.CounterMemCapacity, "", float64(maxKiB))
	}

	current := domainSnapshot{
		at:       at,
		cpuNs:    dr.Uints[golibvirt.DomainStatsCPUTime],
		counters: deviceCounters(dr),
	}
	prev, ok := s.prev[dr.ID]
	s.prev[dr.ID] = current
	if !ok {
		return es
	}
	dt := at.Sub(prev.at).Seconds()
	if dt <= 0 {
		return es
	}

	if current.cpuNs >= prev.cpuNs {
		usage := cpuPercent(current.cpuNs-prev.cpuNs, dt, s.cores)
		add(metrics.CounterCPUUsage, "", usage)

		avg, ok := s.smoothed[dr.ID]
		if !ok {
			avg = ewma.NewMovingAverage()
			s.smoothed[dr.ID] = avg
		}
		avg.Add(usage)
		add(metrics.CounterCPUUsageSmoothed, "", avg.Value())
	}

	totals := make(map[string]float64)
	ids := make([]metrics.MetricID, 0, len(current.counters))
	for id := range current.counters {
		ids = append(ids, id)
	}
	metrics.SortMetricIDs(ids)
	for _, id := range ids {
		before, ok := prev.counters[id]
		after := current.counters[id]
		if !ok || after < before {
			continue // new device or counter reset
		}
		rate := float64(after-before) / dt
		add(id.Counter, id.Instance, rate)
		totals[id.Counter] += rate
	}
	counters := make([]string, 0, len(totals))
	for counter := range totals {
		counters = append(counters, counter)
	}
	sort.Strings(counters)
	for _, counter := range counters {
		add(counter, "", totals[counter])
	}

	return es
}

// forgetExcept drops rate state for domains that disappeared.
func (s *Sampler) forgetExcept(seen map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.prev {
		if !seen[id] {
			delete(s.prev, id)
			delete(s.smoothed, id)
		}
	}
}

// cpuPercent is CPU time used over dt seconds as a share of all host cores.
func cpuPercent(deltaNs uint64, dt, cores float64) float64 {
	if cores <= 0 {
		cores = 1
	}
	usage := (float64(deltaNs) / float64(time.Second) / dt) * (100.0 / cores)
	if usage < 0 {
		return 0
	}
	if usage > 100 {
		return 100
	}
	return usage
}

// deviceCounters extracts cumulative per-device byte counters keyed by
// the rate counter they feed, with the device name as instance.
func deviceCounters(dr domainRecord) map[metrics.MetricID]uint64 {
	out := make(map[metrics.MetricID]uint64)
	collect := func(prefix, suffix, counter string) {
		for key, v := range dr.Uints {
			if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, suffix) {
				continue
			}
			idx := strings.TrimSuffix(strings.TrimPrefix(key, prefix), suffix)
			if _, err := strconv.Atoi(idx); err != nil {
				continue
			}
			name := strings.TrimSpace(dr.Strings[prefix+idx+nameSuffix])
			if name == "" {
				name = idx
			}
			out[metrics.MetricID{Counter: counter, Instance: name}] += v
		}
	}
	collect("block.", golibvirt.DomainStatsBlockSuffixRdBytes, metrics.CounterDiskRead)
	collect("block.", golibvirt.DomainStatsBlockSuffixWrBytes, metrics.CounterDiskWrite)
	collect("net.", golibvirt.DomainStatsNetSuffixRxBytes, metrics.CounterNetReceived)
	collect("net.", golibvirt.DomainStatsNetSuffixTxBytes, metrics.CounterNetTransmitted)
	return out
}

func parseRecord(rec golibvirt.DomainStatsRecord) domainRecord {
	dr := domainRecord{
		ID:      uuid.UUID(rec.Dom.UUID).String(),
		Name:    rec.Dom.Name,
		Uints:   make(map[string]uint64),
		Strings: make(map[string]string),
	}
	for _, p := range rec.Params {
		if v, ok := p.Value.I.(string); ok {
			dr.Strings[p.Field] = v
			continue
		}
		if strings.EqualFold(p.Field, golibvirt.DomainStatsStateState) {
			dr.State = asUint64(p.Value.I)
			continue
		}
		dr.Uints[p.Field] = asUint64(p.Value.I)
	}
	return dr
}

func asUint64(v any) uint64 {
	switch t := v.(type) {
	case uint64:
		return t
	case uint32:
		return uint64(t)
	case uint16:
		return uint64(t)
	case uint8:
		return uint64(t)
	case int64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case int32:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case int:
		if t < 0 {
			return 0
		}
		return uint64(t)
	case float64:
		if t < 0 {
			return 0
		}
		return uint64(t)
	default:
		return 0
	}
}

// DomainStateString names a VIR_DOMAIN_* state.
func DomainStateString(v uint64) string {
	switch v {
	case 0:
		return "nostate"
	case 1:
		return "running"
	case 2:
		return "blocked"
	case 3:
		return "paused"
	case 4:
		return "shutdown"
	case 5:
		return "shutoff"
	case 6:
		return "crashed"
	case 7:
		return "pmsuspended"
	default:
		return "unknown"
	}
}
