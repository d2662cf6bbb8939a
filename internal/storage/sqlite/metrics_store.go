package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/perf"
)

// BaseRollupInterval is the granularity the agent rolls real-time samples
// into. Coarser historical intervals are re-bucketed from it at query time.
const BaseRollupInterval = perf.IntervalDay

// ErrEntityNotFound is returned when an entity has never reported a capability.
var ErrEntityNotFound = errors.New("entity not found")

// MetricsStore handles persistence of real-time samples, rollups and entity
// capabilities. It implements perf.Provider and metrics.SampleSink.
type MetricsStore struct {
	db            *DB
	capabilityTTL time.Duration
	now           func() time.Time
}

// StoreOption configures a MetricsStore.
type StoreOption func(*MetricsStore)

// WithCapabilityTTL makes ProbeCapability report no real-time support for
// entities whose capability has not been refreshed within ttl. Zero disables
// the check.
func WithCapabilityTTL(ttl time.Duration) StoreOption {
	return func(s *MetricsStore) {
		s.capabilityTTL = ttl
	}
}

// WithNow overrides the store's clock. Used by tests.
func WithNow(now func() time.Time) StoreOption {
	return func(s *MetricsStore) {
		s.now = now
	}
}

// NewMetricsStore creates a new MetricsStore with the given database connection.
func NewMetricsStore(db *DB, opts ...StoreOption) *MetricsStore {
	s := &MetricsStore{
		db:  db,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SaveRealtime persists samples for an entity in a transaction.
// Samples already stored at the same timestamp are replaced.
func (s *MetricsStore) SaveRealtime(ctx context.Context, entity string, samples metrics.SampleSet) error {
	if len(samples) == 0 {
		return nil
	}

	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		err := execEach(ctx, tx,
			`INSERT OR REPLACE INTO realtime_samples (entity, counter, instance, ts, value) VALUES (?, ?, ?, ?, ?)`,
			samples, func(sample metrics.Sample) []any {
				if !sample.IsValid() {
					return nil
				}
				return []any{entity, sample.Metric.Counter, sample.Metric.Instance, sample.Timestamp.Unix(), sample.Value}
			})
		if err != nil {
			return fmt.Errorf("failed to save samples for %s: %w", entity, err)
		}
		return nil
	})
}

// QueryRealtime returns real-time samples in [Start, End], averaged into
// RefreshRate-second buckets. A zero bound is open.
func (s *MetricsStore) QueryRealtime(ctx context.Context, q perf.RealtimeQuery) (metrics.SampleSet, error) {
	if len(q.Metrics) == 0 {
		return metrics.SampleSet{}, nil
	}

	filter, filterArgs := metricFilter(q.Metrics)
	where, boundArgs := timeBounds("ts", q.Start, q.End, true)
	query := `SELECT counter, instance, ts, value FROM realtime_samples WHERE entity = ?` +
		where + ` AND (` + filter + `) ORDER BY ts ASC`
	args := []interface{}{q.Entity.String()}
	args = append(args, boundArgs...)
	args = append(args, filterArgs...)

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query realtime samples: %w", err)
	}
	defer rows.Close()

	samples, err := scanSamples(rows)
	if err != nil {
		return nil, err
	}
	if q.RefreshRate > 0 {
		samples = samples.Bucket(time.Duration(q.RefreshRate) * time.Second)
	}
	if samples == nil {
		samples = metrics.SampleSet{}
	}
	return samples, nil
}

// QueryHistorical returns rollups re-bucketed to q.Interval using a
// sample-count weighted average. A range start inside a bucket includes
// that bucket. Without a range it returns the latest MaxSamples buckets of
// each metric.
func (s *MetricsStore) QueryHistorical(ctx context.Context, q perf.HistoricalQuery) (metrics.SampleSet, error) {
	if len(q.Metrics) == 0 {
		return metrics.SampleSet{}, nil
	}

	interval := int64(q.Interval)
	if interval < int64(BaseRollupInterval) {
		interval = int64(BaseRollupInterval)
	}
	entity := q.Entity.String()

	start, end := q.Start, q.End
	limit := 0
	if !q.HasRange() {
		limit = q.MaxSamples
		if limit <= 0 {
			limit = 1
		}
		var latest sql.NullInt64
		err := s.db.conn.QueryRowContext(ctx,
			`SELECT MAX(bucket) FROM rollup_samples WHERE entity = ? AND interval_seconds = ?`,
			entity, int(BaseRollupInterval)).Scan(&latest)
		if err != nil {
			return nil, fmt.Errorf("failed to find latest rollup: %w", err)
		}
		if !latest.Valid {
			return metrics.SampleSet{}, nil
		}
		first := (latest.Int64/interval - int64(limit) + 1) * interval
		start = time.Unix(first, 0)
		end = time.Time{}
	} else if !start.IsZero() {
		// Buckets are stamped with their start; include the one holding start.
		start = time.Unix(start.Unix()/interval*interval, 0)
	}

	filter, filterArgs := metricFilter(q.Metrics)
	where, boundArgs := timeBounds("bucket", start, end, false)
	query := `
		SELECT counter, instance, (bucket / ?) * ? AS b,
			SUM(value * sample_count) / SUM(sample_count) AS avg_value
		FROM rollup_samples
		WHERE entity = ? AND interval_seconds = ?` + where + ` AND (` + filter + `)
		GROUP BY counter, instance, b
		ORDER BY b ASC, counter, instance
	`
	args := []interface{}{interval, interval, entity, int(BaseRollupInterval)}
	args = append(args, boundArgs...)
	args = append(args, filterArgs...)

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer rows.Close()

	samples, err := scanSamples(rows)
	if err != nil {
		return nil, err
	}
	if limit > 0 {
		samples = samples.Latest(limit)
	}
	if samples == nil {
		samples = metrics.SampleSet{}
	}
	return samples, nil
}

// ListAvailableMetrics returns every counter stored for the entity whose
// level is still kept at interval. Instances are left as wildcards.
func (s *MetricsStore) ListAvailableMetrics(ctx context.Context, entity perf.Entity, interval perf.Interval) ([]metrics.MetricID, error) {
	query := `
		SELECT s.counter
		FROM (
			SELECT counter FROM realtime_samples WHERE entity = ?
			UNION
			SELECT counter FROM rollup_samples WHERE entity = ?
		) s
		LEFT JOIN perf_counters c ON c.key = s.counter
		WHERE COALESCE(c.level, 1) <= ?
		ORDER BY s.counter
	`

	key := entity.String()
	rows, err := s.db.conn.QueryContext(ctx, query, key, key, metrics.LevelForInterval(int(interval)))
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics: %w", err)
	}
	defer rows.Close()

	result := make([]metrics.MetricID, 0)
	for rows.Next() {
		var counter string
		if err := rows.Scan(&counter); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, metrics.AllInstances(counter))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// PruneRealtime removes real-time samples older than before.
// Returns number of rows deleted.
func (s *MetricsStore) PruneRealtime(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.pruneBatched(ctx, "realtime_samples", "ts", before)
	if err != nil {
		return n, fmt.Errorf("failed to prune realtime samples: %w", err)
	}
	return n, nil
}

// pruneLimit caps the rows deleted per statement so readers are never
// blocked behind one long transaction.
const pruneLimit = 10000

// pruneBatched deletes rows with column < before in batches of pruneLimit.
func (s *MetricsStore) pruneBatched(ctx context.Context, table, column string, before time.Time) (int64, error) {
	query := `DELETE FROM ` + table + ` WHERE rowid IN (
		SELECT rowid FROM ` + table + ` WHERE ` + column + ` < ? LIMIT ?
	)`

	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		result, err := s.db.conn.ExecContext(ctx, query, before.Unix(), pruneLimit)
		if err != nil {
			return total, err
		}
		n, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
		if n < pruneLimit {
			return total, nil
		}
	}
}

// CountRealtime returns the number of stored real-time samples for an entity.
func (s *MetricsStore) CountRealtime(ctx context.Context, entity string) (int64, error) {
	var count int64
	err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM realtime_samples WHERE entity = ?`, entity).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count: %w", err)
	}
	return count, nil
}

// metricFilter builds an OR of counter/instance predicates. A wildcard
// instance matches every instance of the counter.
func metricFilter(ids []metrics.MetricID) (string, []interface{}) {
	clauses := make([]string, 0, len(ids))
	args := make([]interface{}, 0, len(ids)*2)
	for _, id := range ids {
		if id.Instance == metrics.WildcardInstance {
			clauses = append(clauses, "(counter = ?)")
			args = append(args, id.Counter)
			continue
		}
		clauses = append(clauses, "(counter = ? AND instance = ?)")
		args = append(args, id.Counter, id.Instance)
	}
	return strings.Join(clauses, " OR "), args
}

// timeBounds renders AND clauses for a [start, end] window on column.
// The end is exclusive unless inclusiveEnd is set. Zero bounds are omitted.
func timeBounds(column string, start, end time.Time, inclusiveEnd bool) (string, []interface{}) {
	var b strings.Builder
	var args []interface{}
	if !start.IsZero() {
		b.WriteString(" AND " + column + " >= ?")
		args = append(args, start.Unix())
	}
	if !end.IsZero() {
		if inclusiveEnd {
			b.WriteString(" AND " + column + " <= ?")
		} else {
			b.WriteString(" AND " + column + " < ?")
		}
		args = append(args, end.Unix())
	}
	return b.String(), args
}

func scanSamples(rows *sql.Rows) (metrics.SampleSet, error) {
	var result metrics.SampleSet
	for rows.Next() {
		var counter, instance string
		var ts int64
		var value float64
		if err := rows.Scan(&counter, &instance, &ts, &value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, metrics.Sample{
			Metric:    metrics.MetricID{Counter: counter, Instance: instance},
			Timestamp: time.Unix(ts, 0).UTC(),
			Value:     value,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}

// CurrentTime reports the database's clock so every reader of a shared
// store agrees on "now".
func (s *MetricsStore) CurrentTime(ctx context.Context) (time.Time, error) {
	var unix int64
	if err := s.db.conn.QueryRowContext(ctx, `SELECT CAST(strftime('%s', 'now') AS INTEGER)`).Scan(&unix); err != nil {
		return time.Time{}, fmt.Errorf("failed to read database clock: %w", err)
	}
	return time.Unix(unix, 0).UTC(), nil
}
