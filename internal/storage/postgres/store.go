// Package postgres provides an optional PostgreSQL rollup store. When
// configured, the agent mirrors every rollup here and readers serve
// historical queries from it.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/perf"
)

// BaseRollupInterval is the granularity rollups are stored at.
const BaseRollupInterval = perf.IntervalDay

// Store persists rollups in PostgreSQL. It implements perf.MetricResolver
// and perf.HistoricalSource.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}

	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "vperf"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// InitSchema creates the rollup and counter tables if they don't exist.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS vperf_counters (
			key TEXT PRIMARY KEY,
			group_key TEXT NOT NULL,
			name_key TEXT NOT NULL,
			rollup TEXT NOT NULL,
			unit TEXT NOT NULL DEFAULT '',
			level INTEGER NOT NULL DEFAULT 1
		);

		CREATE TABLE IF NOT EXISTS vperf_rollups (
			entity TEXT NOT NULL,
			counter TEXT NOT NULL,
			instance TEXT NOT NULL DEFAULT '',
			interval_seconds INTEGER NOT NULL,
			bucket BIGINT NOT NULL,
			value DOUBLE PRECISION NOT NULL,
			sample_count INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (entity, counter, instance, interval_seconds, bucket)
		);

		CREATE INDEX IF NOT EXISTS idx_vperf_rollups_entity_bucket
			ON vperf_rollups (entity, interval_seconds, bucket);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// RegisterCounters upserts counter definitions.
func (s *Store) RegisterCounters(ctx context.Context, counters []metrics.CounterInfo) error {
	if len(counters) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, c := range counters {
		batch.Queue(`
			INSERT INTO vperf_counters (key, group_key, name_key, rollup, unit, level)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (key) DO UPDATE SET
				group_key = EXCLUDED.group_key,
				name_key = EXCLUDED.name_key,
				rollup = EXCLUDED.rollup,
				unit = EXCLUDED.unit,
				level = EXCLUDED.level
		`, c.Key, c.Group, c.Name, c.Rollup, c.Unit, c.Level)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to register counters: %w", err)
	}
	return nil
}

// SaveRollups upserts rollup buckets in a single batch.
func (s *Store) SaveRollups(ctx context.Context, rollups []metrics.Rollup) error {
	if len(rollups) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rollups {
		count := r.Count
		if count <= 0 {
			count = 1
		}
		batch.Queue(`
			INSERT INTO vperf_rollups (entity, counter, instance, interval_seconds, bucket, value, sample_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (entity, counter, instance, interval_seconds, bucket) DO UPDATE SET
				value = EXCLUDED.value,
				sample_count = EXCLUDED.sample_count
		`, r.Entity, r.Metric.Counter, r.Metric.Instance, r.Interval, r.Bucket.Unix(), r.Value, count)
	}

	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save rollups: %w", err)
	}
	return nil
}

// QueryHistorical returns rollups re-bucketed to q.Interval with a
// sample-count weighted average. A range start inside a bucket includes
// that bucket. Without a range it returns the latest MaxSamples buckets of
// each metric.
func (s *Store) QueryHistorical(ctx context.Context, q perf.HistoricalQuery) (metrics.SampleSet, error) {
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
		var latest *int64
		err := s.pool.QueryRow(ctx,
			`SELECT MAX(bucket) FROM vperf_rollups WHERE entity = $1 AND interval_seconds = $2`,
			entity, int(BaseRollupInterval)).Scan(&latest)
		if err != nil {
			return nil, fmt.Errorf("failed to find latest rollup: %w", err)
		}
		if latest == nil {
			return metrics.SampleSet{}, nil
		}
		start = time.Unix((*latest/interval-int64(limit)+1)*interval, 0)
		end = time.Time{}
	} else if !start.IsZero() {
		// Buckets are stamped with their start; include the one holding start.
		start = time.Unix(start.Unix()/interval*interval, 0)
	}

	args := []any{interval, entity, int(BaseRollupInterval)}
	where := ""
	if !start.IsZero() {
		args = append(args, start.Unix())
		where += fmt.Sprintf(" AND bucket >= $%d", len(args))
	}
	if !end.IsZero() {
		args = append(args, end.Unix())
		where += fmt.Sprintf(" AND bucket < $%d", len(args))
	}
	filter, args := metricFilter(q.Metrics, args)

	query := `
		SELECT counter, instance, (bucket / $1) * $1 AS b,
			SUM(value * sample_count) / SUM(sample_count) AS avg_value
		FROM vperf_rollups
		WHERE entity = $2 AND interval_seconds = $3` + where + ` AND (` + filter + `)
		GROUP BY counter, instance, b
		ORDER BY b ASC, counter, instance
	`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rollups: %w", err)
	}
	defer rows.Close()

	samples := metrics.SampleSet{}
	for rows.Next() {
		var counter, instance string
		var bucket int64
		var value float64
		if err := rows.Scan(&counter, &instance, &bucket, &value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		samples = append(samples, metrics.Sample{
			Metric:    metrics.MetricID{Counter: counter, Instance: instance},
			Timestamp: time.Unix(bucket, 0).UTC(),
			Value:     value,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	if limit > 0 {
		samples = samples.Latest(limit)
		if samples == nil {
			samples = metrics.SampleSet{}
		}
	}
	return samples, nil
}

// ListAvailableMetrics returns every counter with rollups for the entity
// whose level is kept at interval, as wildcard metric ids.
func (s *Store) ListAvailableMetrics(ctx context.Context, entity perf.Entity, interval perf.Interval) ([]metrics.MetricID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT r.counter
		FROM vperf_rollups r
		LEFT JOIN vperf_counters c ON c.key = r.counter
		WHERE r.entity = $1 AND COALESCE(c.level, 1) <= $2
		ORDER BY r.counter
	`, entity.String(), metrics.LevelForInterval(int(interval)))
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

// PruneRollups removes buckets older than before.
func (s *Store) PruneRollups(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM vperf_rollups WHERE bucket < $1`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune rollups: %w", err)
	}
	return tag.RowsAffected(), nil
}

// metricFilter appends counter/instance predicates to args, numbering
// placeholders after the existing ones. A wildcard instance matches every
// instance of the counter.
func metricFilter(ids []metrics.MetricID, args []any) (string, []any) {
	clauses := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, id.Counter)
		if id.Instance == metrics.WildcardInstance {
			clauses = append(clauses, fmt.Sprintf("(counter = $%d)", len(args)))
			continue
		}
		args = append(args, id.Instance)
		clauses = append(clauses, fmt.Sprintf("(counter = $%d AND instance = $%d)", len(args)-1, len(args)))
	}
	return strings.Join(clauses, " OR "), args
}
