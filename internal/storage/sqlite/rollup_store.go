package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/willibrandon/vperf/internal/metrics"
)

// Rollup aggregates real-time samples into interval-second buckets that
// closed before upTo. Buckets already rolled up are skipped; the last
// processed bucket is tracked in rollup_state. Returns the new rollups.
func (s *MetricsStore) Rollup(ctx context.Context, interval int, upTo time.Time) ([]metrics.Rollup, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid rollup interval %d", interval)
	}
	step := int64(interval)

	var result []metrics.Rollup
	err := s.db.inTx(ctx, func(tx *sql.Tx) error {
		from, ok, err := nextBucket(ctx, tx, interval)
		if err != nil || !ok {
			return err
		}
		// Only buckets that have fully closed
		until := (upTo.Unix() / step) * step
		if until <= from {
			return nil
		}

		result, err = aggregate(ctx, tx, interval, from, until)
		if err != nil {
			return err
		}
		if err := saveRollups(ctx, tx, result); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO rollup_state (interval_seconds, next_bucket) VALUES (?, ?)`,
			interval, until)
		if err != nil {
			return fmt.Errorf("failed to update rollup state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// nextBucket returns the first bucket not yet rolled up for interval,
// falling back to the bucket of the oldest sample. ok is false when there
// is nothing to roll up.
func nextBucket(ctx context.Context, tx *sql.Tx, interval int) (int64, bool, error) {
	var next sql.NullInt64
	err := tx.QueryRowContext(ctx, `SELECT next_bucket FROM rollup_state WHERE interval_seconds = ?`, interval).Scan(&next)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("failed to read rollup state: %w", err)
	}
	if next.Valid {
		return next.Int64, true, nil
	}

	if err := tx.QueryRowContext(ctx, `SELECT MIN(ts) FROM realtime_samples`).Scan(&next); err != nil {
		return 0, false, fmt.Errorf("failed to find oldest sample: %w", err)
	}
	step := int64(interval)
	return (next.Int64 / step) * step, next.Valid, nil
}

// aggregate averages the real-time samples of [from, until) per bucket.
func aggregate(ctx context.Context, tx *sql.Tx, interval int, from, until int64) ([]metrics.Rollup, error) {
	step := int64(interval)
	rows, err := tx.QueryContext(ctx, `
		SELECT entity, counter, instance, (ts / ?) * ? AS b, AVG(value), COUNT(*)
		FROM realtime_samples
		WHERE ts >= ? AND ts < ?
		GROUP BY entity, counter, instance, b
		ORDER BY b, entity, counter, instance
	`, step, step, from, until)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate samples: %w", err)
	}
	defer rows.Close()

	var out []metrics.Rollup
	for rows.Next() {
		r := metrics.Rollup{Interval: interval}
		var bucket int64
		if err := rows.Scan(&r.Entity, &r.Metric.Counter, &r.Metric.Instance, &bucket, &r.Value, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan rollup: %w", err)
		}
		r.Bucket = time.Unix(bucket, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveRollups stores pre-aggregated buckets, replacing existing ones.
func (s *MetricsStore) SaveRollups(ctx context.Context, rollups []metrics.Rollup) error {
	if len(rollups) == 0 {
		return nil
	}

	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		return saveRollups(ctx, tx, rollups)
	})
}

func saveRollups(ctx context.Context, tx *sql.Tx, rollups []metrics.Rollup) error {
	if len(rollups) == 0 {
		return nil
	}

	err := execEach(ctx, tx, `
		INSERT OR REPLACE INTO rollup_samples (entity, counter, instance, interval_seconds, bucket, value, sample_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rollups, func(r metrics.Rollup) []any {
			return []any{r.Entity, r.Metric.Counter, r.Metric.Instance, r.Interval, r.Bucket.Unix(), r.Value, max(r.Count, 1)}
		})
	if err != nil {
		return fmt.Errorf("failed to save rollups: %w", err)
	}
	return nil
}

// PruneRollups removes rollup buckets older than before.
// Returns number of rows deleted.
func (s *MetricsStore) PruneRollups(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.pruneBatched(ctx, "rollup_samples", "bucket", before)
	if err != nil {
		return n, fmt.Errorf("failed to prune rollups: %w", err)
	}
	return n, nil
}
