package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/willibrandon/vperf/internal/metrics"
)

// RegisterCounters upserts counter definitions into the catalog.
func (s *MetricsStore) RegisterCounters(ctx context.Context, counters []metrics.CounterInfo) error {
	if len(counters) == 0 {
		return nil
	}

	return s.db.inTx(ctx, func(tx *sql.Tx) error {
		err := execEach(ctx, tx, `
			INSERT OR REPLACE INTO perf_counters (key, group_key, name_key, rollup, unit, level)
			VALUES (?, ?, ?, ?, ?, ?)`,
			counters, func(c metrics.CounterInfo) []any {
				return []any{c.Key, c.Group, c.Name, c.Rollup, c.Unit, c.Level}
			})
		if err != nil {
			return fmt.Errorf("failed to register counters: %w", err)
		}
		return nil
	})
}

// ListCounters returns the counter catalog ordered by key.
func (s *MetricsStore) ListCounters(ctx context.Context) ([]metrics.CounterInfo, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT key, group_key, name_key, rollup, unit, level FROM perf_counters ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}
	defer rows.Close()

	var catalog []metrics.CounterInfo
	for rows.Next() {
		var c metrics.CounterInfo
		if err := rows.Scan(&c.Key, &c.Group, &c.Name, &c.Rollup, &c.Unit, &c.Level); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		catalog = append(catalog, c)
	}
	return catalog, rows.Err()
}
