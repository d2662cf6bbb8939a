package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/willibrandon/vperf/internal/perf"
)

// EntityRecord is an entity with the capability it last reported.
type EntityRecord struct {
	Entity     perf.Entity     `json:"entity" yaml:"entity"`
	Capability perf.Capability `json:"capability" yaml:"capability"`
	UpdatedAt  time.Time       `json:"updated_at" yaml:"updated_at"`
}

// SaveCapability records the capability an entity reported at the given time.
func (s *MetricsStore) SaveCapability(ctx context.Context, entity perf.Entity, capability perf.Capability, at time.Time) error {
	query := `
		INSERT INTO entity_capabilities (entity, supports_realtime, refresh_rate, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity) DO UPDATE SET
			supports_realtime = excluded.supports_realtime,
			refresh_rate = excluded.refresh_rate,
			updated_at = excluded.updated_at
	`
	_, err := s.db.conn.ExecContext(ctx, query, entity.String(), capability.SupportsRealtime, capability.RefreshRate, at.Unix())
	if err != nil {
		return fmt.Errorf("failed to save capability: %w", err)
	}
	return nil
}

// ProbeCapability returns the entity's last reported capability. A stale
// capability (older than the configured TTL) reports no real-time support.
func (s *MetricsStore) ProbeCapability(ctx context.Context, entity perf.Entity) (perf.Capability, error) {
	var capability perf.Capability
	var updatedAt int64
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT supports_realtime, refresh_rate, updated_at FROM entity_capabilities WHERE entity = ?`,
		entity.String()).Scan(&capability.SupportsRealtime, &capability.RefreshRate, &updatedAt)
	if err == sql.ErrNoRows {
		return perf.Capability{}, fmt.Errorf("%s: %w", entity, ErrEntityNotFound)
	}
	if err != nil {
		return perf.Capability{}, fmt.Errorf("failed to probe capability: %w", err)
	}

	if s.capabilityTTL > 0 && s.now().Sub(time.Unix(updatedAt, 0)) > s.capabilityTTL {
		return perf.Capability{}, nil
	}
	return capability, nil
}

// ListEntities returns every entity that has reported a capability, ordered by key.
func (s *MetricsStore) ListEntities(ctx context.Context) ([]EntityRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx,
		`SELECT entity, supports_realtime, refresh_rate, updated_at FROM entity_capabilities ORDER BY entity`)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var result []EntityRecord
	for rows.Next() {
		var key string
		var updatedAt int64
		var rec EntityRecord
		if err := rows.Scan(&key, &rec.Capability.SupportsRealtime, &rec.Capability.RefreshRate, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		entity, err := perf.ParseEntity(key)
		if err != nil {
			continue // Skip rows written by a foreign tool
		}
		rec.Entity = entity
		rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
		result = append(result, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return result, nil
}
