package sqlite

// initSchema creates the database schema if it doesn't exist.
// Timestamps are stored as unix seconds so rollup buckets are plain
// integer arithmetic.
func (db *DB) initSchema() error {
	schema := `
	-- Counter catalog
	CREATE TABLE IF NOT EXISTS perf_counters (
		key TEXT PRIMARY KEY,
		group_key TEXT NOT NULL,
		name_key TEXT NOT NULL,
		rollup TEXT NOT NULL,
		unit TEXT NOT NULL DEFAULT '',
		level INTEGER NOT NULL DEFAULT 1
	);

	-- Short-retention real-time buffer
	CREATE TABLE IF NOT EXISTS realtime_samples (
		entity TEXT NOT NULL,
		counter TEXT NOT NULL,
		instance TEXT NOT NULL DEFAULT '',
		ts INTEGER NOT NULL,
		value REAL NOT NULL,
		PRIMARY KEY (entity, counter, instance, ts)
	);

	-- Historical rollups
	CREATE TABLE IF NOT EXISTS rollup_samples (
		entity TEXT NOT NULL,
		counter TEXT NOT NULL,
		instance TEXT NOT NULL DEFAULT '',
		interval_seconds INTEGER NOT NULL,
		bucket INTEGER NOT NULL,
		value REAL NOT NULL,
		sample_count INTEGER NOT NULL DEFAULT 1,
		PRIMARY KEY (entity, counter, instance, interval_seconds, bucket)
	);

	-- Latest capability reported per entity
	CREATE TABLE IF NOT EXISTS entity_capabilities (
		entity TEXT PRIMARY KEY,
		supports_realtime INTEGER NOT NULL,
		refresh_rate INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	-- Rollup progress per interval
	CREATE TABLE IF NOT EXISTS rollup_state (
		interval_seconds INTEGER PRIMARY KEY,
		next_bucket INTEGER NOT NULL
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_realtime_samples_entity_ts ON realtime_samples(entity, ts);
	CREATE INDEX IF NOT EXISTS idx_realtime_samples_ts ON realtime_samples(ts);
	CREATE INDEX IF NOT EXISTS idx_rollup_samples_entity_bucket ON rollup_samples(entity, interval_seconds, bucket);
	CREATE INDEX IF NOT EXISTS idx_rollup_samples_bucket ON rollup_samples(bucket);
	`

	_, err := db.conn.Exec(schema)
	return err
}
