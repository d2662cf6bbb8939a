package agent

import (
	"database/sql"
	"errors"
	"time"
)

// AgentStatus is the running agent's state as seen by `vperf-agent status`.
// One row at most exists; a clean shutdown deletes it.
type AgentStatus struct {
	PID        int       `json:"pid"`
	StartTime  time.Time `json:"start_time"`
	LastSample time.Time `json:"last_sample"` // last successful sampling pass
	LastRollup time.Time `json:"last_rollup"` // newest rolled-up bucket
	Entities   int       `json:"entities"`    // entities seen in the last pass
	Version    string    `json:"version"`
	ConfigHash string    `json:"config_hash"`
	ErrorCount int       `json:"error_count"`
	LastError  string    `json:"last_error"`
}

// Healthy reports whether the agent completed a sampling pass within
// maxStaleness of now.
func (s *AgentStatus) Healthy(now time.Time, maxStaleness time.Duration) bool {
	return s != nil && !s.LastSample.IsZero() && now.Sub(s.LastSample) <= maxStaleness
}

const agentStatusSchema = `
CREATE TABLE IF NOT EXISTS agent_status (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	pid         INTEGER NOT NULL,
	start_time  INTEGER NOT NULL,
	last_sample INTEGER NOT NULL DEFAULT 0,
	last_rollup INTEGER NOT NULL DEFAULT 0,
	entities    INTEGER NOT NULL DEFAULT 0,
	version     TEXT NOT NULL,
	config_hash TEXT NOT NULL DEFAULT '',
	error_count INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT ''
)`

// AgentStatusStore keeps the agent_status row in the sample database, so
// the CLI and `vperf-agent status` read it with no extra file.
type AgentStatusStore struct {
	db *sql.DB
}

// NewAgentStatusStore creates a new agent status store.
func NewAgentStatusStore(db *sql.DB) *AgentStatusStore {
	return &AgentStatusStore{db: db}
}

// InitSchema creates the agent_status table.
func (s *AgentStatusStore) InitSchema() error {
	_, err := s.db.Exec(agentStatusSchema)
	return err
}

// Upsert replaces the row with status.
func (s *AgentStatusStore) Upsert(status *AgentStatus) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO agent_status
			(id, pid, start_time, last_sample, last_rollup, entities, version, config_hash, error_count, last_error)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		status.PID, toUnix(status.StartTime), toUnix(status.LastSample), toUnix(status.LastRollup),
		status.Entities, status.Version, status.ConfigHash, status.ErrorCount, status.LastError)
	return err
}

func (s *AgentStatusStore) update(set string, args ...any) error {
	_, err := s.db.Exec(`UPDATE agent_status SET `+set+` WHERE id = 1`, args...)
	return err
}

// UpdateLastSample records a successful sampling pass over n entities.
func (s *AgentStatusStore) UpdateLastSample(at time.Time, entities int) error {
	return s.update(`last_sample = ?, entities = ?`, toUnix(at), entities)
}

// UpdateLastRollup records the newest bucket rolled up.
func (s *AgentStatusStore) UpdateLastRollup(bucket time.Time) error {
	return s.update(`last_rollup = ?`, toUnix(bucket))
}

// IncrementErrorCount counts a loop failure and keeps its message.
func (s *AgentStatusStore) IncrementErrorCount(msg string) error {
	return s.update(`error_count = error_count + 1, last_error = ?`, msg)
}

// Get returns the row, or nil when no agent is registered.
func (s *AgentStatusStore) Get() (*AgentStatus, error) {
	var (
		st                           AgentStatus
		started, sampled, rolledUpTo int64
	)
	err := s.db.QueryRow(`
		SELECT pid, start_time, last_sample, last_rollup, entities, version, config_hash, error_count, last_error
		FROM agent_status WHERE id = 1`).
		Scan(&st.PID, &started, &sampled, &rolledUpTo, &st.Entities, &st.Version, &st.ConfigHash, &st.ErrorCount, &st.LastError)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.StartTime = fromUnix(started)
	st.LastSample = fromUnix(sampled)
	st.LastRollup = fromUnix(rolledUpTo)
	return &st, nil
}

// Delete removes the row.
func (s *AgentStatusStore) Delete() error {
	_, err := s.db.Exec(`DELETE FROM agent_status WHERE id = 1`)
	return err
}

// IsHealthy loads the row and reports Healthy for it.
func (s *AgentStatusStore) IsHealthy(maxStaleness time.Duration) (bool, *AgentStatus, error) {
	status, err := s.Get()
	if err != nil {
		return false, nil, err
	}
	return status.Healthy(time.Now(), maxStaleness), status, nil
}

// Zero times are stored as 0 so "never" survives the round trip.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func fromUnix(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
