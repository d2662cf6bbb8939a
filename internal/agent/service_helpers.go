package agent

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	_ "github.com/mattn/go-sqlite3"
)

// readAgentStatus reads the agent_status row through a read-only
// connection, so status never blocks a running agent.
func readAgentStatus(dbPath string) (*AgentStatus, error) {
	db, err := sql.Open("sqlite3", dbPath+"?mode=ro&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	defer db.Close()

	return NewAgentStatusStore(db).Get()
}

// formatUptime renders the time since start as "1d 2h 3m 4s", dropping
// leading zero units.
func formatUptime(start time.Time) string {
	d := time.Since(start).Truncate(time.Second)
	parts := []struct {
		n    int
		unit string
	}{
		{int(d / (24 * time.Hour)), "d"},
		{int(d/time.Hour) % 24, "h"},
		{int(d/time.Minute) % 60, "m"},
		{int(d/time.Second) % 60, "s"},
	}

	var b strings.Builder
	for i, p := range parts {
		if b.Len() == 0 && p.n == 0 && i < len(parts)-1 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%d%s", p.n, p.unit)
	}
	return b.String()
}

// formatTimeSince renders t relative to now, e.g. "12 seconds ago", or
// "never" for the zero time.
func formatTimeSince(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
