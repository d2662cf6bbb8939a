package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/willibrandon/vperf/internal/logger"
	"github.com/willibrandon/vperf/internal/perf"
	"github.com/willibrandon/vperf/internal/storage/sqlite"
)

var errNoEntities = errors.New("no entities recorded yet")

// partialError reports that some entities of a multi-entity command failed
// while the rest were printed.
type partialError struct {
	failed int
	total  int
}

func (e *partialError) Error() string {
	return fmt.Sprintf("%d of %d entities failed", e.failed, e.total)
}

func isConfigError(err error) bool {
	var cfgErr *configError
	return errors.As(err, &cfgErr)
}

// printError writes err with actionable guidance.
func printError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold)
	red.Fprint(w, "Error: ")
	fmt.Fprintln(w, formatError(err))
	if logger.IsDebugEnabled() && logger.LogPath != "" {
		fmt.Fprintf(w, "\nDebug log: %s\n", logger.LogPath)
	}
}

// printEntityError writes one entity's failure on a single line.
func printEntityError(w io.Writer, entity perf.Entity, err error) {
	yellow := color.New(color.FgYellow)
	yellow.Fprintf(w, "%s: ", entity)
	fmt.Fprintln(w, firstLine(formatError(err)))
}

// formatError renders err followed by a hint for the common failures.
func formatError(err error) string {
	msg := err.Error()
	if hint := errorHint(err); hint != "" {
		return msg + "\n\n" + hint
	}
	return msg
}

func errorHint(err error) string {
	var winErr *perf.WindowError
	switch {
	case isConfigError(err):
		return "Check the config file, or write a fresh one with:\n  vperf config init --force"

	case errors.Is(err, errNoEntities):
		return "vperf-agent has not sampled anything yet. Start it with:\n  vperf-agent start\n" +
			"or name entities explicitly with --entity kind/id."

	case errors.Is(err, perf.ErrUnknownCycle):
		return "Valid cycles are " + cycleNames() + " (see vperf cycles)."

	case errors.Is(err, perf.ErrInvalidWindowSpec) && errors.As(err, &winErr):
		return "This entity keeps real-time samples, so a rollup cycle is ambiguous.\n" +
			"Give an explicit range with --start and --end instead."

	case errors.Is(err, perf.ErrInvalidWindowSpec):
		return "Use either --cycle, or both --start and --end.\n" +
			"Times are read as \"2006-01-02 15:04:05\" in query.timezone, or RFC3339."

	case errors.Is(err, perf.ErrInvalidRange):
		return "The start must not be after the end, and the end must not be in the future."

	case errors.Is(err, perf.ErrWindowUnsupported) && errors.As(err, &winErr):
		return fmt.Sprintf("This entity has no real-time samples. Choose a window that ends before %s,\n"+
			"or a rollup cycle with --cycle.", winErr.Boundary.Local().Format("2006-01-02 15:04:05"))

	case errors.Is(err, sqlite.ErrEntityNotFound):
		return "vperf-agent has never reported this entity. List known entities with:\n  vperf entities"

	case errors.Is(err, context.DeadlineExceeded):
		return "The query did not finish within query.timeout. Narrow the window or raise the timeout."

	case errors.Is(err, perf.ErrProviderUnavailable), errors.Is(err, perf.ErrProviderQueryFailed):
		return storeHint(err.Error())
	}
	return ""
}

// storeHint recognizes connection failures from the rollup store.
func storeHint(msg string) string {
	switch {
	case strings.Contains(msg, "connection refused"):
		return "PostgreSQL is not accepting connections. Check storage.postgres_dsn,\n" +
			"or clear it to read rollups from the local database."
	case strings.Contains(msg, "database is locked"):
		return "The local database is busy. Retry in a moment."
	case strings.Contains(msg, "no such table"):
		return "The local database has no samples yet. Is vperf-agent running?\n  vperf-agent status"
	}
	return ""
}

func cycleNames() string {
	names := make([]string, 0, len(perf.AllCycles()))
	for _, c := range perf.AllCycles() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
