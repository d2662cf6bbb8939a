package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/willibrandon/vperf/internal/config"
	"github.com/willibrandon/vperf/internal/logger"
	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/perf"
	"github.com/willibrandon/vperf/internal/storage/postgres"
	"github.com/willibrandon/vperf/internal/storage/sqlite"
)

// maxParallelRetrievals bounds concurrent retrievals within one session.
const maxParallelRetrievals = 4

// configError marks failures to load or validate configuration.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// env holds the stores and engine a command works against.
type env struct {
	cfg    *config.Config
	db     *sqlite.DB
	store  *sqlite.MetricsStore
	pg     *postgres.Store
	engine *perf.Engine
	logger *slog.Logger
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfigFromPath(configPath)
	} else {
		cfg, err = config.LoadConfig()
	}
	if err != nil {
		return nil, &configError{err: err}
	}
	return cfg, nil
}

// openEnv loads configuration, starts logging and opens the stores. Rollups
// come from PostgreSQL when a DSN is configured; the real-time buffer and
// capabilities always come from the agent's SQLite database.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Query.Location()
	if err != nil {
		return nil, &configError{err: err}
	}
	logger.InitLogger(logger.LevelFromDebug(debug || cfg.Debug), cfg.LogFile, nil)

	e := &env{cfg: cfg, logger: logger.With("component", "cli")}

	e.db, err = sqlite.Open(cfg.Storage.Path)
	if err != nil {
		logger.Close()
		return nil, err
	}
	e.store = sqlite.NewMetricsStore(e.db, sqlite.WithCapabilityTTL(cfg.Retention.RealtimeWindow))

	var provider perf.Provider = e.store
	if cfg.Storage.PostgresDSN != "" {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		e.pg, err = postgres.Open(pctx, cfg.Storage.PostgresDSN)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		provider = perf.Compose(e.store, e.pg, e.pg, e.store)
	}

	e.engine = perf.NewEngine(provider,
		perf.WithClock(e.store),
		perf.WithLocation(loc),
		perf.WithLayout(cfg.Query.TimeLayout),
		perf.WithRetention(cfg.Retention.RealtimeWindow),
		perf.WithLogger(logger.With("component", "perf")),
	)
	e.logger.Debug("environment ready",
		"database", cfg.Storage.Path,
		"postgres", e.pg != nil,
		"timezone", loc.String())
	return e, nil
}

func (e *env) close() {
	if e.pg != nil {
		e.pg.Close()
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.logger.Debug("failed to close database", "error", err)
		}
	}
	logger.Close()
}

// queryContext bounds a command by query.timeout.
func (e *env) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Query.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.cfg.Query.Timeout)
}

// counters returns the registered counter catalog, or the built-in one
// when the agent has not registered any yet.
func (e *env) counters(ctx context.Context) []metrics.CounterInfo {
	counters, err := e.store.ListCounters(ctx)
	if err != nil || len(counters) == 0 {
		if err != nil {
			e.logger.Debug("falling back to default counters", "error", err)
		}
		return metrics.DefaultCounters()
	}
	return counters
}

// entities returns the parsed entity flags, or every entity the agent has
// seen when none were given.
func (e *env) entities(ctx context.Context, raw []string) ([]perf.Entity, error) {
	if len(raw) > 0 {
		return parseEntities(raw)
	}
	records, err := e.store.ListEntities(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errNoEntities
	}
	out := make([]perf.Entity, len(records))
	for i, r := range records {
		out[i] = r.Entity
	}
	return out, nil
}

func parseEntities(raw []string) ([]perf.Entity, error) {
	out := make([]perf.Entity, 0, len(raw))
	for _, s := range raw {
		entity, err := perf.ParseEntity(s)
		if err != nil {
			return nil, err
		}
		out = append(out, entity)
	}
	return out, nil
}

// skippable reports whether a failure is expected when sweeping every known
// entity: a window past the boundary cannot be served for entities without
// a real-time buffer.
func skippable(err error, explicit bool) bool {
	return !explicit && errors.Is(err, perf.ErrWindowUnsupported)
}

// retrieval is one entity's outcome within a session.
type retrieval struct {
	entity perf.Entity
	result *perf.Result
	err    error
}

// retrieveAll runs spec for every entity in one session, so they share the
// same now and boundary. A failing entity does not cancel the others.
func retrieveAll(ctx context.Context, session *perf.Session, entities []perf.Entity, spec perf.TimeSpec) []retrieval {
	out := make([]retrieval, len(entities))
	var g errgroup.Group
	g.SetLimit(maxParallelRetrievals)
	for i, entity := range entities {
		g.Go(func() error {
			res, err := session.Retrieve(ctx, entity, spec)
			out[i] = retrieval{entity: entity, result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
