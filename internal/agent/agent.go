// Package agent implements vperf-agent, the daemon that samples the
// hypervisor and keeps the real-time and rollup stores current.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/willibrandon/vperf/internal/config"
	"github.com/willibrandon/vperf/internal/libvirt"
	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/storage/postgres"
	"github.com/willibrandon/vperf/internal/storage/sqlite"
)

// Version is set by ldflags during build
var Version = "dev"

// Sampler reads one pass of samples from every monitored entity.
type Sampler interface {
	Sample(ctx context.Context) ([]libvirt.EntitySamples, error)
}

// RollupMirror receives every rollup written locally.
type RollupMirror interface {
	SaveRollups(ctx context.Context, rollups []metrics.Rollup) error
	PruneRollups(ctx context.Context, before time.Time) (int64, error)
}

// Agent is the vperf-agent daemon.
type Agent struct {
	config *config.Config
	db     *sqlite.DB
	store  *sqlite.MetricsStore
	mirror RollupMirror
	pg     *postgres.Store

	conn      *libvirt.ConnManager
	sampler   Sampler
	collector *metrics.Collector

	statusStore *AgentStatusStore
	retention   *RetentionManager

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	// unmirrored holds rollups the mirror rejected, retried next round.
	mu         sync.Mutex
	unmirrored []metrics.Rollup

	pidFile    string
	configHash string
	logger     *slog.Logger
	debug      bool
	now        func() time.Time
}

// Option configures an Agent.
type Option func(*Agent)

// WithSampler replaces the libvirt sampler.
func WithSampler(s Sampler) Option {
	return func(a *Agent) {
		a.sampler = s
	}
}

// WithMirror replaces the PostgreSQL rollup mirror.
func WithMirror(m RollupMirror) Option {
	return func(a *Agent) {
		a.mirror = m
	}
}

// WithPIDFile sets the PID file path.
func WithPIDFile(path string) Option {
	return func(a *Agent) {
		a.pidFile = path
	}
}

// WithLogger sets the agent's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = l
	}
}

// New creates a new Agent with the given configuration.
func New(cfg *config.Config, debug bool, opts ...Option) (*Agent, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	ctx, cancel := context.WithCancel(context.Background())

	a := &Agent{
		config:  cfg,
		ctx:     ctx,
		cancel:  cancel,
		debug:   debug,
		pidFile: DefaultPIDFilePath(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.logger = a.logger.With("component", "agent")

	a.configHash = computeConfigHash(cfg)
	return a, nil
}

// Start opens the stores, claims the PID file and launches the sampling,
// persist, rollup and retention loops. It returns once they are running.
func (a *Agent) Start() error {
	a.logger.Info("starting vperf-agent", "version", Version, "pid", os.Getpid())

	dbPath := a.config.Storage.Path
	if err := CheckMinDiskSpace(dbPath); err != nil {
		return err
	}
	if err := CheckDatabaseIntegrity(dbPath); err != nil {
		var corrupt *CorruptionError
		if !errors.As(err, &corrupt) {
			return err
		}
		backup, rerr := RecreateDatabase(dbPath)
		if rerr != nil {
			return rerr
		}
		a.logger.Warn("database corrupted, starting fresh", "details", corrupt.Details, "backup", backup)
	}

	db, err := sqlite.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db

	if err := NewSchemaManager(db.Conn()).CheckAndMigrate(); err != nil {
		a.closeStores()
		return err
	}

	a.store = sqlite.NewMetricsStore(db, sqlite.WithCapabilityTTL(a.config.Retention.RealtimeWindow))
	if err := a.store.RegisterCounters(a.ctx, metrics.DefaultCounters()); err != nil {
		a.closeStores()
		return fmt.Errorf("failed to register counters: %w", err)
	}

	a.statusStore = NewAgentStatusStore(db.Conn())
	if err := a.statusStore.InitSchema(); err != nil {
		a.closeStores()
		return fmt.Errorf("failed to init agent_status schema: %w", err)
	}

	if a.mirror == nil && a.config.Storage.PostgresDSN != "" {
		if err := a.openPostgres(); err != nil {
			a.closeStores()
			return err
		}
	}

	if a.sampler == nil {
		a.conn = libvirt.NewConnManager(a.config.Libvirt.URI, a.config.Libvirt.RetryWait, time.Second, a.logger)
		a.sampler = libvirt.NewSampler(a.conn, int(a.config.Collector.RefreshRate/time.Second), a.logger)
	}

	if err := WritePIDFile(a.pidFile); err != nil {
		a.closeStores()
		return err
	}

	status := &AgentStatus{
		PID:        os.Getpid(),
		StartTime:  a.now(),
		Version:    Version,
		ConfigHash: a.configHash,
	}
	if err := a.statusStore.Upsert(status); err != nil {
		_ = RemovePIDFile(a.pidFile)
		a.closeStores()
		return fmt.Errorf("failed to write agent status: %w", err)
	}

	a.collector = metrics.NewCollector(
		metrics.WithCapacity(a.config.Collector.BufferCapacity),
		metrics.WithSink(a.store),
		metrics.WithPersistInterval(a.config.Collector.PersistInterval),
		metrics.WithLogger(a.logger.With("component", "collector")),
	)

	a.retention = NewRetentionManager(time.Hour, a.logger)
	a.retention.now = a.now
	a.retention.Add("realtime_samples", a.config.Retention.RealtimeWindow, a.store.PruneRealtime)
	a.retention.Add("rollup_samples", a.config.Retention.Rollups, a.store.PruneRollups)
	if a.mirror != nil {
		a.retention.Add("mirror_rollups", a.config.Retention.Rollups, a.mirror.PruneRollups)
	}

	group, gctx := errgroup.WithContext(a.ctx)
	a.group = group
	group.Go(func() error { return a.sampleLoop(gctx) })
	group.Go(func() error { return a.persistLoop(gctx) })
	group.Go(func() error { return a.rollupLoop(gctx) })
	group.Go(func() error { return a.retention.Run(gctx) })

	a.logger.Info("agent started",
		"database", dbPath,
		"refresh_rate", a.config.Collector.RefreshRate,
		"mirror", a.mirror != nil)
	if a.debug {
		a.logger.Debug("config hash", "hash", a.configHash)
	}
	return nil
}

// Run starts the agent and blocks until ctx is done, then stops it.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-a.ctx.Done():
	}
	return a.Stop()
}

// Stop cancels the loops, waits up to five seconds for them, checkpoints
// the WAL and releases the PID file.
func (a *Agent) Stop() error {
	a.logger.Info("stopping vperf-agent")
	a.cancel()

	var loopErr error
	if a.group != nil {
		done := make(chan error, 1)
		go func() { done <- a.group.Wait() }()
		select {
		case loopErr = <-done:
			a.logger.Info("all loops stopped")
		case <-time.After(5 * time.Second):
			a.logger.Warn("shutdown timeout, forcing exit")
		}
	}

	if a.db != nil {
		if err := a.db.Checkpoint(); err != nil {
			a.logger.Debug("WAL checkpoint failed", "error", err)
		}
	}
	if a.statusStore != nil {
		a.statusWriteFailed("delete", a.statusStore.Delete())
	}
	if a.group != nil {
		if err := RemovePIDFile(a.pidFile); err != nil {
			a.logger.Debug("failed to remove PID file", "error", err)
		}
	}
	a.closeStores()

	a.logger.Info("agent stopped")
	return loopErr
}

// Shutdown is an alias for Stop (for kardianos/service compatibility).
func (a *Agent) Shutdown() error {
	return a.Stop()
}

// Wait blocks until the agent is stopped.
func (a *Agent) Wait() {
	<-a.ctx.Done()
}

// Config returns the agent's configuration.
func (a *Agent) Config() *config.Config {
	return a.config
}

// Store returns the agent's sample store. Nil before Start.
func (a *Agent) Store() *sqlite.MetricsStore {
	return a.store
}

func (a *Agent) openPostgres() error {
	ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
	defer cancel()

	pg, err := postgres.Open(ctx, a.config.Storage.PostgresDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pg.InitSchema(ctx); err != nil {
		pg.Close()
		return fmt.Errorf("failed to init postgres schema: %w", err)
	}
	if err := pg.RegisterCounters(ctx, metrics.DefaultCounters()); err != nil {
		pg.Close()
		return fmt.Errorf("failed to register counters in postgres: %w", err)
	}
	a.pg = pg
	a.mirror = pg
	return nil
}

func (a *Agent) closeStores() {
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Debug("libvirt close failed", "error", err)
		}
	}
	if a.pg != nil {
		a.pg.Close()
		a.pg = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Debug("failed to close database", "error", err)
		}
		a.db = nil
	}
}

// computeConfigHash fingerprints the settings that change what the agent
// writes, so `status` can show whether a running agent has stale config.
func computeConfigHash(cfg *config.Config) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%v|%v|%v|%v|%v",
		cfg.Storage.Path,
		cfg.Storage.PostgresDSN,
		cfg.Libvirt.URI,
		cfg.Collector.RefreshRate,
		cfg.Collector.PersistInterval,
		cfg.Collector.RollupInterval,
		cfg.Retention.RealtimeWindow,
		cfg.Retention.Rollups,
	)
	return hex.EncodeToString(h.Sum(nil))[:12]
}
