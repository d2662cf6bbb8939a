package agent

import (
	"context"
	"log/slog"
	"time"
)

// PruneFunc deletes data older than before and returns the rows removed.
type PruneFunc func(ctx context.Context, before time.Time) (int64, error)

// pruneTarget pairs a prune function with how long its data is kept.
type pruneTarget struct {
	name      string
	retention time.Duration
	prune     PruneFunc
}

// RetentionManager periodically prunes samples that fell out of their
// retention window. It runs one prune immediately and then every interval.
type RetentionManager struct {
	targets  []pruneTarget
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetentionManager creates a RetentionManager that prunes every interval.
func NewRetentionManager(interval time.Duration, logger *slog.Logger) *RetentionManager {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionManager{
		interval: interval,
		logger:   logger.With("component", "retention"),
		now:      time.Now,
	}
}

// Add registers data kept for retention. A non-positive retention keeps
// the data forever.
func (rm *RetentionManager) Add(name string, retention time.Duration, prune PruneFunc) {
	rm.targets = append(rm.targets, pruneTarget{name: name, retention: retention, prune: prune})
}

// Run prunes until ctx is done.
func (rm *RetentionManager) Run(ctx context.Context) error {
	rm.logger.Info("starting retention manager", "interval", rm.interval, "targets", len(rm.targets))

	rm.PruneNow(ctx)

	ticker := time.NewTicker(rm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rm.PruneNow(ctx)
		}
	}
}

// PruneNow runs one prune cycle over every target and returns the total
// rows removed. A failing target is logged and skipped.
func (rm *RetentionManager) PruneNow(ctx context.Context) int64 {
	now := rm.now()
	var total int64
	for _, t := range rm.targets {
		if t.retention <= 0 {
			continue
		}
		pruned, err := t.prune(ctx, now.Add(-t.retention))
		total += pruned
		if err != nil {
			if ctx.Err() != nil {
				return total
			}
			rm.logger.Warn("prune failed", "target", t.name, "error", err)
			continue
		}
		if pruned > 0 {
			rm.logger.Debug("pruned", "target", t.name, "rows", pruned, "retention", t.retention)
		}
	}

	if total > 0 {
		rm.logger.Info("retention prune complete", "rows", total)
	}
	return total
}
