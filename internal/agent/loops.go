package agent

import (
	"context"
	"errors"
	"time"

	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/storage/sqlite"
)

// sampleLoop samples every refresh interval until ctx is done.
func (a *Agent) sampleLoop(ctx context.Context) error {
	interval := a.config.Collector.RefreshRate
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("sampler started", "interval", interval)
	a.sampleAndRecover(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.sampleAndRecover(ctx)
		}
	}
}

// sampleAndRecover runs one pass and redials libvirt when it failed.
func (a *Agent) sampleAndRecover(ctx context.Context) {
	if err := a.sampleOnce(ctx); err != nil && ctx.Err() == nil && a.conn != nil {
		if rerr := a.conn.Reconnect(ctx); rerr != nil && ctx.Err() == nil {
			a.recordError("libvirt", rerr)
		}
	}
}

// sampleOnce reads one pass from the sampler, buffers the samples and
// refreshes every entity's capability.
func (a *Agent) sampleOnce(ctx context.Context) error {
	passes, err := a.sampler.Sample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.recordError("sampler", err)
		}
		return err
	}

	now := a.now()
	var firstErr error
	for _, es := range passes {
		key := es.Entity.String()
		if len(es.Samples) > 0 {
			a.collector.RecordBatch(key, es.Samples)
		}
		if err := a.store.SaveCapability(ctx, es.Entity, es.Capability, now); err != nil {
			a.recordError("capability", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if a.statusStore != nil {
		a.statusWriteFailed("last_sample", a.statusStore.UpdateLastSample(now, len(passes)))
	}
	a.logger.Debug("sampling pass complete", "entities", len(passes))
	return firstErr
}

// statusWriteFailed logs a failed agent_status update. The loops keep
// running; `vperf-agent status` just shows older values.
func (a *Agent) statusWriteFailed(field string, err error) {
	if err != nil {
		a.logger.Warn("failed to update agent status", "field", field, "error", err)
	}
}

// persistLoop runs the collector's flush goroutine for the agent's lifetime.
func (a *Agent) persistLoop(ctx context.Context) error {
	if err := a.collector.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return a.collector.Stop()
}

// rollupLoop rolls up closed buckets every rollup interval.
func (a *Agent) rollupLoop(ctx context.Context) error {
	interval := a.config.Collector.RollupInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.rollupOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.rollupOnce(ctx)
		}
	}
}

// rollupOnce aggregates every bucket that closed at least two persist
// intervals ago, so samples still buffered in the collector are never
// left out, then mirrors the result.
func (a *Agent) rollupOnce(ctx context.Context) []metrics.Rollup {
	upTo := a.now().Add(-2 * a.config.Collector.PersistInterval)
	rollups, err := a.store.Rollup(ctx, int(sqlite.BaseRollupInterval), upTo)
	if err != nil {
		if ctx.Err() == nil {
			a.recordError("rollup", err)
		}
		return nil
	}

	if len(rollups) > 0 {
		newest := rollups[len(rollups)-1].Bucket
		if a.statusStore != nil {
			a.statusWriteFailed("last_rollup", a.statusStore.UpdateLastRollup(newest))
		}
		a.logger.Debug("rolled up", "buckets", len(rollups), "newest", newest)
	}

	a.mirrorRollups(ctx, rollups)
	return rollups
}

// maxUnmirrored bounds the rollups held for a mirror that keeps failing.
const maxUnmirrored = 50000

// mirrorRollups forwards rollups, together with any earlier batch the
// mirror rejected, to the mirror.
func (a *Agent) mirrorRollups(ctx context.Context, rollups []metrics.Rollup) {
	if a.mirror == nil {
		return
	}

	a.mu.Lock()
	pending := append(a.unmirrored, rollups...)
	a.unmirrored = nil
	a.mu.Unlock()

	if len(pending) == 0 {
		return
	}
	if err := a.mirror.SaveRollups(ctx, pending); err != nil {
		a.mu.Lock()
		a.unmirrored = append(pending, a.unmirrored...)
		if over := len(a.unmirrored) - maxUnmirrored; over > 0 {
			a.unmirrored = a.unmirrored[over:]
			a.logger.Warn("mirror backlog full, dropping oldest rollups", "dropped", over)
		}
		a.mu.Unlock()
		if !errors.Is(err, context.Canceled) {
			a.recordError("mirror", err)
		}
	}
}

// recordError logs a loop failure and counts it in the status row.
func (a *Agent) recordError(source string, err error) {
	msg := source + ": " + err.Error()
	if IsDiskFullError(err) {
		a.logger.Error("disk full, samples may not be persisted", "source", source, "error", err)
	} else {
		a.logger.Warn("loop error", "source", source, "error", err)
	}
	if a.statusStore != nil {
		a.statusWriteFailed("error_count", a.statusStore.IncrementErrorCount(msg))
	}
}
