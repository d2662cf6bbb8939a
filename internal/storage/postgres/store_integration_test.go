//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/jackc/pgx/v5/stdlib" // wait.ForSQL needs a database/sql driver
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/willibrandon/vperf/internal/metrics"
	"github.com/willibrandon/vperf/internal/perf"
)

func setupPostgres(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "vperf",
		},
		WaitingFor: wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
			return fmt.Sprintf("postgres://test:test@%s:%s/vperf?sslmode=disable", host, port.Port())
		}).WithStartupTimeout(60 * time.Second).WithPollInterval(500 * time.Millisecond),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/vperf?sslmode=disable", host, port.Port())
	store, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(store.Close)

	require.NoError(t, store.InitSchema(ctx))
	return store
}

func TestStore_Integration(t *testing.T) {
	store := setupPostgres(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	vm := perf.Entity{Kind: perf.KindVM, ID: "web-01"}
	cpu := metrics.MetricID{Counter: metrics.CounterCPUUsage}
	net := metrics.MetricID{Counter: metrics.CounterNetReceived, Instance: "vnet0"}

	require.NoError(t, store.RegisterCounters(ctx, metrics.DefaultCounters()))
	require.NoError(t, store.SaveRollups(ctx, []metrics.Rollup{
		{Entity: vm.String(), Metric: cpu, Interval: 300, Bucket: base, Value: 10, Count: 1},
		{Entity: vm.String(), Metric: cpu, Interval: 300, Bucket: base.Add(5 * time.Minute), Value: 40, Count: 2},
		{Entity: vm.String(), Metric: net, Interval: 300, Bucket: base, Value: 1, Count: 1},
	}))

	t.Run("ListAvailableMetrics", func(t *testing.T) {
		ids, err := store.ListAvailableMetrics(ctx, vm, 0)
		require.NoError(t, err)
		assert.Equal(t, []metrics.MetricID{
			metrics.AllInstances(metrics.CounterCPUUsage),
			metrics.AllInstances(metrics.CounterNetReceived),
		}, ids)

		ids, err = store.ListAvailableMetrics(ctx, vm, perf.IntervalMonth)
		require.NoError(t, err)
		assert.Equal(t, []metrics.MetricID{metrics.AllInstances(metrics.CounterCPUUsage)}, ids)
	})

	t.Run("QueryHistorical rebuckets", func(t *testing.T) {
		got, err := store.QueryHistorical(ctx, perf.HistoricalQuery{
			Entity:   vm,
			Metrics:  []metrics.MetricID{metrics.AllInstances(metrics.CounterCPUUsage)},
			Interval: perf.IntervalWeek,
			Start:    base,
			End:      base.Add(30 * time.Minute),
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, base, got[0].Timestamp)
		assert.InDelta(t, 30.0, got[0].Value, 1e-9)
	})

	t.Run("QueryHistorical latest", func(t *testing.T) {
		got, err := store.QueryHistorical(ctx, perf.HistoricalQuery{
			Entity:     vm,
			Metrics:    []metrics.MetricID{cpu},
			Interval:   perf.IntervalDay,
			MaxSamples: 1,
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 40.0, got[0].Value)
	})

	t.Run("PruneRollups", func(t *testing.T) {
		n, err := store.PruneRollups(ctx, base.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
	})
}
