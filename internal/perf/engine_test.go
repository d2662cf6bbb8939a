package perf

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVM = Entity{Kind: KindVM, ID: "4c4c4544-0042-3510-8052-b7c04f4e4432"}

func newTestEngine(p Provider) *Engine {
	return NewEngine(p, WithClock(fixedClock(testNow)), WithLocation(time.UTC))
}

func TestEngine_RetrieveWindow_HistoricalOnlyIssuesOneQuery(t *testing.T) {
	for _, rt := range []bool{true, false} {
		p := newFakeProvider(rt)
		e := newTestEngine(p)

		res, err := e.RetrieveWindow(context.Background(), testVM, RangeWindow(ago(7200), ago(5000)), p.capability, testBoundary, testNow)
		require.NoError(t, err)

		assert.Equal(t, HistoricalOnly, res.Plan.Kind)
		require.Len(t, p.histCalls, 1)
		assert.Empty(t, p.rtCalls)
		assert.Equal(t, ago(7200), p.histCalls[0].Start)
		assert.Equal(t, ago(5000), p.histCalls[0].End)
		assert.Equal(t, 0, p.histCalls[0].MaxSamples)
		assert.Equal(t, p.ids, p.histCalls[0].Metrics)
		assert.Len(t, res.Historical, 1)
		assert.Nil(t, res.Realtime)
	}
}

func TestEngine_RetrieveWindow_RealtimeOnlyIssuesOneQuery(t *testing.T) {
	p := newFakeProvider(true)
	e := newTestEngine(p)

	res, err := e.RetrieveWindow(context.Background(), testVM, RangeWindow(ago(600), testNow), p.capability, testBoundary, testNow)
	require.NoError(t, err)

	assert.Equal(t, RealtimeOnly, res.Plan.Kind)
	assert.Empty(t, p.histCalls)
	require.Len(t, p.rtCalls, 1)
	assert.Equal(t, 20, p.rtCalls[0].RefreshRate)
	assert.Equal(t, []Interval{20}, p.listCalls, "metrics resolved at the refresh interval")
}

func TestEngine_RetrieveWindow_MergedIssuesTwoOrderedQueries(t *testing.T) {
	p := newFakeProvider(true)
	e := newTestEngine(p)

	res, err := e.RetrieveWindow(context.Background(), testVM, RangeWindow(ago(5000), ago(100)), p.capability, testBoundary, testNow)
	require.NoError(t, err)

	assert.Equal(t, Merged, res.Plan.Kind)
	require.Len(t, p.histCalls, 1)
	require.Len(t, p.rtCalls, 1)

	assert.Equal(t, ago(5000), p.histCalls[0].Start)
	assert.Equal(t, ago(3600), p.histCalls[0].End)
	assert.Equal(t, ago(3600), p.rtCalls[0].Start)
	assert.Equal(t, ago(100), p.rtCalls[0].End)

	hist, rt := res.Pair()
	require.Len(t, hist, 1)
	require.Len(t, rt, 1)
	assert.Equal(t, 1.0, hist[0].Value)
	assert.Equal(t, 2.0, rt[0].Value)
	assert.Equal(t, []float64{1, 2}, res.Samples().Values())
}

func TestEngine_RetrieveWindow_IntervalAsksForLatestSample(t *testing.T) {
	p := newFakeProvider(false)
	e := newTestEngine(p)

	res, err := e.RetrieveWindow(context.Background(), testVM, IntervalWindow(IntervalMonth), p.capability, testBoundary, testNow)
	require.NoError(t, err)

	require.Len(t, p.histCalls, 1)
	q := p.histCalls[0]
	assert.False(t, q.HasRange())
	assert.Equal(t, IntervalMonth, q.Interval)
	assert.Equal(t, 1, q.MaxSamples)
	assert.Equal(t, []Interval{IntervalMonth}, p.listCalls)
	assert.Len(t, res.Historical, 1)
}

func TestEngine_RetrieveWindow_NoMetricsYieldsEmptySet(t *testing.T) {
	p := newFakeProvider(true)
	p.ids = nil
	e := newTestEngine(p)

	res, err := e.RetrieveWindow(context.Background(), testVM, RangeWindow(ago(5000), ago(100)), p.capability, testBoundary, testNow)
	require.NoError(t, err)

	assert.Empty(t, p.histCalls)
	assert.Empty(t, p.rtCalls)
	assert.NotNil(t, res.Historical)
	assert.NotNil(t, res.Realtime)
	assert.Empty(t, res.Samples())
}

func TestEngine_RetrieveWindow_ValidationIssuesNoQueries(t *testing.T) {
	p := newFakeProvider(false)
	e := newTestEngine(p)

	_, err := e.RetrieveWindow(context.Background(), testVM, RangeWindow(ago(100), testNow), p.capability, testBoundary, testNow)
	require.ErrorIs(t, err, ErrWindowUnsupported)
	assert.Empty(t, p.listCalls)
	assert.Empty(t, p.histCalls)
}

func TestEngine_RetrieveWindow_MalformedWindowIssuesNoQueries(t *testing.T) {
	for _, w := range []ResolvedWindow{{}, IntervalWindow(0), IntervalWindow(-300)} {
		p := newFakeProvider(false)
		e := newTestEngine(p)

		_, err := e.RetrieveWindow(context.Background(), testVM, w, p.capability, testBoundary, testNow)
		require.ErrorIs(t, err, ErrInvalidWindowSpec, "window %s", w)
		assert.Empty(t, p.listCalls)
		assert.Empty(t, p.histCalls)
		assert.Empty(t, p.rtCalls)
	}
}

func TestEngine_RetrieveWindow_ProviderFailuresAreTagged(t *testing.T) {
	cause := errors.New("connection reset by peer")

	tests := []struct {
		name  string
		setup func(*fakeProvider)
		op    Op
	}{
		{"historical query", func(p *fakeProvider) { p.histErr = cause }, OpHistorical},
		{"realtime query", func(p *fakeProvider) { p.rtErr = cause }, OpRealtime},
		{"metric listing", func(p *fakeProvider) { p.listErr = cause }, OpHistorical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider(true)
			tt.setup(p)
			e := newTestEngine(p)

			res, err := e.RetrieveWindow(context.Background(), testVM, RangeWindow(ago(5000), ago(100)), p.capability, testBoundary, testNow)
			require.Error(t, err)
			assert.Nil(t, res, "no partial merge")
			assert.ErrorIs(t, err, ErrProviderQueryFailed)
			assert.ErrorIs(t, err, cause)

			var perr *ProviderError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.op, perr.Op)
			assert.Equal(t, testVM, perr.Entity)
		})
	}
}

func TestEngine_RetrieveWindow_DeadlineSurfacesQueryFailed(t *testing.T) {
	p := newFakeProvider(true)
	e := newTestEngine(p)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := e.RetrieveWindow(ctx, testVM, RangeWindow(ago(5000), ago(100)), p.capability, testBoundary, testNow)
	require.ErrorIs(t, err, ErrProviderQueryFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, p.rtCalls, "real-time query is not issued after the historical one failed")
}

func TestEngine_Retrieve_DefaultSpecUsesLastHour(t *testing.T) {
	p := newFakeProvider(true)
	e := newTestEngine(p)

	res, err := e.Retrieve(context.Background(), testVM, DefaultSpec())
	require.NoError(t, err)

	assert.Equal(t, 1, p.probeCalls)
	assert.Equal(t, RealtimeOnly, res.Plan.Kind)
	assert.Equal(t, testBoundary, p.rtCalls[0].Start)
	assert.Equal(t, testNow, p.rtCalls[0].End)
}

func TestEngine_Retrieve_ExplicitRangeStraddles(t *testing.T) {
	p := newFakeProvider(true)
	e := newTestEngine(p)

	spec := ExplicitRange(
		ago(5000).Format(DefaultTimeLayout),
		ago(100).Format(DefaultTimeLayout),
	)
	res, err := e.Retrieve(context.Background(), testVM, spec)
	require.NoError(t, err)
	assert.Equal(t, Merged, res.Plan.Kind)
}

func TestEngine_Retrieve_NamedCycle(t *testing.T) {
	p := newFakeProvider(false)
	e := newTestEngine(p)

	res, err := e.Retrieve(context.Background(), testVM, NamedCycle("year"))
	require.NoError(t, err)
	assert.Equal(t, IntervalYear, res.Window.Interval())

	_, err = e.Retrieve(context.Background(), testVM, NamedCycle("decade"))
	require.ErrorIs(t, err, ErrUnknownCycle)
}

func TestEngine_Retrieve_ProbeFailureIsUnavailable(t *testing.T) {
	p := newFakeProvider(true)
	p.probeErr = errors.New("entity not registered")
	e := newTestEngine(p)

	_, err := e.Retrieve(context.Background(), testVM, DefaultSpec())
	require.ErrorIs(t, err, ErrProviderUnavailable)

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, OpProbe, perr.Op)
	assert.Empty(t, p.listCalls)
}

func TestEngine_UsesProviderClock(t *testing.T) {
	fp := newFakeProvider(true)
	fp.now = testNow.Add(750 * time.Millisecond)
	e := NewEngine(clockProvider{fp})

	s, err := e.NewSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testNow, s.Now, "backend time is truncated to whole seconds")
	assert.Equal(t, testBoundary, s.Boundary)
}

func TestEngine_WithRetention(t *testing.T) {
	e := NewEngine(newFakeProvider(true), WithRetention(30*time.Minute))
	assert.Equal(t, testNow.Add(-30*time.Minute), e.Boundary(testNow))
}

func TestSession_BoundaryHeldAcrossEntities(t *testing.T) {
	p := newFakeProvider(true)
	e := newTestEngine(p)

	s, err := e.NewSession(context.Background())
	require.NoError(t, err)

	other := Entity{Kind: KindHost, ID: "esx01"}
	for _, entity := range []Entity{testVM, other} {
		_, err := s.Retrieve(context.Background(), entity, DefaultSpec())
		require.NoError(t, err)
	}

	require.Len(t, p.rtCalls, 2)
	assert.Equal(t, p.rtCalls[0].Start, p.rtCalls[1].Start)
	assert.Equal(t, p.rtCalls[0].End, p.rtCalls[1].End)
}

func TestEngine_ConcurrentRetrievals(t *testing.T) {
	p := newFakeProvider(true)
	e := newTestEngine(p)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Retrieve(context.Background(), testVM, DefaultSpec())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, p.rtCalls, 16)
}

func TestEngine_Idempotent(t *testing.T) {
	p := newFakeProvider(true)
	e := newTestEngine(p)
	w := RangeWindow(ago(5000), ago(100))

	first, err := e.RetrieveWindow(context.Background(), testVM, w, p.capability, testBoundary, testNow)
	require.NoError(t, err)
	second, err := e.RetrieveWindow(context.Background(), testVM, w, p.capability, testBoundary, testNow)
	require.NoError(t, err)

	assert.Equal(t, first.Plan, second.Plan)
	require.Len(t, p.histCalls, 2)
	assert.Equal(t, p.histCalls[0], p.histCalls[1])
	assert.Equal(t, p.rtCalls[0], p.rtCalls[1])
}

func TestCompose(t *testing.T) {
	hist := newFakeProvider(false)
	rt := newFakeProvider(true)

	p := Compose(rt, hist, hist, rt)
	e := newTestEngine(p)

	_, err := e.Retrieve(context.Background(), testVM, ExplicitRange(
		ago(5000).Format(DefaultTimeLayout),
		ago(100).Format(DefaultTimeLayout),
	))
	require.NoError(t, err)

	assert.Len(t, hist.histCalls, 1)
	assert.Len(t, rt.rtCalls, 1)
	assert.Equal(t, 1, rt.probeCalls)
	assert.Len(t, hist.listCalls, 2)
}

func TestParseEntity(t *testing.T) {
	e, err := ParseEntity("vm/abc")
	require.NoError(t, err)
	assert.Equal(t, Entity{Kind: KindVM, ID: "abc"}, e)
	assert.Equal(t, "vm/abc", e.String())

	for _, bad := range []string{"", "vm", "vm/", "disk/abc"} {
		_, err := ParseEntity(bad)
		assert.Error(t, err, bad)
	}
}
