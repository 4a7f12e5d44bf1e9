package orchestrator_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-watch-service/internal/analyze"
	"github.com/couchcryptid/quake-watch-service/internal/domain"
	"github.com/couchcryptid/quake-watch-service/internal/observability"
	"github.com/couchcryptid/quake-watch-service/internal/orchestrator"
	"github.com/couchcryptid/quake-watch-service/internal/store"
	"github.com/couchcryptid/quake-watch-service/internal/transform"
)

var baseTime = time.Date(2024, time.April, 26, 12, 0, 0, 0, time.UTC)

type stubFetcher struct {
	mu       sync.Mutex
	payloads []*domain.FeedPayload
	errs     []error
	calls    int
}

func (s *stubFetcher) Fetch(_ context.Context) (*domain.FeedPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.payloads) {
		return s.payloads[i], nil
	}
	return &domain.FeedPayload{}, nil
}

func (s *stubFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type capturingSink struct {
	mu        sync.Mutex
	published []*domain.Snapshot
	err       error
}

func (c *capturingSink) PublishRecommendations(_ context.Context, snap *domain.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published = append(c.published, snap)
	return c.err
}

func (c *capturingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func rawEvent(id string, observedAt time.Time, mag float64) domain.RawEvent {
	lat, lon, depth := 35.0, -117.5, 8.0
	return domain.RawEvent{
		ID:              id,
		ObservedAt:      observedAt,
		SourceUpdatedAt: observedAt,
		Magnitude:       &mag,
		Location:        domain.Location{Lat: &lat, Lon: &lon, DepthKm: &depth},
		Status:          "automatic",
	}
}

func defaultTransformer(t *testing.T) *transform.Engine {
	t.Helper()
	transformer, err := transform.NewEngine(transform.Config{
		MagnitudeThresholds: []float64{2.5, 4.5, 6.0, 7.0},
		ClusterRadiusKm:     100,
		ClusterWindow:       time.Hour,
		RateInterval:        time.Minute,
	})
	require.NoError(t, err)
	return transformer
}

func defaultAnalyzer(t *testing.T) *analyze.Engine {
	t.Helper()
	analyzer, err := analyze.New(analyze.Config{ClusterMinEvents: 3, RateSpikePerHour: 1000})
	require.NoError(t, err)
	return analyzer
}

func newOrchestratorWith(t *testing.T, fetcher orchestrator.Fetcher, transformer orchestrator.Transformer, analyzer orchestrator.Analyzer, sink orchestrator.Publisher, clock clockwork.Clock) *orchestrator.Orchestrator {
	t.Helper()
	return orchestrator.New(
		fetcher,
		store.New(),
		transformer,
		analyzer,
		sink,
		slog.New(slog.DiscardHandler),
		observability.NewMetricsForTesting(),
		clock,
		orchestrator.Config{
			PollInterval:    time.Minute,
			RetentionWindow: 24 * time.Hour,
		},
	)
}

func newOrchestrator(t *testing.T, fetcher orchestrator.Fetcher, sink orchestrator.Publisher, clock clockwork.Clock) *orchestrator.Orchestrator {
	t.Helper()
	return newOrchestratorWith(t, fetcher, defaultTransformer(t), defaultAnalyzer(t), sink, clock)
}

func TestRunCycle_PublishesSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	fetcher := &stubFetcher{payloads: []*domain.FeedPayload{{
		Events: []domain.RawEvent{
			rawEvent("ev-a", baseTime.Add(-time.Hour), 4.2),
			rawEvent("ev-b", baseTime.Add(-2*time.Hour), 2.1),
		},
		Skipped: 1,
	}}}
	orch := newOrchestrator(t, fetcher, nil, clock)

	_, ok := orch.Snapshot()
	assert.False(t, ok)
	require.Error(t, orch.CheckReadiness(context.Background()))

	orch.RunCycle(context.Background())

	snap, ok := orch.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Sequence)
	assert.Equal(t, baseTime, snap.CycleTime)
	assert.Len(t, snap.Events, 2)
	assert.Equal(t, domain.CycleStats{
		Fetched: 2,
		Skipped: 1,
		Added:   2,
	}, snap.Stats)

	assert.NoError(t, orch.CheckReadiness(context.Background()))
	assert.Empty(t, orch.LastError())
	assert.Equal(t, orchestrator.StateIdle, orch.State())
}

func TestRunCycle_FetchErrorRetainsSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	fetcher := &stubFetcher{
		payloads: []*domain.FeedPayload{
			{Events: []domain.RawEvent{rawEvent("ev-a", baseTime.Add(-time.Hour), 4.2)}},
			nil,
		},
		errs: []error{
			nil,
			domain.NewFetchError(domain.FetchTransient, errors.New("connection refused")),
		},
	}
	orch := newOrchestrator(t, fetcher, nil, clock)

	orch.RunCycle(context.Background())
	before, ok := orch.Snapshot()
	require.True(t, ok)
	require.Equal(t, uint64(1), before.Sequence)

	orch.RunCycle(context.Background())

	after, ok := orch.Snapshot()
	require.True(t, ok)
	assert.Same(t, before, after, "failed cycle must not replace the snapshot")
	assert.Equal(t, uint64(1), after.Sequence)
	assert.Contains(t, orch.LastError(), "connection refused")
	assert.Equal(t, orchestrator.StateIdle, orch.State())
	// Readiness sticks once a snapshot exists.
	assert.NoError(t, orch.CheckReadiness(context.Background()))
}

type flakyTransformer struct {
	inner orchestrator.Transformer
	errs  []error
	calls int
}

func (f *flakyTransformer) Derive(view []domain.EventRecord, now time.Time) (domain.DerivedFeatureSet, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return domain.DerivedFeatureSet{}, f.errs[i]
	}
	return f.inner.Derive(view, now)
}

type flakyAnalyzer struct {
	inner orchestrator.Analyzer
	errs  []error
	calls int
}

func (f *flakyAnalyzer) Analyze(derived domain.DerivedFeatureSet, now time.Time) ([]domain.Recommendation, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	return f.inner.Analyze(derived, now)
}

func TestRunCycle_DeriveErrorRetainsSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	fetcher := &stubFetcher{payloads: []*domain.FeedPayload{
		{Events: []domain.RawEvent{rawEvent("ev-a", baseTime.Add(-time.Hour), 4.2)}},
		{Events: []domain.RawEvent{rawEvent("ev-b", baseTime.Add(-time.Hour), 3.1)}},
	}}
	transformer := &flakyTransformer{
		inner: defaultTransformer(t),
		errs:  []error{nil, errors.New("cluster assignment failed")},
	}
	orch := newOrchestratorWith(t, fetcher, transformer, defaultAnalyzer(t), nil, clock)

	orch.RunCycle(context.Background())
	before, ok := orch.Snapshot()
	require.True(t, ok)
	require.Equal(t, uint64(1), before.Sequence)

	orch.RunCycle(context.Background())

	after, ok := orch.Snapshot()
	require.True(t, ok)
	assert.Same(t, before, after, "abandoned cycle must not replace the snapshot")
	assert.Equal(t, uint64(1), after.Sequence)
	assert.Contains(t, orch.LastError(), "cluster assignment failed")
	assert.Equal(t, orchestrator.StateIdle, orch.State())
	assert.NoError(t, orch.CheckReadiness(context.Background()))
}

func TestRunCycle_AnalyzeErrorRetainsSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	fetcher := &stubFetcher{payloads: []*domain.FeedPayload{
		{Events: []domain.RawEvent{rawEvent("ev-a", baseTime.Add(-time.Hour), 4.2)}},
		{Events: []domain.RawEvent{rawEvent("ev-b", baseTime.Add(-time.Hour), 3.1)}},
	}}
	analyzer := &flakyAnalyzer{
		inner: defaultAnalyzer(t),
		errs:  []error{nil, errors.New("rule evaluation failed")},
	}
	orch := newOrchestratorWith(t, fetcher, defaultTransformer(t), analyzer, nil, clock)

	orch.RunCycle(context.Background())
	before, ok := orch.Snapshot()
	require.True(t, ok)
	require.Equal(t, uint64(1), before.Sequence)

	orch.RunCycle(context.Background())

	after, ok := orch.Snapshot()
	require.True(t, ok)
	assert.Same(t, before, after, "abandoned cycle must not replace the snapshot")
	assert.Equal(t, uint64(1), after.Sequence)
	assert.Contains(t, orch.LastError(), "rule evaluation failed")
	assert.Equal(t, orchestrator.StateIdle, orch.State())
}

func TestRunCycle_SuccessClearsLastError(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	fetcher := &stubFetcher{
		payloads: []*domain.FeedPayload{
			nil,
			{Events: []domain.RawEvent{rawEvent("ev-a", baseTime.Add(-time.Hour), 4.2)}},
		},
		errs: []error{
			domain.NewFetchError(domain.FetchPermanent, errors.New("feed status 404")),
			nil,
		},
	}
	orch := newOrchestrator(t, fetcher, nil, clock)

	orch.RunCycle(context.Background())
	assert.Contains(t, orch.LastError(), "feed status 404")
	_, ok := orch.Snapshot()
	assert.False(t, ok)

	orch.RunCycle(context.Background())
	assert.Empty(t, orch.LastError())
	snap, ok := orch.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Sequence)
}

func TestRunCycle_DeduplicatesAcrossCycles(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	payload := &domain.FeedPayload{Events: []domain.RawEvent{
		rawEvent("ev-a", baseTime.Add(-time.Hour), 4.2),
	}}
	fetcher := &stubFetcher{payloads: []*domain.FeedPayload{payload, payload}}
	orch := newOrchestrator(t, fetcher, nil, clock)

	orch.RunCycle(context.Background())
	orch.RunCycle(context.Background())

	snap, ok := orch.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(2), snap.Sequence)
	assert.Len(t, snap.Events, 1)
	assert.Equal(t, 1, snap.Stats.Unchanged)
	assert.Equal(t, 0, snap.Stats.Added)
}

func TestRunCycle_EvictsOutsideRetention(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	fetcher := &stubFetcher{payloads: []*domain.FeedPayload{
		{Events: []domain.RawEvent{rawEvent("ev-old", baseTime.Add(-30*time.Hour), 3.0)}},
		{Events: []domain.RawEvent{rawEvent("ev-new", baseTime.Add(-time.Hour), 3.0)}},
	}}
	orch := newOrchestrator(t, fetcher, nil, clock)

	orch.RunCycle(context.Background())
	snap, _ := orch.Snapshot()
	// Already outside the 24h retention window on arrival.
	assert.Empty(t, snap.Events)
	assert.Equal(t, 1, snap.Stats.Evicted)

	orch.RunCycle(context.Background())
	snap, _ = orch.Snapshot()
	require.Len(t, snap.Events, 1)
	assert.Equal(t, "ev-new", snap.Events[0].ID)
}

func TestRunCycle_SinkFailureDoesNotFailCycle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	fetcher := &stubFetcher{payloads: []*domain.FeedPayload{{
		Events: []domain.RawEvent{rawEvent("ev-strong", baseTime.Add(-time.Hour), 6.5)},
	}}}
	sink := &capturingSink{err: errors.New("broker unreachable")}
	orch := newOrchestrator(t, fetcher, sink, clock)

	orch.RunCycle(context.Background())

	snap, ok := orch.Snapshot()
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Sequence)
	require.NotEmpty(t, snap.Recommendations)
	assert.Equal(t, 1, sink.count())
	assert.Empty(t, orch.LastError())
}

func TestRunCycle_SkipsSinkWithoutRecommendations(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	fetcher := &stubFetcher{payloads: []*domain.FeedPayload{{
		Events: []domain.RawEvent{rawEvent("ev-quiet", baseTime.Add(-time.Hour), 1.5)},
	}}}
	sink := &capturingSink{}
	orch := newOrchestrator(t, fetcher, sink, clock)

	orch.RunCycle(context.Background())

	snap, ok := orch.Snapshot()
	require.True(t, ok)
	assert.Empty(t, snap.Recommendations)
	assert.Equal(t, 0, sink.count())
}

func TestRun_CyclesOnTickerUntilCancelled(t *testing.T) {
	clock := clockwork.NewFakeClockAt(baseTime)
	fetcher := &stubFetcher{}
	orch := newOrchestrator(t, fetcher, nil, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	// Immediate first cycle, then one per tick.
	require.Eventually(t, func() bool { return fetcher.callCount() == 1 },
		time.Second, time.Millisecond)

	clock.BlockUntilContext(ctx, 1)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return fetcher.callCount() == 2 },
		time.Second, time.Millisecond)

	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return fetcher.callCount() == 3 },
		time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("orchestrator did not stop after cancellation")
	}
}
