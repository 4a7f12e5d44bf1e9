// Package orchestrator drives the refresh cycle: fetch, ingest, evict,
// transform, analyze, publish. Cycles run one at a time on a fixed ticker;
// the published snapshot is swapped atomically and the previous one is
// retained whenever a cycle fails.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/quake-watch-service/internal/domain"
	"github.com/couchcryptid/quake-watch-service/internal/observability"
	"github.com/couchcryptid/quake-watch-service/internal/store"
)

// State is the orchestrator's position in one cycle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateProcessing
	StatePublished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateProcessing:
		return "processing"
	case StatePublished:
		return "published"
	default:
		return "unknown"
	}
}

// Fetcher retrieves one feed payload. Failures are *domain.FetchError.
type Fetcher interface {
	Fetch(ctx context.Context) (*domain.FeedPayload, error)
}

// Transformer derives features from a store view.
type Transformer interface {
	Derive(view []domain.EventRecord, now time.Time) (domain.DerivedFeatureSet, error)
}

// Analyzer produces ranked recommendations from derived features.
type Analyzer interface {
	Analyze(derived domain.DerivedFeatureSet, now time.Time) ([]domain.Recommendation, error)
}

// Publisher forwards a published snapshot's recommendations to an external
// sink. Publish failures never fail the cycle.
type Publisher interface {
	PublishRecommendations(ctx context.Context, snap *domain.Snapshot) error
}

// Config holds the orchestrator's schedule and retention settings.
type Config struct {
	PollInterval    time.Duration
	RetentionWindow time.Duration
}

// Orchestrator owns the store and the published snapshot. It is the single
// writer; readers access the snapshot through Snapshot.
type Orchestrator struct {
	fetcher     Fetcher
	store       *store.Store
	transformer Transformer
	analyzer    Analyzer
	sink        Publisher // nil when no sink is configured
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	cfg         Config

	state    atomic.Int32
	snapshot atomic.Pointer[domain.Snapshot]
	sequence atomic.Uint64
	lastErr  atomic.Pointer[string]
	ready    atomic.Bool
}

// New creates an Orchestrator. Pass a nil sink to disable external publishing.
func New(
	fetcher Fetcher,
	st *store.Store,
	transformer Transformer,
	analyzer Analyzer,
	sink Publisher,
	logger *slog.Logger,
	metrics *observability.Metrics,
	clock clockwork.Clock,
	cfg Config,
) *Orchestrator {
	return &Orchestrator{
		fetcher:     fetcher,
		store:       st,
		transformer: transformer,
		analyzer:    analyzer,
		sink:        sink,
		logger:      logger,
		metrics:     metrics,
		clock:       clock,
		cfg:         cfg,
	}
}

// Run executes an immediate first cycle, then one cycle per poll interval,
// until the context is cancelled. A cycle that overruns the interval defers
// the next tick; cycles never overlap. Returns nil on clean shutdown.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("orchestrator started",
		"poll_interval", o.cfg.PollInterval,
		"retention_window", o.cfg.RetentionWindow,
	)
	o.metrics.OrchestratorRunning.Set(1)
	defer o.metrics.OrchestratorRunning.Set(0)

	o.RunCycle(ctx)

	ticker := o.clock.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("orchestrator stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			o.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full cycle. A cycle already past the fetch is allowed
// to finish even if the context is cancelled, so the store is never left
// partially updated.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	start := o.clock.Now()
	o.setState(StateFetching)
	defer o.setState(StateIdle)

	payload, err := o.fetcher.Fetch(ctx)
	o.metrics.FetchDuration.Observe(o.clock.Since(start).Seconds())
	if err != nil {
		kind := domain.FetchErrorKindOf(err)
		o.metrics.FetchErrors.WithLabelValues(string(kind)).Inc()
		o.metrics.CyclesTotal.WithLabelValues("fetch_error").Inc()
		o.recordError(err)
		o.logger.Warn("fetch failed, snapshot retained",
			"kind", kind,
			"error", err,
			"snapshot_sequence", o.sequence.Load(),
		)
		return
	}

	o.setState(StateProcessing)
	now := o.clock.Now()

	o.metrics.EventsFetched.Add(float64(len(payload.Events)))
	o.metrics.FeaturesSkipped.Add(float64(payload.Skipped))

	upserted := o.store.Upsert(payload.Events)
	evicted := o.store.Evict(now.Add(-o.cfg.RetentionWindow))
	view := o.store.SnapshotView()

	o.metrics.EventsAdded.Add(float64(upserted.Added))
	o.metrics.EventsRevised.Add(float64(upserted.Revised))
	o.metrics.EventsUnchanged.Add(float64(upserted.Unchanged))
	o.metrics.EventsEvicted.Add(float64(evicted))
	o.metrics.StoreSize.Set(float64(len(view)))

	derived, err := o.transformer.Derive(view, now)
	if err != nil {
		o.abandonCycle("derive failed", err)
		return
	}

	recommendations, err := o.analyzer.Analyze(derived, now)
	if err != nil {
		o.abandonCycle("analyze failed", err)
		return
	}

	snap := &domain.Snapshot{
		Events:          view,
		Derived:         derived,
		Recommendations: recommendations,
		CycleTime:       now,
		Sequence:        o.sequence.Add(1),
		Stats: domain.CycleStats{
			Fetched:         len(payload.Events),
			Skipped:         payload.Skipped,
			Added:           upserted.Added,
			Revised:         upserted.Revised,
			Unchanged:       upserted.Unchanged,
			Evicted:         evicted,
			Recommendations: len(recommendations),
		},
	}
	o.snapshot.Store(snap)
	o.setState(StatePublished)
	o.ready.Store(true)
	o.clearError()

	o.metrics.CyclesTotal.WithLabelValues("published").Inc()
	o.metrics.RecommendationsEmitted.Add(float64(len(recommendations)))
	o.metrics.SnapshotSequence.Set(float64(snap.Sequence))
	o.metrics.CycleDuration.Observe(o.clock.Since(start).Seconds())

	o.logger.Info("cycle published",
		"sequence", snap.Sequence,
		"fetched", snap.Stats.Fetched,
		"skipped", snap.Stats.Skipped,
		"added", snap.Stats.Added,
		"revised", snap.Stats.Revised,
		"unchanged", snap.Stats.Unchanged,
		"evicted", snap.Stats.Evicted,
		"recommendations", snap.Stats.Recommendations,
	)

	if o.sink != nil && len(recommendations) > 0 {
		if err := o.sink.PublishRecommendations(ctx, snap); err != nil {
			o.metrics.SinkPublishErrors.Inc()
			o.logger.Warn("sink publish failed", "error", err, "sequence", snap.Sequence)
		}
	}
}

// abandonCycle records a processing fault. The prior snapshot stays published:
// a stale-but-valid snapshot beats a corrupt one.
func (o *Orchestrator) abandonCycle(msg string, err error) {
	o.metrics.CyclesTotal.WithLabelValues("processing_error").Inc()
	o.recordError(err)
	o.logger.Error(msg+", cycle abandoned",
		"error", err,
		"snapshot_sequence", o.sequence.Load(),
	)
}

// Snapshot returns the current published snapshot, or false before the first
// successful cycle. The returned snapshot is immutable.
func (o *Orchestrator) Snapshot() (*domain.Snapshot, bool) {
	snap := o.snapshot.Load()
	return snap, snap != nil
}

// CheckReadiness returns nil once a snapshot has been published.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	if !o.ready.Load() {
		return errors.New("no snapshot published yet")
	}
	return nil
}

// State returns the orchestrator's current cycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// LastError returns the most recent cycle error, or "" when the latest cycle
// published successfully.
func (o *Orchestrator) LastError() string {
	if msg := o.lastErr.Load(); msg != nil {
		return *msg
	}
	return ""
}

func (o *Orchestrator) setState(s State) {
	o.state.Store(int32(s))
}

func (o *Orchestrator) recordError(err error) {
	msg := err.Error()
	o.lastErr.Store(&msg)
}

func (o *Orchestrator) clearError() {
	o.lastErr.Store(nil)
}
