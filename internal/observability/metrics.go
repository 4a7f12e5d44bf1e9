package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// refresh pipeline.
type Metrics struct {
	CyclesTotal *prometheus.CounterVec // labels: outcome={published,fetch_error,processing_error}
	FetchErrors *prometheus.CounterVec // labels: kind={transient,permanent}

	EventsFetched   prometheus.Counter
	FeaturesSkipped prometheus.Counter
	EventsAdded     prometheus.Counter
	EventsRevised   prometheus.Counter
	EventsUnchanged prometheus.Counter
	EventsEvicted   prometheus.Counter

	RecommendationsEmitted prometheus.Counter
	SinkPublishErrors      prometheus.Counter

	StoreSize           prometheus.Gauge
	SnapshotSequence    prometheus.Gauge
	OrchestratorRunning prometheus.Gauge

	FetchDuration prometheus.Histogram
	CycleDuration prometheus.Histogram
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.CyclesTotal,
		m.FetchErrors,
		m.EventsFetched,
		m.FeaturesSkipped,
		m.EventsAdded,
		m.EventsRevised,
		m.EventsUnchanged,
		m.EventsEvicted,
		m.RecommendationsEmitted,
		m.SinkPublishErrors,
		m.StoreSize,
		m.SnapshotSequence,
		m.OrchestratorRunning,
		m.FetchDuration,
		m.CycleDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_watch",
			Name:      "cycles_total",
			Help:      "Completed refresh cycles by outcome.",
		}, []string{"outcome"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quake_watch",
			Name:      "fetch_errors_total",
			Help:      "Feed fetch failures by retry classification.",
		}, []string{"kind"}),
		EventsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_watch",
			Name:      "events_fetched_total",
			Help:      "Total raw events parsed from the feed.",
		}),
		FeaturesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_watch",
			Name:      "features_skipped_total",
			Help:      "Total malformed feed features skipped during parsing.",
		}),
		EventsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_watch",
			Name:      "events_added_total",
			Help:      "Total new events inserted into the store.",
		}),
		EventsRevised: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_watch",
			Name:      "events_revised_total",
			Help:      "Total stored events revised by a newer source update.",
		}),
		EventsUnchanged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_watch",
			Name:      "events_unchanged_total",
			Help:      "Total upserts that left the stored event unchanged.",
		}),
		EventsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_watch",
			Name:      "events_evicted_total",
			Help:      "Total events evicted from the retention window.",
		}),
		RecommendationsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_watch",
			Name:      "recommendations_emitted_total",
			Help:      "Total recommendations produced across cycles.",
		}),
		SinkPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "quake_watch",
			Name:      "sink_publish_errors_total",
			Help:      "Failed publishes to the recommendation sink.",
		}),
		StoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_watch",
			Name:      "store_size",
			Help:      "Live events currently held in the ingestion store.",
		}),
		SnapshotSequence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_watch",
			Name:      "snapshot_sequence",
			Help:      "Sequence number of the currently published snapshot.",
		}),
		OrchestratorRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quake_watch",
			Name:      "orchestrator_running",
			Help:      "1 when the refresh loop is active, 0 when shut down.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quake_watch",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of one feed fetch and parse.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "quake_watch",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-ingest-transform-analyze-publish cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}
