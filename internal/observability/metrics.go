package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spc_outlook"

// Metrics holds the Prometheus counters, histograms, and gauges for the outlook service.
type Metrics struct {
	// Feed retrieval metrics.
	FeedFetches       *prometheus.CounterVec   // labels: hazard, status={ok,http_error,timeout,invalid_body,empty}
	FeedFetchDuration *prometheus.HistogramVec // labels: hazard
	FeedCache         *prometheus.CounterVec   // labels: result={hit,miss}

	GeometryAnomalies prometheus.Counter

	// Cycle metrics.
	Cycles               *prometheus.CounterVec // labels: outcome={success,partial,failed,cancelled}
	CycleDuration        prometheus.Histogram
	LastSuccessTimestamp prometheus.Gauge
	RefresherRunning     prometheus.Gauge
	RefreshJoins         prometheus.Counter

	SinkErrors *prometheus.CounterVec // labels: sink
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FeedFetches,
		m.FeedFetchDuration,
		m.FeedCache,
		m.GeometryAnomalies,
		m.Cycles,
		m.CycleDuration,
		m.LastSuccessTimestamp,
		m.RefresherRunning,
		m.RefreshJoins,
		m.SinkErrors,
	)
	return m
}

// NewUnregisteredMetrics creates Metrics that are not exported anywhere, for
// one-shot tools that never serve /metrics.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics()
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FeedFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_fetches_total",
			Help:      "SPC layer fetches by hazard and outcome status.",
		}, []string{"hazard", "status"}),
		FeedFetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "SPC layer request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"hazard"}),
		FeedCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_cache_total",
			Help:      "Conditional GET revalidations by result.",
		}, []string{"result"}),
		GeometryAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geometry_anomalies_total",
			Help:      "Features skipped for missing or degenerate geometry.",
		}),
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Resolution cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-match-aggregate cycle.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		LastSuccessTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle.",
		}),
		RefresherRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refresher_running",
			Help:      "1 when the periodic refresher is active, 0 when shut down.",
		}),
		RefreshJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_joins_total",
			Help:      "Refresh requests that joined an in-flight cycle.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Snapshot sink publish failures by sink.",
		}, []string{"sink"}),
	}
}
