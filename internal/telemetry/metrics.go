package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mesh_node_stats"

// Observation results recorded by the ingestion engine.
const (
	ResultNew       = "new"
	ResultChanged   = "changed"
	ResultUnchanged = "unchanged"
	ResultFailed    = "failed"
)

// Metrics holds the collectors shared by ingestion, queries and the poller.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Observations  *prometheus.CounterVec
	Batches       prometheus.Counter
	PollErrors    prometheus.Counter
	LastPoll      prometheus.Gauge
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "observations_total",
			Help:      "Node observations processed, by result",
		}, []string{"result"}),
		Batches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "batches_total",
			Help:      "Observation batches committed",
		}),
		PollErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "errors_total",
			Help:      "Mesh polls that failed to fetch or ingest nodes",
		}),
		LastPoll: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful mesh poll",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "Query latency by query name",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"query"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "errors_total",
			Help:      "Failed queries by query name",
		}, []string{"query"}),
	}
}

// Register adds every collector to registry. Returns the metrics for chaining.
func (m *Metrics) Register(registry prometheus.Registerer) *Metrics {
	registry.MustRegister(
		m.Observations,
		m.Batches,
		m.PollErrors,
		m.LastPoll,
		m.QueryDuration,
		m.QueryErrors,
	)
	return m
}

func (m *Metrics) ObserveResult(result string) {
	if m == nil {
		return
	}
	m.Observations.WithLabelValues(result).Inc()
}

func (m *Metrics) BatchCommitted() {
	if m == nil {
		return
	}
	m.Batches.Inc()
}

func (m *Metrics) PollFailed() {
	if m == nil {
		return
	}
	m.PollErrors.Inc()
}

func (m *Metrics) PollSucceeded(at time.Time) {
	if m == nil {
		return
	}
	m.LastPoll.Set(float64(at.Unix()))
}

// TrackQuery records the duration and outcome of a query started at start.
func (m *Metrics) TrackQuery(query string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	if err != nil {
		m.QueryErrors.WithLabelValues(query).Inc()
	}
}
