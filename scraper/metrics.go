package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for fetching and crawling.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	InFlight        prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec
	OutcomesTotal   *prometheus.CounterVec
	CacheLookups    *prometheus.CounterVec
	Checkpoints     *prometheus.CounterVec
	SnapshotSize    prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_requests_total",
			Help: "Total HTTP requests issued by the fetcher.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_request_duration_seconds",
			Help:    "HTTP request latency for fetcher requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	inFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvest_requests_in_flight",
			Help: "Requests currently holding a fetch slot.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_crawl_outcomes_total",
			Help: "Frontier items by processing outcome.",
		},
		[]string{"outcome"},
	)
	cacheLookups := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_cache_lookups_total",
			Help: "Cache lookups by data type and result.",
		},
		[]string{"data_type", "result"},
	)
	checkpoints := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_checkpoints_total",
			Help: "Snapshot flushes by result.",
		},
		[]string{"result"},
	)

	snapshotSize := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvest_snapshot_records",
			Help: "Records in the snapshot file after the last successful checkpoint.",
		},
	)

	registry.MustRegister(requests, requestDuration, inFlight, errorsTotal, outcomes, cacheLookups, checkpoints, snapshotSize)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		InFlight:        inFlight,
		ErrorsTotal:     errorsTotal,
		OutcomesTotal:   outcomes,
		CacheLookups:    cacheLookups,
		Checkpoints:     checkpoints,
		SnapshotSize:    snapshotSize,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// AddInFlight moves the in-flight gauge by delta.
func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncOutcome counts a processed frontier item.
func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.OutcomesTotal.WithLabelValues(outcome).Inc()
}

// IncCacheLookup counts a cache hit or miss.
func (m *Metrics) IncCacheLookup(dataType string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(dataType, result).Inc()
}

// IncCheckpoint counts a snapshot flush.
func (m *Metrics) IncCheckpoint(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Checkpoints.WithLabelValues(result).Inc()
}

// SetSnapshotSize records the record count of the last written snapshot.
func (m *Metrics) SetSnapshotSize(n int) {
	if m == nil {
		return
	}
	m.SnapshotSize.Set(float64(n))
}
