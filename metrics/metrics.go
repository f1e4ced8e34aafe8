// Package metrics bundles the Prometheus collectors of the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector on a dedicated registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry           *prometheus.Registry
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ErrorsTotal        *prometheus.CounterVec
	CyclesTotal        *prometheus.CounterVec
	LoopInterval       *prometheus.GaugeVec
	ListingsDiscovered prometheus.Counter
	ListingsDropped    *prometheus.CounterVec
	SpecsExtracted     prometheus.Counter
	StatisticsWritten  prometheus.Counter
	NotificationsTotal *prometheus.CounterVec
}

// New constructs and registers all metrics on a dedicated registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kona_requests_total",
			Help: "Total HTTP requests issued to the listing source.",
		},
		[]string{"phase"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kona_request_duration_seconds",
			Help:    "HTTP request latency against the listing source.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"phase"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kona_errors_total",
			Help: "Total number of fetch errors by type.",
		},
		[]string{"error_type"},
	)
	cycles := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kona_loop_cycles_total",
			Help: "Loop cycles by loop and outcome.",
		},
		[]string{"loop", "outcome"},
	)
	interval := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kona_loop_interval_seconds",
			Help: "Current polling interval of each loop.",
		},
		[]string{"loop"},
	)
	discovered := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kona_listings_discovered_total",
			Help: "Listings inserted by discovery.",
		},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kona_listings_dropped_total",
			Help: "Listings removed because extraction cannot succeed.",
		},
		[]string{"reason"},
	)
	extracted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kona_specs_extracted_total",
			Help: "Vehicle specs persisted by extraction.",
		},
	)
	statistics := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kona_statistics_written_total",
			Help: "Price statistics upserted.",
		},
	)
	notifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kona_notifications_total",
			Help: "Notifier invocations by notifier and result.",
		},
		[]string{"notifier", "result"},
	)

	registry.MustRegister(requests, requestDuration, errorsTotal, cycles, interval,
		discovered, dropped, extracted, statistics, notifications)

	return &Metrics{
		Registry:           registry,
		RequestsTotal:      requests,
		RequestDuration:    requestDuration,
		ErrorsTotal:        errorsTotal,
		CyclesTotal:        cycles,
		LoopInterval:       interval,
		ListingsDiscovered: discovered,
		ListingsDropped:    dropped,
		SpecsExtracted:     extracted,
		StatisticsWritten:  statistics,
		NotificationsTotal: notifications,
	}
}

// IncRequest increments the requests counter for a phase.
func (m *Metrics) IncRequest(phase string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(phase).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncCycle records one loop cycle.
func (m *Metrics) IncCycle(loop, outcome string) {
	if m == nil {
		return
	}
	m.CyclesTotal.WithLabelValues(loop, outcome).Inc()
}

// SetInterval publishes a loop's current interval.
func (m *Metrics) SetInterval(loop string, d time.Duration) {
	if m == nil {
		return
	}
	m.LoopInterval.WithLabelValues(loop).Set(d.Seconds())
}

// AddDiscovered adds n newly inserted listings.
func (m *Metrics) AddDiscovered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ListingsDiscovered.Add(float64(n))
}

// IncDropped counts a removed listing.
func (m *Metrics) IncDropped(reason string) {
	if m == nil {
		return
	}
	m.ListingsDropped.WithLabelValues(reason).Inc()
}

// IncExtracted counts a persisted spec.
func (m *Metrics) IncExtracted() {
	if m == nil {
		return
	}
	m.SpecsExtracted.Inc()
}

// IncStatistics counts an upserted price statistic.
func (m *Metrics) IncStatistics() {
	if m == nil {
		return
	}
	m.StatisticsWritten.Inc()
}

// IncNotification counts one notifier invocation.
func (m *Metrics) IncNotification(notifier, result string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(notifier, result).Inc()
}
