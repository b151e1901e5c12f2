// Package metrics exposes the Prometheus instrumentation for the probe core.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the probe collectors on their own registry. It is injected
// into the scheduler rather than living as a process-wide singleton.
type Metrics struct {
	registry *prometheus.Registry

	checksTotal     *prometheus.CounterVec
	latencyMs       *prometheus.HistogramVec
	manualQueueSize prometheus.Gauge
}

// New creates the collectors and registers them together with the standard
// process and Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pingtower_checks_total",
			Help: "Total number of URL checks.",
		}, []string{"target_id", "outcome", "status_code"}),
		latencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pingtower_latency_ms",
			Help:    "URL check latency in milliseconds.",
			Buckets: []float64{50, 100, 200, 300, 500, 750, 1000, 1500, 2000, 3000, 5000, 10000},
		}, []string{"target_id"}),
		manualQueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pingtower_manual_queue_size",
			Help: "Number of targets waiting in the manual probe queue.",
		}),
	}
	m.registry.MustRegister(
		m.checksTotal,
		m.latencyMs,
		m.manualQueueSize,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordCheck records the outcome and latency of one completed probe.
func (m *Metrics) RecordCheck(targetID int64, ok bool, statusCode *int, latencyMs int64) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	status := "none"
	if statusCode != nil {
		status = strconv.Itoa(*statusCode)
	}
	id := strconv.FormatInt(targetID, 10)
	m.checksTotal.WithLabelValues(id, outcome, status).Inc()
	if latencyMs >= 0 {
		m.latencyMs.WithLabelValues(id).Observe(float64(latencyMs))
	}
}

// SetManualQueueSize updates the manual queue gauge.
func (m *Metrics) SetManualQueueSize(n int) {
	if n < 0 {
		n = 0
	}
	m.manualQueueSize.Set(float64(n))
}

// Handler returns the exposition handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
