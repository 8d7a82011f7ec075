// Package metrics exposes the process counters served on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dotcommander/lerim/internal/models"
)

// Metrics holds the pipeline counters on a private registry so tests can
// build as many instances as they like without collisions.
type Metrics struct {
	registry *prometheus.Registry

	SyncCycles    *prometheus.CounterVec
	JobsProcessed *prometheus.CounterVec
	QueueDepth    *prometheus.GaugeVec
}

// New builds a registry with the lerim counters plus the standard Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SyncCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lerim_sync_cycles_total",
			Help: "Sync and maintain cycles by terminal status.",
		}, []string{"status"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lerim_jobs_processed_total",
			Help: "Extract jobs by processing result.",
		}, []string{"result"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lerim_queue_depth",
			Help: "Jobs currently in the queue by status.",
		}, []string{"status"}),
	}
	reg.MustRegister(m.SyncCycles, m.JobsProcessed, m.QueueDepth)
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

// ObserveQueue replaces the queue-depth gauge with a fresh status breakdown.
// Statuses absent from counts are reset to zero so a drained status does not
// linger at its last value.
func (m *Metrics) ObserveQueue(counts map[models.JobStatus]int) {
	for _, status := range models.AllJobStatuses() {
		m.QueueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
