// Package metrics exposes Prometheus instrumentation for compilations,
// port allocations, backend calls and task events.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics holds the collectors on a dedicated registry.
type Metrics struct {
	registry *prometheus.Registry

	compilationsTotal    *prometheus.CounterVec
	compileErrorsTotal   *prometheus.CounterVec
	compileDuration      prometheus.Histogram
	portAllocationsTotal prometheus.Counter
	portsAssigned        prometheus.Gauge
	backendRequestsTotal *prometheus.CounterVec
	taskEventsTotal      *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		compilationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marathoner_compilations_total",
				Help: "Number of topology compilations by result.",
			},
			[]string{"result"},
		),
		compileErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marathoner_compile_errors_total",
				Help: "Number of failed topology compilations by reason.",
			},
			[]string{"reason"},
		),
		compileDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "marathoner_compile_duration_seconds",
				Help:    "Time taken to compile a topology.",
				Buckets: prometheus.DefBuckets,
			},
		),
		portAllocationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "marathoner_port_allocations_total",
				Help: "Total number of service ports handed out.",
			},
		),
		portsAssigned: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "marathoner_ports_assigned",
				Help: "Number of endpoints currently holding a service port.",
			},
		),
		backendRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marathoner_backend_requests_total",
				Help: "Number of backend API calls by operation and result.",
			},
			[]string{"operation", "result"},
		),
		taskEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "marathoner_task_events_total",
				Help: "Number of task status events received by task state.",
			},
			[]string{"state"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.compilationsTotal,
		m.compileErrorsTotal,
		m.compileDuration,
		m.portAllocationsTotal,
		m.portsAssigned,
		m.backendRequestsTotal,
		m.taskEventsTotal,
	)

	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCompile records one compilation. reason is empty on success.
func (m *Metrics) ObserveCompile(d time.Duration, reason string) {
	m.compileDuration.Observe(d.Seconds())
	if reason == "" {
		m.compilationsTotal.WithLabelValues(ResultSuccess).Inc()
		return
	}
	m.compilationsTotal.WithLabelValues(ResultError).Inc()
	m.compileErrorsTotal.WithLabelValues(reason).Inc()
}

// PortAllocated records a fresh allocation; assigned is the new table size.
func (m *Metrics) PortAllocated(assigned int) {
	m.portAllocationsTotal.Inc()
	m.portsAssigned.Set(float64(assigned))
}

// PortsRestored sets the table size after a restore.
func (m *Metrics) PortsRestored(assigned int) {
	m.portsAssigned.Set(float64(assigned))
}

// BackendRequest records one backend API call.
func (m *Metrics) BackendRequest(operation string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	m.backendRequestsTotal.WithLabelValues(operation, result).Inc()
}

// TaskEvent records one task status event.
func (m *Metrics) TaskEvent(state string) {
	m.taskEventsTotal.WithLabelValues(state).Inc()
}
