// Package metrics holds the Prometheus collectors exported on /metrics.
//
// Collectors live on a private registry so tests can build as many
// instances as they like. All methods are nil-safe: components that were
// constructed without metrics simply skip instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "umabot"

type Metrics struct {
	reg *prometheus.Registry

	updates          *prometheus.CounterVec
	requests         *prometheus.CounterVec
	backendDuration  *prometheus.HistogramVec
	lockWait         prometheus.Histogram
	batches          *prometheus.CounterVec
	pendingBatches   prometheus.Gauge
	deliveries       *prometheus.CounterVec
	broadcastTicks   *prometheus.CounterVec
	broadcastResults *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		updates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_total",
			Help:      "Inbound transport updates by kind.",
		}, []string{"kind"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "requests_total",
			Help:      "Dispatched requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		backendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "backend_duration_seconds",
			Help:      "Inference backend latency by request kind.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		}, []string{"kind"}),
		lockWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the per-user lock.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
		}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "finalized_total",
			Help:      "Media batches finalized, by outcome.",
		}, []string{"outcome"}),
		pendingBatches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "pending",
			Help:      "Media batches waiting for their window to close.",
		}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "messages_total",
			Help:      "Reply messages written, by method.",
		}, []string{"method"}),
		broadcastTicks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "ticks_total",
			Help:      "Scheduler ticks by outcome.",
		}, []string{"outcome"}),
		broadcastResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "recipients_total",
			Help:      "Broadcast recipients by source and outcome.",
		}, []string{"source", "outcome"}),
	}
}

// Registry exposes the underlying registry (tests, custom collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Update(kind string) {
	if m == nil {
		return
	}
	m.updates.WithLabelValues(kind).Inc()
}

func (m *Metrics) Request(kind, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) Backend(kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.backendDuration.WithLabelValues(kind).Observe(took.Seconds())
}

func (m *Metrics) LockWait(took time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(took.Seconds())
}

func (m *Metrics) BatchFinalized(outcome string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PendingBatches(n int) {
	if m == nil {
		return
	}
	m.pendingBatches.Set(float64(n))
}

func (m *Metrics) Delivery(method string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(method).Inc()
}

func (m *Metrics) Tick(outcome string) {
	if m == nil {
		return
	}
	m.broadcastTicks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Broadcast(source string, success, total int) {
	if m == nil {
		return
	}
	m.broadcastResults.WithLabelValues(source, "ok").Add(float64(success))
	m.broadcastResults.WithLabelValues(source, "failed").Add(float64(total - success))
}
