package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the daemon. All methods are
// safe on a nil receiver so components can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	requests             *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	errors               *prometheus.CounterVec
	queueDepth           prometheus.Gauge
	fatalMutations       prometheus.Gauge
	applyOutcomes        *prometheus.CounterVec
	collapsed            prometheus.Counter
	online               prometheus.Gauge
	conflicts            prometheus.Counter
	notificationFailures *prometheus.CounterVec
	bulkItems            *prometheus.CounterVec
}

// NewMetrics registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketsync_http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"path", "method", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ticketsync_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketsync_http_errors_total",
			Help: "HTTP errors by route, method and error code",
		}, []string{"path", "method", "code"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ticketsync_queue_pending",
			Help: "Mutations waiting for remote confirmation",
		}),
		fatalMutations: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ticketsync_queue_fatal",
			Help: "Mutations parked for manual intervention",
		}),
		applyOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketsync_apply_attempts_total",
			Help: "Remote apply attempts by mutation kind and outcome",
		}, []string{"kind", "outcome"}),
		collapsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketsync_queue_collapsed_total",
			Help: "Updates merged into an earlier pending update",
		}),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ticketsync_online",
			Help: "1 when the remote store is reachable",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ticketsync_conflicts_total",
			Help: "Concurrent remote edits resolved last-write-wins",
		}),
		notificationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketsync_notification_failures_total",
			Help: "Notification intents that needed manual fallback",
		}, []string{"intent", "class"}),
		bulkItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketsync_bulk_items_total",
			Help: "Per-entity results of bulk operations",
		}, []string{"entity", "outcome"}),
	}
	m.registry.MustRegister(
		m.requests, m.requestDuration, m.errors, m.queueDepth, m.fatalMutations,
		m.applyOutcomes, m.collapsed, m.online, m.conflicts, m.notificationFailures, m.bulkItems,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest counts a served request.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError counts a request that ended in a domain error.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(path, method, code).Inc()
}

// SetQueueDepth publishes pending and fatal queue sizes.
func (m *Metrics) SetQueueDepth(pending, fatal int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(pending))
	m.fatalMutations.Set(float64(fatal))
}

// RecordApply counts a remote apply attempt.
func (m *Metrics) RecordApply(kind, outcome string) {
	if m == nil {
		return
	}
	m.applyOutcomes.WithLabelValues(kind, outcome).Inc()
}

// RecordCollapse counts an update merged into its predecessor.
func (m *Metrics) RecordCollapse() {
	if m == nil {
		return
	}
	m.collapsed.Inc()
}

// SetOnline publishes connectivity state.
func (m *Metrics) SetOnline(online bool) {
	if m == nil {
		return
	}
	if online {
		m.online.Set(1)
		return
	}
	m.online.Set(0)
}

// RecordConflict counts a last-write-wins conflict.
func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

// RecordNotificationFailure counts an intent that fell back to manual delivery.
func (m *Metrics) RecordNotificationFailure(intent, class string) {
	if m == nil {
		return
	}
	m.notificationFailures.WithLabelValues(intent, class).Inc()
}

// RecordBulkItem counts one entity outcome of a bulk operation.
func (m *Metrics) RecordBulkItem(entity string, ok bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "succeeded"
	}
	m.bulkItems.WithLabelValues(entity, outcome).Inc()
}
