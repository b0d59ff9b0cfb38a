// Package metrics exposes Prometheus metrics for API calls and
// auth-session lifecycle events on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/alexjbarnes/link-connect/api"
	"github.com/alexjbarnes/link-connect/connections"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	_ api.Observer                  = (*Metrics)(nil)
	_ connections.LifecycleObserver = (*Metrics)(nil)
)

// Metrics holds all Prometheus metrics for linkctl.
type Metrics struct {
	registry *prometheus.Registry

	// API call latencies by resource and outcome
	RequestLatency *prometheus.HistogramVec

	// API calls by resource and HTTP status
	Requests *prometheus.CounterVec

	// Auth session lifecycle events
	AuthSessionEvents *prometheus.CounterVec
}

// New creates a Metrics instance registered on its own registry, along
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "link_connect_api_request_duration_seconds",
			Help:    "Duration of API requests by resource and outcome",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"resource", "outcome"}),

		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "link_connect_api_requests_total",
			Help: "Total API requests by resource and HTTP status (0 when no response arrived)",
		}, []string{"resource", "status"}),

		AuthSessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "link_connect_auth_session_events_total",
			Help: "Total auth session lifecycle events",
		}, []string{"event"}),
	}
}

// ObserveRequest records one completed API request.
func (m *Metrics) ObserveRequest(resource string, status int, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}

	m.RequestLatency.WithLabelValues(resource, outcome).Observe(elapsed.Seconds())
	m.Requests.WithLabelValues(resource, strconv.Itoa(status)).Inc()
}

// AuthSessionEvent records an auth session lifecycle event.
func (m *Metrics) AuthSessionEvent(event string) {
	if m != nil {
		m.AuthSessionEvents.WithLabelValues(event).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
