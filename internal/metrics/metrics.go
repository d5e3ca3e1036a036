// Package metrics holds the prometheus collectors of the mirror.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/air-quality-mirror/internal/airquality"
)

const namespace = "air_quality_mirror"

// Metrics is a private registry with the mirror's collectors.
type Metrics struct {
	registry *prometheus.Registry

	pageFetches *prometheus.CounterVec
	pageLatency *prometheus.HistogramVec
	refreshes   *prometheus.CounterVec
	healthy     prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pageFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_page_fetches_total",
			Help:      "Remote page requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		pageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_page_duration_seconds",
			Help:      "Latency of remote page requests, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Refresh attempts by entity kind and outcome.",
		}, []string{"kind", "outcome"}),
		healthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remote_healthy",
			Help:      "1 while the last remote refresh succeeded, 0 otherwise.",
		}),
	}
	m.healthy.Set(1)
	m.registry.MustRegister(
		m.pageFetches,
		m.pageLatency,
		m.refreshes,
		m.healthy,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePage matches gios.PageObserver.
func (m *Metrics) ObservePage(endpoint, outcome string, elapsed time.Duration) {
	m.pageFetches.WithLabelValues(endpoint, outcome).Inc()
	m.pageLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// ObserveRefresh matches airquality.RefreshHook.
func (m *Metrics) ObserveRefresh(kind airquality.Kind, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case airquality.IsConnectivity(err):
		outcome = "connectivity"
	case airquality.IsRateLimit(err):
		outcome = "rate_limited"
	default:
		outcome = "error"
	}
	m.refreshes.WithLabelValues(string(kind), outcome).Inc()
}

// TrackHealth mirrors h into the health gauge until the returned function is called.
func (m *Metrics) TrackHealth(h *airquality.HealthState) (stop func()) {
	m.setHealthy(h.Healthy())
	return h.Subscribe(m.setHealthy)
}

func (m *Metrics) setHealthy(healthy bool) {
	if healthy {
		m.healthy.Set(1)
		return
	}
	m.healthy.Set(0)
}
