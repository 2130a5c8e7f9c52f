package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the API surface.
type Metrics struct {
	registry      *prometheus.Registry
	requestsTotal *prometheus.CounterVec
	ingestTotal   *prometheus.CounterVec
	searchTotal   *prometheus.CounterVec
	findingsTotal prometheus.Counter
}

// NewMetrics creates the metric set on a private registry so tests can
// run multiple servers without duplicate registration.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpusd_http_requests_total",
			Help: "HTTP requests by method, endpoint and status code.",
		}, []string{"method", "endpoint", "status"}),
		ingestTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpusd_ingest_total",
			Help: "Ingestion attempts by platform and outcome.",
		}, []string{"platform", "outcome"}),
		searchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "corpusd_search_total",
			Help: "Knowledge searches by resolved method.",
		}, []string{"method"}),
		findingsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "corpusd_security_findings_total",
			Help: "Security findings reported during ingestion.",
		}),
	}
}
