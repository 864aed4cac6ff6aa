/*Package metrics collects Prometheus metrics of the proxy.

Metrics:
  - dbproxy_requests_total: proxy requests by outcome
  - dbproxy_upstream_responses_total: responses of the backing engine by status code
  - dbproxy_upstream_duration_seconds: time until the backing engine answered
  - dbproxy_resolver_cache_hits_total / _misses_total: table name cache efficiency
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes of a proxy request
const (
	OutcomeForwarded    = "forwarded"
	OutcomeNotFound     = "not_found"
	OutcomeBadRequest   = "bad_request"
	OutcomeUnauthorized = "unauthorized"
	OutcomeForbidden    = "forbidden"
	OutcomeError        = "error"
)

// Collector holds the metrics of one proxy instance
type Collector struct {
	registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	upstreamResponses *prometheus.CounterVec
	upstreamDuration  prometheus.Histogram
	cacheHits         prometheus.Counter
	cacheMisses       prometheus.Counter
}

// NewCollector creates and registers the metrics. If registry is nil, a new
// registry is created.
func NewCollector(namespace string, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "dbproxy"
	}
	c := &Collector{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of proxy requests by outcome",
			},
			[]string{"outcome"},
		),
		upstreamResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_responses_total",
				Help:      "Total number of backing engine responses by status code",
			},
			[]string{"code"},
		),
		upstreamDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_duration_seconds",
				Help:      "Time until the backing engine sent the response header",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_cache_hits_total",
			Help:      "Table names served from the resolver cache",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_cache_misses_total",
			Help:      "Table names looked up in the metadata store",
		}),
	}
	registry.MustRegister(c.requestsTotal, c.upstreamResponses, c.upstreamDuration, c.cacheHits, c.cacheMisses)
	return c
}

// Registry returns the registry the metrics are registered with
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest counts a proxy request
func (c *Collector) RecordRequest(outcome string) {
	if c == nil {
		return
	}
	c.requestsTotal.WithLabelValues(outcome).Inc()
}

// RecordUpstream records a response of the backing engine
func (c *Collector) RecordUpstream(status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.upstreamResponses.WithLabelValues(strconv.Itoa(status)).Inc()
	c.upstreamDuration.Observe(duration.Seconds())
}

// CacheHits implements resolver.CacheObserver
func (c *Collector) CacheHits(n int) {
	if c == nil {
		return
	}
	c.cacheHits.Add(float64(n))
}

// CacheMisses implements resolver.CacheObserver
func (c *Collector) CacheMisses(n int) {
	if c == nil {
		return
	}
	c.cacheMisses.Add(float64(n))
}

// Handler returns the HTTP handler for the metrics endpoint
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
