// Package metrics holds the Prometheus collectors exported across the
// resolution pipeline: cache hit/miss/eviction counts, query outcomes and
// latency, per-upstream request results, and connection-pool occupancy.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dnsscience/dnsresolve/internal/cache"
)

var (
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dnsresolve_queries_total", Help: "Top-level resolutions by qtype and outcome."},
		[]string{"qtype", "rcode"},
	)
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "dnsresolve_query_duration_seconds", Help: "Top-level resolution latency.", Buckets: prometheus.DefBuckets},
		[]string{"qtype"},
	)

	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dnsresolve_upstream_requests_total", Help: "Per-upstream query attempts by result."},
		[]string{"upstream", "result"},
	)

	PoolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "dnsresolve_pool_connections", Help: "Open TCP/TLS connections per upstream."},
		[]string{"upstream"},
	)
)

func init() {
	prometheus.MustRegister(
		QueriesTotal, QueryDuration,
		UpstreamRequests, PoolConnections,
	)
}

// RegisterCache exposes a cache tree's cumulative hit/miss/eviction
// counters as Prometheus gauges, sampled on every scrape rather than
// double-counted alongside the cache's own atomic bookkeeping. Only the
// first cache tree registered in a process is exported: a process runs
// one resolver in practice, and repeat calls (as in tests that build
// several short-lived resolvers) are silently ignored rather than
// panicking on a duplicate registration.
func RegisterCache(c *cache.Node) {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "dnsresolve_cache_hits_total", Help: "Cache lookups served without a remote query."},
			func() float64 { return float64(c.Stats().Hits) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "dnsresolve_cache_misses_total", Help: "Cache lookups that required a remote query."},
			func() float64 { return float64(c.Stats().Misses) },
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: "dnsresolve_cache_evictions_total", Help: "Records dropped by the background TTL sweep."},
			func() float64 { return float64(c.Stats().Evictions) },
		),
	}
	for _, col := range collectors {
		if err := prometheus.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}

// ObserveQuery records a completed top-level resolution.
func ObserveQuery(qtype string, rcode uint8, start time.Time) {
	QueriesTotal.WithLabelValues(qtype, rcodeLabel(rcode)).Inc()
	QueryDuration.WithLabelValues(qtype).Observe(time.Since(start).Seconds())
}

func rcodeLabel(rcode uint8) string {
	switch rcode {
	case 0:
		return "noerror"
	case 1:
		return "formerr"
	case 2:
		return "servfail"
	case 3:
		return "nxdomain"
	case 4:
		return "notimp"
	case 5:
		return "refused"
	default:
		return "other"
	}
}
