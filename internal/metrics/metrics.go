package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mitmrw"

// Exchange outcomes used as the "outcome" label of ExchangesTotal.
const (
	OutcomeForwarded      = "forwarded"
	OutcomeShortCircuited = "short_circuited"
	OutcomeFailed         = "failed"
	OutcomeCanceled       = "canceled"
)

// Metrics holds the Prometheus collectors of the proxy.
type Metrics struct {
	ExchangesTotal     *prometheus.CounterVec
	RuleMatches        *prometheus.CounterVec
	ResponseTransforms prometheus.Counter
	ExchangeDuration   prometheus.Histogram
	ConnectionsTotal   *prometheus.CounterVec
	ActiveConnections  prometheus.Gauge
	CertCacheMisses    prometheus.Counter
}

// NewMetrics creates and registers all collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		ExchangesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exchanges_total",
				Help:      "Total intercepted request phases by outcome",
			},
			[]string{"outcome"},
		),
		RuleMatches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_matches_total",
				Help:      "Total rule matches by rule type",
			},
			[]string{"type"},
		),
		ResponseTransforms: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "response_transforms_total",
				Help:      "Total responses folded through matched rules",
			},
		),
		ExchangeDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "exchange_duration_seconds",
				Help:      "Time from the start of the request phase to the end of the response phase",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
			},
		),
		ConnectionsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Total accepted client connections by handling mode",
			},
			[]string{"mode"}, // mode=mitm/tunnel/http
		),
		ActiveConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_connections",
				Help:      "Number of open client connections",
			},
		),
		CertCacheMisses: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cert_cache_misses_total",
				Help:      "Leaf certificates generated because they were not cached",
			},
		),
	}
}
