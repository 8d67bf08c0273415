// Package metrics exposes registry counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Rejection reasons used as the "reason" label
const (
	ReasonUnauthorized    = "unauthorized"
	ReasonInvalidArgument = "invalid_argument"
	ReasonPolicy          = "policy"
	ReasonInternal        = "internal"
)

// Metrics holds the service's collectors. Each instance owns its own
// registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	CertificatesMinted prometheus.Counter
	MintRejected       *prometheus.CounterVec
	AuthFailures       *prometheus.CounterVec
	MintDuration       prometheus.Histogram
	TotalSupply        prometheus.GaugeFunc
}

// New creates and registers all collectors. supply is sampled on every
// scrape for the total supply gauge.
func New(supply func() uint64) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CertificatesMinted: factory.NewCounter(prometheus.CounterOpts{
			Name: "certregistry_certificates_minted_total",
			Help: "Total number of certificates minted",
		}),
		MintRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certregistry_mint_rejected_total",
			Help: "Mint requests rejected, by reason",
		}, []string{"reason"}),
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "certregistry_auth_failures_total",
			Help: "Failed caller or admin authentications, by scheme",
		}, []string{"scheme"}),
		MintDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "certregistry_mint_duration_seconds",
			Help:    "Duration of mint operations including the journal write",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		TotalSupply: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "certregistry_total_supply",
			Help: "Number of certificates in the registry",
		}, func() float64 {
			return float64(supply())
		}),
	}
}

// IncrementMinted records a successful mint
func (m *Metrics) IncrementMinted() {
	m.CertificatesMinted.Inc()
}

// IncrementRejected records a refused mint
func (m *Metrics) IncrementRejected(reason string) {
	m.MintRejected.WithLabelValues(reason).Inc()
}

// IncrementAuthFailure records a failed authentication for scheme
// ("caller" or "admin")
func (m *Metrics) IncrementAuthFailure(scheme string) {
	m.AuthFailures.WithLabelValues(scheme).Inc()
}

// ObserveMint records the duration of a mint.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveMint(start time.Time) {
	m.MintDuration.Observe(time.Since(start).Seconds())
}

// Handler serves the collectors in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
