// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/predictattest/internal/domain"
)

const namespace = "predictattest"

// Metrics groups every collector of the service. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Decisions       *prometheus.CounterVec   // re-attestation outcomes by decision and chain
	Failures        *prometheus.CounterVec   // failed Prepare calls by error class
	PreviousLookups *prometheus.CounterVec   // where the previous prediction was found
	HTTPRequests    *prometheus.CounterVec   // requests by method and status
	HTTPDuration    *prometheus.HistogramVec // request latency by method

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Re-attestation decisions by outcome and chain.",
		}, []string{"decision", "chain_id"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed attestation requests by error class.",
		}, []string{"reason"}),
		PreviousLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "previous_lookups_total",
			Help:      "Previous-prediction lookups by the source that answered.",
		}, []string{"source"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		gatherer: reg,
	}

	reg.MustRegister(m.Decisions)
	reg.MustRegister(m.Failures)
	reg.MustRegister(m.PreviousLookups)
	reg.MustRegister(m.HTTPRequests)
	reg.MustRegister(m.HTTPDuration)
	return m
}

// NewDefault builds Metrics on a fresh registry that also carries the Go
// runtime and process collectors.
func NewDefault() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return New(reg)
}

// ObserveDecision counts one re-attestation decision.
func (m *Metrics) ObserveDecision(decision domain.Decision, chainID uint64) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(string(decision), strconv.FormatUint(chainID, 10)).Inc()
}

// ObserveFailure counts a failed request under reason.
func (m *Metrics) ObserveFailure(reason string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(reason).Inc()
}

// ObservePrevious counts which source supplied the previous prediction;
// "none" for a first attestation.
func (m *Metrics) ObservePrevious(source string) {
	if m == nil {
		return
	}
	m.PreviousLookups.WithLabelValues(source).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Reason maps an error to a low-cardinality failure label.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, domain.ErrDecodeAmbiguous):
		return "decode_ambiguous"
	case errors.Is(err, domain.ErrDomain), errors.Is(err, domain.ErrEncoding):
		return "invalid_input"
	case errors.Is(err, domain.ErrUnsupportedChain):
		return "unsupported_chain"
	case errors.Is(err, domain.ErrLockHeld):
		return "lock_held"
	default:
		return "internal"
	}
}
