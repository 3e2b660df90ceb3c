package service

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the issuer's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Issuances       *prometheus.CounterVec
	IssueDuration   prometheus.Histogram
	Collisions      prometheus.Counter
	RegistryLookups *prometheus.CounterVec
	Refreshes       *prometheus.CounterVec
	Swept           *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg, or the
// default registerer when reg is nil. Collectors already registered by an
// earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		Issuances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issuer",
			Name:      "token_issuances_total",
			Help:      "Token issuance attempts by outcome.",
		}, []string{"outcome"}),
		IssueDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "issuer",
			Name:      "token_issue_duration_seconds",
			Help:      "Time to resolve, build and issue a token pair.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		Collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "issuer",
			Name:      "refresh_token_collisions_total",
			Help:      "Refresh token inserts rejected as duplicates.",
		}),
		RegistryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issuer",
			Name:      "client_registry_lookups_total",
			Help:      "Client registry lookups by cache result.",
		}, []string{"result"}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issuer",
			Name:      "refresh_exchanges_total",
			Help:      "Refresh token exchanges by outcome.",
		}, []string{"outcome"}),
		Swept: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "issuer",
			Name:      "housekeeping_deleted_total",
			Help:      "Records removed by housekeeping.",
		}, []string{"kind"}),
	}

	var errs error
	m.Issuances = register(reg, m.Issuances, &errs)
	m.IssueDuration = register(reg, m.IssueDuration, &errs)
	m.Collisions = register(reg, m.Collisions, &errs)
	m.RegistryLookups = register(reg, m.RegistryLookups, &errs)
	m.Refreshes = register(reg, m.Refreshes, &errs)
	m.Swept = register(reg, m.Swept, &errs)
	if errs != nil {
		return nil, errs
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, errs *error) C {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing
		}
	}
	*errs = errors.Join(*errs, err)
	return c
}

func (m *Metrics) issued(outcome string) {
	if m != nil {
		m.Issuances.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) observeIssue(seconds float64) {
	if m != nil {
		m.IssueDuration.Observe(seconds)
	}
}

func (m *Metrics) collision() {
	if m != nil {
		m.Collisions.Inc()
	}
}

func (m *Metrics) lookup(result string) {
	if m != nil {
		m.RegistryLookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) refreshed(outcome string) {
	if m != nil {
		m.Refreshes.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) swept(kind string, n int64) {
	if m != nil && n > 0 {
		m.Swept.WithLabelValues(kind).Add(float64(n))
	}
}
