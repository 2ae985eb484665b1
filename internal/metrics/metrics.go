// Package metrics exposes the prometheus registry and the counters the auth
// handlers record.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles the registry with the collectors the service updates.
type Metrics struct {
	Registry *prometheus.Registry

	LoginAttempts   *prometheus.CounterVec
	RefreshAttempts *prometheus.CounterVec
	MFAAttempts     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates a registry with process/go collectors plus the auth counters.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_login_attempts_total",
				Help: "Login attempts by outcome",
			},
			[]string{"outcome"},
		),
		RefreshAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_refresh_attempts_total",
				Help: "Refresh token exchanges by outcome",
			},
			[]string{"outcome"},
		),
		MFAAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_mfa_attempts_total",
				Help: "MFA verifications by outcome",
			},
			[]string{"outcome"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method", "status"},
		),
	}

	m.Registry.MustRegister(
		m.LoginAttempts,
		m.RefreshAttempts,
		m.MFAAttempts,
		m.RequestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}
