package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the auth counters.
const (
	OutcomeSuccess         = "success"
	OutcomeFailure         = "failure"
	OutcomeTwoFactor       = "two_factor_required"
	OutcomeLockedOut       = "locked_out"
	OutcomeRateLimited     = "rate_limited"
	OutcomeInvalidSession  = "invalid_session"
	OutcomeInvalidCode     = "invalid_code"
	OutcomeRevoked         = "revoked"
	OutcomeNothingToRevoke = "not_found"
)

// Metrics groups the service counters. A nil *Metrics is safe to use and records nothing.
type Metrics struct {
	Login     *prometheus.CounterVec
	Refresh   *prometheus.CounterVec
	Revoke    *prometheus.CounterVec
	TwoFactor *prometheus.CounterVec
	FailOpen  *prometheus.CounterVec
	Throttled *prometheus.CounterVec
}

// NewMetrics registers the service counters with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Login: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iam",
			Subsystem: "auth",
			Name:      "login_total",
			Help:      "Password sign-in attempts by outcome.",
		}, []string{"outcome"}),
		Refresh: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iam",
			Subsystem: "auth",
			Name:      "refresh_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		Revoke: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iam",
			Subsystem: "auth",
			Name:      "revoke_total",
			Help:      "Refresh token revocations by outcome.",
		}, []string{"outcome"}),
		TwoFactor: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iam",
			Subsystem: "auth",
			Name:      "two_factor_total",
			Help:      "Second-factor verifications by channel and outcome.",
		}, []string{"channel", "outcome"}),
		FailOpen: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iam",
			Subsystem: "guard",
			Name:      "fail_open_total",
			Help:      "Guard decisions that failed open because the backing store errored.",
		}, []string{"guard"}),
		Throttled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "iam",
			Subsystem: "guard",
			Name:      "throttled_total",
			Help:      "Resend attempts rejected by the throttle guard, by artifact class.",
		}, []string{"class"}),
	}
}

// ObserveLogin records a sign-in outcome.
func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.Login.WithLabelValues(outcome).Inc()
}

// ObserveRefresh records a refresh outcome.
func (m *Metrics) ObserveRefresh(outcome string) {
	if m == nil {
		return
	}
	m.Refresh.WithLabelValues(outcome).Inc()
}

// ObserveRevoke records a revocation outcome.
func (m *Metrics) ObserveRevoke(outcome string) {
	if m == nil {
		return
	}
	m.Revoke.WithLabelValues(outcome).Inc()
}

// ObserveTwoFactor records a second-factor outcome.
func (m *Metrics) ObserveTwoFactor(channel, outcome string) {
	if m == nil {
		return
	}
	m.TwoFactor.WithLabelValues(channel, outcome).Inc()
}

// ObserveFailOpen records a guard that let a request through on store failure.
func (m *Metrics) ObserveFailOpen(guard string) {
	if m == nil {
		return
	}
	m.FailOpen.WithLabelValues(guard).Inc()
}

// ObserveThrottled records a throttle rejection.
func (m *Metrics) ObserveThrottled(class string) {
	if m == nil {
		return
	}
	m.Throttled.WithLabelValues(class).Inc()
}
