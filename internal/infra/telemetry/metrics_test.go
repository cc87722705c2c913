package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsCountOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveLogin(OutcomeSuccess)
	m.ObserveLogin(OutcomeSuccess)
	m.ObserveTwoFactor("Email", OutcomeInvalidCode)
	m.ObserveFailOpen("throttle")

	if got := testutil.ToFloat64(m.Login.WithLabelValues(OutcomeSuccess)); got != 2 {
		t.Fatalf("expected 2 successful logins, got %v", got)
	}
	if got := testutil.ToFloat64(m.TwoFactor.WithLabelValues("Email", OutcomeInvalidCode)); got != 1 {
		t.Fatalf("expected 1 invalid code, got %v", got)
	}
	if got := testutil.ToFloat64(m.FailOpen.WithLabelValues("throttle")); got != 1 {
		t.Fatalf("expected 1 fail-open, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveLogin(OutcomeFailure)
	m.ObserveRefresh(OutcomeFailure)
	m.ObserveRevoke(OutcomeRevoked)
	m.ObserveTwoFactor("Email", OutcomeSuccess)
	m.ObserveFailOpen("freshness")
	m.ObserveThrottled("two_factor")
}
