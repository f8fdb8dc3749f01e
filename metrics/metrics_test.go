package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/pawn-engine/pawn"
)

func TestMetrics_CountsEvents(t *testing.T) {
	// GIVEN: A fresh metrics registry
	// WHEN: Engine events are reported
	// THEN: Each lands on its own labelled series

	m := New()

	m.CalculationCompleted(pawn.KindPenalty, "daily")
	m.CalculationCompleted(pawn.KindPenalty, "daily")
	m.CalculationCompleted(pawn.KindServiceCharge, "bracket")
	m.ChainOperation("renewal", pawn.OutcomeOK)
	m.ChainOperation("renewal", pawn.OutcomeConflict)
	m.ConfigFallback()
	m.AuditLogDropped()
	m.AuditLogFailed()
	m.AuditLogFailed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Calculations.WithLabelValues("penalty", "daily")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Calculations.WithLabelValues("service_charge", "bracket")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChainOperations.WithLabelValues("renewal", "conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConfigFallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDropped))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuditFailed))
}

func TestMetrics_RegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ConfigFallback()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.ConfigFallbacks))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.ConfigFallbacks))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ChainOperation("redemption", pawn.OutcomeOK)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `pawn_chain_operations_total{operation="redemption",outcome="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
