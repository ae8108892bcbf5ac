package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ListingCreated()
	m.ListingCreated()
	m.Reservation("ok")
	m.Trade("conflict")
	m.ObserveRequest("POST", "/api/v1/works", 201, 15*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.listingsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.trades.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "/api/v1/works", "201")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ListingCreated()
		m.Reservation("ok")
		m.Trade("ok")
		m.ObserveRequest("GET", "/", 200, time.Millisecond)
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Trade("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `wuyi_trade_confirmations_total{result="ok"} 1`)
}
