package metrics

import (
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
	m.IncrementReceived()
	m.IncrementReceived()
	m.IncrementRescheduled()
	m.IncrementDispatched("sent")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocumentsReceived))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsRescheduled))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocumentsDispatched.WithLabelValues("sent")))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.IncrementReceived()
	m.ObserveRequestLatency(http.MethodGet, "/api/monitor", "200", time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "document_received_total 1")
	assert.Contains(t, body, "peppolrelay_http_request_duration_seconds")
	assert.Contains(t, body, "go_goroutines")
}

func TestInstancesDoNotCollide(t *testing.T) {
	// each instance owns its registry so constructing twice must not panic
	assert.NotPanics(t, func() {
		New()
		New()
	})
}
