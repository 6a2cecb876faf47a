package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveDispatch(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	m.ObserveDispatch("whereabouts-status-updated", "amqp", time.Now(), nil)
	m.ObserveDispatch("whereabouts-status-updated", "amqp", time.Now(), errors.New("closed"))
	m.ObserveDispatch("whereabouts-status-updated", "amqp", time.Now(), nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsDispatched.WithLabelValues("whereabouts-status-updated", "amqp", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDispatched.WithLabelValues("whereabouts-status-updated", "amqp", "error")))
}

func TestHandler_ServesRegisteredMetrics(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	m.StatusUpdates.WithLabelValues("acmecon-2014").Inc()
	m.ObserveRequest(http.MethodPost, "/statuses", http.StatusNoContent)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `whereabouts_status_updates_total{party="acmecon-2014"} 1`)
	assert.Contains(t, body, `whereabouts_http_requests_total{code="204",method="POST",route="/statuses"} 1`)
}
