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

func TestObserveSnapshot(t *testing.T) {
	m := New()

	m.ObserveSnapshot("employer", "computed", "A")
	m.ObserveSnapshot("employer", "computed", "B")
	m.ObserveSnapshot("employee", "cascade", "B")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ScoresComputed.WithLabelValues("employer", "computed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScoresComputed.WithLabelValues("employee", "cascade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RatingsAssigned.WithLabelValues("employee", "B")))
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.CacheRequests.WithLabelValues("hit").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.CacheRequests.WithLabelValues("hit")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CacheRequests.WithLabelValues("hit")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodGet, "/health", http.StatusOK, 5*time.Millisecond)
	m.ObserveDuration("score_employer", time.Now())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ewa_risk_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, "ewa_risk_scoring_operation_duration_seconds")
	assert.Contains(t, body, "go_goroutines")
}
