package observability

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

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.ScoreComputed("prime", 879)
	m.ScoreComputed("prime", 901)
	m.FraudAssessed("flag_for_review")
	m.CollusionFlagged("reciprocal_verification")
	m.RiskAlert("account_age")
	m.CacheHit()
	m.CacheMiss()
	m.CacheMiss()
	m.PublishFailed("caretrust.alert")
	m.ObserveRequest("/subjects/{id}/score", http.StatusOK, 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.scores.WithLabelValues("prime")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fraudChecks.WithLabelValues("flag_for_review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheMisses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/subjects/{id}/score", "200")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "caretrust_scores_computed_total")
	assert.Contains(t, string(body), "caretrust_collusion_flags_total")
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ScoreComputed("prime", 1)
		m.FraudAssessed("approve")
		m.CollusionFlagged("x")
		m.RiskAlert("x")
		m.CacheHit()
		m.CacheMiss()
		m.PublishFailed("x")
		m.ObserveRequest("/", 200, time.Second)
	})
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
