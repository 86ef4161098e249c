package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCountsRatingsAndOutcomes(t *testing.T) {
	r := NewRecorder()
	r.RatingObserved(1, 3)
	r.RatingObserved(1, 3)
	r.RatingObserved(1, 5)
	r.GenerationCompleted(1)
	r.GenerationCompleted(2)
	r.RunFinished("accepted")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ratings.WithLabelValues("3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ratings.WithLabelValues("5")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.generations))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.current))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("accepted")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.runs.WithLabelValues("exhausted")))

	r.RunFinished("failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("failed")))
}

func TestRecordersAreIndependent(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	a.GenerationCompleted(1)
	assert.Equal(t, 0.0, testutil.ToFloat64(b.generations))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.RatingObserved(1, 4)

	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `melodyevo_ratings_total{rating="4"} 1`)
}
