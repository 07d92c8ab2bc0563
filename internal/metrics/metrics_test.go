package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"db_path_migrator/internal/migrate"
)

var _ migrate.Observer = (*Collector)(nil)

func TestCollectorCountsRunsAndSteps(t *testing.T) {
	c := NewCollector()

	c.ObserveStep(migrate.Up, "A", migrate.OutcomeApplied, 10*time.Millisecond)
	c.ObserveStep(migrate.Up, "B", migrate.OutcomeSkipped, 0)
	c.ObserveRun(migrate.Up, nil, 20*time.Millisecond)
	c.ObserveStep(migrate.Down, "A", migrate.OutcomeFailed, time.Millisecond)
	c.ObserveRun(migrate.Down, errors.New("boom"), time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Steps.WithLabelValues("up", "applied")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Steps.WithLabelValues("up", "skipped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Steps.WithLabelValues("down", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Runs.WithLabelValues("up", "committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Runs.WithLabelValues("down", "failed")))
	assert.Equal(t, 2, testutil.CollectAndCount(c.RunDuration))
}

func TestCollectorStatusGauges(t *testing.T) {
	c := NewCollector()
	c.ObserveStatus(&migrate.Status{Run: []string{"A"}, Unrun: []string{"B", "C"}})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.PendingSteps))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.AppliedSteps))
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.ObserveRun(migrate.Up, nil, time.Second)
	c.RecordHTTPRequest(http.MethodGet, "/api/v1/status", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `migrator_runs_total{direction="up",status="committed"} 1`)
	assert.Contains(t, body, `migrator_http_requests_total{method="GET",path="/api/v1/status",status_code="200"} 1`)
}

func TestPushSendsRunMetrics(t *testing.T) {
	var (
		method string
		path   string
		body   []byte
	)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	c := NewCollector()
	c.ObserveStep(migrate.Up, "A", migrate.OutcomeApplied, time.Millisecond)
	c.ObserveRun(migrate.Up, nil, time.Millisecond)

	require.NoError(t, c.Push(context.Background(), gateway.URL, "nightly"))
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/metrics/job/nightly", path)
	assert.Contains(t, string(body), "migrator_runs_total")
	assert.Contains(t, string(body), "migrator_steps_total")
}

func TestPushReportsGatewayErrors(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	err := NewCollector().Push(context.Background(), gateway.URL, "nightly")
	require.Error(t, err)
}
