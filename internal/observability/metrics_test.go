package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics("test")

	m.RecordBlock(time.Unix(1700000000, 0))
	m.RecordBlock(time.Time{})
	m.RecordActivity("Swap")
	m.RecordDropped("duplicate", 3)
	m.RecordDropped("duplicate", 0)
	m.RecordAnalysis("approved")
	m.RecordExecution("completed", 2*time.Second, 0.01, true)
	m.RecordExecution("failed", 0, 0, false)
	m.SetBreakerOpen("gswap-trade", true)
	m.RecordStateSave(nil)
	m.RecordStateSave(errors.New("disk full"))
	m.RecordDBQuery("insert_trade", time.Millisecond, errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BlocksReceived))
	assert.Equal(t, 1700000000.0, testutil.ToFloat64(m.LastBlockTimestamp))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActivitiesDetected.WithLabelValues("Swap")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ActivitiesDropped.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Executions.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ExecutionLatency))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerOpen.WithLabelValues("gswap-trade")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StateSaves.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DBQueryErrors.WithLabelValues("insert_trade")))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("")
	m.RecordActivity("AddLiquidity")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `gswapcopy_pipeline_activities_detected_total{method="AddLiquidity"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordBlock(time.Now())
		m.SetFeedConnected(true)
		m.RecordExecution("completed", time.Second, 0, true)
		m.RecordDBQuery("x", time.Second, nil)
	})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}

func TestMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics("dup")
		NewMetrics("dup")
	})
}
