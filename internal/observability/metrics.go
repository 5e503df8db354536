// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Feed metrics
	BlocksReceived     prometheus.Counter
	FeedReconnects     prometheus.Counter
	FeedConnected      prometheus.Gauge
	LastBlockTimestamp prometheus.Gauge

	// Pipeline metrics
	ActivitiesDetected *prometheus.CounterVec
	ActivitiesDropped  *prometheus.CounterVec
	QueueDepth         prometheus.Gauge
	Analyses           *prometheus.CounterVec

	// Execution metrics
	Executions       *prometheus.CounterVec
	ExecutionLatency prometheus.Histogram
	Slippage         prometheus.Histogram
	BreakerOpen      *prometheus.GaugeVec

	// Position metrics
	OpenPositions prometheus.Gauge
	AlertsFired   *prometheus.CounterVec

	// Persistence metrics
	StateSaves      *prometheus.CounterVec
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on its own registry,
// together with the Go runtime and process collectors.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "gswapcopy"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		BlocksReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "blocks_received_total",
			Help:      "Total number of blocks received from the feed",
		}),
		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnections",
		}),
		FeedConnected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "connected",
			Help:      "1 while the feed is connected",
		}),
		LastBlockTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "last_block_timestamp",
			Help:      "Unix timestamp of the last received block",
		}),

		ActivitiesDetected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "activities_detected_total",
			Help:      "Target wallet activities detected by method",
		}, []string{"method"}),
		ActivitiesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "activities_dropped_total",
			Help:      "Activities not queued by reason",
		}, []string{"reason"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "queue_depth",
			Help:      "Activities waiting in the processing queue",
		}),
		Analyses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "analyses_total",
			Help:      "Trade analyses by verdict",
		}, []string{"verdict"}),

		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "executions_total",
			Help:      "Terminal trade executions by status",
		}, []string{"status"}),
		ExecutionLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "latency_seconds",
			Help:      "Quote to swap latency of completed executions",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		Slippage: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "slippage_ratio",
			Help:      "Quoted slippage of completed executions",
			Buckets:   []float64{-0.01, 0, 0.001, 0.005, 0.01, 0.02, 0.05, 0.1},
		}),
		BreakerOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "breaker_open",
			Help:      "1 while the named circuit breaker is not closed",
		}, []string{"breaker"}),

		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "open",
			Help:      "Positions not yet closed",
		}),
		AlertsFired: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Alerts fired by source and rule",
		}, []string{"source", "rule"}),

		StateSaves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "state",
			Name:      "saves_total",
			Help:      "State file saves by result",
		}, []string{"result"}),
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"operation"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordBlock counts a received block.
func (m *Metrics) RecordBlock(at time.Time) {
	if m == nil {
		return
	}
	m.BlocksReceived.Inc()
	if !at.IsZero() {
		m.LastBlockTimestamp.Set(float64(at.Unix()))
	}
}

// SetFeedConnected updates the feed connection gauge.
func (m *Metrics) SetFeedConnected(connected bool) {
	if m == nil {
		return
	}
	m.FeedConnected.Set(boolFloat(connected))
}

// RecordReconnect counts a feed reconnection.
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.FeedReconnects.Inc()
}

// RecordActivity counts a detected activity.
func (m *Metrics) RecordActivity(method string) {
	if m == nil {
		return
	}
	m.ActivitiesDetected.WithLabelValues(method).Inc()
}

// RecordDropped counts activities that were not queued.
func (m *Metrics) RecordDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ActivitiesDropped.WithLabelValues(reason).Add(float64(n))
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RecordAnalysis counts an analysis verdict.
func (m *Metrics) RecordAnalysis(verdict string) {
	if m == nil {
		return
	}
	m.Analyses.WithLabelValues(verdict).Inc()
}

// RecordExecution records a terminal execution.
func (m *Metrics) RecordExecution(status string, latency time.Duration, slippage float64, completed bool) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(status).Inc()
	if completed {
		m.ExecutionLatency.Observe(latency.Seconds())
		m.Slippage.Observe(slippage)
	}
}

// SetBreakerOpen updates a breaker gauge.
func (m *Metrics) SetBreakerOpen(name string, open bool) {
	if m == nil {
		return
	}
	m.BreakerOpen.WithLabelValues(name).Set(boolFloat(open))
}

// SetOpenPositions updates the open positions gauge.
func (m *Metrics) SetOpenPositions(n int) {
	if m == nil {
		return
	}
	m.OpenPositions.Set(float64(n))
}

// RecordAlert counts a fired alert.
func (m *Metrics) RecordAlert(source, rule string) {
	if m == nil {
		return
	}
	m.AlertsFired.WithLabelValues(source, rule).Inc()
}

// RecordStateSave counts a state save.
func (m *Metrics) RecordStateSave(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StateSaves.WithLabelValues(result).Inc()
}

// RecordDBQuery records database query metrics.
func (m *Metrics) RecordDBQuery(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(operation).Inc()
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
