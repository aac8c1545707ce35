// Package metrics provides Prometheus instrumentation for the dashboard.
//
// Metrics exposed:
//   - sensorboard_feed_fetch_seconds: Histogram of sample fetch duration by source
//   - sensorboard_feed_ticks_total: Counter of feed ticks by outcome
//   - sensorboard_feed_window_samples: Gauge of samples held in the live window
//   - sensorboard_feed_last_value: Gauge of the most recent sample value
//   - sensorboard_analysis_requests_total: Counter of analysis submissions by outcome
//   - sensorboard_analysis_seconds: Histogram of analysis backend latency
//   - sensorboard_exports_total: Counter of export artifacts by format and outcome
//   - sensorboard_export_seconds: Histogram of export build duration by format
//   - sensorboard_websocket_clients: Gauge of connected websocket clients by topic
//   - sensorboard_alerts_total: Counter of relayed alerts by severity
//   - sensorboard_sessions: Gauge of live dashboard sessions
//   - sensorboard_errors_total: Counter of errors by component and reason
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all dashboard metrics. It implements the recorder
// interfaces of the feed, analysis, export, hub and alerts packages.
type Metrics struct {
	FeedFetchSeconds  *prometheus.HistogramVec
	FeedTicksTotal    *prometheus.CounterVec
	FeedWindowSamples prometheus.Gauge
	FeedLastValue     prometheus.Gauge
	AnalysisTotal     *prometheus.CounterVec
	AnalysisSeconds   prometheus.Histogram
	ExportsTotal      *prometheus.CounterVec
	ExportSeconds     *prometheus.HistogramVec
	WebsocketClients  *prometheus.GaugeVec
	AlertsTotal       *prometheus.CounterVec
	Sessions          prometheus.Gauge
	ErrorsTotal       *prometheus.CounterVec
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		FeedFetchSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sensorboard_feed_fetch_seconds",
			Help:    "Time spent fetching one sample from the feed source",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),

		FeedTicksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorboard_feed_ticks_total",
			Help: "Feed ticks by outcome",
		}, []string{"outcome"}),

		FeedWindowSamples: f.NewGauge(prometheus.GaugeOpts{
			Name: "sensorboard_feed_window_samples",
			Help: "Samples currently held in the live window",
		}),

		FeedLastValue: f.NewGauge(prometheus.GaugeOpts{
			Name: "sensorboard_feed_last_value",
			Help: "Most recent sample value",
		}),

		AnalysisTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorboard_analysis_requests_total",
			Help: "Analysis submissions by outcome",
		}, []string{"outcome"}),

		AnalysisSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sensorboard_analysis_seconds",
			Help:    "Analysis backend round trip duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),

		ExportsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorboard_exports_total",
			Help: "Export artifacts by format and outcome",
		}, []string{"format", "outcome"}),

		ExportSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sensorboard_export_seconds",
			Help:    "Time spent building one export artifact",
			Buckets: prometheus.DefBuckets,
		}, []string{"format"}),

		WebsocketClients: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensorboard_websocket_clients",
			Help: "Connected websocket clients by topic",
		}, []string{"topic"}),

		AlertsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorboard_alerts_total",
			Help: "Alerts relayed to the dashboard by severity",
		}, []string{"severity"}),

		Sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "sensorboard_sessions",
			Help: "Dashboard sessions with live pipeline state",
		}),

		ErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sensorboard_errors_total",
			Help: "Total number of errors by component and reason",
		}, []string{"component", "reason"}),
	}
}

// RecordFetch records the duration of one sample fetch.
func (m *Metrics) RecordFetch(source string, seconds float64) {
	m.FeedFetchSeconds.WithLabelValues(source).Observe(seconds)
}

// RecordTick counts a feed tick. Failed ticks also count as feed errors.
func (m *Metrics) RecordTick(outcome string) {
	m.FeedTicksTotal.WithLabelValues(outcome).Inc()
	if outcome == "error" {
		m.RecordError("feed", "fetch")
	}
}

// SetWindow sets the window length and latest value.
func (m *Metrics) SetWindow(length int, last float64) {
	m.FeedWindowSamples.Set(float64(length))
	m.FeedLastValue.Set(last)
}

// RecordAnalysis counts an analysis submission. Invalid submissions never
// reach the backend and are not timed.
func (m *Metrics) RecordAnalysis(outcome string, seconds float64) {
	m.AnalysisTotal.WithLabelValues(outcome).Inc()
	if outcome != "invalid" {
		m.AnalysisSeconds.Observe(seconds)
	}
	if outcome == "failed" {
		m.RecordError("analysis", "backend")
	}
}

// RecordExport counts one export artifact.
func (m *Metrics) RecordExport(format, outcome string, seconds float64) {
	m.ExportsTotal.WithLabelValues(format, outcome).Inc()
	m.ExportSeconds.WithLabelValues(format).Observe(seconds)
}

// SetClients sets the websocket client count of topic.
func (m *Metrics) SetClients(topic string, n int) {
	m.WebsocketClients.WithLabelValues(topic).Set(float64(n))
}

// RecordAlert counts a relayed alert.
func (m *Metrics) RecordAlert(severity string) {
	m.AlertsTotal.WithLabelValues(severity).Inc()
}

// SetSessions sets the live session count.
func (m *Metrics) SetSessions(n int) {
	m.Sessions.Set(float64(n))
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(component, reason string) {
	m.ErrorsTotal.WithLabelValues(component, reason).Inc()
}
