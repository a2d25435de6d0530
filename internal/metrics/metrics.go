// Package metrics provides OpenTelemetry instrumentation for the
// EventScrape services. It exports Prometheus metrics and provides
// tracing capabilities.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "eventscrape"

// Metrics holds all EventScrape Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Job metrics
	JobsProcessed *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec

	// Queue metrics
	QueueDepth *prometheus.GaugeVec

	// Ingestion metrics
	EventsIngested *prometheus.CounterVec

	// Run metrics
	RunsFinished *prometheus.CounterVec

	// Export metrics
	ExportsFinished *prometheus.CounterVec

	// Log streaming metrics
	SSESessions prometheus.Gauge
}

// Provider wraps the telemetry providers
type Provider struct {
	Tracer  trace.Tracer
	Metrics *Metrics
}

// NewProvider initializes telemetry with Prometheus metrics
func NewProvider() *Provider {
	return &Provider{
		Tracer:  otel.Tracer(serviceName),
		Metrics: initMetrics(),
	}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint
func (p *Provider) Handler() http.Handler {
	return promhttp.Handler()
}

func initMetrics() *Metrics {
	m := &Metrics{}
	initHTTPMetrics(m)
	initJobMetrics(m)
	initQueueMetrics(m)
	initPipelineMetrics(m)
	initStreamMetrics(m)
	return m
}

func initHTTPMetrics(m *Metrics) {
	m.HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventscrape_http_requests_total",
		Help: "Total HTTP requests served, by route and status",
	}, []string{"method", "path", "status"})

	m.HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventscrape_http_request_duration_seconds",
		Help:    "Time to serve an HTTP request",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"method", "path"})
}

func initJobMetrics(m *Metrics) {
	m.JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventscrape_jobs_processed_total",
		Help: "Total queue jobs processed, by queue and outcome",
	}, []string{"queue", "outcome"})

	m.JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventscrape_job_duration_seconds",
		Help:    "Time to process a single queue job",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"queue"})
}

func initQueueMetrics(m *Metrics) {
	m.QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eventscrape_queue_depth",
		Help: "Current queue depth, by queue and state (waiting, active, delayed)",
	}, []string{"queue", "state"})
}

func initPipelineMetrics(m *Metrics) {
	m.EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventscrape_events_ingested_total",
		Help: "Raw events ingested, by source and disposition (inserted, updated, skipped)",
	}, []string{"source", "disposition"})

	m.RunsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventscrape_runs_finished_total",
		Help: "Scrape runs finished, by terminal status",
	}, []string{"status"})

	m.ExportsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventscrape_exports_finished_total",
		Help: "Exports finished, by format and terminal status",
	}, []string{"format", "status"})
}

func initStreamMetrics(m *Metrics) {
	m.SSESessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventscrape_sse_sessions",
		Help: "Currently open SSE log-stream sessions",
	})
}

// RecordHTTPRequest records one served request. Path should be the route
// template, not the raw URL, to keep cardinality bounded.
func (p *Provider) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	p.Metrics.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	p.Metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordJob records the outcome of one queue job attempt.
func (p *Provider) RecordJob(queueName string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	p.Metrics.JobsProcessed.WithLabelValues(queueName, outcome).Inc()
	p.Metrics.JobDuration.WithLabelValues(queueName).Observe(duration.Seconds())
}

// SetQueueDepth publishes a queue depth sample.
func (p *Provider) SetQueueDepth(queueName, state string, depth int64) {
	p.Metrics.QueueDepth.WithLabelValues(queueName, state).Set(float64(depth))
}

// RecordIngested counts ingested events per disposition.
func (p *Provider) RecordIngested(source, disposition string, count int) {
	if count == 0 {
		return
	}
	p.Metrics.EventsIngested.WithLabelValues(source, disposition).Add(float64(count))
}

// RecordRunFinished counts a run reaching a terminal status.
func (p *Provider) RecordRunFinished(status string) {
	p.Metrics.RunsFinished.WithLabelValues(status).Inc()
}

// RecordExportFinished counts an export reaching a terminal status.
func (p *Provider) RecordExportFinished(format, status string) {
	p.Metrics.ExportsFinished.WithLabelValues(format, status).Inc()
}

// SSESessionStarted marks one more open log-stream session.
func (p *Provider) SSESessionStarted() {
	p.Metrics.SSESessions.Inc()
}

// SSESessionEnded marks one log-stream session closed.
func (p *Provider) SSESessionEnded() {
	p.Metrics.SSESessions.Dec()
}
