package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. All record methods are safe to call
// on a nil *Metrics, so components can run without instrumentation.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Compilation metrics
	CompileRequests  *prometheus.CounterVec
	CompileResponses *prometheus.CounterVec
	CompileDuration  *prometheus.HistogramVec
	CompileQueued    prometheus.Gauge

	// Sandbox metrics
	Runs        *prometheus.CounterVec
	RunDuration prometheus.Histogram

	// Type information metrics
	InfoQueries *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
	stop      chan struct{}
	stopOnce  sync.Once

	snapshot MetricsSnapshot
	mu       sync.RWMutex
}

// MetricsSnapshot holds current metric values for the JSON health endpoint
type MetricsSnapshot struct {
	TotalRequests  int64   `json:"totalRequests"`
	TotalErrors    int64   `json:"totalErrors"`
	TotalRuns      int64   `json:"totalRuns"`
	FailedRuns     int64   `json:"failedRuns"`
	ActiveSessions int64   `json:"activeSessions"`
	ActiveSockets  int64   `json:"activeSockets"`
	UptimeSeconds  float64 `json:"uptimeSeconds"`
}

// NewMetrics creates a collector registered on reg. Passing a fresh
// prometheus.NewRegistry() keeps tests and multiple servers independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		stop:      make(chan struct{}),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playground_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playground_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playground_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
			},
			[]string{"method", "path"},
		),

		// Compilation metrics
		CompileRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_compile_requests_total",
				Help: "Total number of files submitted to a compile channel",
			},
			[]string{"channel"},
		),
		CompileResponses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_compile_responses_total",
				Help: "Total number of compile responses by type",
			},
			[]string{"channel", "type"},
		),
		CompileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "playground_compile_duration_seconds",
				Help:    "Time spent transforming one file",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"loader"},
		),
		CompileQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "playground_compile_queued",
				Help: "Number of compile requests waiting for a worker",
			},
		),

		// Sandbox metrics
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_runs_total",
				Help: "Total number of sandbox runs by outcome",
			},
			[]string{"outcome"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "playground_run_duration_seconds",
				Help:    "Sandbox run duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),

		// Type information metrics
		InfoQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_info_queries_total",
				Help: "Total number of type information queries by kind and result",
			},
			[]string{"kind", "result"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "playground_sessions_active",
				Help: "Number of active playground sessions",
			},
		),
		SessionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "playground_sessions_total",
				Help: "Total number of playground sessions created",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "playground_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "playground_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "playground_uptime_seconds",
				Help: "Process uptime in seconds",
			},
		),
	}

	go m.updateUptime()

	return m
}

// Close stops the uptime updater
func (m *Metrics) Close() {
	if m == nil {
		return
	}
	m.stopOnce.Do(func() { close(m.stop) })
}

// updateUptime continuously updates the uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.Uptime.Set(time.Since(m.startTime).Seconds())
		}
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordCompileRequest records a file submitted to channel
func (m *Metrics) RecordCompileRequest(channel string) {
	if m == nil {
		return
	}
	m.CompileRequests.WithLabelValues(channel).Inc()
}

// RecordCompileResponse records a worker reply of msgType on channel
func (m *Metrics) RecordCompileResponse(channel, msgType string) {
	if m == nil {
		return
	}
	m.CompileResponses.WithLabelValues(channel, msgType).Inc()
}

// ObserveCompile records the time one transform took
func (m *Metrics) ObserveCompile(loader string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CompileDuration.WithLabelValues(loader).Observe(duration.Seconds())
}

// AddCompileQueued adjusts the number of queued compile requests
func (m *Metrics) AddCompileQueued(delta int) {
	if m == nil {
		return
	}
	m.CompileQueued.Add(float64(delta))
}

// RecordRun records one sandbox run
func (m *Metrics) RecordRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRuns++
	if outcome != "success" {
		m.snapshot.FailedRuns++
	}
	m.mu.Unlock()
}

// RecordInfoQuery records a type information query
func (m *Metrics) RecordInfoQuery(kind, result string) {
	if m == nil {
		return
	}
	m.InfoQueries.WithLabelValues(kind, result).Inc()
}

// SetSessionsActive sets the number of active sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

// IncSessionsTotal increments the created sessions counter
func (m *Metrics) IncSessionsTotal() {
	if m == nil {
		return
	}
	m.SessionsTotal.Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveSockets++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveSockets--
	m.mu.Unlock()
}

// Snapshot returns the current values tracked for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := m.snapshot
	snap.UptimeSeconds = time.Since(m.startTime).Seconds()
	return snap
}
