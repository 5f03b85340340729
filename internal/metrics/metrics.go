// ABOUTME: Prometheus metrics for the gateway on a private registry
// ABOUTME: All record methods are nil-safe so components work without metrics wired

// Package metrics provides Prometheus metrics for pdfchat-gateway
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pdfchat"

// Metrics holds all Prometheus metrics for the gateway
type Metrics struct {
	registry *prometheus.Registry

	// Conversation metrics
	AsksTotal        *prometheus.CounterVec
	AskDuration      prometheus.Histogram
	ThreadsCreated   prometheus.Counter
	ResolverRaces    prometheus.Counter
	ReplaysRejected  prometheus.Counter
	TurnsAppended    prometheus.Counter
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	ProviderTokens   *prometheus.CounterVec

	// Upload metrics
	UploadsTotal *prometheus.CounterVec
	UploadBytes  prometheus.Histogram

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	ServerStartTime time.Time
}

// New creates all metrics on a fresh registry, including Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:        reg,
		ServerStartTime: time.Now(),
	}

	m.AsksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asks_total",
			Help:      "Total number of questions handled, by outcome code and last state reached",
		},
		[]string{"code", "state"},
	)

	m.AskDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ask_duration_seconds",
			Help:      "End-to-end duration of a question in seconds",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	m.ThreadsCreated = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_created_total",
			Help:      "Total number of threads created",
		},
	)

	m.ResolverRaces = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_resolve_races_total",
			Help:      "Thread creations that lost to a concurrent creation and re-fetched the winner",
		},
	)

	m.ReplaysRejected = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replays_rejected_total",
			Help:      "Questions rejected because their request id was already seen",
		},
	)

	m.TurnsAppended = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_appended_total",
			Help:      "Total number of turns persisted",
		},
	)

	m.ProviderCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Total number of answer provider calls",
		},
		[]string{"provider", "status"},
	)

	m.ProviderDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Duration of answer provider calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	m.ProviderTokens = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_tokens_total",
			Help:      "Tokens reported by the answer provider",
		},
		[]string{"direction"},
	)

	m.UploadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Total number of PDF uploads",
		},
		[]string{"status"},
	)

	m.UploadBytes = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upload_size_bytes",
			Help:      "Size of uploaded PDFs in bytes",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 4, 8),
		},
	)

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds",
		},
		func() float64 { return time.Since(m.ServerStartTime).Seconds() },
	)

	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordAsk records the outcome of one question.
func (m *Metrics) RecordAsk(code, state string, duration time.Duration) {
	if m == nil {
		return
	}
	m.AsksTotal.WithLabelValues(code, state).Inc()
	m.AskDuration.Observe(duration.Seconds())
}

// RecordThreadCreated counts a newly created thread.
func (m *Metrics) RecordThreadCreated() {
	if m == nil {
		return
	}
	m.ThreadsCreated.Inc()
}

// RecordResolverRace counts a lost create race.
func (m *Metrics) RecordResolverRace() {
	if m == nil {
		return
	}
	m.ResolverRaces.Inc()
}

// RecordReplayRejected counts a rejected duplicate request id.
func (m *Metrics) RecordReplayRejected() {
	if m == nil {
		return
	}
	m.ReplaysRejected.Inc()
}

// RecordTurnsAppended counts persisted turns.
func (m *Metrics) RecordTurnsAppended(n int) {
	if m == nil {
		return
	}
	m.TurnsAppended.Add(float64(n))
}

// RecordProviderCall records a provider call with its status.
func (m *Metrics) RecordProviderCall(provider, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, status).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordProviderTokens adds provider-reported token counts.
func (m *Metrics) RecordProviderTokens(input, output int64) {
	if m == nil {
		return
	}
	m.ProviderTokens.WithLabelValues("input").Add(float64(input))
	m.ProviderTokens.WithLabelValues("output").Add(float64(output))
}

// RecordUpload records an upload attempt.
func (m *Metrics) RecordUpload(status string, size int64) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(status).Inc()
	if size > 0 {
		m.UploadBytes.Observe(float64(size))
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
