package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the recorder.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	pollsTotal      *prometheus.CounterVec
	capturesStarted prometheus.Counter
	captureFailures prometheus.Counter
	activeCaptures  prometheus.Gauge
	finalizeTotal   *prometheus.CounterVec
	resolvesTotal   *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the recorder.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chzzk_http_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chzzk_http_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	pollsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chzzk_polls_total",
		Help: "Liveness polls by outcome",
	}, []string{"result"})
	capturesStarted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chzzk_captures_started_total",
		Help: "Capture processes started",
	})
	captureFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chzzk_capture_failures_total",
		Help: "Capture processes that failed to start or exited abnormally",
	})
	activeCaptures := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chzzk_active_captures",
		Help: "Channels currently capturing or finalizing",
	})
	finalizeTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chzzk_finalize_total",
		Help: "Transcode runs by outcome",
	}, []string{"result"})
	resolvesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chzzk_manifest_resolves_total",
		Help: "Manifest resolutions by outcome",
	}, []string{"result"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		pollsTotal,
		capturesStarted,
		captureFailures,
		activeCaptures,
		finalizeTotal,
		resolvesTotal,
	)

	return &Metrics{
		registry:        registry,
		requestsTotal:   requestsTotal,
		errorsTotal:     errorsTotal,
		pollsTotal:      pollsTotal,
		capturesStarted: capturesStarted,
		captureFailures: captureFailures,
		activeCaptures:  activeCaptures,
		finalizeTotal:   finalizeTotal,
		resolvesTotal:   resolvesTotal,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// ObservePoll counts one poll; result is a transition name or an error class.
func (m *Metrics) ObservePoll(result string) {
	if m == nil {
		return
	}
	m.pollsTotal.WithLabelValues(result).Inc()
}

// IncCapturesStarted increments the started-captures counter.
func (m *Metrics) IncCapturesStarted() {
	if m == nil {
		return
	}
	m.capturesStarted.Inc()
}

// IncCaptureFailures increments the capture failure counter.
func (m *Metrics) IncCaptureFailures() {
	if m == nil {
		return
	}
	m.captureFailures.Inc()
}

// SetActiveCaptures sets the active captures gauge.
func (m *Metrics) SetActiveCaptures(n int) {
	if m == nil {
		return
	}
	m.activeCaptures.Set(float64(n))
}

// ObserveFinalize counts one transcode run ("ok" or "failed").
func (m *Metrics) ObserveFinalize(result string) {
	if m == nil {
		return
	}
	m.finalizeTotal.WithLabelValues(result).Inc()
}

// ObserveResolve counts one manifest resolution.
func (m *Metrics) ObserveResolve(result string) {
	if m == nil {
		return
	}
	m.resolvesTotal.WithLabelValues(result).Inc()
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active captures).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
