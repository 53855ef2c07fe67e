package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carebridge-health/evv-engine/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation for the engine and
// provides a lightweight snapshot for the ops endpoint.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	clockEvents     *prometheus.CounterVec
	levels          *prometheus.CounterVec
	eligibility     *prometheus.CounterVec
	submissions     *prometheus.CounterVec
	overrides       prometheus.Counter
	amendments      prometheus.Counter

	clockEventCount uint64
	blockCount      uint64
	submitSuccess   uint64
	submitFailure   uint64
	requestCount    uint64
}

// MetricsSnapshot is the aggregate counters view served over the API.
type MetricsSnapshot struct {
	ClockEvents          uint64 `json:"clock_events"`
	EligibilityBlocks    uint64 `json:"eligibility_blocks"`
	SubmissionSuccesses  uint64 `json:"submission_successes"`
	SubmissionFailures   uint64 `json:"submission_failures"`
	HTTPRequests         uint64 `json:"http_requests"`
	Goroutines           int    `json:"goroutines"`
}

// NewMetricsService registers the engine's Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	clockEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evv_clock_events_total",
		Help: "Clock events processed, by entry type and outcome",
	}, []string{"entry_type", "outcome"})

	levels := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evv_verification_levels_total",
		Help: "Verification level assigned to accepted clock events",
	}, []string{"level"})

	eligibility := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evv_eligibility_decisions_total",
		Help: "Eligibility gate decisions by outcome",
	}, []string{"outcome"})

	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evv_submission_attempts_total",
		Help: "Aggregator submission attempts by outcome",
	}, []string{"outcome"})

	overrides := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evv_manual_overrides_total",
		Help: "Supervisor overrides applied",
	})

	amendments := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evv_amendments_total",
		Help: "Record amendments created",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, clockEvents, levels, eligibility, submissions, overrides, amendments, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		clockEvents:     clockEvents,
		levels:          levels,
		eligibility:     eligibility,
		submissions:     submissions,
		overrides:       overrides,
		amendments:      amendments,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
}

// ObserveClockEvent counts a processed clock event and its assigned level.
func (m *MetricsService) ObserveClockEvent(entryType models.EntryType, status models.TimeEntryStatus, level models.VerificationLevel) {
	if m == nil {
		return
	}
	m.clockEvents.WithLabelValues(string(entryType), string(status)).Inc()
	m.levels.WithLabelValues(string(level)).Inc()
	atomic.AddUint64(&m.clockEventCount, 1)
}

// ObserveClockRejection counts a rejected clock event.
func (m *MetricsService) ObserveClockRejection(entryType models.EntryType) {
	if m == nil {
		return
	}
	m.clockEvents.WithLabelValues(string(entryType), "REJECTED").Inc()
	atomic.AddUint64(&m.clockEventCount, 1)
}

// ObserveEligibility counts a gate decision.
func (m *MetricsService) ObserveEligibility(outcome models.EligibilityOutcome) {
	if m == nil {
		return
	}
	m.eligibility.WithLabelValues(string(outcome)).Inc()
	if outcome == models.EligibilityBlock {
		atomic.AddUint64(&m.blockCount, 1)
	}
}

// ObserveSubmission counts a delivery attempt outcome.
func (m *MetricsService) ObserveSubmission(outcome models.SubmissionOutcome) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(string(outcome)).Inc()
	switch outcome {
	case models.OutcomeSuccess:
		atomic.AddUint64(&m.submitSuccess, 1)
	case models.OutcomeFailed:
		atomic.AddUint64(&m.submitFailure, 1)
	}
}

// ObserveOverride counts an applied supervisor override.
func (m *MetricsService) ObserveOverride() {
	if m == nil {
		return
	}
	m.overrides.Inc()
}

// ObserveAmendment counts a created amendment.
func (m *MetricsService) ObserveAmendment() {
	if m == nil {
		return
	}
	m.amendments.Inc()
}

// Snapshot returns the aggregate counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		ClockEvents:         atomic.LoadUint64(&m.clockEventCount),
		EligibilityBlocks:   atomic.LoadUint64(&m.blockCount),
		SubmissionSuccesses: atomic.LoadUint64(&m.submitSuccess),
		SubmissionFailures:  atomic.LoadUint64(&m.submitFailure),
		HTTPRequests:        atomic.LoadUint64(&m.requestCount),
		Goroutines:          runtime.NumGoroutine(),
	}
}
