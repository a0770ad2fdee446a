package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	messagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_messages_received_total",
		Help: "Total number of inbound messages",
	}, []string{"kind"})

	admissionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_admission_rejected_total",
		Help: "Total number of requests rejected by admission control",
	}, []string{"scope"})

	commandsExecuted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_commands_executed_total",
		Help: "Total number of commands executed",
	}, []string{"command"})

	jobsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_jobs_scheduled_total",
		Help: "Total number of jobs handed to the dispatcher",
	})

	jobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_jobs_completed_total",
		Help: "Total number of dispatched jobs completed",
	}, []string{"status"})

	aiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bot_ai_request_duration_seconds",
		Help:    "Duration of AI backend requests",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "status"})

	profileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_profile_cache_hits_total",
		Help: "Total number of profile cache hits",
	})

	profileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_profile_cache_misses_total",
		Help: "Total number of profile cache misses",
	})

	dialogTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_dialog_transitions_total",
		Help: "Total number of settings dialog transitions",
	}, []string{"state"})

	dialogTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bot_dialog_timeouts_total",
		Help: "Total number of settings dialogs reverted by timeout",
	})
)

// Metrics provides methods to record metrics
type Metrics struct{}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordMessageReceived records an inbound message of the given kind (text or voice)
func (m *Metrics) RecordMessageReceived(kind string) {
	messagesReceived.WithLabelValues(kind).Inc()
}

// RecordAdmissionRejected records a rejection by the named scope
func (m *Metrics) RecordAdmissionRejected(scope string) {
	admissionRejected.WithLabelValues(scope).Inc()
}

// RecordCommandExecuted records an executed command
func (m *Metrics) RecordCommandExecuted(command string) {
	commandsExecuted.WithLabelValues(command).Inc()
}

// RecordJobScheduled records a job handed to the dispatcher
func (m *Metrics) RecordJobScheduled() {
	jobsScheduled.Inc()
}

// RecordJobCompleted records a finished job with its status
func (m *Metrics) RecordJobCompleted(status string) {
	jobsCompleted.WithLabelValues(status).Inc()
}

// RecordAIRequest records an AI backend request
func (m *Metrics) RecordAIRequest(operation, status string, duration time.Duration) {
	aiRequestDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordProfileCacheHit records a profile cache hit
func (m *Metrics) RecordProfileCacheHit() {
	profileCacheHits.Inc()
}

// RecordProfileCacheMiss records a profile cache miss
func (m *Metrics) RecordProfileCacheMiss() {
	profileCacheMisses.Inc()
}

// RecordDialogTransition records entry into a dialog state
func (m *Metrics) RecordDialogTransition(state string) {
	dialogTransitions.WithLabelValues(state).Inc()
}

// RecordDialogTimeout records a dialog reverted by its deadline
func (m *Metrics) RecordDialogTimeout() {
	dialogTimeouts.Inc()
}

// StartMetricsServer starts the metrics HTTP server
func StartMetricsServer(port int, path string) error {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler())

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server.ListenAndServe()
}
