package observability

import (
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce      sync.Once
	violationsTotal   *prometheus.CounterVec
	submissionsTotal  *prometheus.CounterVec
	flushedResponses  *prometheus.CounterVec
	droppedTasksTotal *prometheus.CounterVec
	workerItemsTotal  *prometheus.CounterVec
	activeSessions    prometheus.Gauge
	submitLatency     prometheus.Histogram
)

// RegisterMetrics initialises the Prometheus collectors used by the proctor.
func RegisterMetrics() {
	registerOnce.Do(func() {
		violationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_violations_total",
			Help: "Full-screen exits counted while a session was active, by resulting tier.",
		}, []string{"tier"})

		submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_submissions_total",
			Help: "Terminal submissions by trigger and outcome.",
		}, []string{"reason", "outcome"})

		flushedResponses = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_response_flush_total",
			Help: "Response persistence attempts by result.",
		}, []string{"result"})

		droppedTasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_dropped_tasks_total",
			Help: "Fire-and-forget tasks dropped because the queue was full or closed.",
		}, []string{"task"})

		workerItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "proctor_worker_items_total",
			Help: "Queue items handled by the persistence workers, by queue and result.",
		}, []string{"queue", "result"})

		activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "proctor_active_sessions",
			Help: "Live session controllers held in memory.",
		})

		submitLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "proctor_submit_duration_seconds",
			Help:    "Time from entering Submitting to a resolved outcome.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		})

		prometheus.MustRegister(violationsTotal, submissionsTotal, flushedResponses,
			droppedTasksTotal, workerItemsTotal, activeSessions, submitLatency)
	})
}

// Violations exposes the violation counter.
func Violations() *prometheus.CounterVec {
	RegisterMetrics()
	return violationsTotal
}

// Submissions exposes the submission counter.
func Submissions() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsTotal
}

// FlushedResponses exposes the response persistence counter.
func FlushedResponses() *prometheus.CounterVec {
	RegisterMetrics()
	return flushedResponses
}

// DroppedTasks exposes the dropped task counter.
func DroppedTasks() *prometheus.CounterVec {
	RegisterMetrics()
	return droppedTasksTotal
}

// WorkerItems exposes the persistence worker counter.
func WorkerItems() *prometheus.CounterVec {
	RegisterMetrics()
	return workerItemsTotal
}

// ActiveSessions exposes the live session gauge.
func ActiveSessions() prometheus.Gauge {
	RegisterMetrics()
	return activeSessions
}

// SubmitLatency exposes the submission latency histogram.
func SubmitLatency() prometheus.Histogram {
	RegisterMetrics()
	return submitLatency
}

// MetricsHandler exposes the Prometheus scrape endpoint via Gin.
func MetricsHandler() gin.HandlerFunc {
	RegisterMetrics()
	return gin.WrapH(promhttp.Handler())
}
