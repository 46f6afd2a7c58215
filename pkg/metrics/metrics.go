// Package metrics exposes Prometheus gauges and counters for the
// orchestrator and worker pipeline, adapted from cuemby-warren/pkg/metrics'
// registration/Handler/Timer pattern onto this domain's queue depths,
// sweep outcomes, registration state transitions, and worker phase results.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "certorch_queue_depth",
			Help: "Number of entries currently held in each priority queue",
		},
		[]string{"queue"}, // tasks | retries | expirations
	)

	RegistrationsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "certorch_registrations_total",
			Help: "Number of updateRegistration state transitions, by the state entered",
		},
		[]string{"state"},
	)

	DispenseTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certorch_dispense_total",
			Help: "Total number of dispenseTask calls that returned a task",
		},
	)

	NoTasksAvailableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certorch_no_tasks_available_total",
			Help: "Total number of dispenseTask calls that found nothing due",
		},
	)

	ExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certorch_expired_total",
			Help: "Total number of registrations removed by the expiration sweep",
		},
	)

	RetrySweptTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "certorch_retry_swept_total",
			Help: "Total number of registrations re-queued by the retry sweep",
		},
	)

	WorkerPhaseOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certorch_worker_phase_outcomes_total",
			Help: "Total worker phase executions by phase and outcome",
		},
		[]string{"phase", "outcome"},
	)

	RPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "certorch_rpc_duration_seconds",
			Help:    "Orchestrator RPC handler latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		RegistrationsTotal,
		DispenseTotal,
		NoTasksAvailableTotal,
		ExpiredTotal,
		RetrySweptTotal,
		WorkerPhaseOutcomesTotal,
		RPCDuration,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures elapsed time for one RPC call.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
