package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/taskd/internal/model"
)

// Metric label values for task kind and stop outcome.
const (
	kindScript    = "script"
	kindDelegated = "delegated"

	stopAborted   = "aborted"
	stopForwarded = "forwarded"
	stopRefused   = "refused"
	stopNoOwner   = "no_owner"
)

var (
	tasksStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskd_tasks_started_total",
			Help: "Total number of tasks created through the engine.",
		},
		[]string{"kind"},
	)

	tasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskd_tasks_finished_total",
			Help: "Total number of tasks moved to a terminal state by the engine.",
		},
		[]string{"state"},
	)

	scriptsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "taskd_scripts_running",
			Help: "Number of script evaluations currently in progress.",
		},
	)

	scriptDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskd_script_duration_seconds",
			Help:    "Wall-clock duration of script evaluations, in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 10),
		},
	)

	stopRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskd_stop_requests_total",
			Help: "Total number of stop requests by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(tasksStartedTotal)
	prometheus.MustRegister(tasksFinishedTotal)
	prometheus.MustRegister(scriptsRunning)
	prometheus.MustRegister(scriptDuration)
	prometheus.MustRegister(stopRequestsTotal)

	// Pre-initialize label combinations so they appear in /metrics from
	// startup.
	for _, k := range []string{kindScript, kindDelegated} {
		tasksStartedTotal.WithLabelValues(k)
	}
	for _, s := range []string{model.StateSucceeded, model.StateFailed, model.StateStopped} {
		tasksFinishedTotal.WithLabelValues(s)
	}
	for _, o := range []string{stopAborted, stopForwarded, stopRefused, stopNoOwner} {
		stopRequestsTotal.WithLabelValues(o)
	}
}

func recordFinished(result int) {
	tasksFinishedTotal.WithLabelValues(model.TaskState(&result)).Inc()
}
