// Package metrics exposes the Prometheus instrumentation for the
// scheduling core: optimizer runs, emergency inserts, and background
// task processing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the services report into.
type Metrics struct {
	SolverRuns        *prometheus.CounterVec
	SolverDuration    prometheus.Histogram
	SolverUnassigned  prometheus.Histogram
	EmergencyInserts  *prometheus.CounterVec
	ScheduleClears    prometheus.Counter
	ReassignedJobs    prometheus.Counter
	WorkerTasks       *prometheus.CounterVec
}

// New registers every collector against reg and returns the bundle.
// Pass prometheus.DefaultRegisterer in production, a fresh registry in
// tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SolverRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "solver_runs_total",
			Help:      "Optimizer runs by outcome (feasible or infeasible).",
		}, []string{"outcome"}),
		SolverDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "solver_duration_seconds",
			Help:      "Wall-clock time spent per optimizer run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 15, 30, 60, 120},
		}),
		SolverUnassigned: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dispatch",
			Name:      "solver_unassigned_jobs",
			Help:      "Jobs left unassigned per optimizer run.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		EmergencyInserts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "emergency_inserts_total",
			Help:      "Emergency insert attempts by outcome (placed, bumped, failed).",
		}, []string{"outcome"}),
		ScheduleClears: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "schedule_clears_total",
			Help:      "Schedule wipe operations committed.",
		}),
		ReassignedJobs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "reassigned_jobs_total",
			Help:      "Jobs moved between staff by reassignment passes.",
		}),
		WorkerTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dispatch",
			Name:      "worker_tasks_total",
			Help:      "Background tasks processed by type and outcome.",
		}, []string{"task", "outcome"}),
	}
}
