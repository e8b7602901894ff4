package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a centralized Prometheus metrics registry for the pool,
// scheduler, and perception layer.
type Metrics struct {
	// PoolSlots is a gauge of ghost-context pool slots by state.
	// Labels: state (cold|replenishing|available|in_use)
	PoolSlots *prometheus.GaugeVec

	// PoolQueueDepth is a gauge of queued acquire requests by priority.
	// Labels: priority (foreground|background)
	PoolQueueDepth *prometheus.GaugeVec

	// PoolWaitDuration measures time spent waiting for a slot, in seconds.
	// Labels: priority
	PoolWaitDuration *prometheus.HistogramVec

	// PoolAssignments counts slot assignments by path taken.
	// Labels: path (warm|queued)
	PoolAssignments *prometheus.CounterVec

	// TierResolutions counts perception tier selections.
	// Labels: tier (tier_1_ax|tier_2_vision|tier_3_scroll)
	TierResolutions *prometheus.CounterVec

	// StepDuration measures PAL step latency in seconds.
	// Labels: tier
	StepDuration *prometheus.HistogramVec

	// ActionsExecuted counts executed actions by type and outcome.
	// Labels: action, outcome (success|error)
	ActionsExecuted *prometheus.CounterVec

	// CrashesDetected counts renderer/target crashes observed by the scheduler.
	// Labels: error_type (target_closed|renderer_crash)
	CrashesDetected *prometheus.CounterVec

	// RetriesAttempted counts scheduler retry attempts.
	// Labels: outcome (succeeded|exhausted)
	RetriesAttempted *prometheus.CounterVec

	// ResourceBudgetViolations counts sustained CPU/memory budget breaches.
	// Labels: resource (cpu|memory)
	ResourceBudgetViolations *prometheus.CounterVec

	// ResourceBudgetKills counts KILL_TAB enforcements.
	ResourceBudgetKills prometheus.Counter

	// TasksCompleted counts terminal task outcomes.
	// Labels: status (succeeded|failed|cancelled)
	TasksCompleted *prometheus.CounterVec

	// TaskDuration measures end-to-end task latency in seconds.
	TaskDuration prometheus.Histogram
}

// NewMetrics creates and registers the fleet's Prometheus metrics. Call
// once at startup.
func NewMetrics() *Metrics {
	return &Metrics{
		PoolSlots: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ghost_fleet_pool_slots",
				Help: "Current ghost-context pool slots by state",
			},
			[]string{"state"},
		),

		PoolQueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ghost_fleet_pool_queue_depth",
				Help: "Current pool acquire queue depth by priority",
			},
			[]string{"priority"},
		),

		PoolWaitDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghost_fleet_pool_wait_seconds",
				Help:    "Time spent waiting for a ghost-context slot",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"priority"},
		),

		PoolAssignments: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghost_fleet_pool_assignments_total",
				Help: "Total slot assignments by dispatch path",
			},
			[]string{"path"},
		),

		TierResolutions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghost_fleet_tier_resolutions_total",
				Help: "Total perception tier selections",
			},
			[]string{"tier"},
		),

		StepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ghost_fleet_step_duration_seconds",
				Help:    "Duration of a single perceive-decide-act step",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"tier"},
		),

		ActionsExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghost_fleet_actions_total",
				Help: "Total actions executed by type and outcome",
			},
			[]string{"action", "outcome"},
		),

		CrashesDetected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghost_fleet_crashes_total",
				Help: "Total renderer/target crashes detected",
			},
			[]string{"error_type"},
		),

		RetriesAttempted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghost_fleet_retries_total",
				Help: "Total scheduler retry attempts by outcome",
			},
			[]string{"outcome"},
		),

		ResourceBudgetViolations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghost_fleet_resource_budget_violations_total",
				Help: "Total sustained resource budget violations",
			},
			[]string{"resource"},
		),

		ResourceBudgetKills: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ghost_fleet_resource_budget_kills_total",
				Help: "Total KILL_TAB enforcements from resource budget breaches",
			},
		),

		TasksCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ghost_fleet_tasks_total",
				Help: "Total tasks completed by terminal status",
			},
			[]string{"status"},
		),

		TaskDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ghost_fleet_task_duration_seconds",
				Help:    "End-to-end task duration",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
			},
		),
	}
}

// SetPoolSlots updates the pool slot gauge for a given state.
func (m *Metrics) SetPoolSlots(state string, count int) {
	m.PoolSlots.WithLabelValues(state).Set(float64(count))
}

// SetQueueDepth updates the pool queue depth gauge for a priority.
func (m *Metrics) SetQueueDepth(priority string, depth int) {
	m.PoolQueueDepth.WithLabelValues(priority).Set(float64(depth))
}

// RecordAcquire records the outcome of a pool acquire: whether the caller
// got a warm slot immediately or had to queue, and how long it waited.
func (m *Metrics) RecordAcquire(priority, path string, waitSeconds float64) {
	m.PoolAssignments.WithLabelValues(path).Inc()
	m.PoolWaitDuration.WithLabelValues(priority).Observe(waitSeconds)
}

// RecordTierResolution records which perception tier a step resolved to.
func (m *Metrics) RecordTierResolution(tier string) {
	m.TierResolutions.WithLabelValues(tier).Inc()
}

// RecordStep records a step's duration under its resolved tier.
func (m *Metrics) RecordStep(tier string, durationSeconds float64) {
	m.StepDuration.WithLabelValues(tier).Observe(durationSeconds)
}

// RecordAction records an executed action and its outcome.
func (m *Metrics) RecordAction(action, outcome string) {
	m.ActionsExecuted.WithLabelValues(action, outcome).Inc()
}

// RecordCrash records a detected renderer/target crash.
func (m *Metrics) RecordCrash(errorType string) {
	m.CrashesDetected.WithLabelValues(errorType).Inc()
}

// RecordRetry records a scheduler retry attempt's eventual outcome.
func (m *Metrics) RecordRetry(outcome string) {
	m.RetriesAttempted.WithLabelValues(outcome).Inc()
}

// RecordResourceBudgetViolation records a sustained CPU or memory breach.
func (m *Metrics) RecordResourceBudgetViolation(resource string) {
	m.ResourceBudgetViolations.WithLabelValues(resource).Inc()
}

// RecordResourceBudgetKill records a KILL_TAB enforcement.
func (m *Metrics) RecordResourceBudgetKill() {
	m.ResourceBudgetKills.Inc()
}

// RecordTaskOutcome records a task's terminal status and total duration.
func (m *Metrics) RecordTaskOutcome(status string, durationSeconds float64) {
	m.TasksCompleted.WithLabelValues(status).Inc()
	m.TaskDuration.Observe(durationSeconds)
}
