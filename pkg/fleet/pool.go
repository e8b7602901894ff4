package fleet

import "time"

// SlotState is the lifecycle state of one ghost-context pool slot
// (spec.md §4.3).
type SlotState string

const (
	SlotCold         SlotState = "COLD"
	SlotReplenishing SlotState = "REPLENISHING"
	SlotAvailable    SlotState = "AVAILABLE"
	SlotInUse        SlotState = "IN_USE"
)

// Slot is one ghost-context pool entry.
type Slot struct {
	ContextID string
	State     SlotState
	LeasedBy  string
	Fragment  string
	UpdatedAt time.Time
}

// Lease represents a caller's temporary ownership of a slot.
type Lease struct {
	LeaseID   string
	ContextID string
	TaskID    string
	Priority  Priority
	AcquiredAt time.Time
}

// PoolSnapshot is a point-in-time read of the ghost-context pool
// (spec.md §3 Pool Snapshot: `{min, max, total, cold, replenishing,
// available, in_use, queued, slot_states[]}`, invariant `cold +
// replenishing + available + in_use == total`).
type PoolSnapshot struct {
	Min               int
	Max               int
	Total             int
	Cold              int
	Replenishing      int
	Available         int
	InUse             int
	Queued            int
	SlotStates        []Slot
	WarmAssignments   int64
	QueuedAssignments int64
	AverageWaitMS     float64
	TakenAt           time.Time
}

// QueueEventType is a pool wait-queue lifecycle event.
type QueueEventType string

const (
	QueueEnqueued   QueueEventType = "ENQUEUED"
	QueueDispatched QueueEventType = "DISPATCHED"
	QueueReleased   QueueEventType = "RELEASED"
)

// QueueEvent is emitted on every pool wait-queue transition.
type QueueEvent struct {
	Type      QueueEventType
	TaskID    string
	ContextID string
	Priority  Priority
	WaitedMS  int64
	At        time.Time
}

// StepRecord is one row of a task's step history (spec.md §3 Step
// Record: tiers attempted, AX-deficiency signals, scroll count,
// observation-cache hits, DOM-mutation summary, and context-window
// metrics, in addition to the resolving tier and decision).
type StepRecord struct {
	Step            int
	Tier            Tier
	TiersAttempted  []Tier
	RefetchReason   RefetchReason
	Decision        ActionDecision
	Fingerprint     Fingerprint
	Escalated       bool
	EscalationCause EscalationReason
	AXDeficiency    *AXDeficiencySignals
	ScrollCount     int
	CacheHits       CacheHitCounters
	Mutation        *MutationSummary
	ContextWindow   ContextWindowMetrics
	Error           *ErrorDetail
	DurationMS      int64
	At              time.Time
}

// SchedulerEventType is emitted by the parallel task scheduler
// (spec.md §4.4).
type SchedulerEventType string

const (
	EventTaskStarted                SchedulerEventType = "STARTED"
	EventTaskCrashDetected           SchedulerEventType = "CRASH_DETECTED"
	EventTaskRetrying                SchedulerEventType = "RETRYING"
	EventTaskSucceeded               SchedulerEventType = "SUCCEEDED"
	EventTaskFailed                  SchedulerEventType = "FAILED"
	EventResourceBudgetExceeded      SchedulerEventType = "RESOURCE_BUDGET_EXCEEDED"
	EventResourceBudgetKilled        SchedulerEventType = "RESOURCE_BUDGET_KILLED"
)

// SchedulerEvent is one scheduler lifecycle notification.
type SchedulerEvent struct {
	Type    SchedulerEventType
	TaskID  string
	Attempt int
	Detail  string
	At      time.Time
}

// ResourceSample is one CPU/memory reading for a leased context.
type ResourceSample struct {
	ContextID  string
	CPUPercent float64
	MemoryMB   float64
	At         time.Time
}

// ResourceBudget bounds CPU/memory usage for a leased context over a
// sliding violation window (spec.md §5 Resource budget enforcement).
type ResourceBudget struct {
	MaxCPUPercent     float64
	MaxMemoryMB       float64
	SampleInterval    time.Duration
	ViolationWindow   time.Duration
}

// DefaultResourceBudget returns the package defaults.
func DefaultResourceBudget() ResourceBudget {
	return ResourceBudget{
		MaxCPUPercent:   80,
		MaxMemoryMB:     1024,
		SampleInterval:  500 * time.Millisecond,
		ViolationWindow: 3 * time.Second,
	}
}

// TaskOutcome is the terminal result of a scheduled task run.
type TaskOutcome struct {
	TaskID    string
	Status    TaskStatus
	Attempts  int
	Steps     []StepRecord
	Error     *ErrorDetail
	StartedAt time.Time
	EndedAt   time.Time
}
