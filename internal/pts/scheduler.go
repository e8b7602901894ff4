// Package pts implements the parallel task scheduler: it layers over the
// ghost-context pool to acquire leases, drive caller-supplied task
// bodies, classify crashes for retry, and enforce per-context resource
// budgets (spec.md §4.4).
package pts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brennhill/ghost-fleet/internal/backoff"
	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/internal/gcp"
	"github.com/brennhill/ghost-fleet/internal/observability"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// RunTaskFunc is the caller-supplied task body. It must drive the task
// through its own state machine to COMPLETE|FAILED and return the step
// history it produced (spec.md §4.4 submit_task step 2).
type RunTaskFunc func(ctx context.Context, taskID string, input string, attempt int, lease fleet.Lease, session *bcl.Session) ([]fleet.StepRecord, *fleet.ErrorDetail)

// Options configures a Scheduler.
type Options struct {
	Pool           *gcp.Pool
	MaxConcurrent  int
	MaxRetries     int
	BackoffPolicy  backoff.BackoffPolicy
	ResourceBudget fleet.ResourceBudget
	Sampler        ResourceSampler
	Events         observability.EventStore
	Metrics        *observability.Metrics
	Logger         *observability.Logger
}

// Scheduler submits tasks onto the ghost-context pool, retries crashed
// attempts on a fresh context, and enforces resource budgets.
type Scheduler struct {
	opts Options
	sem  chan struct{}

	mu        sync.Mutex
	cancelled map[string]bool
	lastSeen  map[string]*LastObserved
}

// LastObserved freezes a cancelled task's last-known state for
// out-of-band inspection (spec.md §4.4 cancel_task).
type LastObserved struct {
	CurrentURL    string
	ProgressLabel string
	CurrentAction string
}

// New constructs a Scheduler bound to pool.
func New(opts Options) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 2
	}
	if opts.BackoffPolicy == (backoff.BackoffPolicy{}) {
		opts.BackoffPolicy = backoff.DefaultPolicy()
	}
	if opts.ResourceBudget == (fleet.ResourceBudget{}) {
		opts.ResourceBudget = fleet.DefaultResourceBudget()
	}
	return &Scheduler{
		opts:      opts,
		sem:       make(chan struct{}, opts.MaxConcurrent),
		cancelled: make(map[string]bool),
		lastSeen:  make(map[string]*LastObserved),
	}
}

// attempt records one lease/run cycle for ParallelTaskExecutionError.
type attempt struct {
	Attempt       int
	ContextID     string
	Status        fleet.TaskStatus
	CrashDetected bool
}

// ParallelTaskExecutionError is returned when submit_task exhausts its
// retries or hits a non-retryable failure (spec.md §4.4 submit_task step 3).
type ParallelTaskExecutionError struct {
	AttemptsUsed int
	Attempts     []attempt
	ErrorDetail  *fleet.ErrorDetail
}

func (e *ParallelTaskExecutionError) Error() string {
	if e.ErrorDetail != nil {
		return fmt.Sprintf("pts: task failed after %d attempt(s): %s", e.AttemptsUsed, e.ErrorDetail.Message)
	}
	return fmt.Sprintf("pts: task failed after %d attempt(s)", e.AttemptsUsed)
}

// SubmitTask acquires a lease, runs run, retries on a recycled
// crash-classified lease up to MaxRetries+1 attempts, and returns the
// terminal TaskOutcome (spec.md §4.4 submit_task).
func (s *Scheduler) SubmitTask(ctx context.Context, task fleet.Task, run RunTaskFunc) (fleet.TaskOutcome, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return fleet.TaskOutcome{}, ctx.Err()
	}
	defer func() { <-s.sem }()

	started := time.Now()
	s.emit(observability.EventTypeTaskStart, task.TaskID, "")

	var attempts []attempt
	var lastDetail *fleet.ErrorDetail
	var steps []fleet.StepRecord

	maxAttempts := s.opts.MaxRetries + 1
	for a := 1; a <= maxAttempts; a++ {
		if s.isCancelled(task.TaskID) {
			break
		}

		lease, err := s.opts.Pool.Acquire(ctx, task.TaskID, task.Priority)
		if err != nil {
			lastDetail = &fleet.ErrorDetail{Type: fleet.ErrRuntime, Message: err.Error()}
			break
		}

		session := s.opts.Pool.Session(lease.ContextID)
		sampleCancel := s.startSampler(ctx, lease, session)
		attemptSteps, detail := run(ctx, task.TaskID, task.Intent, a, lease, session)
		sampleCancel()
		steps = append(steps, attemptSteps...)

		crashed := session != nil && session.GetLastCrashEvent() != nil
		status := fleet.TaskSucceeded
		if detail != nil {
			status = fleet.TaskFailed
		}
		attempts = append(attempts, attempt{Attempt: a, ContextID: lease.ContextID, Status: status, CrashDetected: crashed})

		s.opts.Pool.Release(ctx, lease)

		if detail == nil {
			s.recordTerminal(observability.EventTypeTaskEnd, task.TaskID, fleet.TaskSucceeded, time.Since(started))
			return fleet.TaskOutcome{
				TaskID: task.TaskID, Status: fleet.TaskSucceeded, Attempts: a,
				Steps: steps, StartedAt: started, EndedAt: time.Now(),
			}, nil
		}

		lastDetail = detail

		if crashed {
			s.emitEvent(observability.EventTypeCrashDetected, task.TaskID, lease.ContextID)
			if s.opts.Metrics != nil {
				s.opts.Metrics.CrashesDetected.WithLabelValues(crashErrorTypeLabel(detail)).Inc()
			}
		}

		// Only a crash/close is a retry signal at this layer (spec.md §7
		// Propagation, §4.4 "Crash-retry semantics"); any other error,
		// retryable or not, bubbles up as a ParallelTaskExecutionError.
		retryable := crashed && a < maxAttempts
		if !retryable {
			break
		}

		s.emitEvent(observability.EventTypeRetrying, task.TaskID, lease.ContextID)
		if s.opts.Metrics != nil {
			s.opts.Metrics.RetriesAttempted.WithLabelValues("succeeded").Inc()
		}
		if err := backoff.SleepWithBackoff(ctx, s.opts.BackoffPolicy, a); err != nil {
			break
		}
	}

	status := fleet.TaskFailed
	if s.isCancelled(task.TaskID) {
		status = fleet.TaskCancelled
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.TasksCompleted.WithLabelValues(strings.ToLower(string(status))).Inc()
		s.opts.Metrics.RetriesAttempted.WithLabelValues("exhausted").Inc()
	}
	s.recordTerminal(observability.EventTypeTaskError, task.TaskID, status, time.Since(started))

	return fleet.TaskOutcome{
			TaskID: task.TaskID, Status: status, Attempts: len(attempts),
			Steps: steps, Error: lastDetail, StartedAt: started, EndedAt: time.Now(),
		}, &ParallelTaskExecutionError{
			AttemptsUsed: len(attempts), Attempts: attempts, ErrorDetail: lastDetail,
		}
}

// CancelTask marks taskID CANCELLED. SubmitTask checks the mark before
// each attempt and then ends the task with status CANCELLED; an attempt
// already running is not interrupted by this call alone, so the caller
// should also force-recycle the lease's context via Pool.Recycle once it
// learns the context id, as CancelTaskAndRecycle does (spec.md §4.4
// cancel_task).
func (s *Scheduler) CancelTask(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[taskID] = true
}

func (s *Scheduler) isCancelled(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled[taskID]
}

// ObserveProgress freezes a task's last-known state, for CancelTask's
// out-of-band inspection contract.
func (s *Scheduler) ObserveProgress(taskID string, obs LastObserved) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen[taskID] = &obs
}

// LastObservedState returns what was last frozen for a (typically
// cancelled) task, or nil.
func (s *Scheduler) LastObservedState(taskID string) *LastObserved {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen[taskID]
}

func crashErrorTypeLabel(d *fleet.ErrorDetail) string {
	if d.Type == fleet.ErrRendererCrash {
		return "renderer_crash"
	}
	return "target_closed"
}

func (s *Scheduler) emit(t observability.EventType, taskID, contextID string) {
	if s.opts.Events == nil {
		return
	}
	_ = s.opts.Events.Record(&observability.Event{ID: uuid.NewString(), Type: t, TaskID: taskID, ContextID: contextID})
}

func (s *Scheduler) emitEvent(t observability.EventType, taskID, contextID string) {
	s.emit(t, taskID, contextID)
}

func (s *Scheduler) recordTerminal(t observability.EventType, taskID string, status fleet.TaskStatus, dur time.Duration) {
	s.emit(t, taskID, "")
	if s.opts.Metrics != nil {
		s.opts.Metrics.TaskDuration.Observe(dur.Seconds())
		if t != observability.EventTypeTaskError {
			s.opts.Metrics.TasksCompleted.WithLabelValues(strings.ToLower(string(status))).Inc()
		}
	}
}
