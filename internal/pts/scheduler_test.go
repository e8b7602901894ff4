package pts

import (
	"context"
	"testing"
	"time"

	"github.com/brennhill/ghost-fleet/internal/backoff"
	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/internal/gcp"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

func newTestScheduler(t *testing.T, maxRetries int) (*Scheduler, *gcp.Pool) {
	t.Helper()
	pool := gcp.New(gcp.Options{
		Min:               2,
		Max:               2,
		ReplenishInterval: 20 * time.Millisecond,
		AcquireTimeout:    time.Second,
		Connect:           func(ctx context.Context, contextID string) (*bcl.Session, error) { return nil, nil },
	})
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	s := New(Options{
		Pool:          pool,
		MaxConcurrent: 4,
		MaxRetries:    maxRetries,
		BackoffPolicy: backoff.BackoffPolicy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0},
	})
	return s, pool
}

func TestSubmitTaskSucceedsFirstAttempt(t *testing.T) {
	s, pool := newTestScheduler(t, 2)
	defer pool.Shutdown()

	task := fleet.Task{TaskID: "t1", Intent: "do thing", Priority: fleet.PriorityForeground}
	run := func(ctx context.Context, taskID, input string, attempt int, lease fleet.Lease, session *bcl.Session) ([]fleet.StepRecord, *fleet.ErrorDetail) {
		return []fleet.StepRecord{{Step: 1}}, nil
	}

	outcome, err := s.SubmitTask(context.Background(), task, run)
	if err != nil {
		t.Fatalf("SubmitTask() error = %v", err)
	}
	if outcome.Status != fleet.TaskSucceeded {
		t.Fatalf("got status %v, want SUCCEEDED", outcome.Status)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("got Attempts = %d, want 1", outcome.Attempts)
	}
}

func TestSubmitTaskNonRetryableFailsFast(t *testing.T) {
	s, pool := newTestScheduler(t, 3)
	defer pool.Shutdown()

	calls := 0
	task := fleet.Task{TaskID: "t2", Intent: "do thing", Priority: fleet.PriorityForeground}
	run := func(ctx context.Context, taskID, input string, attempt int, lease fleet.Lease, session *bcl.Session) ([]fleet.StepRecord, *fleet.ErrorDetail) {
		calls++
		return nil, &fleet.ErrorDetail{Type: fleet.ErrNetwork, Status: 404, Retryable: false, Message: "not found"}
	}

	outcome, err := s.SubmitTask(context.Background(), task, run)
	if err == nil {
		t.Fatal("expected ParallelTaskExecutionError, got nil")
	}
	if outcome.Status != fleet.TaskFailed {
		t.Fatalf("got status %v, want FAILED", outcome.Status)
	}
	if calls != 1 {
		t.Fatalf("got %d attempts, want exactly 1 for a non-retryable error", calls)
	}
}

// TestSubmitTaskDoesNotRetryNonCrashRetryableError locks in spec.md §7
// Propagation: "PTS treats crash/close as a retry signal; all other
// errors bubble to the caller as ParallelTaskExecutionError." A
// retryable-at-the-PAL-layer error (e.g. a navigation TIMEOUT) that is
// not a crash must still fail the attempt outright at this layer.
func TestSubmitTaskDoesNotRetryNonCrashRetryableError(t *testing.T) {
	s, pool := newTestScheduler(t, 2)
	defer pool.Shutdown()

	calls := 0
	task := fleet.Task{TaskID: "t3", Intent: "do thing", Priority: fleet.PriorityForeground}
	run := func(ctx context.Context, taskID, input string, attempt int, lease fleet.Lease, session *bcl.Session) ([]fleet.StepRecord, *fleet.ErrorDetail) {
		calls++
		return nil, &fleet.ErrorDetail{Type: fleet.ErrTimeout, Retryable: true, Message: "timed out"}
	}

	outcome, err := s.SubmitTask(context.Background(), task, run)
	if err == nil {
		t.Fatal("expected ParallelTaskExecutionError, got nil")
	}
	if outcome.Status != fleet.TaskFailed {
		t.Fatalf("got status %v, want FAILED", outcome.Status)
	}
	if calls != 1 {
		t.Fatalf("got %d calls, want exactly 1 for a non-crash retryable error", calls)
	}
}

// TestSubmitTaskRetriesOnCrash exercises the one retry signal this layer
// does act on: a session that observed a crash/close event (spec.md §4.4
// Crash-retry semantics, §8 seed case 3).
func TestSubmitTaskRetriesOnCrash(t *testing.T) {
	pool := gcp.New(gcp.Options{
		Min:               2,
		Max:               2,
		ReplenishInterval: 20 * time.Millisecond,
		AcquireTimeout:    time.Second,
		Connect: func(ctx context.Context, contextID string) (*bcl.Session, error) {
			return &bcl.Session{}, nil
		},
	})
	if err := pool.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer pool.Shutdown()

	s := New(Options{
		Pool:          pool,
		MaxConcurrent: 4,
		MaxRetries:    2,
		BackoffPolicy: backoff.BackoffPolicy{InitialMs: 1, MaxMs: 5, Factor: 1, Jitter: 0},
	})

	calls := 0
	task := fleet.Task{TaskID: "t4", Intent: "do thing", Priority: fleet.PriorityForeground}
	run := func(ctx context.Context, taskID, input string, attempt int, lease fleet.Lease, session *bcl.Session) ([]fleet.StepRecord, *fleet.ErrorDetail) {
		calls++
		if attempt < 2 {
			session.RecordCrashForTesting(&bcl.CrashEvent{Source: bcl.CrashTargetClosed})
			return nil, &fleet.ErrorDetail{Type: fleet.ErrTargetClosed, Retryable: false, Message: "target closed"}
		}
		return []fleet.StepRecord{{Step: 1}}, nil
	}

	outcome, err := s.SubmitTask(context.Background(), task, run)
	if err != nil {
		t.Fatalf("SubmitTask() error = %v", err)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("got Attempts = %d, want 2", outcome.Attempts)
	}
	if calls != 2 {
		t.Fatalf("got %d calls, want 2", calls)
	}
}
