package pal

import (
	"fmt"

	"github.com/brennhill/ghost-fleet/internal/observability"
)

// SubtaskStatus is one subtask's lifecycle state (spec.md §4.2 Subtask
// decomposition & checkpoints).
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "PENDING"
	SubtaskInProgress SubtaskStatus = "IN_PROGRESS"
	SubtaskComplete   SubtaskStatus = "COMPLETE"
	SubtaskFailed     SubtaskStatus = "FAILED"
)

// subtaskTransitions is the allowed status graph. A transition outside
// this set is a programming error and is rejected rather than silently
// applied.
var subtaskTransitions = map[SubtaskStatus]map[SubtaskStatus]bool{
	SubtaskPending:    {SubtaskInProgress: true, SubtaskFailed: true},
	SubtaskInProgress: {SubtaskComplete: true, SubtaskFailed: true, SubtaskPending: true},
	SubtaskComplete:   {},
	SubtaskFailed:     {SubtaskPending: true},
}

// Subtask is one phase of a decomposed, multi-phase intent.
type Subtask struct {
	ID     string
	Status SubtaskStatus
}

// Decomposition is the engine's multi-phase plan for a complex intent.
type Decomposition struct {
	IsDecomposed bool
	Subtasks     []Subtask
}

// Checkpoint records resumable progress through a Decomposition
// (spec.md §4.2: "{last_completed_subtask_index, subtask_artifacts[]}").
type Checkpoint struct {
	LastCompletedSubtaskIndex int
	SubtaskArtifacts          []string
}

// subtaskReason names why a status changed, attached to every
// subtask_status_timeline event.
type subtaskReason string

const (
	reasonRetryFromCheckpoint subtaskReason = "RETRY_FROM_CHECKPOINT"
	reasonRedecomposed        subtaskReason = "REDECOMPOSED"
	reasonFailedReplanTrigger subtaskReason = "FAILED_REPLAN_TRIGGER"
	reasonDeadlockReplan      subtaskReason = "DEADLOCK_TRIGGER_REPLAN"
	reasonAdvance             subtaskReason = "ADVANCE"
)

// subtaskTracker owns one task's Decomposition, Checkpoint, and per-
// subtask retry counters, and emits a subtask_status_timeline event on
// every status change.
type subtaskTracker struct {
	taskID    string
	events    observability.EventStore
	decomp    *Decomposition
	checkpoint Checkpoint
	retries   map[string]int
	maxRetries int
}

func newSubtaskTracker(taskID string, events observability.EventStore, maxRetries int) *subtaskTracker {
	return &subtaskTracker{taskID: taskID, events: events, retries: make(map[string]int), maxRetries: maxRetries}
}

// adopt installs a fresh or revised Decomposition, replacing the prior
// one (a REDECOMPOSED event is emitted when one already existed).
func (t *subtaskTracker) adopt(d *Decomposition) {
	if d == nil || !d.IsDecomposed {
		return
	}
	reason := reasonAdvance
	if t.decomp != nil {
		reason = reasonRedecomposed
		t.checkpoint = Checkpoint{}
		t.retries = make(map[string]int)
	}
	t.decomp = d
	for _, st := range d.Subtasks {
		t.emit(st.ID, SubtaskPending, reason)
	}
}

// snapshot returns the current Decomposition for inclusion in a
// DecisionRequest, or nil if none is active.
func (t *subtaskTracker) snapshot() *Decomposition {
	return t.decomp
}

// active returns whether this task has a live decomposition.
func (t *subtaskTracker) active() bool {
	return t.decomp != nil && t.decomp.IsDecomposed
}

// current returns the first non-COMPLETE subtask, or nil once every
// subtask is COMPLETE.
func (t *subtaskTracker) current() *Subtask {
	if !t.active() {
		return nil
	}
	for i := range t.decomp.Subtasks {
		if t.decomp.Subtasks[i].Status != SubtaskComplete {
			return &t.decomp.Subtasks[i]
		}
	}
	return nil
}

// transition applies a status change to the named subtask, validating it
// against subtaskTransitions, and emits the timeline event.
func (t *subtaskTracker) transition(id string, to SubtaskStatus, reason subtaskReason) error {
	if !t.active() {
		return fmt.Errorf("pal: transition on inactive decomposition")
	}
	for i := range t.decomp.Subtasks {
		if t.decomp.Subtasks[i].ID != id {
			continue
		}
		from := t.decomp.Subtasks[i].Status
		if !subtaskTransitions[from][to] {
			return fmt.Errorf("pal: illegal subtask transition %s -> %s", from, to)
		}
		t.decomp.Subtasks[i].Status = to
		t.emit(id, to, reason)
		return nil
	}
	return fmt.Errorf("pal: unknown subtask id %q", id)
}

// fail marks the current subtask FAILED and decides the recovery path:
// resume from checkpoint while retries remain, else signal that
// re-decomposition is required.
func (t *subtaskTracker) fail(id string) (resumeFromCheckpoint, needsRedecompose bool) {
	_ = t.transition(id, SubtaskFailed, reasonFailedReplanTrigger)
	t.retries[id]++
	if t.retries[id] <= t.maxRetries {
		_ = t.transition(id, SubtaskPending, reasonRetryFromCheckpoint)
		return true, false
	}
	return false, true
}

// advance marks the current subtask COMPLETE and records a checkpoint.
func (t *subtaskTracker) advance(id string, index int, artifact string) {
	_ = t.transition(id, SubtaskComplete, reasonAdvance)
	t.checkpoint.LastCompletedSubtaskIndex = index
	if artifact != "" {
		t.checkpoint.SubtaskArtifacts = append(t.checkpoint.SubtaskArtifacts, artifact)
	}
}

// deadlock flags every remaining subtask as requiring replan, used when
// no subtask can make forward progress (no-progress streak exhausted
// with an active decomposition).
func (t *subtaskTracker) deadlock() {
	if !t.active() {
		return
	}
	for i := range t.decomp.Subtasks {
		if t.decomp.Subtasks[i].Status != SubtaskComplete {
			t.emit(t.decomp.Subtasks[i].ID, t.decomp.Subtasks[i].Status, reasonDeadlockReplan)
		}
	}
}

func (t *subtaskTracker) emit(subtaskID string, status SubtaskStatus, reason subtaskReason) {
	if t.events == nil {
		return
	}
	_ = t.events.Record(&observability.Event{
		Type:   observability.EventTypeSubtaskStatus,
		TaskID: t.taskID,
		Name:   subtaskID,
		Data:   map[string]interface{}{"status": string(status), "reason": string(reason)},
	})
}
