package pal

import "testing"

func newTestTracker(maxRetries int) *subtaskTracker {
	return newSubtaskTracker("task-1", nil, maxRetries)
}

func TestSubtaskTrackerAdoptAndCurrent(t *testing.T) {
	tr := newTestTracker(1)
	if tr.active() {
		t.Fatal("fresh tracker should not be active")
	}
	tr.adopt(&Decomposition{IsDecomposed: true, Subtasks: []Subtask{{ID: "a"}, {ID: "b"}}})
	if !tr.active() {
		t.Fatal("adopt should activate the tracker")
	}
	if cur := tr.current(); cur == nil || cur.ID != "a" {
		t.Fatalf("current() = %+v, want subtask a", cur)
	}
}

func TestSubtaskTrackerAdoptIgnoresNilOrNonDecomposed(t *testing.T) {
	tr := newTestTracker(1)
	tr.adopt(nil)
	if tr.active() {
		t.Fatal("adopt(nil) should not activate")
	}
	tr.adopt(&Decomposition{IsDecomposed: false})
	if tr.active() {
		t.Fatal("adopt of a non-decomposed plan should not activate")
	}
}

func TestSubtaskTrackerTransitionIllegal(t *testing.T) {
	tr := newTestTracker(1)
	tr.adopt(&Decomposition{IsDecomposed: true, Subtasks: []Subtask{{ID: "a", Status: SubtaskPending}}})
	if err := tr.transition("a", SubtaskComplete, reasonAdvance); err == nil {
		t.Fatal("PENDING -> COMPLETE should be illegal")
	}
	if err := tr.transition("a", SubtaskInProgress, reasonAdvance); err != nil {
		t.Fatalf("PENDING -> IN_PROGRESS should be legal, got %v", err)
	}
}

func TestSubtaskTrackerTransitionUnknownID(t *testing.T) {
	tr := newTestTracker(1)
	tr.adopt(&Decomposition{IsDecomposed: true, Subtasks: []Subtask{{ID: "a"}}})
	if err := tr.transition("nope", SubtaskInProgress, reasonAdvance); err == nil {
		t.Fatal("transition on an unknown subtask id should error")
	}
}

func TestSubtaskTrackerAdvanceRecordsCheckpoint(t *testing.T) {
	tr := newTestTracker(1)
	tr.adopt(&Decomposition{IsDecomposed: true, Subtasks: []Subtask{
		{ID: "a", Status: SubtaskInProgress}, {ID: "b"},
	}})
	tr.advance("a", 0, "artifact-1")
	if tr.checkpoint.LastCompletedSubtaskIndex != 0 {
		t.Fatalf("checkpoint index = %d, want 0", tr.checkpoint.LastCompletedSubtaskIndex)
	}
	if len(tr.checkpoint.SubtaskArtifacts) != 1 || tr.checkpoint.SubtaskArtifacts[0] != "artifact-1" {
		t.Fatalf("checkpoint artifacts = %v", tr.checkpoint.SubtaskArtifacts)
	}
	if cur := tr.current(); cur == nil || cur.ID != "b" {
		t.Fatalf("current() after advancing a = %+v, want subtask b", cur)
	}
}

func TestSubtaskTrackerFailRetriesThenRedecomposes(t *testing.T) {
	tr := newTestTracker(1)
	tr.adopt(&Decomposition{IsDecomposed: true, Subtasks: []Subtask{{ID: "a", Status: SubtaskInProgress}}})

	resume, redecompose := tr.fail("a")
	if !resume || redecompose {
		t.Fatalf("first failure should resume from checkpoint, got resume=%v redecompose=%v", resume, redecompose)
	}
	if err := tr.transition("a", SubtaskInProgress, reasonRetryFromCheckpoint); err != nil {
		t.Fatalf("transition back to IN_PROGRESS should be legal, got %v", err)
	}

	resume, redecompose = tr.fail("a")
	if resume || !redecompose {
		t.Fatalf("second failure (maxRetries=1) should require redecompose, got resume=%v redecompose=%v", resume, redecompose)
	}
}

func TestSubtaskTrackerAdoptAfterExistingResetsCheckpointAndRetries(t *testing.T) {
	tr := newTestTracker(0)
	tr.adopt(&Decomposition{IsDecomposed: true, Subtasks: []Subtask{{ID: "a", Status: SubtaskInProgress}}})
	tr.fail("a")
	if tr.retries["a"] != 1 {
		t.Fatalf("retries[a] = %d, want 1", tr.retries["a"])
	}
	tr.advance("a", 0, "x")

	tr.adopt(&Decomposition{IsDecomposed: true, Subtasks: []Subtask{{ID: "b"}}})
	if len(tr.retries) != 0 {
		t.Fatalf("retries should reset on redecomposition, got %v", tr.retries)
	}
	if tr.checkpoint.LastCompletedSubtaskIndex != 0 || len(tr.checkpoint.SubtaskArtifacts) != 0 {
		t.Fatalf("checkpoint should reset on redecomposition, got %+v", tr.checkpoint)
	}
}
