package observability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()
	ctx = AddTaskID(ctx, "task-123")
	ctx = AddContextID(ctx, "ghost-456")
	ctx = AddStepID(ctx, "step-3")

	if got := GetTaskID(ctx); got != "task-123" {
		t.Errorf("GetTaskID() = %q, want task-123", got)
	}
	if got := GetContextID(ctx); got != "ghost-456" {
		t.Errorf("GetContextID() = %q, want ghost-456", got)
	}
	if got := GetStepID(ctx); got != "step-3" {
		t.Errorf("GetStepID() = %q, want step-3", got)
	}

	empty := context.Background()
	if got := GetTaskID(empty); got != "" {
		t.Errorf("GetTaskID() on empty context = %q, want empty", got)
	}
}

func TestMemoryEventStoreRecordAndQuery(t *testing.T) {
	store := NewMemoryEventStore(0)

	e1 := &Event{Type: EventTypeStepStart, TaskID: "task-1", ContextID: "ghost-1"}
	e2 := &Event{Type: EventTypeStepEnd, TaskID: "task-1", ContextID: "ghost-1"}
	e3 := &Event{Type: EventTypeStepStart, TaskID: "task-2", ContextID: "ghost-2"}

	for _, e := range []*Event{e1, e2, e3} {
		if err := store.Record(e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	events, err := store.GetByTaskID("task-1")
	if err != nil {
		t.Fatalf("GetByTaskID() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("GetByTaskID() returned %d events, want 2", len(events))
	}

	events, err = store.GetByContextID("ghost-2")
	if err != nil {
		t.Fatalf("GetByContextID() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("GetByContextID() returned %d events, want 1", len(events))
	}

	byType, err := store.GetByType(EventTypeStepStart, 10)
	if err != nil {
		t.Fatalf("GetByType() error = %v", err)
	}
	if len(byType) != 2 {
		t.Errorf("GetByType(StepStart) returned %d, want 2", len(byType))
	}
}

func TestMemoryEventStoreEviction(t *testing.T) {
	store := NewMemoryEventStore(10)

	for i := 0; i < 15; i++ {
		if err := store.Record(&Event{Type: EventTypeCustom, TaskID: "task-1"}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	events, _ := store.GetByTaskID("task-1")
	if len(events) >= 15 {
		t.Errorf("expected eviction to have trimmed events, got %d", len(events))
	}
}

func TestMemoryEventStoreDelete(t *testing.T) {
	store := NewMemoryEventStore(0)
	old := &Event{Type: EventTypeCustom, TaskID: "task-1", Timestamp: time.Now().Add(-time.Hour)}
	recent := &Event{Type: EventTypeCustom, TaskID: "task-1", Timestamp: time.Now()}

	store.Record(old)
	store.Record(recent)

	deleted, err := store.Delete(time.Minute)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("Delete() removed %d events, want 1", deleted)
	}

	remaining, _ := store.GetByTaskID("task-1")
	if len(remaining) != 1 {
		t.Errorf("expected 1 remaining event, got %d", len(remaining))
	}
}

func TestEventRecorderRecordStepEnd(t *testing.T) {
	store := NewMemoryEventStore(0)
	recorder := NewEventRecorder(store, nil)

	ctx := AddTaskID(context.Background(), "task-1")
	if err := recorder.RecordStepEnd(ctx, 10*time.Millisecond, nil); err != nil {
		t.Fatalf("RecordStepEnd() error = %v", err)
	}

	events, _ := store.GetByTaskID("task-1")
	if len(events) != 1 || events[0].Type != EventTypeStepEnd {
		t.Fatalf("expected one step.end event, got %+v", events)
	}

	if err := recorder.RecordStepEnd(ctx, 5*time.Millisecond, errors.New("boom")); err != nil {
		t.Fatalf("RecordStepEnd() with error returned err = %v", err)
	}

	events, _ = store.GetByTaskID("task-1")
	if events[1].Type != EventTypeStepError || events[1].Error != "boom" {
		t.Errorf("expected step.error event with message boom, got %+v", events[1])
	}
}

func TestBuildTimeline(t *testing.T) {
	now := time.Now()
	events := []*Event{
		{Type: EventTypeTaskStart, TaskID: "task-1", Timestamp: now},
		{Type: EventTypeStepStart, TaskID: "task-1", Timestamp: now.Add(time.Second)},
		{Type: EventTypeTaskEnd, TaskID: "task-1", Timestamp: now.Add(2 * time.Second)},
	}

	timeline := BuildTimeline(events)
	if timeline.TaskID != "task-1" {
		t.Errorf("timeline.TaskID = %q, want task-1", timeline.TaskID)
	}
	if timeline.Summary.TotalEvents != 3 {
		t.Errorf("TotalEvents = %d, want 3", timeline.Summary.TotalEvents)
	}
	if timeline.Summary.StepCount != 1 {
		t.Errorf("StepCount = %d, want 1", timeline.Summary.StepCount)
	}
	if timeline.Duration != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", timeline.Duration)
	}
}

func TestBuildTimelineEmpty(t *testing.T) {
	timeline := BuildTimeline(nil)
	if timeline.Summary.TotalEvents != 0 {
		t.Errorf("expected empty timeline summary, got %+v", timeline.Summary)
	}
}
