// This file implements the event timeline used to record and replay a
// task's lifecycle for debugging.
package observability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Additional context keys for correlation.
const (
	// StepIDKey is the context key for the current step's ordinal, as a string.
	StepIDKey ContextKey = "step_id"
)

// AddStepID adds a step ID to the context.
func AddStepID(ctx context.Context, stepID string) context.Context {
	return context.WithValue(ctx, StepIDKey, stepID)
}

// GetStepID retrieves the step ID from the context.
func GetStepID(ctx context.Context) string {
	if id, ok := ctx.Value(StepIDKey).(string); ok {
		return id
	}
	return ""
}

// EventType categorizes timeline events for filtering and display.
type EventType string

const (
	EventTypeTaskStart       EventType = "task.start"
	EventTypeTaskEnd         EventType = "task.end"
	EventTypeTaskError       EventType = "task.error"
	EventTypeStepStart       EventType = "step.start"
	EventTypeStepEnd         EventType = "step.end"
	EventTypeStepError       EventType = "step.error"
	EventTypePoolEnqueue     EventType = "pool.enqueue"
	EventTypePoolDispatch    EventType = "pool.dispatch"
	EventTypePoolRelease     EventType = "pool.release"
	EventTypeCrashDetected   EventType = "scheduler.crash_detected"
	EventTypeRetrying        EventType = "scheduler.retrying"
	EventTypeBudgetExceeded  EventType = "scheduler.budget_exceeded"
	EventTypeBudgetKilled    EventType = "scheduler.budget_killed"
	EventTypeSubtaskStatus   EventType = "pal.subtask_status"
	EventTypeTierEscalation  EventType = "pal.tier_escalation"
	EventTypeCustom          EventType = "custom"
)

// Event represents a single event in a task's timeline.
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	TaskID      string                 `json:"task_id,omitempty"`
	ContextID   string                 `json:"context_id,omitempty"`
	LeaseID     string                 `json:"lease_id,omitempty"`
	StepID      string                 `json:"step_id,omitempty"`
	Name        string                 `json:"name,omitempty"`
	Description string                 `json:"description,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
	Duration    time.Duration          `json:"duration_ns,omitempty"`
	Error       string                 `json:"error,omitempty"`
	ParentID    string                 `json:"parent_id,omitempty"`
}

// EventStore stores and retrieves events for debugging and replay.
type EventStore interface {
	Record(event *Event) error
	GetByTaskID(taskID string) ([]*Event, error)
	GetByContextID(contextID string) ([]*Event, error)
	GetByTimeRange(start, end time.Time) ([]*Event, error)
	GetByType(eventType EventType, limit int) ([]*Event, error)
	Get(id string) (*Event, error)
	Delete(olderThan time.Duration) (int, error)
}

// MemoryEventStore is an in-memory EventStore, bounded by maxSize with
// oldest-first eviction.
type MemoryEventStore struct {
	mu        sync.RWMutex
	events    map[string]*Event
	byTaskID  map[string][]string
	byContext map[string][]string
	maxSize   int
}

// NewMemoryEventStore creates an in-memory event store. maxSize defaults
// to 10000 when <= 0.
func NewMemoryEventStore(maxSize int) *MemoryEventStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryEventStore{
		events:    make(map[string]*Event),
		byTaskID:  make(map[string][]string),
		byContext: make(map[string][]string),
		maxSize:   maxSize,
	}
}

func (s *MemoryEventStore) Record(event *Event) error {
	if event == nil {
		return errors.New("event cannot be nil")
	}
	if event.ID == "" {
		event.ID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxSize {
		s.evictOldest()
	}

	s.events[event.ID] = event

	if event.TaskID != "" {
		s.byTaskID[event.TaskID] = append(s.byTaskID[event.TaskID], event.ID)
	}
	if event.ContextID != "" {
		s.byContext[event.ContextID] = append(s.byContext[event.ContextID], event.ID)
	}

	return nil
}

func (s *MemoryEventStore) GetByTaskID(taskID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byTaskID[taskID]
	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

func (s *MemoryEventStore) GetByContextID(contextID string) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byContext[contextID]
	events := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if e, ok := s.events[id]; ok {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

func (s *MemoryEventStore) GetByTimeRange(start, end time.Time) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if (e.Timestamp.Equal(start) || e.Timestamp.After(start)) &&
			(e.Timestamp.Equal(end) || e.Timestamp.Before(end)) {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
	return events, nil
}

func (s *MemoryEventStore) GetByType(eventType EventType, limit int) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*Event
	for _, e := range s.events {
		if e.Type == eventType {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })

	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (s *MemoryEventStore) Get(id string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.events[id]
	if !ok {
		return nil, fmt.Errorf("event not found: %s", id)
	}
	return e, nil
}

func (s *MemoryEventStore) Delete(olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := 0

	for id, e := range s.events {
		if e.Timestamp.Before(cutoff) {
			delete(s.events, id)
			deleted++
		}
	}

	for taskID, ids := range s.byTaskID {
		remaining := keepLive(ids, s.events)
		if len(remaining) == 0 {
			delete(s.byTaskID, taskID)
		} else {
			s.byTaskID[taskID] = remaining
		}
	}
	for contextID, ids := range s.byContext {
		remaining := keepLive(ids, s.events)
		if len(remaining) == 0 {
			delete(s.byContext, contextID)
		} else {
			s.byContext[contextID] = remaining
		}
	}

	return deleted, nil
}

func keepLive(ids []string, events map[string]*Event) []string {
	var remaining []string
	for _, id := range ids {
		if _, ok := events[id]; ok {
			remaining = append(remaining, id)
		}
	}
	return remaining
}

func (s *MemoryEventStore) evictOldest() {
	toRemove := s.maxSize / 10
	if toRemove < 1 {
		toRemove = 1
	}

	events := make([]*Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	for i := 0; i < toRemove && i < len(events); i++ {
		delete(s.events, events[i].ID)
	}
}

// EventRecorder provides a convenient API for recording events, extracting
// correlation IDs from context.
type EventRecorder struct {
	store  EventStore
	logger *Logger
}

// NewEventRecorder creates a new event recorder.
func NewEventRecorder(store EventStore, logger *Logger) *EventRecorder {
	return &EventRecorder{store: store, logger: logger}
}

// Record records an event, extracting task/context/lease/step IDs from ctx.
func (r *EventRecorder) Record(ctx context.Context, eventType EventType, name string, data map[string]interface{}) error {
	event := &Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		TaskID:    GetTaskID(ctx),
		ContextID: GetContextID(ctx),
		LeaseID:   getLeaseID(ctx),
		StepID:    GetStepID(ctx),
		Name:      name,
		Data:      data,
	}

	if r.logger != nil {
		r.logger.Debug(ctx, "event recorded", "event_type", string(eventType), "event_name", name, "event_id", event.ID)
	}

	return r.store.Record(event)
}

func getLeaseID(ctx context.Context) string {
	if v, ok := ctx.Value(LeaseIDKey).(string); ok {
		return v
	}
	return ""
}

// RecordError records a failed event with the error attached.
func (r *EventRecorder) RecordError(ctx context.Context, eventType EventType, name string, err error, data map[string]interface{}) error {
	if data == nil {
		data = make(map[string]interface{})
	}
	data["error"] = err.Error()

	event := &Event{
		ID:        generateEventID(),
		Type:      eventType,
		Timestamp: time.Now(),
		TaskID:    GetTaskID(ctx),
		ContextID: GetContextID(ctx),
		LeaseID:   getLeaseID(ctx),
		StepID:    GetStepID(ctx),
		Name:      name,
		Data:      data,
		Error:     err.Error(),
	}

	if r.logger != nil {
		r.logger.Error(ctx, "error event recorded", "event_type", string(eventType), "event_name", name, "event_id", event.ID, "error", err)
	}

	return r.store.Record(event)
}

// RecordStepStart records a PAL step start event.
func (r *EventRecorder) RecordStepStart(ctx context.Context, tier string) error {
	return r.Record(ctx, EventTypeStepStart, "step_start", map[string]interface{}{"tier": tier})
}

// RecordStepEnd records a PAL step end event, or a step.error event when err is non-nil.
func (r *EventRecorder) RecordStepEnd(ctx context.Context, duration time.Duration, err error) error {
	data := map[string]interface{}{"duration_ms": duration.Milliseconds()}
	if err != nil {
		return r.RecordError(ctx, EventTypeStepError, "step_error", err, data)
	}
	return r.Record(ctx, EventTypeStepEnd, "step_end", data)
}

// RecordTaskStart records a task start event.
func (r *EventRecorder) RecordTaskStart(ctx context.Context, taskID string, data map[string]interface{}) error {
	ctx = AddTaskID(ctx, taskID)
	return r.Record(ctx, EventTypeTaskStart, "task_start", data)
}

// RecordTaskEnd records a task end event, or a task.error event when err is non-nil.
func (r *EventRecorder) RecordTaskEnd(ctx context.Context, duration time.Duration, err error) error {
	data := map[string]interface{}{"duration_ms": duration.Milliseconds()}
	if err != nil {
		return r.RecordError(ctx, EventTypeTaskError, "task_error", err, data)
	}
	return r.Record(ctx, EventTypeTaskEnd, "task_end", data)
}

// Timeline is a sequence of events for a task, with aggregate statistics.
type Timeline struct {
	TaskID    string           `json:"task_id"`
	ContextID string           `json:"context_id"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Duration  time.Duration    `json:"duration"`
	Events    []*Event         `json:"events"`
	Summary   *TimelineSummary `json:"summary"`
}

// TimelineSummary provides aggregate statistics for a timeline.
type TimelineSummary struct {
	TotalEvents   int           `json:"total_events"`
	ErrorCount    int           `json:"error_count"`
	StepCount     int           `json:"step_count"`
	TotalDuration time.Duration `json:"total_duration"`
}

// BuildTimeline sorts events by timestamp and computes a TimelineSummary.
func BuildTimeline(events []*Event) *Timeline {
	if len(events) == 0 {
		return &Timeline{Summary: &TimelineSummary{}}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	timeline := &Timeline{
		Events:    events,
		StartTime: events[0].Timestamp,
		EndTime:   events[len(events)-1].Timestamp,
		Duration:  events[len(events)-1].Timestamp.Sub(events[0].Timestamp),
		Summary:   &TimelineSummary{TotalEvents: len(events)},
	}

	for _, e := range events {
		if e.TaskID != "" && timeline.TaskID == "" {
			timeline.TaskID = e.TaskID
		}
		if e.ContextID != "" && timeline.ContextID == "" {
			timeline.ContextID = e.ContextID
		}
	}

	for _, e := range events {
		if e.Error != "" {
			timeline.Summary.ErrorCount++
		}
		if e.Type == EventTypeStepStart {
			timeline.Summary.StepCount++
		}
		timeline.Summary.TotalDuration += e.Duration
	}

	return timeline
}

// FormatTimeline renders a timeline as a human-readable tree.
func FormatTimeline(timeline *Timeline) string {
	if timeline == nil || len(timeline.Events) == 0 {
		return "No events found"
	}

	var result string
	result += fmt.Sprintf("=== Timeline for Task: %s ===\n", timeline.TaskID)
	result += fmt.Sprintf("Context: %s\n", timeline.ContextID)
	result += fmt.Sprintf("Duration: %v\n", timeline.Duration)
	result += fmt.Sprintf("Events: %d (Errors: %d, Steps: %d)\n\n",
		timeline.Summary.TotalEvents, timeline.Summary.ErrorCount, timeline.Summary.StepCount)

	for i, e := range timeline.Events {
		prefix := "├─"
		if i == len(timeline.Events)-1 {
			prefix = "└─"
		}

		timestamp := e.Timestamp.Format("15:04:05.000")
		errorMark := ""
		if e.Error != "" {
			errorMark = " FAILED"
		}

		result += fmt.Sprintf("%s [%s] %s: %s%s\n", prefix, timestamp, e.Type, e.Name, errorMark)
		if e.Duration > 0 {
			result += fmt.Sprintf("   duration: %v\n", e.Duration)
		}
		if e.Error != "" {
			result += fmt.Sprintf("   error: %s\n", e.Error)
		}
	}

	return result
}

var eventIDCounter int64
var eventIDMu sync.Mutex

func generateEventID() string {
	eventIDMu.Lock()
	defer eventIDMu.Unlock()
	eventIDCounter++
	return fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), eventIDCounter)
}
