package ipc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

func noSessionLookup(string) *bcl.Session { return nil }

func TestHandleMalformedEnvelope(t *testing.T) {
	s := NewServer(noSessionLookup, nil)
	resp := s.handle(context.Background(), []byte("not json"))
	if resp.Type != TypeTaskError {
		t.Fatalf("Type = %v, want TASK_ERROR", resp.Type)
	}
	var p TaskErrorPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.Operation != UnknownOperation {
		t.Fatalf("Operation = %q, want %q", p.Operation, UnknownOperation)
	}
}

func TestHandleUnrecognizedType(t *testing.T) {
	s := NewServer(noSessionLookup, nil)
	env := Envelope{SchemaVersion: SchemaVersion, MessageID: "m1", Type: "BOGUS", TaskID: "t1"}
	raw, _ := json.Marshal(env)

	resp := s.handle(context.Background(), raw)
	if resp.Type != TypeTaskError {
		t.Fatalf("Type = %v, want TASK_ERROR", resp.Type)
	}
	var p TaskErrorPayload
	_ = json.Unmarshal(resp.Payload, &p)
	if p.Operation != UnknownOperation {
		t.Fatalf("Operation = %q, want %q", p.Operation, UnknownOperation)
	}
}

func TestHandleNoLiveSession(t *testing.T) {
	s := NewServer(noSessionLookup, nil)
	navPayload, _ := json.Marshal(NavigatePayload{URL: "https://example.com"})
	env := Envelope{SchemaVersion: SchemaVersion, MessageID: "m2", Type: TypeNavigate, TaskID: "t1", ContextID: "ctx-1", Payload: navPayload}
	raw, _ := json.Marshal(env)

	resp := s.handle(context.Background(), raw)
	if resp.Type != TypeTaskError {
		t.Fatalf("Type = %v, want TASK_ERROR", resp.Type)
	}
	var p TaskErrorPayload
	_ = json.Unmarshal(resp.Payload, &p)
	if p.Error.Type != fleet.ErrTargetClosed {
		t.Fatalf("Error.Type = %v, want TARGET_CLOSED", p.Error.Type)
	}
	if p.Operation != string(TypeNavigate) {
		t.Fatalf("Operation = %q, want %q", p.Operation, TypeNavigate)
	}
}

func TestInputEventPayloadToDecision(t *testing.T) {
	p := InputEventPayload{Action: fleet.ActionClick, Target: &fleet.Point{X: 10, Y: 20}, Confidence: 0.9}
	d := p.ToDecision()
	if d.Action != fleet.ActionClick || d.Target == nil || d.Target.X != 10 {
		t.Fatalf("ToDecision() = %+v", d)
	}
}

func TestTaskErrorBodyFromDetailNil(t *testing.T) {
	b := TaskErrorBodyFromDetail(nil)
	if b.Type != fleet.ErrRuntime {
		t.Fatalf("Type = %v, want RUNTIME for nil detail", b.Type)
	}
}
