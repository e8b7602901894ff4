// Package ipc implements the ghost-tab/host message schema (spec.md §6): a
// versioned, typed envelope carried over a local websocket transport, plus
// a reference server that dispatches NAVIGATE/SCREENSHOT/AX_TREE/INJECT_JS/
// INPUT_EVENT requests onto a *bcl.Session and streams back TASK_RESULT/
// TASK_ERROR/TASK_STATUS frames.
package ipc

import (
	"encoding/json"
	"time"
)

// SchemaVersion is the current envelope schema version this package emits
// and the minimum version it accepts on inbound request envelopes.
const SchemaVersion = 1

// MessageType is the envelope's `type` discriminator.
type MessageType string

const (
	TypeNavigate   MessageType = "NAVIGATE"
	TypeScreenshot MessageType = "SCREENSHOT"
	TypeAXTree     MessageType = "AX_TREE"
	TypeInjectJS   MessageType = "INJECT_JS"
	TypeInputEvent MessageType = "INPUT_EVENT"

	TypeTaskResult MessageType = "TASK_RESULT"
	TypeTaskError  MessageType = "TASK_ERROR"
	TypeTaskStatus MessageType = "TASK_STATUS"
)

// requestTypes is the set of inbound message types a Server will dispatch;
// anything else is rejected as TASK_ERROR(operation=UNKNOWN) per spec.md
// §6 validation rules.
var requestTypes = map[MessageType]bool{
	TypeNavigate:   true,
	TypeScreenshot: true,
	TypeAXTree:     true,
	TypeInjectJS:   true,
	TypeInputEvent: true,
}

// Envelope is the wire message exchanged between a ghost tab and the host
// (spec.md §6): `{schemaVersion, messageId, type, taskId, contextId,
// payload, timestamp}`. Unknown fields in Payload are tolerated by
// json.RawMessage deferral. Payload types make no required-field check:
// a missing field decodes to its zero value and is passed on as such.
type Envelope struct {
	SchemaVersion int             `json:"schemaVersion"`
	MessageID     string          `json:"messageId"`
	Type          MessageType     `json:"type"`
	TaskID        string          `json:"taskId"`
	ContextID     string          `json:"contextId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// UnknownOperation is the operation name attached to a TASK_ERROR produced
// for an inbound frame that could not be parsed or whose type is not a
// recognized request type (spec.md §6).
const UnknownOperation = "UNKNOWN"
