package ipc

import "github.com/brennhill/ghost-fleet/pkg/fleet"

// NavigatePayload is the NAVIGATE request payload (spec.md §6).
type NavigatePayload struct {
	URL       string `json:"url"`
	TimeoutMS int64  `json:"timeoutMs,omitempty"`
}

// ScreenshotPayload is the SCREENSHOT request payload.
type ScreenshotPayload struct {
	Mode           fleet.ScreenshotMode `json:"mode"`
	Quality        int                  `json:"quality,omitempty"`
	FromSurface    bool                 `json:"fromSurface,omitempty"`
	MaxScrollSteps int                  `json:"maxScrollSteps,omitempty"`
}

// AXTreePayload is the AX_TREE request payload.
type AXTreePayload struct {
	IncludeBoundingBoxes bool `json:"includeBoundingBoxes,omitempty"`
	CharBudget           int  `json:"charBudget,omitempty"`
}

// InjectJSPayload is the INJECT_JS request payload.
type InjectJSPayload struct {
	Expression     string `json:"expression"`
	AwaitPromise   bool   `json:"awaitPromise,omitempty"`
	ReturnByValue  bool   `json:"returnByValue,omitempty"`
}

// InputEventPayload is the INPUT_EVENT request payload: an ActionDecision
// carried over the wire instead of constructed in-process.
type InputEventPayload struct {
	Action     fleet.ActionType `json:"action"`
	Target     *fleet.Point     `json:"target,omitempty"`
	Text       string           `json:"text,omitempty"`
	Key        string           `json:"key,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	Reasoning  string           `json:"reasoning,omitempty"`
}

// ToDecision converts an InputEventPayload into the fleet.ActionDecision
// the BCL's ExecuteAction expects.
func (p InputEventPayload) ToDecision() fleet.ActionDecision {
	return fleet.ActionDecision{
		Action:     p.Action,
		Target:     p.Target,
		Text:       p.Text,
		Key:        p.Key,
		Confidence: p.Confidence,
		Reasoning:  p.Reasoning,
	}
}

// TaskResultPayload is the TASK_RESULT response payload: `{operation,
// data}` where operation mirrors the request type that produced it.
type TaskResultPayload struct {
	Operation MessageType `json:"operation"`
	Data      interface{} `json:"data"`
}

// TaskErrorPayload is the TASK_ERROR response payload.
type TaskErrorPayload struct {
	Operation string            `json:"operation"`
	Error     TaskErrorBody     `json:"error"`
}

// TaskErrorBody is the nested `error` object of a TASK_ERROR payload.
type TaskErrorBody struct {
	Type      fleet.ErrorType `json:"type"`
	Status    int             `json:"status,omitempty"`
	URL       string          `json:"url,omitempty"`
	Message   string          `json:"message"`
	Retryable bool            `json:"retryable"`
	Step      int             `json:"step,omitempty"`
}

// TaskErrorBodyFromDetail adapts a fleet.ErrorDetail (the PAL/PTS terminal
// error shape) into the wire TaskErrorBody shape.
func TaskErrorBodyFromDetail(d *fleet.ErrorDetail) TaskErrorBody {
	if d == nil {
		return TaskErrorBody{Type: fleet.ErrRuntime, Message: "unknown error"}
	}
	return TaskErrorBody{
		Type:      d.Type,
		Status:    d.Status,
		URL:       d.URL,
		Message:   d.Message,
		Retryable: d.Retryable,
		Step:      d.Step,
	}
}

// StatusKind discriminates a TASK_STATUS frame's origin (spec.md §6).
type StatusKind string

const (
	StatusKindScheduler StatusKind = "SCHEDULER"
	StatusKindQueue     StatusKind = "QUEUE"
	StatusKindState     StatusKind = "STATE"
)

// TaskStatusPayload is the TASK_STATUS response payload: a causal status
// stream event. Data carries kind-specific fields (pool counters for
// QUEUE, phase transition for STATE, scheduler event name for SCHEDULER).
type TaskStatusPayload struct {
	Kind  StatusKind  `json:"kind"`
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}
