package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/internal/observability"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 45 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// SessionLookup resolves a contextId to the live *bcl.Session backing it,
// e.g. gcp.Pool.Session. A nil return means the context has no live
// session (cold, recycling, or unknown), which every handler turns into a
// TASK_ERROR rather than a panic.
type SessionLookup func(contextID string) *bcl.Session

// Server accepts one websocket connection per ghost-tab <-> host channel
// and dispatches inbound envelopes to the session SessionLookup resolves
// (spec.md §6).
type Server struct {
	Lookup   SessionLookup
	Logger   *observability.Logger
	Upgrader websocket.Upgrader
}

// NewServer constructs a Server with a permissive same-host upgrader, the
// way the teacher's control-plane websocket endpoint configures itself for
// a local, trusted transport.
func NewServer(lookup SessionLookup, logger *observability.Logger) *Server {
	return &Server{
		Lookup: lookup,
		Logger: logger,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the per-connection read/write
// pump until the peer disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error(r.Context(), "ipc: upgrade failed", "error", err)
		}
		return
	}
	c := &conn_{ws: conn, server: s}
	c.run(r.Context())
}

// conn_ is one websocket connection's pump state. Named with a trailing
// underscore to avoid colliding with the websocket package's own Conn in
// package-local shorthand elsewhere in this file.
type conn_ struct {
	ws     *websocket.Conn
	server *Server
	mu     sync.Mutex
}

func (c *conn_) run(ctx context.Context) {
	defer c.ws.Close()
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	stop := make(chan struct{})
	go c.pingLoop(stop)
	defer close(stop)

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		resp := c.server.handle(ctx, raw)
		if resp != nil {
			c.write(resp)
		}
	}
}

func (c *conn_) pingLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.ws.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()
			if err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

func (c *conn_) write(env *Envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.TextMessage, body)
}

// BroadcastStatus publishes a TASK_STATUS frame to conn without being
// asked, for pool/scheduler/state events an observer should see
// out-of-band from any request/response exchange.
func (c *conn_) BroadcastStatus(taskID, contextID string, payload TaskStatusPayload) {
	data, _ := json.Marshal(payload)
	c.write(&Envelope{
		SchemaVersion: SchemaVersion,
		MessageID:     uuid.NewString(),
		Type:          TypeTaskStatus,
		TaskID:        taskID,
		ContextID:     contextID,
		Payload:       data,
		Timestamp:     time.Now(),
	})
}

// handle decodes one inbound frame and dispatches it, returning the
// response envelope to write back. Decode failures, unrecognized types
// and a schemaVersion below SchemaVersion produce
// TASK_ERROR(operation=UNKNOWN) per spec.md §6 validation.
func (s *Server) handle(ctx context.Context, raw []byte) *Envelope {
	var in Envelope
	if err := json.Unmarshal(raw, &in); err != nil {
		return errorEnvelope("", "", UnknownOperation, &fleet.Error{Type: fleet.ErrProtocol, Message: "malformed envelope: " + err.Error()})
	}
	if !requestTypes[in.Type] {
		return errorEnvelope(in.TaskID, in.ContextID, UnknownOperation, &fleet.Error{Type: fleet.ErrProtocol, Message: fmt.Sprintf("unrecognized message type %q", in.Type)})
	}
	if in.SchemaVersion < SchemaVersion {
		return errorEnvelope(in.TaskID, in.ContextID, UnknownOperation, &fleet.Error{Type: fleet.ErrProtocol, Message: fmt.Sprintf("unsupported schemaVersion %d", in.SchemaVersion)})
	}

	session := s.Lookup(in.ContextID)
	if session == nil {
		return errorEnvelope(in.TaskID, in.ContextID, string(in.Type), &fleet.Error{Type: fleet.ErrTargetClosed, Message: "no live session for context " + in.ContextID})
	}

	data, err := s.dispatch(ctx, in.Type, session, in.Payload)
	if err != nil {
		return errorEnvelope(in.TaskID, in.ContextID, string(in.Type), asFleetErr(err))
	}
	return resultEnvelope(in.TaskID, in.ContextID, in.Type, data)
}

func (s *Server) dispatch(ctx context.Context, t MessageType, session *bcl.Session, payload json.RawMessage) (interface{}, error) {
	switch t {
	case TypeNavigate:
		var p NavigatePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, &fleet.Error{Type: fleet.ErrProtocol, Message: "bad NAVIGATE payload: " + err.Error()}
		}
		if err := session.Navigate(ctx, p.URL, p.TimeoutMS); err != nil {
			return nil, err
		}
		url, _ := session.GetCurrentURL(ctx)
		return map[string]string{"currentUrl": url}, nil

	case TypeScreenshot:
		var p ScreenshotPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, &fleet.Error{Type: fleet.ErrProtocol, Message: "bad SCREENSHOT payload: " + err.Error()}
		}
		return session.CaptureScreenshot(ctx, bcl.ScreenshotOptions{
			Mode:           p.Mode,
			Quality:        p.Quality,
			FromSurface:    p.FromSurface,
			MaxScrollSteps: p.MaxScrollSteps,
		})

	case TypeAXTree:
		var p AXTreePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, &fleet.Error{Type: fleet.ErrProtocol, Message: "bad AX_TREE payload: " + err.Error()}
		}
		return session.ExtractNormalizedAXTree(ctx, p.CharBudget, 3000, p.IncludeBoundingBoxes)

	case TypeInjectJS:
		var p InjectJSPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, &fleet.Error{Type: fleet.ErrProtocol, Message: "bad INJECT_JS payload: " + err.Error()}
		}
		// EXTRACT already implements bounded in-page expression evaluation
		// (spec.md §4.2 action semantics); INJECT_JS rides the same path
		// rather than duplicating it in the BCL.
		return session.ExecuteAction(ctx, fleet.ActionDecision{Action: fleet.ActionExtract, Text: p.Expression}, 2000)

	case TypeInputEvent:
		var p InputEventPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, &fleet.Error{Type: fleet.ErrProtocol, Message: "bad INPUT_EVENT payload: " + err.Error()}
		}
		return session.ExecuteAction(ctx, p.ToDecision(), 2000)

	default:
		return nil, &fleet.Error{Type: fleet.ErrProtocol, Message: fmt.Sprintf("unhandled message type %q", t)}
	}
}

func asFleetErr(err error) *fleet.Error {
	if fe, ok := err.(*fleet.Error); ok {
		return fe
	}
	return &fleet.Error{Type: fleet.ErrRuntime, Message: err.Error()}
}

func resultEnvelope(taskID, contextID string, op MessageType, data interface{}) *Envelope {
	payload, _ := json.Marshal(TaskResultPayload{Operation: op, Data: data})
	return &Envelope{
		SchemaVersion: SchemaVersion,
		MessageID:     uuid.NewString(),
		Type:          TypeTaskResult,
		TaskID:        taskID,
		ContextID:     contextID,
		Payload:       payload,
		Timestamp:     time.Now(),
	}
}

func errorEnvelope(taskID, contextID, op string, fe *fleet.Error) *Envelope {
	payload, _ := json.Marshal(TaskErrorPayload{
		Operation: op,
		Error: TaskErrorBody{
			Type:      fe.Type,
			Status:    fe.Status,
			URL:       fe.URL,
			Message:   fe.Error(),
			Retryable: fe.Retryable,
		},
	})
	return &Envelope{
		SchemaVersion: SchemaVersion,
		MessageID:     uuid.NewString(),
		Type:          TypeTaskError,
		TaskID:        taskID,
		ContextID:     contextID,
		Payload:       payload,
		Timestamp:     time.Now(),
	}
}
