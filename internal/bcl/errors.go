package bcl

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// CrashEvent records the last crash/close observation for a session
// (spec.md §4.1 get_last_crash_event).
type CrashEvent struct {
	Source    CrashSource
	Status    int
	Timestamp time.Time
}

// CrashSource identifies why a session's underlying target became unusable.
type CrashSource string

const (
	CrashRendererCrash  CrashSource = "RENDERER_CRASH"
	CrashTargetClosed   CrashSource = "TARGET_CLOSED"
	CrashNavigationFatal CrashSource = "NAVIGATION_FATAL"
)

// GetLastCrashEvent returns the most recently observed crash/close event for
// this session, or nil if none occurred.
func (s *Session) GetLastCrashEvent() *CrashEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCrash
}

func (s *Session) recordCrash(e *CrashEvent) {
	s.mu.Lock()
	s.lastCrash = e
	s.mu.Unlock()
}

// RecordCrashForTesting marks the session as having observed e without
// requiring a real renderer crash, for exercising PTS/GCP crash-recovery
// paths that key off GetLastCrashEvent (spec.md §8 seed case 3).
func (s *Session) RecordCrashForTesting(e *CrashEvent) {
	s.recordCrash(e)
}

// classifyErr maps a raw chromedp/cdproto error into the BCL's typed error
// taxonomy (spec.md §4.1 Failure model / §7). url is attached to NETWORK
// errors when known.
func classifyErr(err error, url string) error {
	if err == nil {
		return nil
	}
	var fe *fleet.Error
	if errors.As(err, &fe) {
		return fe
	}

	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return &fleet.Error{Type: fleet.ErrTimeout, Message: err.Error(), URL: url, Cause: err, Retryable: true}
	case strings.Contains(msg, "no such target"), strings.Contains(msg, "target closed"), strings.Contains(msg, "context canceled") && strings.Contains(msg, "target"):
		return &fleet.Error{Type: fleet.ErrTargetClosed, Message: err.Error(), URL: url, Cause: err, Retryable: false}
	case strings.Contains(msg, "net::err_name_not_resolved"), strings.Contains(msg, "dns"):
		return fleet.NewNetworkError(fleet.NetDNSFailure, 0, url, err)
	case strings.Contains(msg, "net::err_connection_reset"), strings.Contains(msg, "connection reset"):
		return fleet.NewNetworkError(fleet.NetConnectionReset, 0, url, err)
	case strings.Contains(msg, "websocket"), strings.Contains(msg, "protocol error"), strings.Contains(msg, "could not unmarshal"):
		return &fleet.Error{Type: fleet.ErrProtocol, Message: err.Error(), URL: url, Cause: err, Retryable: false}
	case strings.Contains(msg, "exception"), strings.Contains(msg, "evaluate"):
		return &fleet.Error{Type: fleet.ErrRuntime, Message: err.Error(), URL: url, Cause: err, Retryable: false}
	default:
		return &fleet.Error{Type: fleet.ErrProtocol, Message: err.Error(), URL: url, Cause: err, Retryable: false}
	}
}

func wrapProtocolError(err error) error {
	if err == nil {
		return nil
	}
	return classifyErr(err, "")
}

// classifyHTTPStatus maps an HTTP status code observed during navigation
// into the NETWORK error taxonomy's errorType.
func classifyHTTPStatus(status int) fleet.NetworkErrorType {
	switch {
	case status >= 400 && status < 500:
		return fleet.NetHTTP4xx
	case status >= 500:
		return fleet.NetHTTP5xx
	default:
		return ""
	}
}
