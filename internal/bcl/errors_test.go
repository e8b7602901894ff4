package bcl

import (
	"context"
	"errors"
	"testing"

	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

func TestClassifyErrPassesThroughFleetError(t *testing.T) {
	orig := &fleet.Error{Type: fleet.ErrTimeout, Message: "already classified"}
	got := classifyErr(orig, "https://example.com")
	if got != orig {
		t.Fatalf("classifyErr should return the original *fleet.Error unchanged, got %#v", got)
	}
}

func TestClassifyErrNil(t *testing.T) {
	if classifyErr(nil, "https://example.com") != nil {
		t.Fatal("classifyErr(nil) should return nil")
	}
}

func TestClassifyErrTimeout(t *testing.T) {
	got := classifyErr(context.DeadlineExceeded, "https://example.com")
	fe, ok := got.(*fleet.Error)
	if !ok {
		t.Fatalf("got %T, want *fleet.Error", got)
	}
	if fe.Type != fleet.ErrTimeout || !fe.Retryable {
		t.Fatalf("got %+v, want retryable TIMEOUT", fe)
	}
}

func TestClassifyErrTargetClosed(t *testing.T) {
	got := classifyErr(errors.New("no such target"), "https://example.com")
	fe := got.(*fleet.Error)
	if fe.Type != fleet.ErrTargetClosed || fe.Retryable {
		t.Fatalf("got %+v, want non-retryable TARGET_CLOSED", fe)
	}
}

func TestClassifyErrDNSFailure(t *testing.T) {
	got := classifyErr(errors.New("net::ERR_NAME_NOT_RESOLVED"), "https://example.com")
	fe := got.(*fleet.Error)
	if fe.Type != fleet.ErrNetwork {
		t.Fatalf("got %+v, want NETWORK", fe)
	}
}

func TestClassifyErrConnectionReset(t *testing.T) {
	got := classifyErr(errors.New("read: connection reset by peer"), "https://example.com")
	fe := got.(*fleet.Error)
	if fe.Type != fleet.ErrNetwork {
		t.Fatalf("got %+v, want NETWORK", fe)
	}
}

func TestClassifyErrProtocolDefault(t *testing.T) {
	got := classifyErr(errors.New("something unexpected happened"), "")
	fe := got.(*fleet.Error)
	if fe.Type != fleet.ErrProtocol {
		t.Fatalf("got %+v, want PROTOCOL default", fe)
	}
}

func TestWrapProtocolErrorNil(t *testing.T) {
	if wrapProtocolError(nil) != nil {
		t.Fatal("wrapProtocolError(nil) should return nil")
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := []struct {
		status int
		want   fleet.NetworkErrorType
	}{
		{404, fleet.NetHTTP4xx},
		{500, fleet.NetHTTP5xx},
		{200, ""},
	}
	for _, tc := range cases {
		if got := classifyHTTPStatus(tc.status); got != tc.want {
			t.Errorf("classifyHTTPStatus(%d) = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestGetLastCrashEventNilByDefault(t *testing.T) {
	s := &Session{}
	if s.GetLastCrashEvent() != nil {
		t.Fatal("new session should report no crash event")
	}
	ev := &CrashEvent{Source: CrashTargetClosed, Status: 0}
	s.recordCrash(ev)
	if got := s.GetLastCrashEvent(); got != ev {
		t.Fatalf("GetLastCrashEvent() = %v, want %v", got, ev)
	}
}
