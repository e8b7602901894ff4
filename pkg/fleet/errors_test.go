package fleet

import (
	"errors"
	"testing"
)

func TestNetworkErrorTypeDefaultRetryable(t *testing.T) {
	cases := map[NetworkErrorType]bool{
		NetTimeout:         true,
		NetConnectionReset: true,
		NetHTTP5xx:         true,
		NetDNSFailure:      true,
		NetHTTP4xx:         false,
	}
	for netType, want := range cases {
		if got := netType.DefaultRetryable(); got != want {
			t.Errorf("%s.DefaultRetryable() = %v, want %v", netType, got, want)
		}
	}
}

func TestErrorIsCrash(t *testing.T) {
	crashing := []ErrorType{ErrTargetClosed, ErrRendererCrash}
	for _, typ := range crashing {
		if !(&Error{Type: typ}).IsCrash() {
			t.Errorf("%s should be a crash type", typ)
		}
	}
	nonCrashing := []ErrorType{ErrNetwork, ErrRuntime, ErrTimeout, ErrProtocol}
	for _, typ := range nonCrashing {
		if (&Error{Type: typ}).IsCrash() {
			t.Errorf("%s should not be a crash type", typ)
		}
	}
}

func TestNewNetworkErrorAppliesDefaultRetryable(t *testing.T) {
	e := NewNetworkError(NetHTTP4xx, 404, "https://example.com", nil)
	if e.Type != ErrNetwork || e.Retryable {
		t.Fatalf("got %+v, want non-retryable NETWORK error", e)
	}
	e2 := NewNetworkError(NetTimeout, 0, "https://example.com", nil)
	if !e2.Retryable {
		t.Fatalf("got %+v, want retryable", e2)
	}
}

func TestErrorWithRetryableOverridesDefault(t *testing.T) {
	e := NewNetworkError(NetHTTP4xx, 404, "", nil).WithRetryable(true)
	if !e.Retryable {
		t.Fatal("WithRetryable(true) should override the computed default")
	}
}

func TestErrorMessageFormatting(t *testing.T) {
	withMsg := &Error{Type: ErrTimeout, Message: "navigation timed out"}
	if got := withMsg.Error(); got != "[TIMEOUT] navigation timed out" {
		t.Fatalf("Error() = %q", got)
	}

	cause := errors.New("underlying")
	withCause := &Error{Type: ErrProtocol, Cause: cause}
	if got := withCause.Error(); got != "[PROTOCOL] underlying" {
		t.Fatalf("Error() = %q", got)
	}

	bare := &Error{Type: ErrRuntime}
	if got := bare.Error(); got != "[RUNTIME]" {
		t.Fatalf("Error() = %q", got)
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	e := &Error{Type: ErrNetwork, Cause: cause}
	if !errors.Is(e, cause) {
		t.Fatal("errors.Is should find the wrapped cause via Unwrap")
	}
}
