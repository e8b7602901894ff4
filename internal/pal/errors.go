package pal

import (
	"context"

	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// StructuredError is the normalized shape every PAL-visible failure is
// reduced to before it is either retried or surfaced as terminal
// (spec.md §4.2 Structured error routing).
type StructuredError struct {
	Source      fleet.ErrorSource
	Type        fleet.ErrorType
	NetworkType fleet.NetworkErrorType
	Status      int
	Retryable   bool
	ErrorType   string
	Message     string
	URL         string
}

// RoutedError pairs a StructuredError with the decision it produced, for
// the step history and the terminal ErrorDetail.
type RoutedError struct {
	StructuredError
	NavigatorDecision fleet.ActionDecision
	DecisionSource    string
}

const (
	decisionSourceEngine  = "ENGINE"
	decisionSourceDefault = "DEFAULT_FAIL"
)

// structuredErrorFromFleet reduces a *fleet.Error into a StructuredError
// tagged with the PAL phase that produced it.
func structuredErrorFromFleet(source fleet.ErrorSource, err *fleet.Error) StructuredError {
	return StructuredError{
		Source:      source,
		Type:        err.Type,
		NetworkType: err.NetworkType,
		Status:      err.Status,
		Retryable:   err.Retryable,
		Message:     err.Error(),
		URL:         err.URL,
	}
}

// asFleetError unwraps any error into *fleet.Error, synthesizing a
// RUNTIME error for anything bcl did not already classify.
func asFleetError(err error) *fleet.Error {
	if err == nil {
		return nil
	}
	if fe, ok := err.(*fleet.Error); ok {
		return fe
	}
	return &fleet.Error{Type: fleet.ErrRuntime, Message: err.Error()}
}

// routeNavigationError asks the decision engine to respond to a
// navigation failure without a screenshot (spec.md §4.2: "route to the
// decision engine without capturing a screenshot"). The engine may
// return WAIT (retry) for a retryable error or FAILED otherwise; if it
// returns anything else, or errors itself, the loop falls back to the
// taxonomy default.
func (r *runState) routeNavigationError(ctx context.Context, serr StructuredError) RoutedError {
	routed := r.routeStructuredError(ctx, serr)
	if a := routed.NavigatorDecision.Action; a != fleet.ActionWait && a != fleet.ActionFailed {
		routed.NavigatorDecision = defaultNavigationDecision(serr)
		routed.DecisionSource = decisionSourceDefault
	}
	return routed
}

// routeStructuredError is the shared decision-engine routing path for
// every error source (NAVIGATION, PERCEPTION, ACTION): spec.md §4.2
// describes a single structured-error event, not a navigation-only one.
func (r *runState) routeStructuredError(ctx context.Context, serr StructuredError) RoutedError {
	req := DecisionRequest{
		Intent:        r.task.Intent,
		StartURL:      r.task.StartURL,
		Tier:          fleet.Tier1AX,
		DecisionMode:  fleet.DecisionStandard,
		StructuredErr: &serr,
		Decomposition: r.subtasks.snapshot(),
	}

	resp, err := r.eng.opts.Engine.Decide(ctx, req)
	if err != nil || resp == nil {
		return RoutedError{StructuredError: serr, NavigatorDecision: defaultNavigationDecision(serr), DecisionSource: decisionSourceDefault}
	}
	return RoutedError{StructuredError: serr, NavigatorDecision: resp.Decision, DecisionSource: decisionSourceEngine}
}

// defaultNavigationDecision is the taxonomy-driven fallback when the
// engine cannot be reached to classify a structured error itself.
func defaultNavigationDecision(serr StructuredError) fleet.ActionDecision {
	if serr.Retryable {
		return fleet.ActionDecision{Action: fleet.ActionWait, Text: "1000"}
	}
	return fleet.ActionDecision{Action: fleet.ActionFailed, Text: serr.Message}
}
