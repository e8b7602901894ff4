package pal

import (
	"testing"

	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

func TestSafeDecisionClick(t *testing.T) {
	if safeDecision(fleet.ActionDecision{Action: fleet.ActionClick}) {
		t.Fatal("CLICK with nil target should be unsafe")
	}
	if !safeDecision(fleet.ActionDecision{Action: fleet.ActionClick, Target: &fleet.Point{X: 1, Y: 1}}) {
		t.Fatal("CLICK with a target should be safe")
	}
}

func TestSafeDecisionTypeRejectsEmbeddedNewline(t *testing.T) {
	if safeDecision(fleet.ActionDecision{Action: fleet.ActionTypeText, Text: "line one\nline two"}) {
		t.Fatal("TYPE with an embedded newline should be unsafe (implicit submit)")
	}
	if !safeDecision(fleet.ActionDecision{Action: fleet.ActionTypeText, Text: "hello"}) {
		t.Fatal("plain TYPE text should be safe")
	}
	if safeDecision(fleet.ActionDecision{Action: fleet.ActionTypeText, Text: ""}) {
		t.Fatal("empty TYPE text should be unsafe")
	}
}

func TestSafeDecisionPressKey(t *testing.T) {
	if safeDecision(fleet.ActionDecision{Action: fleet.ActionPressKey}) {
		t.Fatal("PRESS_KEY with no key should be unsafe")
	}
	if !safeDecision(fleet.ActionDecision{Action: fleet.ActionPressKey, Key: "Enter"}) {
		t.Fatal("PRESS_KEY with a key should be safe")
	}
}

func TestSafeDecisionExtract(t *testing.T) {
	if safeDecision(fleet.ActionDecision{Action: fleet.ActionExtract}) {
		t.Fatal("EXTRACT with an empty expression should be unsafe")
	}
	if !safeDecision(fleet.ActionDecision{Action: fleet.ActionExtract, Text: "document.title"}) {
		t.Fatal("EXTRACT with a bounded expression should be safe")
	}
}

func TestSafeDecisionDefaultActionsAlwaysSafe(t *testing.T) {
	for _, a := range []fleet.ActionType{fleet.ActionScroll, fleet.ActionWait, fleet.ActionDone, fleet.ActionFailed} {
		if !safeDecision(fleet.ActionDecision{Action: a}) {
			t.Fatalf("action %v should be unconditionally safe", a)
		}
	}
}

func TestDomResolvesTargetNonClickRequiresNonEmptyDOM(t *testing.T) {
	if domResolvesTarget(nil, fleet.ActionDecision{Action: fleet.ActionScroll}) {
		t.Fatal("empty DOM should not resolve a non-click decision")
	}
	els := []bcl.DOMInteractiveElement{{}}
	if !domResolvesTarget(els, fleet.ActionDecision{Action: fleet.ActionScroll}) {
		t.Fatal("non-empty DOM should resolve a non-click decision")
	}
}

func TestDomResolvesTargetClickRequiresTarget(t *testing.T) {
	els := []bcl.DOMInteractiveElement{{}}
	if domResolvesTarget(els, fleet.ActionDecision{Action: fleet.ActionClick}) {
		t.Fatal("CLICK with nil target should never resolve")
	}
}

func TestDomResolvesTargetClickInsideBox(t *testing.T) {
	els := []bcl.DOMInteractiveElement{
		{Box: fleet.BoundingBox{X: 10, Y: 10, Width: 20, Height: 20}},
	}
	d := fleet.ActionDecision{Action: fleet.ActionClick, Target: &fleet.Point{X: 15, Y: 15}}
	if !domResolvesTarget(els, d) {
		t.Fatal("click target inside the element's box should resolve")
	}
}

func TestDomResolvesTargetClickOutsideAllBoxes(t *testing.T) {
	els := []bcl.DOMInteractiveElement{
		{Box: fleet.BoundingBox{X: 10, Y: 10, Width: 20, Height: 20}},
	}
	d := fleet.ActionDecision{Action: fleet.ActionClick, Target: &fleet.Point{X: 200, Y: 200}}
	if domResolvesTarget(els, d) {
		t.Fatal("click target outside every element's box should not resolve")
	}
}
