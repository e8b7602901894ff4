// Package pal implements the perception-action loop: the per-step
// perceive/classify/route/act/analyze/terminate algorithm that drives a
// single browsing task to completion over a leased ghost context
// (spec.md §4.2).
package pal

import (
	"context"

	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// BrowserSession is the subset of *bcl.Session the loop drives. It is
// defined as an interface, rather than accepting *bcl.Session directly,
// so a fake can stand in for chromedp in tests the way LLMProvider lets
// tests stand in for a live model backend. *bcl.Session satisfies it
// without change.
type BrowserSession interface {
	ContextID() string
	Navigate(ctx context.Context, url string, timeoutMS int64) error
	GetCurrentURL(ctx context.Context) (string, error)
	ExtractNormalizedAXTree(ctx context.Context, charBudget int, timeBudgetMS int64, includeBoundingBoxes bool) (*fleet.NormalizedAXTree, error)
	ExtractInteractiveElementIndex(ctx context.Context, charBudget int, includeBoundingBoxes bool) (*fleet.InteractiveIndexResult, error)
	GetAXDeficiencySignals(ctx context.Context) (*bcl.AXDeficiencySignals, error)
	ExtractDOMInteractiveElements(ctx context.Context) ([]bcl.DOMInteractiveElement, error)
	CaptureScreenshot(ctx context.Context, opts bcl.ScreenshotOptions) (*fleet.Screenshot, error)
	ExecuteAction(ctx context.Context, decision fleet.ActionDecision, settleTimeoutMS int64) (*bcl.ExecResult, error)
	Prefetch(ctx context.Context, url string)
	GetLastCrashEvent() *bcl.CrashEvent
}

var _ BrowserSession = (*bcl.Session)(nil)
