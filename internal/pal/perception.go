package pal

import (
	"context"
	"fmt"
	"strings"

	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/internal/cache"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

const (
	defaultAXCharBudget  = 12000
	defaultAXTimeBudgetMS = 800
)

// perceive implements spec.md §4.2 step 1: reuse a cached observation
// when nothing invalidated it, otherwise extract a fresh interactive
// index and normalized tree. The returned bool reports whether the
// observation cache served this call (spec.md §3 Step Record
// "observation-cache hits").
func (r *runState) perceive(ctx context.Context, forced fleet.RefetchReason) (*fleet.Observation, fleet.RefetchReason, bool, error) {
	reason := forced
	if reason == "" {
		reason = fleet.RefetchNone
	}

	if reason == fleet.RefetchNone {
		key := r.observationKey()
		if obs, ok := r.eng.opts.ObservationCache.Get(key); ok {
			return obs, fleet.RefetchNone, true, nil
		}
		reason = fleet.RefetchInitial
	}

	result, err := r.session.ExtractInteractiveElementIndex(ctx, defaultAXCharBudget, true)
	if err != nil {
		return nil, reason, false, err
	}

	obs := &fleet.Observation{
		CurrentURL:         r.currentURL,
		Index:              result.Index,
		Tree:                result.Tree,
		IndexCharCount:     result.IndexCharCount,
		RecentActions:      actionSummaries(r.window.recent()),
		RecentObservations: observationSummaries(r.window.recent()),
	}

	r.eng.opts.ObservationCache.Put(r.observationKey(), obs)
	return obs, reason, false, nil
}

// observationKey derives the cache key for the current perception
// snapshot. DOMGeneration increments on every event that invalidates a
// cached observation (navigation, SCROLL, significant mutation), which
// stands in for a real DOM content fingerprint without paying for a
// second extraction just to compute one.
func (r *runState) observationKey() cache.ObservationKey {
	return cache.ObservationKey{
		ContextID:      r.session.ContextID(),
		CurrentURL:     r.currentURL,
		DOMFingerprint: fmt.Sprintf("gen-%d", r.domGeneration),
	}
}

// classifyDeficient implements spec.md §4.2 step 2. It also returns the
// raw signals, mirrored into pkg/fleet, so the step record can report
// them (spec.md §3 Step Record "AX-deficiency signals").
func (r *runState) classifyDeficient(ctx context.Context, interactiveCount int) (bool, *fleet.AXDeficiencySignals, error) {
	sig, err := r.session.GetAXDeficiencySignals(ctx)
	if err != nil {
		return false, nil, err
	}
	threshold := r.task.Caps.AXDeficientThreshold
	deficient := sig.IsLoadComplete && sig.HasSignificantVisualContent && interactiveCount < threshold
	return deficient, &fleet.AXDeficiencySignals{
		ReadyState:                   sig.ReadyState,
		IsLoadComplete:               sig.IsLoadComplete,
		HasSignificantVisualContent:  sig.HasSignificantVisualContent,
		VisibleElementCount:          sig.VisibleElementCount,
		TextCharCount:                sig.TextCharCount,
		MediaElementCount:            sig.MediaElementCount,
		DOMInteractiveCandidateCount: sig.DOMInteractiveCandidateCount,
	}, nil
}

// encodeColumnar renders the interactive index as a compact, line-per-
// element table instead of a nested tree, to keep the Tier 1 prompt
// small (spec.md §4.2: "a token-efficient columnar encoding").
func encodeColumnar(index []fleet.InteractiveElement) string {
	var b strings.Builder
	for _, el := range index {
		fmt.Fprintf(&b, "%d\t%s\t%s\t%.0f,%.0f\n", el.NodeID, el.Role, el.Name, el.BoundingBox.X, el.BoundingBox.Y)
	}
	return b.String()
}

// domBypass implements spec.md §4.2 "DOM bypass": a one-shot fallback
// extraction when Tier 1 is rejected only because the AX tree is sparse
// but the raw DOM still has plenty of clickable candidates. It returns
// ok=true when the DOM candidates can stand in for the AX index (i.e.
// there are enough of them to plausibly resolve the decision).
func (r *runState) domBypass(ctx context.Context) ([]bcl.DOMInteractiveElement, bool, error) {
	els, err := r.session.ExtractDOMInteractiveElements(ctx)
	if err != nil {
		return nil, false, err
	}
	return els, len(els) > 0, nil
}

// tier2Screenshot captures a viewport screenshot for a Tier 2 vision
// request.
func (r *runState) tier2Screenshot(ctx context.Context) (*fleet.Screenshot, error) {
	return r.session.CaptureScreenshot(ctx, bcl.ScreenshotOptions{Mode: fleet.ScreenshotViewport})
}

// tier3ScrollDecision produces the bounded recovery SCROLL decision
// (spec.md §4.2 Tier 3): Act executes it like any other decision. It
// reports exceeded=true once Caps.MaxScrolls has been spent, at which
// point the step aborts with FAILED instead of scrolling again.
func (r *runState) tier3ScrollDecision() (fleet.ActionDecision, bool) {
	if r.scrollCount >= r.task.Caps.MaxScrolls {
		return fleet.ActionDecision{}, true
	}
	r.scrollCount++
	return fleet.ActionDecision{Action: fleet.ActionScroll, Text: fmt.Sprintf("%d", r.task.Caps.ScrollStepPx)}, false
}

// estimatedCharsPerToken approximates English/code text for models in
// this family; good enough for the rough cost counters on a step
// record, not for billing.
const estimatedCharsPerToken = 4

// estimatePromptTokens gives a rough token count for a prompt built
// from the given byte length, used for the cost counters spec.md §3
// Step Record documents for tier 1 and tier 2 prompts.
func estimatePromptTokens(charCount int) int {
	return (charCount + estimatedCharsPerToken - 1) / estimatedCharsPerToken
}

func actionSummaries(pairs []HistoryPair) []fleet.ActionSummary {
	out := make([]fleet.ActionSummary, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Action)
	}
	return out
}

func observationSummaries(pairs []HistoryPair) []fleet.ObservationSummary {
	out := make([]fleet.ObservationSummary, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.Observation)
	}
	return out
}
