package pal

import (
	"context"
	"strings"

	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// decideStep implements spec.md §4.2 step 3 (tier selection). It returns
// the decision to act on, the tier that resolved it, whether an
// escalation past Tier 1 occurred, why, and the ordered list of tiers
// actually attempted before one resolved (spec.md §3 Step Record).
func (r *runState) decideStep(ctx context.Context, obs *fleet.Observation, deficient, forcedEscalation bool) (fleet.ActionDecision, fleet.Tier, bool, fleet.EscalationReason, []fleet.Tier, error) {
	diversify := r.antirepeat.shouldDiversify()
	var attempted []fleet.Tier

	base := DecisionRequest{
		Intent:             r.task.Intent,
		StartURL:           r.task.StartURL,
		Observation:        obs,
		EncodedTree:        encodeColumnar(obs.Index),
		Diversify:          diversify,
		NoProgressStreak:   r.antirepeat.noProgressStreak,
		RecentFingerprints: r.antirepeat.recentFingerprints(),
		RecentPairs:        r.window.recent(),
		SummarizedCount:    r.window.summarizedCount(),
		Summary:            r.window.summary,
		Decomposition:      r.subtasks.snapshot(),
	}

	if !deficient && !forcedEscalation {
		attempted = append(attempted, fleet.Tier1AX)
		req := base
		req.Tier = fleet.Tier1AX
		req.DecisionMode = fleet.DecisionStandard

		resp, err := r.eng.opts.Engine.Decide(ctx, req)
		if err != nil {
			return fleet.ActionDecision{}, fleet.Tier1AX, false, "", attempted, err
		}
		r.adoptDecomposition(resp)

		if resp.Decision.Confidence >= r.task.Caps.ConfidenceThreshold && safeDecision(resp.Decision) {
			return resp.Decision, fleet.Tier1AX, false, "", attempted, nil
		}

		if els, ok, derr := r.domBypass(ctx); derr == nil && ok && domResolvesTarget(els, resp.Decision) {
			return resp.Decision, fleet.Tier1AX, false, "", attempted, nil
		}
	}

	escReason := fleet.EscalationLowConfidence
	switch {
	case deficient:
		escReason = fleet.EscalationAXDeficient
	case forcedEscalation:
		escReason = fleet.EscalationRetryAfterScroll
	case diversify:
		escReason = fleet.EscalationNoProgress
	}

	attempted = append(attempted, fleet.Tier2Vision)
	shot, err := r.tier2Screenshot(ctx)
	if err != nil {
		return fleet.ActionDecision{}, fleet.Tier2Vision, true, escReason, attempted, err
	}
	obs2 := *obs
	obs2.Screenshot = shot

	req2 := base
	req2.Observation = &obs2
	req2.Tier = fleet.Tier2Vision
	req2.DecisionMode = fleet.DecisionComputerUse
	req2.EscalationReason = escReason

	resp2, err := r.eng.opts.Engine.Decide(ctx, req2)
	if err != nil {
		return fleet.ActionDecision{}, fleet.Tier2Vision, true, escReason, attempted, err
	}
	r.adoptDecomposition(resp2)

	if !safeDecision(resp2.Decision) {
		escReason = fleet.EscalationUnsafeAction
	}

	commitable := resp2.Decision.Action != fleet.ActionScroll && resp2.Decision.Action != fleet.ActionFailed
	if resp2.Decision.Confidence >= r.task.Caps.ConfidenceThreshold && safeDecision(resp2.Decision) && commitable {
		return resp2.Decision, fleet.Tier2Vision, true, escReason, attempted, nil
	}

	attempted = append(attempted, fleet.Tier3Scroll)
	scrollDecision, exceeded := r.tier3ScrollDecision()
	if exceeded {
		return fleet.ActionDecision{Action: fleet.ActionFailed, Text: "max_scroll_steps exceeded"}, fleet.Tier3Scroll, true, fleet.EscalationRetryAfterScroll, attempted, nil
	}
	return scrollDecision, fleet.Tier3Scroll, true, fleet.EscalationRetryAfterScroll, attempted, nil
}

func (r *runState) adoptDecomposition(resp *DecisionResponse) {
	if resp == nil || resp.Decomposition == nil {
		return
	}
	r.subtasks.adopt(resp.Decomposition)
}

// domResolvesTarget reports whether the DOM-bypass candidates can stand
// in for the accessibility tree for this decision: for CLICK, one
// candidate's box must contain the target point; other actions only
// need the DOM to be non-empty.
func domResolvesTarget(els []bcl.DOMInteractiveElement, d fleet.ActionDecision) bool {
	if d.Action != fleet.ActionClick {
		return len(els) > 0
	}
	if d.Target == nil {
		return false
	}
	for _, el := range els {
		b := el.Box
		if d.Target.X >= b.X && d.Target.X <= b.X+b.Width && d.Target.Y >= b.Y && d.Target.Y <= b.Y+b.Height {
			return true
		}
	}
	return false
}

// safeDecision implements spec.md §4.2's safety policy: CLICK/TYPE must
// carry non-null target/text, EXTRACT must carry a non-empty bounded
// expression, and a TYPE containing an embedded newline is treated as an
// implicit submit and rejected as unsafe.
func safeDecision(d fleet.ActionDecision) bool {
	switch d.Action {
	case fleet.ActionClick:
		return d.Target != nil
	case fleet.ActionTypeText:
		return d.Text != "" && !strings.Contains(d.Text, "\n")
	case fleet.ActionPressKey:
		return d.Key != ""
	case fleet.ActionExtract:
		return d.Text != ""
	default:
		return true
	}
}
