package pal

import (
	"context"
	"net/url"

	"github.com/brennhill/ghost-fleet/internal/observability"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// maybePrefetch implements spec.md §4.2 Prefetch integration: before a
// CLICK that resolves to a same-origin link, ask BCL to warm that link
// in the background. Failures are silent by contract; a miss here never
// blocks or fails the step.
func (r *runState) maybePrefetch(ctx context.Context, decision fleet.ActionDecision, obs *fleet.Observation) {
	if !r.eng.opts.PrefetchSameOrigin || obs == nil {
		return
	}
	if decision.Action != fleet.ActionClick || decision.Target == nil {
		return
	}

	el := linkAt(obs.Index, *decision.Target)
	if el == nil || el.Value == "" {
		return
	}
	if !sameOrigin(r.currentURL, el.Value) {
		return
	}

	r.session.Prefetch(ctx, el.Value)
	r.emit(observability.EventTypeCustom, "prefetch", map[string]interface{}{"href": el.Value})
}

// linkAt finds the link-role interactive element whose bounding box
// contains target, the closest proxy available for "the element the
// decision is about to click" since ActionDecision only carries a point.
func linkAt(index []fleet.InteractiveElement, target fleet.Point) *fleet.InteractiveElement {
	for i := range index {
		el := &index[i]
		if el.Role != fleet.RoleLink {
			continue
		}
		b := el.BoundingBox
		if target.X >= b.X && target.X <= b.X+b.Width && target.Y >= b.Y && target.Y <= b.Y+b.Height {
			return el
		}
	}
	return nil
}

func sameOrigin(currentURL, href string) bool {
	base, err := url.Parse(currentURL)
	if err != nil {
		return false
	}
	target, err := url.Parse(href)
	if err != nil {
		return false
	}
	if !target.IsAbs() {
		return true
	}
	return base.Scheme == target.Scheme && base.Host == target.Host
}
