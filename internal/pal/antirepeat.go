package pal

import "github.com/brennhill/ghost-fleet/pkg/fleet"

// antiRepeatTracker implements the anti-repeat routing rule (spec.md
// §4.2 step 4): once an action makes no progress, any later decision
// sharing its fingerprint within the same no-progress streak bypasses
// the decision cache, and a fingerprint seen more than twice forces the
// task to FAILED.
type antiRepeatTracker struct {
	maxWindow          int
	noProgressStreak   int
	streakFingerprints []fleet.Fingerprint
}

func newAntiRepeatTracker(maxWindow int) *antiRepeatTracker {
	return &antiRepeatTracker{maxWindow: maxWindow}
}

// observe updates the no-progress streak after one action executes.
// progressed is true when the action produced a URL change or a
// significant DOM mutation.
func (a *antiRepeatTracker) observe(progressed bool) {
	if progressed {
		a.noProgressStreak = 0
		a.streakFingerprints = nil
		return
	}
	a.noProgressStreak++
}

// recordFingerprint folds fp into the current no-progress streak window
// and reports how many times it has now appeared within that window.
func (a *antiRepeatTracker) recordFingerprint(fp fleet.Fingerprint) (repeats int, forcesFailed bool) {
	a.streakFingerprints = append(a.streakFingerprints, fp)
	if a.maxWindow > 0 && len(a.streakFingerprints) > a.maxWindow {
		a.streakFingerprints = a.streakFingerprints[len(a.streakFingerprints)-a.maxWindow:]
	}
	for _, prior := range a.streakFingerprints {
		if prior == fp {
			repeats++
		}
	}
	return repeats, repeats > 2
}

// shouldDiversify reports whether the decision cache should be bypassed
// for the upcoming step.
func (a *antiRepeatTracker) shouldDiversify() bool {
	return a.noProgressStreak > 0
}

func (a *antiRepeatTracker) recentFingerprints() []fleet.Fingerprint {
	return a.streakFingerprints
}
