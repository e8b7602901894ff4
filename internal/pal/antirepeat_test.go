package pal

import (
	"testing"

	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

func TestAntiRepeatTrackerObserveResetsOnProgress(t *testing.T) {
	tr := newAntiRepeatTracker(5)
	tr.observe(false)
	tr.observe(false)
	if tr.noProgressStreak != 2 {
		t.Fatalf("noProgressStreak = %d, want 2", tr.noProgressStreak)
	}
	tr.observe(true)
	if tr.noProgressStreak != 0 || tr.streakFingerprints != nil {
		t.Fatalf("observe(true) should reset streak, got streak=%d fps=%v", tr.noProgressStreak, tr.streakFingerprints)
	}
}

func TestAntiRepeatTrackerRecordFingerprintForcesFailedAfterThreeRepeats(t *testing.T) {
	tr := newAntiRepeatTracker(10)
	fp := fleet.Fingerprint{Action: fleet.ActionClick, GridX: 8, GridY: 8}

	for i, want := range []int{1, 2, 3} {
		repeats, forced := tr.recordFingerprint(fp)
		if repeats != want {
			t.Fatalf("iteration %d: repeats = %d, want %d", i, repeats, want)
		}
		wantForced := want > 2
		if forced != wantForced {
			t.Fatalf("iteration %d: forced = %v, want %v", i, forced, wantForced)
		}
	}
}

func TestAntiRepeatTrackerRecordFingerprintWindowCap(t *testing.T) {
	tr := newAntiRepeatTracker(2)
	fp := fleet.Fingerprint{Action: fleet.ActionClick}
	other := fleet.Fingerprint{Action: fleet.ActionTypeText, Text: "x"}

	tr.recordFingerprint(fp)
	tr.recordFingerprint(other)
	repeats, forced := tr.recordFingerprint(fp)
	if repeats != 1 {
		t.Fatalf("with window 2, the first fp should have aged out: repeats = %d, want 1", repeats)
	}
	if forced {
		t.Fatal("should not force failed with only 1 repeat in window")
	}
}

func TestAntiRepeatTrackerShouldDiversify(t *testing.T) {
	tr := newAntiRepeatTracker(5)
	if tr.shouldDiversify() {
		t.Fatal("fresh tracker should not require diversification")
	}
	tr.observe(false)
	if !tr.shouldDiversify() {
		t.Fatal("after a no-progress observation, should diversify")
	}
}
