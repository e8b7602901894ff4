package bcl

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// armCrashListeners wires the target-level crash and destruction events
// into recordCrash so get_last_crash_event reflects the session's true
// liveness without the caller having to poll (spec.md §4.1
// get_last_crash_event, §7 RENDERER_CRASH/TARGET_CLOSED).
func (s *Session) armCrashListeners() {
	chromedp.ListenTarget(s.taskCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *inspector.EventTargetCrashed:
			s.recordCrash(&CrashEvent{Source: CrashRendererCrash, Timestamp: time.Now()})
		case *target.EventTargetCrashed:
			s.recordCrash(&CrashEvent{Source: CrashRendererCrash, Status: int(e.ErrorCode), Timestamp: time.Now()})
		case *target.EventTargetDestroyed:
			if e.TargetID == s.targetID {
				s.recordCrash(&CrashEvent{Source: CrashTargetClosed, Timestamp: time.Now()})
			}
		case *target.EventDetachedFromTarget:
			if e.TargetID != nil && *e.TargetID == s.targetID {
				s.recordCrash(&CrashEvent{Source: CrashTargetClosed, Timestamp: time.Now()})
			}
		}
	})
}

// CrashRendererForTesting forces the attached renderer to crash via the
// Page domain's debug endpoint, for exercising PTS/GCP crash-recovery
// paths in integration tests without a real OOM or browser bug.
func (s *Session) CrashRendererForTesting(ctx context.Context) error {
	return chromedp.Run(s.taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return inspector.Enable().Do(ctx)
	}), chromedp.ActionFunc(func(ctx context.Context) error {
		return page.Crash().Do(ctx)
	}))
}
