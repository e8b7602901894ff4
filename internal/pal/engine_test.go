package pal

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// fakeSession is a minimal BrowserSession stand-in driven entirely by
// in-memory fields, so Engine.RunTask can be exercised without a live
// chromedp target.
type fakeSession struct {
	navigateErr error
	currentURL  string
	index       []fleet.InteractiveElement
	deficient   bcl.AXDeficiencySignals
	execResult  *bcl.ExecResult
	execErr     error
}

func (f *fakeSession) ContextID() string { return "ctx-1" }

func (f *fakeSession) Navigate(ctx context.Context, url string, timeoutMS int64) error {
	if f.navigateErr != nil {
		return f.navigateErr
	}
	f.currentURL = url
	return nil
}

func (f *fakeSession) GetCurrentURL(ctx context.Context) (string, error) {
	return f.currentURL, nil
}

func (f *fakeSession) ExtractNormalizedAXTree(ctx context.Context, charBudget int, timeBudgetMS int64, includeBoundingBoxes bool) (*fleet.NormalizedAXTree, error) {
	return &fleet.NormalizedAXTree{NormalizedCharCount: 1000}, nil
}

func (f *fakeSession) ExtractInteractiveElementIndex(ctx context.Context, charBudget int, includeBoundingBoxes bool) (*fleet.InteractiveIndexResult, error) {
	return &fleet.InteractiveIndexResult{
		Index: f.index,
		Tree:  &fleet.NormalizedAXTree{NormalizedCharCount: 1000},
	}, nil
}

func (f *fakeSession) GetAXDeficiencySignals(ctx context.Context) (*bcl.AXDeficiencySignals, error) {
	sig := f.deficient
	return &sig, nil
}

func (f *fakeSession) ExtractDOMInteractiveElements(ctx context.Context) ([]bcl.DOMInteractiveElement, error) {
	return nil, nil
}

func (f *fakeSession) CaptureScreenshot(ctx context.Context, opts bcl.ScreenshotOptions) (*fleet.Screenshot, error) {
	return &fleet.Screenshot{Base64: "fake"}, nil
}

func (f *fakeSession) ExecuteAction(ctx context.Context, decision fleet.ActionDecision, settleTimeoutMS int64) (*bcl.ExecResult, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	if f.execResult != nil {
		return f.execResult, nil
	}
	return &bcl.ExecResult{Status: bcl.ExecActed}, nil
}

func (f *fakeSession) Prefetch(ctx context.Context, url string) {}

func (f *fakeSession) GetLastCrashEvent() *bcl.CrashEvent { return nil }

var _ BrowserSession = (*fakeSession)(nil)

// fakeDecisionEngine is scripted: Decide returns the next response from
// responses in order, repeating the last one once exhausted.
type fakeDecisionEngine struct {
	responses []fleet.ActionDecision
	calls     int
}

func (f *fakeDecisionEngine) Decide(ctx context.Context, req DecisionRequest) (*DecisionResponse, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return &DecisionResponse{Decision: f.responses[i]}, nil
}

func (f *fakeDecisionEngine) Summarize(ctx context.Context, pairs []HistoryPair, priorSummary string) (string, error) {
	return "summary", nil
}

func testTask() fleet.Task {
	return fleet.Task{
		TaskID:   "t1",
		Intent:   "do the thing",
		StartURL: "https://example.com",
		Caps:     fleet.Caps{ConfidenceThreshold: 0.5}.WithDefaults(),
	}
}

func TestRunTaskCompletesOnDoneDecision(t *testing.T) {
	engine := New(Options{
		Engine: &fakeDecisionEngine{responses: []fleet.ActionDecision{
			{Action: fleet.ActionDone, Confidence: 1},
		}},
	})
	session := &fakeSession{index: []fleet.InteractiveElement{{NodeID: 1}}}

	steps, detail := engine.RunTask(context.Background(), testTask(), 0, fleet.Lease{ContextID: "ctx-1"}, session)
	if detail != nil {
		t.Fatalf("RunTask() error detail = %+v, want nil", detail)
	}
	if len(steps) != 1 || steps[0].Decision.Action != fleet.ActionDone {
		t.Fatalf("steps = %+v, want one DONE step", steps)
	}
}

func TestRunTaskFailsOnNavigationError(t *testing.T) {
	engine := New(Options{Engine: &fakeDecisionEngine{responses: []fleet.ActionDecision{
		{Action: fleet.ActionFailed, Text: "nope"},
	}}})
	session := &fakeSession{navigateErr: &fleet.Error{Type: fleet.ErrNetwork, Message: "dns failure", Retryable: false}}

	_, detail := engine.RunTask(context.Background(), testTask(), 0, fleet.Lease{ContextID: "ctx-1"}, session)
	if detail == nil {
		t.Fatal("RunTask() should return a terminal error when navigation fails")
	}
	if detail.Type != fleet.ErrNetwork {
		t.Fatalf("detail.Type = %v, want NETWORK", detail.Type)
	}
}

func TestRunTaskFailsOnActionFailedDecision(t *testing.T) {
	engine := New(Options{Engine: &fakeDecisionEngine{responses: []fleet.ActionDecision{
		{Action: fleet.ActionFailed, Text: "engine gave up", Confidence: 1},
	}}})
	session := &fakeSession{index: []fleet.InteractiveElement{{NodeID: 1}}}

	steps, detail := engine.RunTask(context.Background(), testTask(), 0, fleet.Lease{ContextID: "ctx-1"}, session)
	if detail == nil || detail.Message != "engine gave up" {
		t.Fatalf("detail = %+v, want FAILED with engine's message", detail)
	}
	if len(steps) != 1 {
		t.Fatalf("steps = %+v, want a single terminal step", steps)
	}
}

func TestRunTaskStopsAtMaxSteps(t *testing.T) {
	engine := New(Options{Engine: &fakeDecisionEngine{responses: []fleet.ActionDecision{
		{Action: fleet.ActionWait, Text: "100", Confidence: 1},
	}}})
	session := &fakeSession{index: []fleet.InteractiveElement{{NodeID: 1}}}
	task := testTask()
	task.Caps.MaxSteps = 2

	steps, detail := engine.RunTask(context.Background(), task, 0, fleet.Lease{ContextID: "ctx-1"}, session)
	if detail == nil {
		t.Fatal("RunTask() should report max_steps exceeded as a terminal error")
	}
	if len(steps) != 2 {
		t.Fatalf("steps = %d, want 2 (MaxSteps)", len(steps))
	}
}

// TestRunTaskStepRecordContextWindowInvariant locks in spec.md §8's
// context-window invariant on an actual StepRecord (not just the
// internal contextWindow type in isolation): recent_pair_count =
// min(step-1, 5) and summarized_pair_count = max(step-1-5, 0) for every
// step.
func TestRunTaskStepRecordContextWindowInvariant(t *testing.T) {
	responses := make([]fleet.ActionDecision, 0, 8)
	for i := 0; i < 7; i++ {
		responses = append(responses, fleet.ActionDecision{Action: fleet.ActionWait, Text: fmt.Sprintf("%d", i+1), Confidence: 1})
	}
	responses = append(responses, fleet.ActionDecision{Action: fleet.ActionDone, Confidence: 1})

	engine := New(Options{Engine: &fakeDecisionEngine{responses: responses}})
	session := &fakeSession{index: []fleet.InteractiveElement{{NodeID: 1}}}
	task := testTask()
	task.Caps.MaxSteps = 10

	steps, detail := engine.RunTask(context.Background(), task, 0, fleet.Lease{ContextID: "ctx-1"}, session)
	if detail != nil {
		t.Fatalf("RunTask() error detail = %+v, want nil", detail)
	}
	if len(steps) != 8 {
		t.Fatalf("got %d steps, want 8", len(steps))
	}

	for _, s := range steps {
		wantRecent := s.Step - 1
		if wantRecent > recentPairWindow {
			wantRecent = recentPairWindow
		}
		if s.ContextWindow.RecentPairCount != wantRecent {
			t.Fatalf("step %d: RecentPairCount = %d, want %d", s.Step, s.ContextWindow.RecentPairCount, wantRecent)
		}
		wantSummarized := s.Step - 1 - recentPairWindow
		if wantSummarized < 0 {
			wantSummarized = 0
		}
		if s.ContextWindow.SummarizedPairCount != wantSummarized {
			t.Fatalf("step %d: SummarizedPairCount = %d, want %d", s.Step, s.ContextWindow.SummarizedPairCount, wantSummarized)
		}
		if s.ContextWindow.SummaryIncluded != (wantSummarized > 0) {
			t.Fatalf("step %d: SummaryIncluded = %v, want %v", s.Step, s.ContextWindow.SummaryIncluded, wantSummarized > 0)
		}
	}
}

func TestRunTaskTerminatesOnActionExecutionError(t *testing.T) {
	engine := New(Options{Engine: &fakeDecisionEngine{responses: []fleet.ActionDecision{
		{Action: fleet.ActionClick, Target: &fleet.Point{X: 1, Y: 1}, Confidence: 1},
	}}})
	session := &fakeSession{
		index:   []fleet.InteractiveElement{{NodeID: 1}},
		execErr: errors.New("target closed"),
	}

	_, detail := engine.RunTask(context.Background(), testTask(), 0, fleet.Lease{ContextID: "ctx-1"}, session)
	if detail == nil {
		t.Fatal("RunTask() should terminate when ExecuteAction errors")
	}
}
