package pal

import (
	"context"
	"errors"
	"testing"
)

type fakeSummarizer struct {
	calls   int
	lastLen int
	err     error
}

func (f *fakeSummarizer) Decide(ctx context.Context, req DecisionRequest) (*DecisionResponse, error) {
	return nil, errors.New("not used")
}

func (f *fakeSummarizer) Summarize(ctx context.Context, pairs []HistoryPair, priorSummary string) (string, error) {
	f.calls++
	f.lastLen = len(pairs)
	if f.err != nil {
		return "", f.err
	}
	return "summary", nil
}

func TestContextWindowRecentWithinWindow(t *testing.T) {
	w := newContextWindow()
	for i := 0; i < 3; i++ {
		w.add(HistoryPair{Step: i})
	}
	if len(w.recent()) != 3 {
		t.Fatalf("recent() len = %d, want 3", len(w.recent()))
	}
	if w.summaryIncluded() {
		t.Fatal("summary should not be included under the recent window")
	}
}

func TestContextWindowRecentOverflow(t *testing.T) {
	w := newContextWindow()
	for i := 0; i < 8; i++ {
		w.add(HistoryPair{Step: i})
	}
	recent := w.recent()
	if len(recent) != recentPairWindow {
		t.Fatalf("recent() len = %d, want %d", len(recent), recentPairWindow)
	}
	if recent[0].Step != 3 {
		t.Fatalf("recent()[0].Step = %d, want 3 (the 4th of 8 pairs)", recent[0].Step)
	}
	if w.summarizedCount() != 3 {
		t.Fatalf("summarizedCount() = %d, want 3", w.summarizedCount())
	}
	if !w.summaryIncluded() {
		t.Fatal("summary should be included once the window overflows")
	}
}

func TestContextWindowRefreshNoopUnderWindow(t *testing.T) {
	w := newContextWindow()
	w.add(HistoryPair{Step: 0})
	engine := &fakeSummarizer{}
	if err := w.refresh(context.Background(), engine); err != nil {
		t.Fatalf("refresh() error = %v", err)
	}
	if engine.calls != 0 {
		t.Fatal("refresh should not call Summarize while under the recent window")
	}
}

func TestContextWindowRefreshSummarizesOlderPairs(t *testing.T) {
	w := newContextWindow()
	for i := 0; i < 8; i++ {
		w.add(HistoryPair{Step: i})
	}
	engine := &fakeSummarizer{}
	if err := w.refresh(context.Background(), engine); err != nil {
		t.Fatalf("refresh() error = %v", err)
	}
	if engine.calls != 1 || engine.lastLen != 3 {
		t.Fatalf("Summarize called with %d pairs across %d calls, want 3 pairs once", engine.lastLen, engine.calls)
	}
	if w.summary != "summary" || w.summaryRefreshCount != 1 {
		t.Fatalf("summary = %q, summaryRefreshCount = %d", w.summary, w.summaryRefreshCount)
	}
}

func TestContextWindowRefreshPropagatesError(t *testing.T) {
	w := newContextWindow()
	for i := 0; i < 8; i++ {
		w.add(HistoryPair{Step: i})
	}
	wantErr := errors.New("boom")
	engine := &fakeSummarizer{err: wantErr}
	if err := w.refresh(context.Background(), engine); !errors.Is(err, wantErr) {
		t.Fatalf("refresh() error = %v, want %v", err, wantErr)
	}
	if w.summary != "" {
		t.Fatalf("summary should be unchanged on error, got %q", w.summary)
	}
}
