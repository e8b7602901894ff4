package pal

import "context"

// recentPairWindow is the number of most-recent {action, observation
// summary} pairs kept verbatim (spec.md §4.2 Context-window management,
// "recent pairs (most recent K=5)").
const recentPairWindow = 5

// contextWindow accumulates one task's step history and produces the
// recent-pairs-plus-summary view the decision engine is given each step.
type contextWindow struct {
	pairs               []HistoryPair
	summary             string
	summaryRefreshCount int
}

func newContextWindow() *contextWindow {
	return &contextWindow{}
}

func (w *contextWindow) add(pair HistoryPair) {
	w.pairs = append(w.pairs, pair)
}

// recent returns the most recent recentPairWindow pairs, verbatim.
func (w *contextWindow) recent() []HistoryPair {
	if len(w.pairs) <= recentPairWindow {
		return w.pairs
	}
	return w.pairs[len(w.pairs)-recentPairWindow:]
}

// summarizedCount is the count of pairs older than the recent window,
// matching spec.md's `max(step-1-5, 0)` invariant when one pair is
// appended per completed step.
func (w *contextWindow) summarizedCount() int {
	if len(w.pairs) <= recentPairWindow {
		return 0
	}
	return len(w.pairs) - recentPairWindow
}

func (w *contextWindow) summaryIncluded() bool {
	return w.summarizedCount() > 0
}

// refresh asks the engine to re-summarize the pairs outside the recent
// window whenever that set has grown, bumping summaryRefreshCount.
func (w *contextWindow) refresh(ctx context.Context, engine DecisionEngine) error {
	if !w.summaryIncluded() {
		return nil
	}
	older := w.pairs[:len(w.pairs)-recentPairWindow]
	s, err := engine.Summarize(ctx, older, w.summary)
	if err != nil {
		return err
	}
	w.summary = s
	w.summaryRefreshCount++
	return nil
}
