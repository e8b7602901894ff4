package pal

import (
	"context"

	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// DecisionEngine is the model backend the loop consults for the next
// action. Implementations handle prompting, tier-specific encoding
// choices, and (optionally) task decomposition. Thread safety: a single
// DecisionEngine is shared across concurrently running tasks, so
// implementations must be safe for concurrent use, the same contract
// internal/agent.LLMProvider places on its Complete method.
type DecisionEngine interface {
	// Decide returns the next action for one perceive/infer/act step.
	Decide(ctx context.Context, req DecisionRequest) (*DecisionResponse, error)

	// Summarize compresses older context-window pairs into a compact
	// text block when the recent-pair window overflows.
	Summarize(ctx context.Context, pairs []HistoryPair, priorSummary string) (string, error)
}

// HistoryPair is one past step's action/observation summary, used to
// build context-window history (spec.md §4.2 Context-window management).
type HistoryPair struct {
	Step        int
	Action      fleet.ActionSummary
	Observation fleet.ObservationSummary
}

// DecisionRequest is everything the decision engine needs to produce one
// ActionDecision.
type DecisionRequest struct {
	Intent   string
	StartURL string

	Tier             fleet.Tier
	DecisionMode     fleet.DecisionMode
	EscalationReason fleet.EscalationReason

	// Observation carries the Tier 1 encoded AX index/tree. Nil for a
	// navigation-error request (routed without perception per spec.md
	// §4.2 Structured error routing).
	Observation *fleet.Observation
	// EncodedTree is the token-efficient columnar encoding of Observation's
	// interactive index, used verbatim in Tier 1/Tier 2 prompts.
	EncodedTree string

	// Diversify is set when the anti-repeat router bypassed the decision
	// cache because the last decision shared a fingerprint with a
	// no-progress streak; the engine must not repeat that fingerprint.
	Diversify        bool
	NoProgressStreak int
	RecentFingerprints []fleet.Fingerprint

	RecentPairs     []HistoryPair
	SummarizedCount int
	Summary         string

	// StructuredErr is populated instead of Observation when this step is
	// routing a navigation failure to the engine.
	StructuredErr *StructuredError

	// Decomposition is the current subtask state, if any, so the engine
	// can propose a redecomposition or mark a subtask complete.
	Decomposition *Decomposition
}

// DecisionResponse is the engine's answer to one DecisionRequest.
type DecisionResponse struct {
	Decision fleet.ActionDecision

	// Decomposition is non-nil when the engine is introducing or revising
	// a subtask plan for a complex, multi-phase intent.
	Decomposition *Decomposition
}
