package pal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brennhill/ghost-fleet/internal/cache"
	"github.com/brennhill/ghost-fleet/internal/observability"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// TaskPhase is one state of the per-task state machine (spec.md §4.2
// Task state machine).
type TaskPhase string

const (
	PhaseIdle       TaskPhase = "IDLE"
	PhaseLoading    TaskPhase = "LOADING"
	PhasePerceiving TaskPhase = "PERCEIVING"
	PhaseInferring  TaskPhase = "INFERRING"
	PhaseActing     TaskPhase = "ACTING"
	PhaseComplete   TaskPhase = "COMPLETE"
	PhaseFailed     TaskPhase = "FAILED"
)

// phaseTransitions is the allowed state graph. ACTING->IDLE or any skip
// is illegal per spec.md §4.2.
var phaseTransitions = map[TaskPhase]map[TaskPhase]bool{
	PhaseIdle:       {PhaseLoading: true},
	PhaseLoading:    {PhasePerceiving: true, PhaseFailed: true},
	PhasePerceiving: {PhaseInferring: true, PhaseFailed: true},
	PhaseInferring:  {PhaseActing: true, PhaseFailed: true},
	PhaseActing:     {PhasePerceiving: true, PhaseComplete: true, PhaseFailed: true},
	PhaseComplete:   {PhaseIdle: true},
	PhaseFailed:     {PhaseIdle: true},
}

// Options configures an Engine. A single Engine is shared across every
// concurrently running task the scheduler drives, mirroring gcp.Pool and
// pts.Scheduler: state that is per-task lives on runState, not here.
type Options struct {
	Engine             DecisionEngine
	ObservationCache   *cache.ObservationCache
	Events             observability.EventStore
	Metrics            *observability.Metrics
	Logger             *observability.Logger
	SettleTimeoutMS    int64
	PrefetchSameOrigin bool
}

// Engine drives tasks through the perceive/classify/route/act/analyze/
// terminate algorithm (spec.md §4.2). Each RunTask call keeps its own
// runState, so one Engine can run several tasks at once.
type Engine struct {
	opts Options
}

// New constructs an Engine. A nil ObservationCache is replaced with one
// using the package's default TTL and no size cap.
func New(opts Options) *Engine {
	if opts.ObservationCache == nil {
		opts.ObservationCache = cache.NewObservationCache(60*time.Second, 0)
	}
	if opts.SettleTimeoutMS <= 0 {
		opts.SettleTimeoutMS = 2000
	}
	return &Engine{opts: opts}
}

// runState is one RunTask invocation's mutable state: it never outlives
// the call, so it carries no locking.
type runState struct {
	eng     *Engine
	task    fleet.Task
	session BrowserSession
	lease   fleet.Lease
	attempt int

	phase         TaskPhase
	currentURL    string
	domGeneration int64
	scrollCount   int

	antirepeat *antiRepeatTracker
	window     *contextWindow
	subtasks   *subtaskTracker

	pendingEnterKeys int
	steps            []fleet.StepRecord
}

// RunTaskFunc-compatible signature: a thin closure in the caller's
// wiring layer adapts pts.RunTaskFunc (which only carries task_id,
// input, attempt, lease, session) to this method, which additionally
// needs the task's StartURL and Caps.
//
// RunTask drives task through LOADING -> ... -> COMPLETE|FAILED -> IDLE
// and returns the step history plus, on failure, the terminal error.
func (e *Engine) RunTask(ctx context.Context, task fleet.Task, attempt int, lease fleet.Lease, session BrowserSession) ([]fleet.StepRecord, *fleet.ErrorDetail) {
	task.Caps = task.Caps.WithDefaults()

	r := &runState{
		eng:        e,
		task:       task,
		session:    session,
		lease:      lease,
		attempt:    attempt,
		phase:      PhaseIdle,
		antirepeat: newAntiRepeatTracker(task.Caps.MaxNoProgressSteps),
		window:     newContextWindow(),
		subtasks:   newSubtaskTracker(task.TaskID, e.opts.Events, task.Caps.MaxSubtaskRetries),
	}

	_ = r.transition(PhaseLoading)

	navErr := r.session.Navigate(ctx, task.StartURL, task.Caps.NavigationTimeout.Milliseconds())
	if navErr != nil {
		return r.failNavigation(ctx, navErr)
	}
	r.currentURL = task.StartURL

	forcedReason := fleet.RefetchInitial

	for step := 1; step <= task.Caps.MaxSteps; step++ {
		record, detail, done, nextReason := r.runStep(ctx, step, forcedReason)
		if record != nil {
			r.steps = append(r.steps, *record)
		}
		if done {
			if detail == nil {
				_ = r.transition(PhaseComplete)
			} else {
				_ = r.transition(PhaseFailed)
			}
			_ = r.transition(PhaseIdle)
			return r.steps, detail
		}
		forcedReason = nextReason
	}

	_ = r.transition(PhaseFailed)
	_ = r.transition(PhaseIdle)
	return r.steps, &fleet.ErrorDetail{
		Type:      fleet.ErrRuntime,
		Message:   fmt.Sprintf("max_steps (%d) exceeded", task.Caps.MaxSteps),
		Retryable: false,
		Step:      task.Caps.MaxSteps,
	}
}

// runStep is one full perceive/classify/route/act/analyze iteration
// (spec.md §4.2 Step algorithm). It returns the step's record (nil if
// the task failed before one could be built), a non-nil ErrorDetail iff
// the task has reached a terminal state, whether the task is done, and
// the RefetchReason the next perceive call should force.
func (r *runState) runStep(ctx context.Context, step int, forced fleet.RefetchReason) (*fleet.StepRecord, *fleet.ErrorDetail, bool, fleet.RefetchReason) {
	start := time.Now()
	_ = r.transition(PhasePerceiving)

	obs, refetchReason, cacheHit, err := r.perceive(ctx, forced)
	if err != nil {
		return r.terminalFromError(ctx, fleet.SourcePerception, err, step)
	}

	deficient, axSignals, err := r.classifyDeficient(ctx, len(obs.Index))
	if err != nil {
		deficient = false
	}

	_ = r.transition(PhaseInferring)

	var decision fleet.ActionDecision
	var tier fleet.Tier
	var escalated bool
	var escReason fleet.EscalationReason
	var tiersAttempted []fleet.Tier

	if r.pendingEnterKeys > 0 {
		// Enter-required submit heuristic (spec.md §4.2 step 6): a prior
		// TYPE with no navigation schedules a synthetic Enter press
		// instead of consulting the decision engine.
		decision = fleet.ActionDecision{Action: fleet.ActionPressKey, Key: "Enter", Confidence: 1}
		tier = fleet.Tier1AX
	} else {
		forcedEscalation := forced == fleet.RefetchScrollAction
		var derr error
		decision, tier, escalated, escReason, tiersAttempted, derr = r.decideStep(ctx, obs, deficient, forcedEscalation)
		if derr != nil {
			return r.terminalFromError(ctx, fleet.SourcePerception, derr, step)
		}
	}

	fp := fleet.ComputeFingerprint(decision)
	_ = r.transition(PhaseActing)

	if r.eng.opts.Metrics != nil {
		r.eng.opts.Metrics.TierResolutions.WithLabelValues(strings.ToLower(string(tier))).Inc()
	}

	meta := stepRecordMeta{
		obs:            obs,
		cacheHit:       cacheHit,
		axSignals:      axSignals,
		tiersAttempted: tiersAttempted,
	}

	switch decision.Action {
	case fleet.ActionDone:
		record := r.buildStepRecord(step, tier, refetchReason, decision, fp, escalated, escReason, nil, time.Since(start), meta)
		return &record, nil, true, fleet.RefetchNone
	case fleet.ActionFailed:
		record := r.buildStepRecord(step, tier, refetchReason, decision, fp, escalated, escReason, nil, time.Since(start), meta)
		detail := &fleet.ErrorDetail{Type: fleet.ErrRuntime, Message: decision.Text, Retryable: false, Step: step}
		return &record, detail, true, fleet.RefetchNone
	}

	r.maybePrefetch(ctx, decision, obs)

	execResult, err := r.session.ExecuteAction(ctx, decision, r.eng.opts.SettleTimeoutMS)
	if err != nil {
		return r.terminalFromError(ctx, fleet.SourceAction, err, step)
	}
	if r.eng.opts.Metrics != nil {
		r.eng.opts.Metrics.ActionsExecuted.WithLabelValues(string(decision.Action), "success").Inc()
	}

	progressed := execResult.NavigationObserved || execResult.SignificantDOMMutationObserved
	r.antirepeat.observe(progressed)
	_, forcesFailed := r.antirepeat.recordFingerprint(fp)

	if progressed {
		r.domGeneration++
		r.eng.opts.ObservationCache.Invalidate(r.session.ContextID())
	}
	if u, err := r.session.GetCurrentURL(ctx); err == nil {
		r.currentURL = u
	}
	r.applyEnterHeuristic(decision, execResult.NavigationObserved)

	meta.mutation = &fleet.MutationSummary{
		AddedRemoved:             execResult.Mutation.AddedRemoved,
		InteractiveRoleMutations: execResult.Mutation.InteractiveRoleMutations,
		ChildList:                execResult.Mutation.ChildList,
		Attribute:                execResult.Mutation.Attribute,
	}
	record := r.buildStepRecord(step, tier, refetchReason, decision, fp, escalated, escReason, nil, time.Since(start), meta)
	r.window.add(HistoryPair{
		Step:        step,
		Action:      fleet.ActionSummary{Action: decision.Action, Target: decision.Target, Text: decision.Text, Key: decision.Key, Confidence: decision.Confidence},
		Observation: fleet.ObservationSummary{URL: r.currentURL, Summary: summarizeObservation(obs)},
	})
	_ = r.window.refresh(ctx, r.eng.opts.Engine)

	if forcesFailed {
		detail := &fleet.ErrorDetail{Type: fleet.ErrRuntime, Message: "anti-repeat: fingerprint repeated within no-progress streak", Retryable: false, Step: step}
		return &record, detail, true, fleet.RefetchNone
	}

	next := fleet.RefetchNone
	switch {
	case execResult.NavigationObserved:
		next = fleet.RefetchNavigation
	case decision.Action == fleet.ActionScroll:
		next = fleet.RefetchScrollAction
	case execResult.SignificantDOMMutationObserved:
		next = fleet.RefetchSignificantDOMMutation
	}

	return &record, nil, false, next
}

// applyEnterHeuristic implements spec.md §4.2 step 6's "Enter-required
// submit heuristic": a TYPE not followed by a navigation schedules a
// synthetic PRESS_KEY Enter within the next two steps.
func (r *runState) applyEnterHeuristic(decision fleet.ActionDecision, navigated bool) {
	switch {
	case decision.Action == fleet.ActionTypeText && !navigated:
		r.pendingEnterKeys = 2
	case decision.Action == fleet.ActionPressKey && decision.Key == "Enter":
		r.pendingEnterKeys = 0
	case r.pendingEnterKeys > 0:
		r.pendingEnterKeys--
	}
}

func (r *runState) failNavigation(ctx context.Context, err error) ([]fleet.StepRecord, *fleet.ErrorDetail) {
	fe := asFleetError(err)
	serr := structuredErrorFromFleet(fleet.SourceNavigation, fe)
	routed := r.routeNavigationError(ctx, serr)

	record := fleet.StepRecord{
		Step:       0,
		Decision:   routed.NavigatorDecision,
		Error:      &fleet.ErrorDetail{Type: fe.Type, Status: fe.Status, URL: fe.URL, Message: fe.Error(), Retryable: fe.Retryable},
		DurationMS: 0,
		At:         time.Now(),
	}
	r.steps = append(r.steps, record)

	_ = r.transition(PhaseFailed)
	_ = r.transition(PhaseIdle)

	if routed.NavigatorDecision.Action == fleet.ActionWait {
		return r.steps, &fleet.ErrorDetail{Type: fe.Type, Status: fe.Status, URL: fe.URL, Message: fe.Error(), Retryable: true}
	}
	return r.steps, &fleet.ErrorDetail{Type: fe.Type, Status: fe.Status, URL: fe.URL, Message: fe.Error(), Retryable: fe.Retryable}
}

// terminalFromError reduces a PERCEPTION/ACTION error into a terminal
// step record and ErrorDetail, routing it through the same decision-
// engine path as a navigation failure (spec.md §4.2: every structured
// error carries a source and flows through one routing contract). A
// crash (TargetClosed/RendererCrash) is left retryable so the scheduler
// can reacquire a fresh lease.
func (r *runState) terminalFromError(ctx context.Context, source fleet.ErrorSource, err error, step int) (*fleet.StepRecord, *fleet.ErrorDetail, bool, fleet.RefetchReason) {
	fe := asFleetError(err)
	fe.Retryable = fe.Retryable || fe.IsCrash()
	serr := structuredErrorFromFleet(source, fe)
	routed := r.routeStructuredError(ctx, serr)

	record := fleet.StepRecord{
		Step:       step,
		Decision:   routed.NavigatorDecision,
		Error:      &fleet.ErrorDetail{Type: fe.Type, Status: fe.Status, URL: fe.URL, Message: fe.Error(), Retryable: fe.Retryable, Step: step},
		DurationMS: 0,
		At:         time.Now(),
	}
	detail := &fleet.ErrorDetail{Type: fe.Type, Status: fe.Status, URL: fe.URL, Message: fe.Error(), Retryable: fe.Retryable, Step: step}
	return &record, detail, true, fleet.RefetchNone
}

// stepRecordMeta carries the per-step data buildStepRecord needs beyond
// its scalar arguments, gathered at the call sites in runStep where it
// is naturally available (perception, classification, tier selection).
type stepRecordMeta struct {
	obs            *fleet.Observation
	cacheHit       bool
	axSignals      *fleet.AXDeficiencySignals
	tiersAttempted []fleet.Tier
	mutation       *fleet.MutationSummary
}

// tier2ScreenshotTokenEstimate is a flat per-call token estimate for the
// image payload a Tier 2 vision request adds to its prompt; actual cost
// varies by provider, this is only a rough cost counter (spec.md §3
// Step Record cost counters).
const tier2ScreenshotTokenEstimate = 800

func (r *runState) buildStepRecord(step int, tier fleet.Tier, reason fleet.RefetchReason, decision fleet.ActionDecision, fp fleet.Fingerprint, escalated bool, escReason fleet.EscalationReason, errDetail *fleet.ErrorDetail, dur time.Duration, meta stepRecordMeta) fleet.StepRecord {
	if r.eng.opts.Metrics != nil {
		r.eng.opts.Metrics.StepDuration.WithLabelValues(string(tier)).Observe(dur.Seconds())
	}

	var tier1Tokens, tier2Tokens int
	for _, t := range meta.tiersAttempted {
		switch t {
		case fleet.Tier1AX:
			if meta.obs != nil {
				tier1Tokens = estimatePromptTokens(len(encodeColumnar(meta.obs.Index)))
			}
		case fleet.Tier2Vision:
			if meta.obs != nil {
				tier2Tokens = estimatePromptTokens(meta.obs.IndexCharCount) + tier2ScreenshotTokenEstimate
			}
		}
	}

	return fleet.StepRecord{
		Step:            step,
		Tier:            tier,
		TiersAttempted:  meta.tiersAttempted,
		RefetchReason:   reason,
		Decision:        decision,
		Fingerprint:     fp,
		Escalated:       escalated,
		EscalationCause: escReason,
		AXDeficiency:    meta.axSignals,
		ScrollCount:     r.scrollCount,
		CacheHits:       fleet.CacheHitCounters{Perception: meta.cacheHit},
		Mutation:        meta.mutation,
		ContextWindow: fleet.ContextWindowMetrics{
			RecentPairCount:     len(r.window.recent()),
			SummarizedPairCount: r.window.summarizedCount(),
			SummaryIncluded:     r.window.summaryIncluded(),
			SummaryCharCount:    len(r.window.summary),
			SummaryRefreshCount: r.window.summaryRefreshCount,
			Tier1PromptTokens:   tier1Tokens,
			Tier2PromptTokens:   tier2Tokens,
		},
		Error:      errDetail,
		DurationMS: dur.Milliseconds(),
		At:         time.Now(),
	}
}

func summarizeObservation(obs *fleet.Observation) string {
	if obs == nil {
		return ""
	}
	return fmt.Sprintf("%d interactive elements at %s", len(obs.Index), obs.CurrentURL)
}

func (r *runState) transition(to TaskPhase) error {
	if !phaseTransitions[r.phase][to] {
		return fmt.Errorf("pal: illegal phase transition %s -> %s", r.phase, to)
	}
	from := r.phase
	r.phase = to
	r.emit(observability.EventTypeCustom, "phase_transition", map[string]interface{}{"from": string(from), "to": string(to)})
	return nil
}

func (r *runState) emit(t observability.EventType, name string, data map[string]interface{}) {
	if r.eng.opts.Events == nil {
		return
	}
	_ = r.eng.opts.Events.Record(&observability.Event{
		ID:        uuid.NewString(),
		Type:      t,
		TaskID:    r.task.TaskID,
		ContextID: r.lease.ContextID,
		Name:      name,
		Data:      data,
	})
}
