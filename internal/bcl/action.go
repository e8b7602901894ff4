package bcl

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"

	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// settleQuiescence is the bounded idle window execute_action waits for
// after dispatching input when neither a navigation nor a DOM mutation is
// observed directly.
const settleQuiescence = 250 * time.Millisecond

// ExecStatus is the outcome of execute_action (spec.md §4.1).
type ExecStatus string

const (
	ExecActed  ExecStatus = "acted"
	ExecDone   ExecStatus = "done"
	ExecFailed ExecStatus = "failed"
)

// MutationSummary reports what changed in the DOM after an action, used by
// PAL to decide whether progress was made (spec.md §3 Step Record).
type MutationSummary struct {
	AddedRemoved            int
	InteractiveRoleMutations int
	ChildList                bool
	Attribute                bool
}

// ExecResult is the result of execute_action.
type ExecResult struct {
	Status                       ExecStatus
	CurrentURL                   string
	NavigationObserved           bool
	DOMMutationObserved          bool
	SignificantDOMMutationObserved bool
	Mutation                     MutationSummary
	ExtractedData                interface{}
	Message                      string
}

// ExecuteAction dispatches one fleet.ActionDecision and settles by
// awaiting either a committed navigation, a significant DOM mutation, or
// a bounded quiescence window (spec.md §4.1 execute_action).
func (s *Session) ExecuteAction(ctx context.Context, decision fleet.ActionDecision, settleTimeoutMS int64) (*ExecResult, error) {
	settleTimeout := time.Duration(settleTimeoutMS) * time.Millisecond
	if settleTimeout <= 0 {
		settleTimeout = 2 * time.Second
	}

	switch decision.Action {
	case fleet.ActionDone:
		return &ExecResult{Status: ExecDone, Message: decision.Text}, nil
	case fleet.ActionFailed:
		return &ExecResult{Status: ExecFailed, Message: decision.Text}, nil
	case fleet.ActionExtract:
		return s.execExtract(ctx, decision)
	}

	mutationCh := s.observeMutations(ctx)
	navCh := s.observeNavigation(ctx)

	var execErr error
	switch decision.Action {
	case fleet.ActionClick:
		execErr = s.execClick(ctx, decision)
	case fleet.ActionTypeText:
		execErr = s.execType(ctx, decision)
	case fleet.ActionPressKey:
		execErr = s.execPressKey(ctx, decision)
	case fleet.ActionScroll:
		execErr = s.execScroll(ctx, decision)
	case fleet.ActionWait:
		execErr = s.execWait(ctx, decision)
	default:
		return nil, &fleet.Error{Type: fleet.ErrRuntime, Message: fmt.Sprintf("bcl: unknown action %q", decision.Action)}
	}
	if execErr != nil {
		return nil, s.classifyErr(execErr)
	}

	navigated, mutation := s.settle(ctx, navCh, mutationCh, settleTimeout)

	url, _ := s.GetCurrentURL(ctx)
	significant := mutation.AddedRemoved > 3 || mutation.InteractiveRoleMutations > 0

	return &ExecResult{
		Status:                       ExecActed,
		CurrentURL:                   url,
		NavigationObserved:           navigated,
		DOMMutationObserved:          mutation.AddedRemoved > 0 || mutation.ChildList || mutation.Attribute,
		SignificantDOMMutationObserved: significant,
		Mutation:                     mutation,
	}, nil
}

func (s *Session) execClick(ctx context.Context, d fleet.ActionDecision) error {
	if d.Target == nil {
		return &fleet.Error{Type: fleet.ErrRuntime, Message: "bcl: CLICK requires a target"}
	}
	return chromedp.Run(s.taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		x, y := d.Target.X, d.Target.Y
		if err := input.DispatchMouseEvent(input.MousePressed, x, y).WithButton(input.Left).WithClickCount(1).Do(ctx); err != nil {
			return err
		}
		return input.DispatchMouseEvent(input.MouseReleased, x, y).WithButton(input.Left).WithClickCount(1).Do(ctx)
	}))
}

func (s *Session) execType(ctx context.Context, d fleet.ActionDecision) error {
	if d.Text == "" {
		return &fleet.Error{Type: fleet.ErrRuntime, Message: "bcl: TYPE requires text"}
	}
	return chromedp.Run(s.taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.InsertText(d.Text).Do(ctx)
	}))
}

func (s *Session) execPressKey(ctx context.Context, d fleet.ActionDecision) error {
	if d.Key == "" {
		return &fleet.Error{Type: fleet.ErrRuntime, Message: "bcl: PRESS_KEY requires a key"}
	}
	return chromedp.Run(s.taskCtx, chromedp.KeyEvent(d.Key))
}

func (s *Session) execScroll(ctx context.Context, d fleet.ActionDecision) error {
	pixels, err := strconv.Atoi(strings.TrimSpace(d.Text))
	if err != nil {
		pixels = 600
	}
	return chromedp.Run(s.taskCtx, chromedp.Evaluate(
		fmt.Sprintf("window.scrollBy(0, %d)", pixels), nil,
	))
}

func (s *Session) execWait(ctx context.Context, d fleet.ActionDecision) error {
	ms, err := strconv.Atoi(strings.TrimSpace(d.Text))
	if err != nil || ms <= 0 {
		ms = 500
	}
	const maxWaitMS = 10000
	if ms > maxWaitMS {
		ms = maxWaitMS
	}
	return chromedp.Run(s.taskCtx, chromedp.Sleep(time.Duration(ms)*time.Millisecond))
}

// execExtract evaluates a bounded in-page expression and returns its value
// as ExtractedData. It never navigates: the expression runs via
// Runtime.evaluate without any page-load semantics attached.
func (s *Session) execExtract(ctx context.Context, d fleet.ActionDecision) (*ExecResult, error) {
	var result interface{}
	if err := chromedp.Run(s.taskCtx, chromedp.Evaluate(d.Text, &result)); err != nil {
		return nil, s.classifyErr(err)
	}
	url, _ := s.GetCurrentURL(ctx)
	return &ExecResult{Status: ExecActed, CurrentURL: url, ExtractedData: result}, nil
}

// mutationObserverInstallScript installs a page-global MutationObserver
// the first time it runs on a given document (guarded by
// window.__ghostMutationState so re-running it across calls is a no-op).
// It tallies added/removed nodes, interactive-role node touches, and
// whether any childList/attribute mutation was seen, in a form
// readMutationTallyScript drains and resets per settle window.
const mutationObserverInstallScript = `(function() {
	if (window.__ghostMutationState) { return; }
	window.__ghostMutationState = { addedRemoved: 0, interactive: 0, childList: false, attribute: false };
	var interactiveRoles = {
		button: 1, link: 1, textbox: 1, searchbox: 1, combobox: 1, checkbox: 1,
		radio: 1, menuitem: 1, tab: 1, spinbutton: 1, slider: 1, switch: 1
	};
	function isInteractive(node) {
		return node && node.nodeType === 1 && node.getAttribute &&
			interactiveRoles[node.getAttribute('role')];
	}
	var observer = new MutationObserver(function(mutations) {
		var st = window.__ghostMutationState;
		for (var i = 0; i < mutations.length; i++) {
			var m = mutations[i];
			if (m.type === 'childList') {
				st.childList = true;
				st.addedRemoved += m.addedNodes.length + m.removedNodes.length;
				for (var a = 0; a < m.addedNodes.length; a++) {
					if (isInteractive(m.addedNodes[a])) { st.interactive++; }
				}
				for (var r = 0; r < m.removedNodes.length; r++) {
					if (isInteractive(m.removedNodes[r])) { st.interactive++; }
				}
			} else if (m.type === 'attributes') {
				st.attribute = true;
				if (m.attributeName === 'role' && isInteractive(m.target)) { st.interactive++; }
			}
		}
	});
	observer.observe(document.documentElement, { childList: true, subtree: true, attributes: true });
	window.__ghostMutationObserver = observer;
})()`

// readMutationTallyScript reads the accumulated tally since the last read
// and resets it to zero, so each settle window reports only its own
// mutations.
const readMutationTallyScript = `(function() {
	var st = window.__ghostMutationState || { addedRemoved: 0, interactive: 0, childList: false, attribute: false };
	window.__ghostMutationState = { addedRemoved: 0, interactive: 0, childList: false, attribute: false };
	return st;
})()`

// armMutationObserver installs the page-global MutationObserver if it is
// not already present on the current document. Best-effort: a failed
// injection (e.g. mid-navigation) just means the next settle window sees
// a zero tally rather than failing the caller's action.
func (s *Session) armMutationObserver(ctx context.Context) {
	_ = chromedp.Run(s.taskCtx, chromedp.Evaluate(mutationObserverInstallScript, nil))
}

// observeMutations returns a channel that receives one mutation tally,
// drained and reset from the MutationObserver armed by armMutationObserver,
// per observation window (spec.md §4.1 execute_action settle semantics).
func (s *Session) observeMutations(ctx context.Context) <-chan MutationSummary {
	ch := make(chan MutationSummary, 1)
	s.armMutationObserver(ctx)
	go func() {
		time.Sleep(settleQuiescence)
		var raw struct {
			AddedRemoved int  `json:"addedRemoved"`
			ChildList    bool `json:"childList"`
			Attribute    bool `json:"attribute"`
			Interactive  int  `json:"interactive"`
		}
		_ = chromedp.Run(s.taskCtx, chromedp.Evaluate(readMutationTallyScript, &raw))
		ch <- MutationSummary{
			AddedRemoved:             raw.AddedRemoved,
			InteractiveRoleMutations: raw.Interactive,
			ChildList:                raw.ChildList,
			Attribute:                raw.Attribute,
		}
	}()
	return ch
}

// observeNavigation returns a channel that reports whether a committed
// navigation happened during the settle window.
func (s *Session) observeNavigation(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)
	before, _ := s.GetCurrentURL(ctx)
	go func() {
		time.Sleep(settleQuiescence)
		after, _ := s.GetCurrentURL(ctx)
		ch <- after != "" && after != before
	}()
	return ch
}

func (s *Session) settle(ctx context.Context, navCh <-chan bool, mutationCh <-chan MutationSummary, timeout time.Duration) (bool, MutationSummary) {
	deadline := time.After(timeout)
	var navigated bool
	var mutation MutationSummary
	navDone, mutDone := false, false
	for !navDone || !mutDone {
		select {
		case navigated = <-navCh:
			navDone = true
		case mutation = <-mutationCh:
			mutDone = true
		case <-deadline:
			return navigated, mutation
		case <-ctx.Done():
			return navigated, mutation
		}
	}
	return navigated, mutation
}
