// Package bcl implements the browser control layer: a typed session over a
// single browser target, reached through a remote debugging endpoint and
// matched by its `#ghost-context=<context_id>` URL fragment. One Session
// belongs to exactly one ghost-context pool slot for its lifetime.
package bcl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// ViewportWidth and ViewportHeight are the nominal, fixed per-context
// viewport dimensions (spec.md §4.1 capture_screenshot).
const (
	ViewportWidth  = 1280
	ViewportHeight = 900
)

// Fragment builds the `#ghost-context=<id>` URL fragment marker the host
// uses to match a debugging-protocol target to a pool slot.
func Fragment(contextID string) string {
	return "#ghost-context=" + contextID
}

// Session holds one connection to a browser target. It is not safe to
// share across tasks: a Lease owns exactly one Session for its duration.
type Session struct {
	mu sync.Mutex

	contextID string

	allocCtx    context.Context
	allocCancel context.CancelFunc
	taskCtx     context.Context
	taskCancel  context.CancelFunc

	targetID target.ID
	debugURL string

	interception InterceptionMode
	cachePolicy  CachePolicy

	lastCrash *CrashEvent

	visualRenderPassCount int
	prefetchedAt          map[string]time.Time

	// axBackendIDs maps the last-extracted normalized tree's hashed
	// fleet.AXNode.NodeID to the backend DOM node id it was derived from,
	// so ExtractInteractiveElementIndex can resolve a real bounding box
	// via DOM.getBoxModel (spec.md §4.1 extract_interactive_element_index).
	axBackendIDs map[int64]cdp.BackendNodeID
}

// Options configures how a Session attaches to the remote browser.
type Options struct {
	// DebugURL is the remote debugging endpoint, e.g. "http://localhost:9333".
	DebugURL string
	// ContextID is the stable ghost-context identifier this session must
	// attach to, matched via its `#ghost-context=<id>` URL fragment.
	ContextID string
	// Headful has no effect on the session: Connect attaches to an
	// already-running browser through a remote allocator, so the window
	// mode is whatever that browser was started with.
	Headful bool
}

// Connect dials the remote debugging endpoint, locates the target whose
// URL contains this context's fragment marker, and attaches a chromedp
// context to it. If no matching target exists yet, one is created by
// navigating a fresh target to about:blank#ghost-context=<id>.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	if opts.ContextID == "" {
		return nil, fmt.Errorf("bcl: context id is required")
	}

	allocOpts := []chromedp.ExecAllocatorOption{}
	if opts.Headful {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, opts.DebugURL, chromedp.NoModifyURL)

	fragment := Fragment(opts.ContextID)
	targetID, err := findOrCreateTarget(allocCtx, fragment)
	if err != nil {
		allocCancel()
		return nil, wrapProtocolError(err)
	}

	taskCtx, taskCancel := chromedp.NewContext(allocCtx, chromedp.WithTargetID(targetID))
	if err := chromedp.Run(taskCtx); err != nil {
		taskCancel()
		allocCancel()
		return nil, wrapProtocolError(err)
	}

	s := &Session{
		contextID:    opts.ContextID,
		allocCtx:     allocCtx,
		allocCancel:  allocCancel,
		taskCtx:      taskCtx,
		taskCancel:   taskCancel,
		targetID:     targetID,
		debugURL:     opts.DebugURL,
		interception: InterceptionVisualRender,
		cachePolicy:  CachePolicy{Mode: CacheRespectHeaders},
	}
	s.armCrashListeners()
	return s, nil
}

func findOrCreateTarget(allocCtx context.Context, fragment string) (target.ID, error) {
	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	targets, err := chromedp.Targets(taskCtx)
	if err != nil {
		return "", err
	}
	for _, t := range targets {
		if t.Type == "page" && containsFragment(t.URL, fragment) {
			return t.TargetID, nil
		}
	}

	var newTargetID target.ID
	if err := chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := target.CreateTarget("about:blank" + fragment).Do(ctx)
		if err != nil {
			return err
		}
		newTargetID = id
		return nil
	})); err != nil {
		return "", err
	}
	return newTargetID, nil
}

func containsFragment(url, fragment string) bool {
	for i := 0; i+len(fragment) <= len(url); i++ {
		if url[i:i+len(fragment)] == fragment {
			return true
		}
	}
	return false
}

// ContextID returns the ghost-context this session is attached to.
func (s *Session) ContextID() string { return s.contextID }

// GetCurrentURL returns the target's current top-level URL.
func (s *Session) GetCurrentURL(ctx context.Context) (string, error) {
	var url string
	err := chromedp.Run(s.taskCtx, chromedp.Location(&url))
	if err != nil {
		return "", s.classifyErr(err)
	}
	return url, nil
}

// CloseTarget closes the underlying browser tab/target without tearing
// down the allocator connection.
func (s *Session) CloseTarget(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taskCancel != nil {
		s.taskCancel()
	}
	return nil
}

// Close tears down the session entirely: the target and the allocator
// connection to the remote debugging endpoint.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taskCancel != nil {
		s.taskCancel()
	}
	if s.allocCancel != nil {
		s.allocCancel()
	}
	return nil
}

// withTimeout returns the session's chromedp context with a bounded timeout
// applied, for BCL operations that take an explicit deadline.
func (s *Session) withTimeout(d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(s.taskCtx, d)
}

func (s *Session) classifyErr(err error) error {
	return classifyErr(err, "")
}
