package bcl

import (
	"context"

	cdpfetch "github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/chromedp"
)

// InterceptionMode governs which resource types a session blocks at the
// network layer (spec.md §4.1 set_request_interception_mode).
type InterceptionMode string

const (
	// InterceptionVisualRender loads every resource type, matching what a
	// human would see.
	InterceptionVisualRender InterceptionMode = "VISUAL_RENDER"
	// InterceptionAgentFast blocks image, media and font fetches since the
	// perception layer reads the accessibility tree, not pixels, for most
	// steps.
	InterceptionAgentFast InterceptionMode = "AGENT_FAST"
)

var blockedResourceTypes = []cdpfetch.ResourceType{
	cdpfetch.ResourceTypeImage,
	cdpfetch.ResourceTypeMedia,
	cdpfetch.ResourceTypeFont,
}

// SetRequestInterceptionMode arms or disarms blocking of image/media/font
// requests for this session. Switching to VISUAL_RENDER disables
// interception outright; AGENT_FAST installs a Fetch-domain handler that
// fails matching requests.
func (s *Session) SetRequestInterceptionMode(ctx context.Context, mode InterceptionMode) error {
	s.mu.Lock()
	s.interception = mode
	s.mu.Unlock()

	if mode == InterceptionVisualRender {
		return s.disableInterception(ctx)
	}
	return s.enableInterception(ctx)
}

func (s *Session) enableInterception(ctx context.Context) error {
	patterns := make([]*cdpfetch.RequestPattern, 0, len(blockedResourceTypes))
	for _, rt := range blockedResourceTypes {
		patterns = append(patterns, &cdpfetch.RequestPattern{URLPattern: "*", ResourceType: rt})
	}

	if err := chromedp.Run(s.taskCtx, cdpfetch.Enable().WithPatterns(patterns)); err != nil {
		return s.classifyErr(err)
	}

	chromedp.ListenTarget(s.taskCtx, func(ev interface{}) {
		req, ok := ev.(*cdpfetch.EventRequestPaused)
		if !ok {
			return
		}
		go func(requestID cdpfetch.RequestID, rtype cdpfetch.ResourceType) {
			blocked := false
			for _, rt := range blockedResourceTypes {
				if rtype == rt {
					blocked = true
					break
				}
			}
			_ = chromedp.Run(s.taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
				if blocked {
					return cdpfetch.FailRequest(requestID, cdpfetch.ErrorReasonBlockedByClient).Do(ctx)
				}
				return cdpfetch.ContinueRequest(requestID).Do(ctx)
			}))
		}(req.RequestID, req.ResourceType)
	})
	return nil
}

func (s *Session) disableInterception(ctx context.Context) error {
	if err := chromedp.Run(s.taskCtx, cdpfetch.Disable()); err != nil {
		return s.classifyErr(err)
	}
	return nil
}

// WithVisualRenderPass temporarily reinstates VISUAL_RENDER interception
// for the duration of fn, then restores whatever mode was previously
// active. Used when a PAL step must take a vision-tier screenshot while
// the session is otherwise running AGENT_FAST (spec.md §4.2 Tier 2).
func (s *Session) WithVisualRenderPass(ctx context.Context, fn func(context.Context) error) error {
	s.mu.Lock()
	prior := s.interception
	s.visualRenderPassCount++
	s.mu.Unlock()

	if prior != InterceptionVisualRender {
		if err := s.SetRequestInterceptionMode(ctx, InterceptionVisualRender); err != nil {
			return err
		}
		defer s.SetRequestInterceptionMode(ctx, prior)
	}
	return fn(ctx)
}

// VisualRenderPassCount reports how many times WithVisualRenderPass has
// run, for the observability layer's efficiency metrics.
func (s *Session) VisualRenderPassCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visualRenderPassCount
}
