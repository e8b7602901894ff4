package bcl

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// Navigate waits for the main document to commit, or fails with a typed
// NETWORK error carrying the observed HTTP status (when any) and an
// errorType drawn from {DNS_FAILURE, HTTP_4XX, HTTP_5XX, TIMEOUT,
// CONNECTION_RESET} (spec.md §4.1 navigate).
func (s *Session) Navigate(ctx context.Context, url string, timeoutMS int64) error {
	timeout := time.Duration(timeoutMS) * time.Millisecond
	runCtx, cancel := s.withTimeout(timeout)
	defer cancel()

	var mainStatus int64
	var mainStatusSeen bool

	listenCtx, stopListen := context.WithCancel(runCtx)
	defer stopListen()
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument {
				mainStatus = resp.Response.Status
				mainStatusSeen = true
			}
		}
	})

	err := chromedp.Run(runCtx,
		page.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fleet.NewNetworkError(fleet.NetTimeout, 0, url, err)
		}
		if mainStatusSeen {
			if et := classifyHTTPStatus(int(mainStatus)); et != "" {
				return fleet.NewNetworkError(et, int(mainStatus), url, err)
			}
		}
		return classifyErr(err, url)
	}

	if mainStatusSeen {
		if et := classifyHTTPStatus(int(mainStatus)); et != "" {
			return fleet.NewNetworkError(et, int(mainStatus), url, nil)
		}
	}
	s.armMutationObserver(runCtx)
	return nil
}
