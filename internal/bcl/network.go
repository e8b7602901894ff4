package bcl

import (
	"context"
	"time"

	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// NetworkConnection summarizes one request/response pair observed during a
// trace window (spec.md §4.1 trace_network_connections).
type NetworkConnection struct {
	URL          string
	Method       string
	ResourceType string
	Status       int64
	Failed       bool
	ErrorText    string
}

// TraceNetworkConnections runs fn while recording every request/response
// pair the session observes, plus a trailing settle window so responses
// to requests fn triggered near its return are still captured.
func (s *Session) TraceNetworkConnections(ctx context.Context, fn func(context.Context) error) ([]NetworkConnection, error) {
	methods := make(map[cdpnetwork.RequestID]string)
	urls := make(map[cdpnetwork.RequestID]string)
	types := make(map[cdpnetwork.RequestID]string)
	conns := make([]NetworkConnection, 0, 16)

	listenCtx, stopListen := context.WithCancel(s.taskCtx)
	defer stopListen()

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *cdpnetwork.EventRequestWillBeSent:
			methods[e.RequestID] = e.Request.Method
			urls[e.RequestID] = e.Request.URL
			types[e.RequestID] = e.Type.String()
		case *cdpnetwork.EventResponseReceived:
			conns = append(conns, NetworkConnection{
				URL:          urls[e.RequestID],
				Method:       methods[e.RequestID],
				ResourceType: types[e.RequestID],
				Status:       e.Response.Status,
			})
		case *cdpnetwork.EventLoadingFailed:
			conns = append(conns, NetworkConnection{
				URL:          urls[e.RequestID],
				Method:       methods[e.RequestID],
				ResourceType: types[e.RequestID],
				Failed:       true,
				ErrorText:    e.ErrorText,
			})
		}
	})

	if err := fn(ctx); err != nil {
		return conns, err
	}
	time.Sleep(settleQuiescence)
	return conns, nil
}
