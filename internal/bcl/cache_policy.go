package bcl

import (
	"context"
	"time"

	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// CacheMode selects how HTTP caching behaves for a session's requests
// (spec.md §4.1 set_http_cache_policy).
type CacheMode string

const (
	// CacheRespectHeaders leaves browser cache semantics untouched.
	CacheRespectHeaders CacheMode = "RESPECT_HEADERS"
	// CacheForceRefresh disables the HTTP cache entirely, as if every
	// request were a hard reload.
	CacheForceRefresh CacheMode = "FORCE_REFRESH"
	// CacheOverrideTTL keeps the cache enabled but is noted for the
	// scheduler's prefetch bookkeeping; Chrome has no native per-session TTL
	// override, so this mode is honored at the Prefetch call site instead.
	CacheOverrideTTL CacheMode = "OVERRIDE_TTL"
)

// CachePolicy is the session's current HTTP caching configuration.
type CachePolicy struct {
	Mode CacheMode
	TTL  time.Duration
}

// SetHTTPCachePolicy updates how this session's requests interact with
// the browser's HTTP cache.
func (s *Session) SetHTTPCachePolicy(ctx context.Context, policy CachePolicy) error {
	s.mu.Lock()
	s.cachePolicy = policy
	s.mu.Unlock()

	disable := policy.Mode == CacheForceRefresh
	if err := chromedp.Run(s.taskCtx, cdpnetwork.SetCacheDisabled(disable)); err != nil {
		return s.classifyErr(err)
	}
	return nil
}

// Prefetch issues a best-effort background navigation-free fetch of url
// so a subsequent navigate_to can be served from cache, honoring
// OVERRIDE_TTL by re-fetching once the policy's TTL has elapsed since the
// last prefetch of that URL (spec.md §4.1 prefetch_resource). Errors are
// swallowed: prefetch is advisory and must never fail the calling step.
func (s *Session) Prefetch(ctx context.Context, url string) {
	s.mu.Lock()
	policy := s.cachePolicy
	s.mu.Unlock()

	if policy.Mode == CacheOverrideTTL {
		if last, ok := s.lastPrefetch(url); ok && time.Since(last) < policy.TTL {
			return
		}
	}

	go func() {
		_ = chromedp.Run(s.taskCtx, chromedp.Evaluate(
			`fetch(`+quoteJS(url)+`, {mode: "no-cors", cache: "force-cache"}).catch(()=>{})`, nil,
		))
		s.markPrefetched(url)
	}()
}

func quoteJS(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '"')
	for _, b := range []byte(s) {
		if b == '"' || b == '\\' {
			out = append(out, '\\')
		}
		out = append(out, b)
	}
	out = append(out, '"')
	return string(out)
}

func (s *Session) lastPrefetch(url string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefetchedAt == nil {
		return time.Time{}, false
	}
	t, ok := s.prefetchedAt[url]
	return t, ok
}

func (s *Session) markPrefetched(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.prefetchedAt == nil {
		s.prefetchedAt = make(map[string]time.Time)
	}
	s.prefetchedAt[url] = time.Now()
}
