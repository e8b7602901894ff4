package gcp

import (
	"context"
	"time"

	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// replenishLoop is the pool's single-flight replenishment coroutine: it
// warms COLD slots until available >= Min, and re-arms whenever a wake
// signal arrives (an acquire took a slot or queued for one, or a slot was
// recycled to COLD), plus on a fixed interval as a backstop; a failed warm
// attempt is retried after a short pause (spec.md §4.3 Replenishment
// loop).
func (p *Pool) replenishLoop(ctx context.Context) {
	ticker := time.NewTicker(p.opts.ReplenishInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			p.replenishOnce(ctx)
		case <-ticker.C:
			p.replenishOnce(ctx)
		}
	}
}

func (p *Pool) replenishOnce(ctx context.Context) {
	for {
		p.mu.Lock()
		if p.closed || len(p.available) >= p.opts.Min {
			p.mu.Unlock()
			return
		}
		coldID := p.pickCold()
		if coldID == "" {
			p.mu.Unlock()
			return
		}
		rec := p.slots[coldID]
		rec.State = fleet.SlotReplenishing
		rec.UpdatedAt = time.Now()
		p.mu.Unlock()

		start := time.Now()
		session, err := p.warm(ctx, coldID)

		p.mu.Lock()
		if err != nil {
			rec.State = fleet.SlotCold
			rec.UpdatedAt = time.Now()
			p.mu.Unlock()
			if p.opts.Logger != nil {
				p.opts.Logger.Error(ctx, "gcp: warm attempt failed", "context_id", coldID, "error", err)
			}
			// Back off briefly before the next attempt so a persistently
			// failing allocator doesn't spin the loop hot.
			select {
			case <-ctx.Done():
				return
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		rec.session = session
		if dispatched := p.dispatchDirectly(coldID); !dispatched {
			rec.State = fleet.SlotAvailable
			p.available = append(p.available, coldID)
		}
		rec.UpdatedAt = time.Now()
		warmDurMS := time.Since(start).Milliseconds()
		p.totalWarmDurMS += warmDurMS
		p.warmDurSamples++
		p.mu.Unlock()
	}
}

// pickCold returns a COLD slot's context id, or "" if none exists.
// Caller holds p.mu.
func (p *Pool) pickCold() string {
	for id, rec := range p.slots {
		if rec.State == fleet.SlotCold {
			return id
		}
	}
	return ""
}

func (p *Pool) warm(ctx context.Context, contextID string) (*bcl.Session, error) {
	if p.opts.Connect == nil {
		return nil, nil
	}
	return p.opts.Connect(ctx, contextID)
}
