package pts

import (
	"context"
	"time"

	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/internal/observability"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// ResourceSampler reads a point-in-time CPU%/memory reading for a leased
// ghost context. Production wiring wraps the OS process backing the
// browser target; tests supply a fake that returns canned samples.
type ResourceSampler interface {
	Sample(ctx context.Context, contextID string) (fleet.ResourceSample, error)
}

// startSampler polls opts.Sampler every SampleInterval for the duration
// of one task attempt and kills the tab (closing the BCL session) if
// either CPU% or memory stays over budget for the whole of
// ViolationWindow (spec.md §4.4 Resource-budget enforcement). It returns
// a cancel function the caller must invoke when the attempt finishes.
func (s *Scheduler) startSampler(ctx context.Context, lease fleet.Lease, session *bcl.Session) func() {
	if s.opts.Sampler == nil {
		return func() {}
	}

	sampleCtx, cancel := context.WithCancel(ctx)
	budget := s.opts.ResourceBudget

	go func() {
		ticker := time.NewTicker(budget.SampleInterval)
		defer ticker.Stop()

		var violationSince time.Time
		for {
			select {
			case <-sampleCtx.Done():
				return
			case <-ticker.C:
				sample, err := s.opts.Sampler.Sample(sampleCtx, lease.ContextID)
				if err != nil {
					continue
				}

				over := sample.CPUPercent > budget.MaxCPUPercent || sample.MemoryMB > budget.MaxMemoryMB
				if !over {
					violationSince = time.Time{}
					continue
				}
				if violationSince.IsZero() {
					violationSince = time.Now()
					continue
				}
				if time.Since(violationSince) < budget.ViolationWindow {
					continue
				}

				s.emitEvent(observability.EventTypeBudgetExceeded, lease.TaskID, lease.ContextID)
				if s.opts.Metrics != nil {
					resource := "cpu"
					if sample.MemoryMB > budget.MaxMemoryMB {
						resource = "memory"
					}
					s.opts.Metrics.ResourceBudgetViolations.WithLabelValues(resource).Inc()
				}

				if session != nil {
					_ = session.CloseTarget(sampleCtx)
				}
				s.emitEvent(observability.EventTypeBudgetKilled, lease.TaskID, lease.ContextID)
				if s.opts.Metrics != nil {
					s.opts.Metrics.ResourceBudgetKills.Inc()
				}
				return
			}
		}
	}()

	return cancel
}
