// Package gcp implements the ghost-context pool: a warm pool of isolated
// browser contexts with priority queueing, minimum-available
// replenishment, crash recycling, and lease-based assignment (spec.md
// §4.3).
package gcp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/internal/observability"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

// Connector dials a BCL session for a given ghost-context id. Production
// code supplies bcl.Connect bound to the fleet's remote debugging
// endpoint; tests supply a fake.
type Connector func(ctx context.Context, contextID string) (*bcl.Session, error)

// Options configures a Pool.
type Options struct {
	Min               int
	Max               int
	ReplenishInterval time.Duration
	AcquireTimeout    time.Duration
	Connect           Connector
	Events            observability.EventStore
	Metrics           *observability.Metrics
	Logger            *observability.Logger
}

type slotRecord struct {
	fleet.Slot
	session *bcl.Session
}

type waiter struct {
	taskID    string
	priority  fleet.Priority
	enqueued  time.Time
	resultCh  chan acquireResult
}

type acquireResult struct {
	lease fleet.Lease
	err   error
}

// Pool owns the ghost-context slot records and their acquire queue. Slots
// and queues are only read or changed with mu held, whether from a
// caller's goroutine (Acquire, Release, Recycle, Snapshot, Shutdown) or
// from the replenishment loop.
type Pool struct {
	opts Options

	mu        sync.Mutex
	slots     map[string]*slotRecord
	available []string // FIFO of AVAILABLE context ids

	fgQueue []*waiter
	bgQueue []*waiter

	closed bool
	wake   chan struct{}

	warmAssignments   int64
	queuedAssignments int64
	totalWarmWaitMS   int64
	totalQueueWaitMS  int64
	totalWarmDurMS    int64
	warmDurSamples    int64
}

// New constructs a pool sized per opts but does not warm any slots; call
// Initialize to do that.
func New(opts Options) *Pool {
	if opts.Min <= 0 {
		opts.Min = 2
	}
	if opts.Max <= 0 {
		opts.Max = opts.Min
	}
	if opts.Max < opts.Min {
		opts.Max = opts.Min
	}
	if opts.ReplenishInterval <= 0 {
		opts.ReplenishInterval = 2 * time.Second
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 30 * time.Second
	}
	p := &Pool{
		opts:  opts,
		slots: make(map[string]*slotRecord, opts.Max),
		wake:  make(chan struct{}, 1),
	}
	for i := 0; i < opts.Max; i++ {
		id := uuid.NewString()
		p.slots[id] = &slotRecord{Slot: fleet.Slot{
			ContextID: id,
			State:     fleet.SlotCold,
			Fragment:  bcl.Fragment(id),
			UpdatedAt: time.Now(),
		}}
	}
	return p
}

// Initialize allocates slot records (done in New) and warms Min of them,
// then starts the single-flight replenishment loop.
func (p *Pool) Initialize(ctx context.Context) error {
	go p.replenishLoop(ctx)
	p.kick()

	deadline := time.Now().Add(p.opts.AcquireTimeout)
	for time.Now().Before(deadline) {
		if p.availableCount() >= p.opts.Min {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

func (p *Pool) availableCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// Acquire assigns an available slot immediately, or enqueues the request
// behind the priority queue's FIFO-within-class ordering, with
// foreground requests always dequeued before background (spec.md §4.3
// acquire_ghost_tab).
func (p *Pool) Acquire(ctx context.Context, taskID string, priority fleet.Priority) (fleet.Lease, error) {
	start := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fleet.Lease{}, fmt.Errorf("gcp: pool is shut down")
	}
	if len(p.available) > 0 {
		contextID := p.available[0]
		p.available = p.available[1:]
		rec := p.slots[contextID]
		rec.State = fleet.SlotInUse
		rec.LeasedBy = taskID
		rec.UpdatedAt = time.Now()
		p.warmAssignments++
		p.totalWarmWaitMS += time.Since(start).Milliseconds()
		p.mu.Unlock()
		p.kick()

		p.recordPoolMetric(observability.EventTypePoolDispatch, taskID, contextID, priority, false, time.Since(start))
		return fleet.Lease{
			LeaseID:    uuid.NewString(),
			ContextID:  contextID,
			TaskID:     taskID,
			Priority:   priority,
			AcquiredAt: time.Now(),
		}, nil
	}

	w := &waiter{taskID: taskID, priority: priority, enqueued: time.Now(), resultCh: make(chan acquireResult, 1)}
	if priority == fleet.PriorityForeground {
		p.fgQueue = append(p.fgQueue, w)
	} else {
		p.bgQueue = append(p.bgQueue, w)
	}
	p.mu.Unlock()

	p.recordPoolMetric(observability.EventTypePoolEnqueue, taskID, "", priority, true, 0)
	p.kick()

	acquireCtx, cancel := context.WithTimeout(ctx, p.opts.AcquireTimeout)
	defer cancel()

	select {
	case res := <-w.resultCh:
		if res.err == nil {
			waitMS := time.Since(w.enqueued).Milliseconds()
			p.mu.Lock()
			p.queuedAssignments++
			p.totalQueueWaitMS += waitMS
			p.mu.Unlock()
			p.recordPoolMetric(observability.EventTypePoolDispatch, taskID, res.lease.ContextID, priority, true, time.Since(w.enqueued))
		}
		return res.lease, res.err
	case <-acquireCtx.Done():
		p.removeWaiter(w)
		return fleet.Lease{}, fmt.Errorf("gcp: acquire timed out for task %s: %w", taskID, acquireCtx.Err())
	}
}

func (p *Pool) removeWaiter(target *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fgQueue = removeFromSlice(p.fgQueue, target)
	p.bgQueue = removeFromSlice(p.bgQueue, target)
}

func removeFromSlice(s []*waiter, target *waiter) []*waiter {
	for i, w := range s {
		if w == target {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}

// Release returns a lease's slot to the pool. If the session reports a
// crash, the slot is recycled (closed, reset to COLD, asynchronously
// re-warmed) rather than handed back directly (spec.md §4.3 release).
// Release is idempotent.
func (p *Pool) Release(ctx context.Context, lease fleet.Lease) {
	p.mu.Lock()
	rec, ok := p.slots[lease.ContextID]
	if !ok || rec.State != fleet.SlotInUse {
		p.mu.Unlock()
		p.recordPoolMetric(observability.EventTypePoolRelease, lease.TaskID, lease.ContextID, lease.Priority, false, 0)
		return
	}
	crashed := rec.session != nil && rec.session.GetLastCrashEvent() != nil
	p.mu.Unlock()

	if crashed {
		p.recycle(ctx, lease.ContextID)
	} else {
		p.returnToAvailable(lease.ContextID)
	}
	p.recordPoolMetric(observability.EventTypePoolRelease, lease.TaskID, lease.ContextID, lease.Priority, false, 0)
}

// Recycle forces a slot back to COLD regardless of crash state, used by
// PTS cancellation to destroy a ghost context outright (spec.md §4.4
// cancel_task).
func (p *Pool) Recycle(contextID string) {
	p.recycle(context.Background(), contextID)
}

func (p *Pool) recycle(ctx context.Context, contextID string) {
	p.mu.Lock()
	rec, ok := p.slots[contextID]
	if !ok {
		p.mu.Unlock()
		return
	}
	session := rec.session
	rec.session = nil
	rec.State = fleet.SlotCold
	rec.LeasedBy = ""
	rec.UpdatedAt = time.Now()
	p.mu.Unlock()

	if session != nil {
		_ = session.Close()
	}
	p.kick()
}

func (p *Pool) returnToAvailable(contextID string) {
	p.mu.Lock()
	rec, ok := p.slots[contextID]
	if !ok {
		p.mu.Unlock()
		return
	}
	rec.LeasedBy = ""
	if dispatched := p.dispatchDirectly(contextID); dispatched {
		p.mu.Unlock()
		return
	}
	rec.State = fleet.SlotAvailable
	rec.UpdatedAt = time.Now()
	p.available = append(p.available, contextID)
	p.mu.Unlock()
}

// dispatchDirectly hands contextID straight to the oldest queued waiter,
// foreground before background, without round-tripping through
// AVAILABLE. Caller holds p.mu.
func (p *Pool) dispatchDirectly(contextID string) bool {
	var w *waiter
	if len(p.fgQueue) > 0 {
		w = p.fgQueue[0]
		p.fgQueue = p.fgQueue[1:]
	} else if len(p.bgQueue) > 0 {
		w = p.bgQueue[0]
		p.bgQueue = p.bgQueue[1:]
	} else {
		return false
	}

	rec := p.slots[contextID]
	rec.State = fleet.SlotInUse
	rec.LeasedBy = w.taskID
	rec.UpdatedAt = time.Now()

	w.resultCh <- acquireResult{lease: fleet.Lease{
		LeaseID:    uuid.NewString(),
		ContextID:  contextID,
		TaskID:     w.taskID,
		Priority:   w.priority,
		AcquiredAt: time.Now(),
	}}
	return true
}

// Shutdown rejects all queued requests, closes all sessions, and resets
// slot bookkeeping.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	fgWaiters := p.fgQueue
	bgWaiters := p.bgQueue
	p.fgQueue = nil
	p.bgQueue = nil
	sessions := make([]*bcl.Session, 0, len(p.slots))
	for _, rec := range p.slots {
		if rec.session != nil {
			sessions = append(sessions, rec.session)
			rec.session = nil
		}
		rec.State = fleet.SlotCold
	}
	p.available = nil
	p.mu.Unlock()

	for _, w := range fgWaiters {
		w.resultCh <- acquireResult{err: fmt.Errorf("gcp: pool shut down")}
	}
	for _, w := range bgWaiters {
		w.resultCh <- acquireResult{err: fmt.Errorf("gcp: pool shut down")}
	}
	for _, s := range sessions {
		_ = s.Close()
	}
}

// Snapshot returns a point-in-time read of the pool's slot and queue
// state (spec.md §3 Pool Snapshot).
func (p *Pool) Snapshot() fleet.PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cold, available, inUse, replenishing int
	slotStates := make([]fleet.Slot, 0, len(p.slots))
	for _, rec := range p.slots {
		switch rec.State {
		case fleet.SlotCold:
			cold++
		case fleet.SlotAvailable:
			available++
		case fleet.SlotInUse:
			inUse++
		case fleet.SlotReplenishing:
			replenishing++
		}
		slotStates = append(slotStates, rec.Slot)
	}

	avgWarmWait := 0.0
	if p.warmAssignments > 0 {
		avgWarmWait = float64(p.totalWarmWaitMS) / float64(p.warmAssignments)
	}

	return fleet.PoolSnapshot{
		Min:               p.opts.Min,
		Max:               p.opts.Max,
		Total:             len(p.slots),
		Cold:              cold,
		Replenishing:      replenishing,
		Available:         available,
		InUse:             inUse,
		Queued:            len(p.fgQueue) + len(p.bgQueue),
		SlotStates:        slotStates,
		WarmAssignments:   p.warmAssignments,
		QueuedAssignments: p.queuedAssignments,
		AverageWaitMS:     avgWarmWait,
		TakenAt:           time.Now(),
	}
}

// Session returns the BCL session backing contextID, or nil if the slot
// has no live session (e.g. a test pool with no Connector). PTS uses
// this to hand the session to the caller-supplied task body and to the
// resource-budget sampler.
func (p *Pool) Session(contextID string) *bcl.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.slots[contextID]
	if !ok {
		return nil
	}
	return rec.session
}

func (p *Pool) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) recordPoolMetric(eventType observability.EventType, taskID, contextID string, priority fleet.Priority, queued bool, wait time.Duration) {
	if p.opts.Metrics != nil {
		prio := strings.ToLower(string(priority))
		switch eventType {
		case observability.EventTypePoolEnqueue:
			p.opts.Metrics.PoolQueueDepth.WithLabelValues(prio).Inc()
		case observability.EventTypePoolDispatch:
			path := "warm"
			if queued {
				path = "queued"
				p.opts.Metrics.PoolQueueDepth.WithLabelValues(prio).Dec()
			}
			p.opts.Metrics.PoolAssignments.WithLabelValues(path).Inc()
			if wait > 0 {
				p.opts.Metrics.PoolWaitDuration.WithLabelValues(prio).Observe(wait.Seconds())
			}
		}
	}
	if p.opts.Events != nil {
		_ = p.opts.Events.Record(&observability.Event{
			Type:      eventType,
			TaskID:    taskID,
			ContextID: contextID,
			Data: map[string]interface{}{
				"priority": string(priority),
				"queued":   queued,
			},
		})
	}
}
