package gcp

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brennhill/ghost-fleet/internal/bcl"
	"github.com/brennhill/ghost-fleet/pkg/fleet"
)

func newTestPool(t *testing.T, min, max int) *Pool {
	t.Helper()
	p := New(Options{
		Min:               min,
		Max:               max,
		ReplenishInterval: 20 * time.Millisecond,
		AcquireTimeout:    2 * time.Second,
		Connect:           func(ctx context.Context, contextID string) (*bcl.Session, error) { return nil, nil },
	})
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return p
}

func TestAcquireWarmAssignment(t *testing.T) {
	p := newTestPool(t, 2, 2)
	defer p.Shutdown()

	lease, err := p.Acquire(context.Background(), "task-1", fleet.PriorityForeground)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if lease.ContextID == "" {
		t.Fatal("expected a non-empty context id")
	}

	snap := p.Snapshot()
	if snap.InUse != 1 {
		t.Fatalf("got InUse = %d, want 1", snap.InUse)
	}
}

// TestSnapshotCountersConsistent locks in spec.md §8's pool invariant:
// cold + replenishing + available + in_use == total, at every point in
// the slot lifecycle this test drives the pool through.
func TestSnapshotCountersConsistent(t *testing.T) {
	p := newTestPool(t, 2, 3)
	defer p.Shutdown()

	assertConsistent := func(t *testing.T) fleet.PoolSnapshot {
		t.Helper()
		snap := p.Snapshot()
		if got, want := snap.Cold+snap.Replenishing+snap.Available+snap.InUse, snap.Total; got != want {
			t.Fatalf("cold+replenishing+available+in_use = %d, want total = %d (snapshot %+v)", got, want, snap)
		}
		if len(snap.SlotStates) != snap.Total {
			t.Fatalf("len(SlotStates) = %d, want Total = %d", len(snap.SlotStates), snap.Total)
		}
		return snap
	}

	assertConsistent(t)

	lease, err := p.Acquire(context.Background(), "task-1", fleet.PriorityForeground)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	assertConsistent(t)

	p.Release(context.Background(), lease)
	assertConsistent(t)
}

func TestReleaseReturnsSlotToAvailable(t *testing.T) {
	p := newTestPool(t, 1, 1)
	defer p.Shutdown()

	lease, err := p.Acquire(context.Background(), "task-1", fleet.PriorityForeground)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	p.Release(context.Background(), lease)

	if got := p.Snapshot().Available; got != 1 {
		t.Fatalf("got Available = %d, want 1", got)
	}
}

func TestForegroundDequeuesBeforeBackground(t *testing.T) {
	p := newTestPool(t, 1, 1)
	defer p.Shutdown()

	lease, err := p.Acquire(context.Background(), "holder", fleet.PriorityForeground)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	order := make([]string, 0, 2)
	var mu sync.Mutex
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Acquire(context.Background(), "background", fleet.PriorityBackground); err == nil {
			mu.Lock()
			order = append(order, "background")
			mu.Unlock()
		}
	}()
	time.Sleep(20 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := p.Acquire(context.Background(), "foreground", fleet.PriorityForeground); err == nil {
			mu.Lock()
			order = append(order, "foreground")
			mu.Unlock()
		}
	}()
	time.Sleep(20 * time.Millisecond)

	p.Release(context.Background(), lease)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 1 || order[0] != "foreground" {
		t.Fatalf("expected foreground to dequeue first, got %v", order)
	}
}

func TestShutdownRejectsQueuedWaiters(t *testing.T) {
	p := newTestPool(t, 1, 1)

	lease, err := p.Acquire(context.Background(), "holder", fleet.PriorityForeground)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	_ = lease

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background(), "waiter", fleet.PriorityBackground)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)

	p.Shutdown()

	if err := <-errCh; err == nil {
		t.Fatal("expected shutdown to reject queued acquire, got nil error")
	}
}
