package pts

import "context"

// CancelTaskAndRecycle marks taskID CANCELLED and forces its current
// ghost context back to COLD, which the pool treats the same as a crash
// recycle (spec.md §4.4 cancel_task: "destroys its ghost context, forces
// a pool recycle"). A task already terminal no longer holds contextID, so
// its former context is left alone: contextID is recycled only while the
// pool shows it leased to taskID.
func (s *Scheduler) CancelTaskAndRecycle(ctx context.Context, taskID, contextID string) {
	s.CancelTask(taskID)
	if contextID == "" {
		return
	}
	for _, slot := range s.opts.Pool.Snapshot().SlotStates {
		if slot.ContextID == contextID && slot.LeasedBy == taskID {
			s.opts.Pool.Recycle(contextID)
			return
		}
	}
}
