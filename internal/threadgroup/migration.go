package threadgroup

import "github.com/ChuLiYu/threadpool/internal/tasksource"

// UpdateSortKey recomputes source's sort key and, if its current
// traits now route it to a different ThreadGroup (per tg.router),
// migrates it there; otherwise it is re-heapified in place. Returns
// the group the source now lives in (tg itself, unless migrated). A
// source not currently queued on tg (e.g. it's running, or was never
// here) is left untouched and tg is returned unchanged.
//
// Mirrors spec.md §4.2's "Migration on priority change": removal from
// this group's queue happens under this group's lock, which is
// released before the push into the destination group — the same
// ScopedReenqueueExecutor discipline used by handoff, so the two
// groups' locks are never held at once.
func (tg *ThreadGroup) UpdateSortKey(source tasksource.TaskSource) *ThreadGroup {
	newKey := source.SortKey()

	tg.mu.Lock()

	dest := tg
	if tg.router != nil {
		if routed := tg.router.RouteTraits(source.Traits()); routed != nil && routed != tg {
			dest = routed
		}
	}

	if dest == tg {
		tg.queue.UpdateSortKey(source, newKey)
		tg.refreshMinAllowedSortKeyLocked()
		tg.mu.Unlock()
		return tg
	}

	moved := tg.queue.Remove(source)
	tg.refreshMinAllowedSortKeyLocked()
	tg.mu.Unlock()

	if !moved {
		return tg
	}
	dest.reenqueue(source, newKey)
	return dest
}
