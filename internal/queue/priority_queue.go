// Package queue implements the intrusive-style max-heap PriorityQueue
// described in spec.md §3 and §4.2, keyed by a TaskSource's SortKey.
// It is not thread-safe: callers hold the enclosing ThreadGroup's lock
// for every operation (spec.md §5's locking order names the
// ThreadGroup lock as this queue's sole synchronization).
package queue

import (
	"container/heap"

	"github.com/ChuLiYu/threadpool/internal/tasksource"
)

// item pairs a TaskSource with the sort key it was last pushed or
// updated with, plus its current slice index. Go interfaces can't
// carry an intrusive heap handle the way the original C++ TaskSource
// does (spec.md §9); idx is this queue's stand-in, kept current by
// heapContainer.Swap on every sift so Remove/UpdateSortKey stay
// O(log n) instead of a linear scan.
type item struct {
	source tasksource.TaskSource
	key    tasksource.SortKey
	idx    int
}

type heapContainer []*item

func (h heapContainer) Len() int { return len(h) }
func (h heapContainer) Less(i, j int) bool {
	return h[i].key.Less(h[j].key)
}
func (h heapContainer) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}
func (h *heapContainer) Push(x any) {
	it := x.(*item)
	it.idx = len(*h)
	*h = append(*h, it)
}
func (h *heapContainer) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.idx = -1
	*h = old[:n-1]
	return it
}

// PriorityQueue is a max-heap of TaskSources ordered by SortKey. Not
// thread-safe; see the package doc comment.
type PriorityQueue struct {
	container heapContainer
	byID      map[uint64]*item
	perPrio   [3]int // live counts by tasksource.Priority

	flushOnClose bool
}

// New returns an empty PriorityQueue.
func New() *PriorityQueue {
	return &PriorityQueue{byID: make(map[uint64]*item)}
}

// EnableFlushOnCloseForTesting marks the queue to drop all remaining
// sources (without running them) when Close is called, instead of
// leaving them queued. Used in test teardown to break the
// TaskSource -> TaskRunner -> TaskSource reference cycle described in
// spec.md §9; production code never calls Close with sources still
// queued.
func (q *PriorityQueue) EnableFlushOnCloseForTesting() {
	q.flushOnClose = true
}

// Close empties the queue. If EnableFlushOnCloseForTesting was called,
// remaining sources are simply discarded; otherwise Close panics if
// the queue is non-empty, since draining it silently in production
// would hide a leak.
func (q *PriorityQueue) Close() {
	if q.container.Len() == 0 {
		return
	}
	if !q.flushOnClose {
		panic("queue: Close called on non-empty PriorityQueue outside of tests")
	}
	q.container = nil
	q.byID = make(map[uint64]*item)
	q.perPrio = [3]int{}
}

// Push inserts source into the queue at the given sort key. source
// must not already be present.
func (q *PriorityQueue) Push(source tasksource.TaskSource, key tasksource.SortKey) {
	if _, ok := q.byID[source.ID()]; ok {
		panic("queue: task source pushed while already queued")
	}
	it := &item{source: source, key: key}
	heap.Push(&q.container, it)
	q.byID[source.ID()] = it
	q.perPrio[key.Priority]++
}

// IsEmpty reports whether the queue holds no sources.
func (q *PriorityQueue) IsEmpty() bool { return q.container.Len() == 0 }

// Len returns the number of sources currently queued.
func (q *PriorityQueue) Len() int { return q.container.Len() }

// PeekSortKey returns the sort key of the highest-priority source.
// Panics if the queue is empty.
func (q *PriorityQueue) PeekSortKey() tasksource.SortKey {
	return q.container[0].key
}

// PeekTaskSource returns the highest-priority source without removing
// it. Panics if the queue is empty.
func (q *PriorityQueue) PeekTaskSource() tasksource.TaskSource {
	return q.container[0].source
}

// PopTaskSource removes and returns the highest-priority source.
// Panics if the queue is empty.
func (q *PriorityQueue) PopTaskSource() tasksource.TaskSource {
	it := heap.Pop(&q.container).(*item)
	delete(q.byID, it.source.ID())
	q.perPrio[it.key.Priority]--
	return it.source
}

// Contains reports whether source is currently queued. Used to avoid
// double-pushing a JobTaskSource that a concurrent dispatch already
// re-queued while it still had room for another worker (see
// ThreadGroup's getWorkLocked/runRegisteredSource).
func (q *PriorityQueue) Contains(source tasksource.TaskSource) bool {
	_, ok := q.byID[source.ID()]
	return ok
}

// Remove removes source from the queue. Returns false if it wasn't
// queued (a no-op, matching the original's "evaluates to false" token
// return described in spec.md).
func (q *PriorityQueue) Remove(source tasksource.TaskSource) bool {
	it, ok := q.byID[source.ID()]
	if !ok {
		return false
	}
	heap.Remove(&q.container, it.idx)
	delete(q.byID, source.ID())
	q.perPrio[it.key.Priority]--
	return true
}

// UpdateSortKey re-homes source at its new key, re-heapifying as
// necessary. No-op if source is not queued.
func (q *PriorityQueue) UpdateSortKey(source tasksource.TaskSource, key tasksource.SortKey) {
	it, ok := q.byID[source.ID()]
	if !ok {
		return
	}
	oldPrio := it.key.Priority
	it.key = key
	heap.Fix(&q.container, it.idx)
	if oldPrio != key.Priority {
		q.perPrio[oldPrio]--
		q.perPrio[key.Priority]++
	}
}

// NumTaskSourcesWithPriority returns the number of queued sources at
// the given priority.
func (q *PriorityQueue) NumTaskSourcesWithPriority(p tasksource.Priority) int {
	return q.perPrio[p]
}
