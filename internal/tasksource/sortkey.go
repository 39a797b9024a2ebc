package tasksource

import "time"

// SortKey is the tuple a PriorityQueue orders task sources by:
// higher priority first, then fewer currently-running workers, then
// earlier ready time. Recomputed on every enqueue and whenever a
// source's traits or running-worker-count change.
type SortKey struct {
	Priority      Priority
	WorkerCount   int
	EarliestReady time.Time
}

// Less reports whether k should be scheduled before other, i.e. k
// belongs closer to the top of the max-heap.
func (k SortKey) Less(other SortKey) bool {
	if k.Priority != other.Priority {
		return k.Priority > other.Priority
	}
	if k.WorkerCount != other.WorkerCount {
		return k.WorkerCount < other.WorkerCount
	}
	return k.EarliestReady.Before(other.EarliestReady)
}

// Max is the sentinel sort key ThreadGroup.ShouldYield resets
// min_allowed_sort_key to after a single yield has been granted: no
// real source should ever compare less than it.
func MaxSortKey() SortKey {
	return SortKey{Priority: UserBlocking, WorkerCount: -1}
}
