package tasktracker

import (
	"github.com/ChuLiYu/threadpool/internal/tasksource"
)

// RegisteredTaskSource wraps a TaskSource that TaskTracker has agreed
// to track. A nil/zero-valued RegisteredTaskSource is falsy in the
// sense that tasksource == nil; holders must check that before using
// it. Modeled on the move-only wrapper described in spec.md §4.1,
// without attempting to enforce move-only semantics in Go — callers
// are expected to treat it as owned by whichever goroutine currently
// holds it, handing it off via Unregister/RunAndPopNextTask.
type RegisteredTaskSource struct {
	tracker *TaskTracker
	source  tasksource.TaskSource
}

// Source returns the wrapped TaskSource, or nil if this token is
// empty (e.g. returned by a failed RegisterTaskSource).
func (r RegisteredTaskSource) Source() tasksource.TaskSource {
	return r.source
}

// Valid reports whether this token wraps a TaskSource.
func (r RegisteredTaskSource) Valid() bool {
	return r.source != nil
}

// Unregister informs the owning TaskTracker that this task source
// will not be reenqueued, releasing it from the incomplete-task-source
// count. Safe to call on an invalid token (no-op).
func (r RegisteredTaskSource) Unregister() {
	if !r.Valid() {
		return
	}
	r.tracker.unregisterTaskSource(r.source)
}
