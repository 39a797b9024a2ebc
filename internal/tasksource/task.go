package tasksource

import (
	"context"
	"sync/atomic"
	"time"
)

// nextSourceID hands out unique, stable identifiers for task sources.
// Used in place of an intrusive heap handle (see internal/queue):
// a Go interface value can't carry an embedded heap index the way the
// original C++ TaskSource does, so the queue keys its index map on
// this ID instead.
var nextSourceID atomic.Uint64

// NewID returns a fresh, process-unique task source identifier.
func NewID() uint64 {
	return nextSourceID.Add(1)
}

// Task is an immutable unit of work. Ownership transfers from caller
// to source to worker to discard on completion; a Task is never
// copied after being handed to a TaskSource.
type Task struct {
	// Run is the work itself. It receives a context that carries the
	// running thread-group worker's blocking observer (used by
	// EnterBlockingCall); the scheduler never cancels it.
	Run func(ctx context.Context)

	// PostedAt records when the task was handed to its source.
	PostedAt time.Time

	// DelayedRunTime is zero for an immediate task. A non-zero value
	// marks the task as not-yet-ready; the delayed-task dispatcher
	// (internal/delayedtask) hands delayed tasks to the sink that pushes
	// them into their Sequence once ripe.
	DelayedRunTime time.Time
}

// Ready reports whether the task's delay, if any, has elapsed as of now.
func (t Task) Ready(now time.Time) bool {
	return t.DelayedRunTime.IsZero() || !t.DelayedRunTime.After(now)
}
