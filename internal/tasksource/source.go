package tasksource

import "time"

// RunStatus reports the outcome of popping a task from a TaskSource for
// execution, used by the queue/thread group layer to decide whether the
// source must be re-enqueued.
type RunStatus int

const (
	// NoMoreTasks means the source is now empty and must not be
	// re-enqueued until new work is posted to it.
	NoMoreTasks RunStatus = iota
	// HasMoreTasks means the source has at least one more ready task
	// and should be re-enqueued (with a refreshed sort key).
	HasMoreTasks
)

// TaskSource is a schedulable unit of work: a Sequence (FIFO, one
// worker at a time) or a JobTaskSource (cooperative-parallel, bounded
// by a concurrency function). It is never copied; implementations are
// always used through a pointer.
type TaskSource interface {
	// ID is a process-unique, stable identifier. The queue uses it in
	// place of an intrusive heap index (see internal/queue).
	ID() uint64

	// Traits returns the source's current traits. Priority may change
	// over time on an updateable source; the other fields are fixed.
	Traits() Traits

	// SortKey returns the key the owning PriorityQueue should order
	// this source by right now.
	SortKey() SortKey

	// CanAcceptWorker reports whether one more worker may currently
	// start running this source: always false for a Sequence already
	// running, true for a JobTaskSource below its concurrency bound.
	CanAcceptWorker() bool

	// DidBecomeRunning/DidStopRunning adjust the running-worker count
	// that feeds SortKey's tie-break, and are called by the
	// ThreadGroup exactly once per worker entering/leaving RunTask.
	DidBecomeRunning()
	DidStopRunning()

	// TakeTask removes and returns the next ready task, along with
	// whether the source has more ready work after the removal. It
	// must only be called while a worker holds this source (i.e.
	// between DidBecomeRunning and DidStopRunning). ok is false if
	// there was no ready task to take.
	TakeTask(now time.Time) (task Task, status RunStatus, ok bool)
}
