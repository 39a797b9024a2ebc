// Package tasksource defines the unit of schedulable work (Task), the
// traits tag attached to it, and the two TaskSource variants that a
// PriorityQueue and ThreadGroup operate on: Sequence and JobTaskSource.
package tasksource

// Priority determines both scheduling order and, together with a
// CanRunPolicy, whether a task is currently allowed to run.
type Priority int

const (
	BestEffort Priority = iota
	UserVisible
	UserBlocking
)

func (p Priority) String() string {
	switch p {
	case BestEffort:
		return "best_effort"
	case UserVisible:
		return "user_visible"
	case UserBlocking:
		return "user_blocking"
	default:
		return "unknown_priority"
	}
}

// ShutdownBehavior determines whether a task may be posted or run as
// shutdown progresses. See tasktracker.TaskTracker.WillPostTask.
type ShutdownBehavior int

const (
	ContinueOnShutdown ShutdownBehavior = iota
	SkipOnShutdown
	BlockShutdown
)

func (b ShutdownBehavior) String() string {
	switch b {
	case ContinueOnShutdown:
		return "continue_on_shutdown"
	case SkipOnShutdown:
		return "skip_on_shutdown"
	case BlockShutdown:
		return "block_shutdown"
	default:
		return "unknown_shutdown_behavior"
	}
}

// ThreadPolicy constrains which ThreadGroup a source may run on.
type ThreadPolicy int

const (
	PreferBackground ThreadPolicy = iota
	MustUseForeground
)

// Traits is the opaque tag carried by every task source. It is
// immutable except for Priority, which an UpdateableSequencedTaskRunner
// may change (see Sequence.UpdatePriority).
type Traits struct {
	Priority           Priority
	ShutdownBehavior   ShutdownBehavior
	ThreadPolicy       ThreadPolicy
	MayBlock           bool
	WithSyncPrimitives bool
}
