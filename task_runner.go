package threadpool

import (
	"context"
	"time"

	"github.com/ChuLiYu/threadpool/internal/tasksource"
)

// TaskRunner posts work created by CreateTaskRunner: every PostTask
// call builds a brand-new single-task Sequence, so two posts through
// the same TaskRunner may run concurrently with one another (the
// Parallel-single-task execution mode).
type TaskRunner struct {
	pool   *ThreadPool
	traits tasksource.Traits
}

func (r *TaskRunner) PostTask(fn func(ctx context.Context)) bool {
	return r.pool.PostDelayedTask(r.traits, fn, 0)
}

func (r *TaskRunner) PostDelayedTask(fn func(ctx context.Context), delay time.Duration) bool {
	return r.pool.PostDelayedTask(r.traits, fn, delay)
}

// SequencedTaskRunner posts work created by CreateSequencedTaskRunner:
// every post runs on the same persistent Sequence, strictly in posting
// order, never concurrently with another post through this runner.
type SequencedTaskRunner struct {
	pool   *ThreadPool
	traits tasksource.Traits
	seq    *tasksource.Sequence
}

func (r *SequencedTaskRunner) PostTask(fn func(ctx context.Context)) bool {
	if !r.pool.tracker.WillPostTask(r.traits.ShutdownBehavior) {
		r.pool.recordRejected()
		return false
	}
	return r.postTask(tasksource.Task{Run: fn, PostedAt: time.Now()})
}

func (r *SequencedTaskRunner) PostDelayedTask(fn func(ctx context.Context), delay time.Duration) bool {
	if delay <= 0 {
		return r.PostTask(fn)
	}
	now := time.Now()
	task := tasksource.Task{Run: fn, PostedAt: now, DelayedRunTime: now.Add(delay)}
	if !r.pool.tracker.WillPostTask(r.traits.ShutdownBehavior) {
		return false
	}
	r.pool.delayManager.AddDelayedTask(task, func(t tasksource.Task) {
		r.postTask(t)
	})
	return true
}

// postTask pushes task onto the persistent sequence. If the sequence
// was empty it must be (re)registered and enqueued with the tracker
// and its thread group, exactly like any other first-push-into-an-
// empty-source transition (see internal/threadgroup's register/
// Reacquire split); a push into an already-queued-or-running sequence
// needs neither. The caller has already admitted task with
// WillPostTask (once per task, at post time); postTask applies only
// the WillPostTaskNow check. Admission and latency instrumentation go
// through the same pool-level instrument/recordPosted/recordRejected
// helpers postImmediateTask uses, so internal/metrics sees every post
// made through this runner, not just TaskRunner's.
func (r *SequencedTaskRunner) postTask(task tasksource.Task) bool {
	if !r.pool.tracker.WillPostTaskNow(r.traits.Priority) {
		r.pool.recordRejected()
		return false
	}
	task.Run = r.pool.instrument(task.PostedAt, task.Run)
	if !r.seq.PushImmediateTask(task) {
		r.pool.recordPosted()
		return true
	}
	ok := r.pool.postSequence(r.seq)
	if ok {
		r.pool.recordPosted()
	} else {
		r.pool.recordRejected()
	}
	return ok
}

// RunsTasksInCurrentSequence always reports false: this runner does not
// track which goroutine is running a task of its Sequence.
func (r *SequencedTaskRunner) RunsTasksInCurrentSequence() bool {
	return false
}

// UpdateableSequencedTaskRunner additionally allows changing priority
// after creation; a priority change may re-home the underlying
// Sequence onto a different ThreadGroup (spec.md §4.2's migration on
// priority change).
type UpdateableSequencedTaskRunner struct {
	SequencedTaskRunner
}

// UpdatePriority changes the runner's priority in place, then asks
// whichever group currently holds the sequence to re-home it: a
// no-op if it's still routed to the same group, a migration under
// both groups' locks (never held at once) if traits now route it
// elsewhere, per ThreadGroup.UpdateSortKey.
func (r *UpdateableSequencedTaskRunner) UpdatePriority(p Priority) {
	oldGroup := r.pool.RouteTraits(r.traits)
	r.seq.UpdatePriority(p)
	r.traits.Priority = p
	oldGroup.UpdateSortKey(r.seq)
}
