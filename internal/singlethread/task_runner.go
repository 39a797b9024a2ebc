package singlethread

import (
	"context"
	"time"

	"github.com/ChuLiYu/threadpool/internal/tasksource"
)

// TaskRunner is a SingleThreadTaskRunner backed by exactly one
// Sequence running on exactly one worker — dedicated just to this
// runner, or shared with every other runner whose traits land in the
// same environment/shutdown-behavior bucket (spec.md §4.5).
type TaskRunner struct {
	manager  *Manager
	worker   *worker
	mode     ThreadMode
	sequence *tasksource.Sequence

	closed bool
}

// PostTask posts fn to run as soon as this runner's worker is free.
func (r *TaskRunner) PostTask(fn func(ctx context.Context)) bool {
	return r.PostDelayedTask(fn, 0)
}

// PostDelayedTask posts fn to run no earlier than delay from now.
func (r *TaskRunner) PostDelayedTask(fn func(ctx context.Context), delay time.Duration) bool {
	if !r.manager.alive.Load() {
		return false
	}
	behavior := r.sequence.Traits().ShutdownBehavior
	if !r.manager.tracker.WillPostTask(behavior) {
		return false
	}

	now := time.Now()
	task := tasksource.Task{Run: fn, PostedAt: now}
	if delay > 0 {
		task.DelayedRunTime = now.Add(delay)
		r.manager.delayManager.AddDelayedTask(task, func(t tasksource.Task) { r.postNow(t) })
		return true
	}
	return r.postNow(task)
}

func (r *TaskRunner) postNow(task tasksource.Task) bool {
	wasEmpty := r.sequence.PushImmediateTask(task)
	return r.worker.postTaskNow(r.sequence, task, wasEmpty)
}

// RunsTasksInCurrentSequence is left at its zero-cost default: this
// module never pins a goroutine ID to a worker name, since a task's
// Run callback always observes it's on the right worker by construction
// (only this runner's worker ever calls into this Sequence).
func (r *TaskRunner) RunsTasksInCurrentSequence() bool {
	return r.manager.alive.Load()
}

// Close releases this runner's hold on its worker. For a Dedicated
// runner this unregisters and stops the worker (the worker has no
// other owner); for Shared, the worker outlives every runner that was
// ever handed out for its bucket and is only torn down by
// JoinForTesting, so Close is a no-op.
//
// Go has no refcounted-destructor equivalent of the original's
// "last reference to this TaskRunner drops" — callers must call Close
// explicitly once they're done with a Dedicated runner.
func (r *TaskRunner) Close() {
	if r.closed || r.mode != Dedicated {
		r.closed = true
		return
	}
	r.closed = true
	r.manager.unregisterWorker(r.worker)
}
