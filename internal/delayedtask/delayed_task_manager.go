// Package delayedtask implements the minimal external collaborator
// spec.md names but declines to specify beyond its contract: a
// monotonic clock plus a sink that a delayed task is handed to once
// ripe. It has no opinion on priority or which TaskSource the task
// belongs to — that's entirely up to whatever called AddDelayedTask.
package delayedtask

import (
	"time"

	"github.com/ChuLiYu/threadpool/internal/tasksource"
)

// Manager hands a Task to its sink once DelayedRunTime has elapsed.
// The zero value is usable; there is nothing to Start.
type Manager struct {
	now func() time.Time
}

// New returns a Manager using the real wall clock.
func New() *Manager {
	return &Manager{now: time.Now}
}

// AddDelayedTask arranges for sink(task) to run once task's delay has
// elapsed, on its own goroutine (the ripe-task sink contract makes no
// promise about which goroutine calls it back on). A task whose delay
// has already elapsed is handed to sink immediately, synchronously
// from the caller's own goroutine, matching the original's "ripe tasks
// post now" behavior.
func (m *Manager) AddDelayedTask(task tasksource.Task, sink func(tasksource.Task)) {
	now := time.Now()
	if m.now != nil {
		now = m.now()
	}
	if task.Ready(now) {
		sink(task)
		return
	}
	delay := task.DelayedRunTime.Sub(now)
	time.AfterFunc(delay, func() {
		sink(task)
	})
}
