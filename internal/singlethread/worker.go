package singlethread

import (
	"context"
	"sync"
	"time"

	"github.com/ChuLiYu/threadpool/internal/queue"
	"github.com/ChuLiYu/threadpool/internal/tasksource"
	"github.com/ChuLiYu/threadpool/internal/tasktracker"
)

// worker is one single-thread runner's backing goroutine. Unlike
// internal/threadgroup's worker, it owns its queue outright instead
// of sharing one with siblings — a single-thread worker has no
// siblings to balance load with (spec.md §4.5), so the extra
// PriorityQueue only ever holds the handful of Sequences sharing this
// worker when it's in SHARED mode.
type worker struct {
	name   string
	id     int
	shared bool

	tracker *tasktracker.TaskTracker

	mu    sync.Mutex
	queue *queue.PriorityQueue

	awake   bool
	started bool

	wake    chan struct{}
	done    chan struct{}
	stop    chan struct{}
	stopped bool
}

func newWorker(name string, id int, shared bool, tracker *tasktracker.TaskTracker) *worker {
	return &worker{
		name:    name,
		id:      id,
		shared:  shared,
		tracker: tracker,
		queue:   queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
}

// start launches the worker's goroutine. Safe to call only once.
func (w *worker) start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.mainLoop()
}

func (w *worker) mainLoop() {
	defer close(w.done)
	for {
		reg, ok := w.getWorkLocked()
		if !ok {
			if w.parkUntilWork() {
				return
			}
			continue
		}
		w.runRegisteredSource(reg)
	}
}

// postTaskNow is the single-thread analogue of
// WorkerThreadDelegate::PostTaskNow: register the sequence with the
// tracker if this post is the one that makes it non-empty, gate on
// WillPostTaskNow (best-effort fence), enqueue, and wake if idle.
// Returns false if the tracker refused admission at either stage —
// the caller must treat the task as leaked, never run.
func (w *worker) postTaskNow(seq *tasksource.Sequence, task tasksource.Task, wasEmpty bool) bool {
	var reg tasktracker.RegisteredTaskSource
	if wasEmpty {
		reg = w.tracker.RegisterTaskSource(seq, seq.Traits().ShutdownBehavior)
		if !reg.Valid() {
			return false
		}
	}
	if !w.tracker.WillPostTaskNow(seq.Traits().Priority) {
		if wasEmpty {
			reg.Unregister()
		}
		return false
	}
	if !wasEmpty {
		return true
	}

	w.mu.Lock()
	w.queue.Push(seq, seq.SortKey())
	shouldWake := !w.awake && w.canRunNextLocked()
	if shouldWake {
		w.awake = true
	}
	w.mu.Unlock()

	if shouldWake {
		w.wakeUp()
	}
	return true
}

func (w *worker) canRunNextLocked() bool {
	return !w.queue.IsEmpty() && w.tracker.CanRunPriority(w.queue.PeekSortKey().Priority)
}

func (w *worker) wakeUp() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// didUpdateCanRunPolicy re-evaluates whether this worker can now make
// progress on whatever it's holding, waking it if so.
func (w *worker) didUpdateCanRunPolicy() {
	w.mu.Lock()
	shouldWake := !w.awake && w.canRunNextLocked()
	if shouldWake {
		w.awake = true
	}
	w.mu.Unlock()
	if shouldWake {
		w.wakeUp()
	}
}

func (w *worker) getWorkLocked() (tasktracker.RegisteredTaskSource, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return tasktracker.RegisteredTaskSource{}, false
	}
	if !w.canRunNextLocked() {
		w.awake = false
		return tasktracker.RegisteredTaskSource{}, false
	}
	src := w.queue.PopTaskSource()
	src.DidBecomeRunning()
	return w.tracker.Reacquire(src), true
}

func (w *worker) runRegisteredSource(reg tasktracker.RegisteredTaskSource) {
	source := reg.Source()
	again := w.tracker.RunAndPopNextTask(context.Background(), reg)
	source.DidStopRunning()

	if again.Valid() {
		w.mu.Lock()
		w.queue.Push(source, source.SortKey())
		w.mu.Unlock()
	}
}

// parkUntilWork waits for a wake-up or the stop signal. Returns true
// if the worker must exit.
func (w *worker) parkUntilWork() bool {
	select {
	case <-w.stop:
		return true
	case <-w.wake:
		return false
	case <-time.After(time.Hour):
		return false
	}
}

// cleanup signals the worker to exit after draining nothing further —
// used by JoinForTesting and UnregisterWorker (a dedicated runner's
// last reference dropping).
func (w *worker) cleanup() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	w.mu.Unlock()
	close(w.stop)
}
