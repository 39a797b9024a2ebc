package threadgroup

import (
	"context"
	"time"

	"github.com/ChuLiYu/threadpool/internal/tasksource"
	"github.com/ChuLiYu/threadpool/internal/tasktracker"
	"github.com/ChuLiYu/threadpool/internal/worktracker"
)

// workerState mirrors spec.md §3's Worker states.
type workerState int

const (
	workerIdle workerState = iota
	workerRunning
	workerCleaningUp
)

// worker is one goroutine pulling from its ThreadGroup's shared queue.
// Unlike the push/result channels of the teacher's worker_pool.go,
// this worker pulls directly from the shared PriorityQueue under the
// group lock, since the scheduling decision (which source runs next)
// must weigh every worker's state at once rather than round-robin a
// single task channel.
type worker struct {
	group *ThreadGroup
	id    int
	wt    *worktracker.WorkTracker

	// wake is a 1-buffered auto-reset event: WakeUp (anything sending
	// into it) never blocks, and WaitForWork drains at most one signal
	// per wake-up regardless of how many senders raced to deliver one.
	wake    chan struct{}
	reclaim chan struct{}
	done    chan struct{}

	state        workerState
	isBestEffort bool

	blockingStartedAt time.Time
	mayBlockActive    bool
	maxTasksBumped    bool
	bestEffortBumped  bool

	currentThreadType ThreadType
}

func newWorker(g *ThreadGroup, id int) *worker {
	wt := worktracker.New()
	wt.SetRunTaskSynchronouslyAllowed(true)
	return &worker{
		group:   g,
		id:      id,
		wt:      wt,
		wake:    make(chan struct{}, 1),
		reclaim: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// tryReclaimLocked asks the worker to exit if it is currently idle.
// Must be called with group.mu held. Returns whether the signal was
// delivered (the worker is counted as reclaimed from that point on).
func (w *worker) tryReclaimLocked() bool {
	if w.state != workerIdle {
		return false
	}
	select {
	case w.reclaim <- struct{}{}:
		return true
	default:
		return false
	}
}

// mainLoop is the per-worker loop described in spec.md §4.2: OnBeginWork,
// GetWork under the group lock, RunTask, SwapProcessedTask bookkeeping,
// park when idle.
func (w *worker) mainLoop() {
	defer close(w.done)

	for {
		w.wt.OnBeginWork()

		reg, key, ok := w.getWorkLocked()
		if !ok {
			w.wt.OnIdle()
			if w.parkUntilWork() {
				return // joining or reclaimed
			}
			continue
		}

		w.runRegisteredSource(reg, key)
	}
}

// getWorkLocked pops the next admissible source off the group queue,
// marking this worker as running. Returns ok=false if there's nothing
// runnable right now (caller should park).
func (w *worker) getWorkLocked() (tasktracker.RegisteredTaskSource, tasksource.SortKey, bool) {
	g := w.group
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.joining {
		return tasktracker.RegisteredTaskSource{}, tasksource.SortKey{}, false
	}

	for !g.queue.IsEmpty() {
		key := g.queue.PeekSortKey()
		if !g.tracker.CanRunPriority(key.Priority) {
			break
		}
		src := g.queue.PopTaskSource()
		src.DidBecomeRunning()

		w.state = workerRunning
		w.isBestEffort = key.Priority == tasksource.BestEffort
		g.numRunningTasks++
		if w.isBestEffort {
			g.numRunningBestEffort++
		}

		// A JobTaskSource below its concurrency bound still has room
		// for another worker even with this one now dispatched; leave
		// it queued, re-keyed, so a second worker can be dispatched to
		// it concurrently instead of waiting for this invocation to
		// return. A Sequence's CanAcceptWorker is always false once
		// running, so FIFO sources are never re-queued here — they
		// only come back via runRegisteredSource once this run ends.
		if src.CanAcceptWorker() {
			g.queue.Push(src, src.SortKey())
			g.ensureEnoughWorkersLocked()
		}

		g.refreshMinAllowedSortKeyLocked()

		return g.tracker.Reacquire(src), key, true
	}
	return tasktracker.RegisteredTaskSource{}, tasksource.SortKey{}, false
}

func (w *worker) undoRunningLocked() {
	g := w.group
	g.numRunningTasks--
	if w.isBestEffort {
		g.numRunningBestEffort--
	}
	w.state = workerIdle
}

// runRegisteredSource runs exactly one task out of reg's source, then
// performs the SwapProcessedTask bookkeeping: re-enqueue if the source
// still has work, update running counters.
func (w *worker) runRegisteredSource(reg tasktracker.RegisteredTaskSource, key tasksource.SortKey) {
	g := w.group
	source := reg.Source()

	w.applyDesiredThreadType(source.Traits())
	ctx := withBlockingObserver(context.Background(), w)
	again := g.tracker.RunAndPopNextTask(ctx, reg)

	source.DidStopRunning()

	g.mu.Lock()
	w.undoRunningLocked()
	if w.maxTasksBumped {
		g.maxTasks--
		w.maxTasksBumped = false
	}
	if w.bestEffortBumped {
		g.maxBestEffortTasks--
		w.bestEffortBumped = false
	}

	if again.Valid() {
		newKey := source.SortKey()
		// A JobTaskSource with room for concurrent workers may already
		// have been re-queued by another worker's getWorkLocked while
		// this invocation was still running (see getWorkLocked); Push
		// would panic on the duplicate, so update its key in place
		// instead of re-adding it.
		if g.queue.Contains(source) {
			g.queue.UpdateSortKey(source, newKey)
		} else {
			g.queue.Push(source, newKey)
		}
		g.ensureEnoughWorkersLocked()
	}
	g.refreshMinAllowedSortKeyLocked()
	g.mu.Unlock()
}

// parkUntilWork waits for a wake-up (new work, policy change, join,
// reclaim) or the group's reclaim timeout. Returns true if the worker
// must exit. A wake-up that turns out to have nothing runnable behind
// it is an unnecessary wakeup — the loop in mainLoop simply calls
// getWorkLocked again and parks once more if still empty.
func (w *worker) parkUntilWork() bool {
	g := w.group

	select {
	case <-w.reclaim:
		return true
	case <-w.wake:
	case <-time.After(reclaimPollInterval(g)):
	}

	g.mu.Lock()
	joining := g.joining
	g.mu.Unlock()
	return joining
}

func reclaimPollInterval(g *ThreadGroup) time.Duration {
	if g.cfg.SuggestedReclaimTime > 0 {
		return g.cfg.SuggestedReclaimTime
	}
	return time.Hour
}
