// Package tasktracker implements the admission gate and shutdown
// protocol described in spec.md §4.1: the sole arbiter of whether a
// task may be queued and whether a queued task may run. Grounded on
// the state-machine shape of the teacher's internal/jobmanager
// (Pending/InFlight/Completed transitions guarded by a single mutex)
// and on the phase/counter design of
// _examples/original_source/src/base/task/thread_pool/task_tracker.h.
package tasktracker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/threadpool/internal/tasksource"
)

// CanRunPolicy determines which priorities are currently allowed to
// run, driven by fences (see spec.md §4.4).
type CanRunPolicy int

const (
	CanRunAll CanRunPolicy = iota
	CanRunForegroundOnly
	CanRunNone
)

// shutdownPhase is the three-state shutdown machine: NotStarted ->
// InProgress -> Complete. Both transitions are single-shot; calling
// either a second time is a programming error and panics.
type shutdownPhase int32

const (
	shutdownNotStarted shutdownPhase = iota
	shutdownInProgress
	shutdownComplete
)

// TaskTracker is safe for concurrent use by any number of goroutines.
type TaskTracker struct {
	log *slog.Logger

	phase atomic.Int32 // shutdownPhase

	numItemsBlockingShutdown atomic.Int32
	numIncompleteTaskSources atomic.Int32

	canRunPolicy atomic.Int32 // CanRunPolicy

	shutdownMu    sync.Mutex
	shutdownCond  *sync.Cond // signaled whenever numItemsBlockingShutdown reaches 0 post-StartShutdown
	shutdownEvent bool       // set once CompleteShutdown's wait is satisfied and phase flips

	flushMu        sync.Mutex
	flushCond      *sync.Cond
	flushCallbacks []func()
}

// New returns a TaskTracker that admits everything and allows all
// priorities to run.
func New(log *slog.Logger) *TaskTracker {
	if log == nil {
		log = slog.Default()
	}
	t := &TaskTracker{log: log}
	t.shutdownCond = sync.NewCond(&t.shutdownMu)
	t.flushCond = sync.NewCond(&t.flushMu)
	t.canRunPolicy.Store(int32(CanRunAll))
	return t
}

// SetCanRunPolicy updates which priorities CanRunPriority admits. The
// caller is responsible for waking any workers that might now have
// runnable work (spec.md §4.1).
func (t *TaskTracker) SetCanRunPolicy(p CanRunPolicy) {
	t.canRunPolicy.Store(int32(p))
}

// CanRunPriority reports whether a task of the given priority may
// currently begin execution under the active CanRunPolicy.
func (t *TaskTracker) CanRunPriority(p tasksource.Priority) bool {
	switch CanRunPolicy(t.canRunPolicy.Load()) {
	case CanRunAll:
		return true
	case CanRunForegroundOnly:
		return p == tasksource.UserVisible || p == tasksource.UserBlocking
	default:
		return false
	}
}

func (t *TaskTracker) phaseNow() shutdownPhase {
	return shutdownPhase(t.phase.Load())
}

// HasShutdownStarted reports whether StartShutdown has been called.
func (t *TaskTracker) HasShutdownStarted() bool {
	return t.phaseNow() != shutdownNotStarted
}

// ShutdownPhase reports the current phase as an int for metrics
// export: 0=NotStarted, 1=InProgress, 2=Complete.
func (t *TaskTracker) ShutdownPhase() int {
	return int(t.phaseNow())
}

// IsShutdownComplete reports whether CompleteShutdown has finished.
func (t *TaskTracker) IsShutdownComplete() bool {
	return t.phaseNow() == shutdownComplete
}

// WillPostTask admits a task's posting per the behavior/phase table in
// spec.md §4.1. If admitted and behavior is BlockShutdown, it bumps
// numItemsBlockingShutdown atomically as part of the same decision so
// no shutdown sees a task counted twice or not at all.
func (t *TaskTracker) WillPostTask(behavior tasksource.ShutdownBehavior) bool {
	phase := t.phaseNow()
	switch behavior {
	case tasksource.ContinueOnShutdown:
		return true
	case tasksource.SkipOnShutdown:
		return phase == shutdownNotStarted
	case tasksource.BlockShutdown:
		if phase == shutdownComplete {
			return false
		}
		t.numItemsBlockingShutdown.Add(1)
		return true
	default:
		return false
	}
}

// WillPostTaskNow rejects BestEffort work under a best-effort fence or
// kill switch, modeled by the current CanRunPolicy; this is evaluated
// fresh right before queuing, independent of WillPostTask's shutdown
// check.
func (t *TaskTracker) WillPostTaskNow(priority tasksource.Priority) bool {
	if priority == tasksource.BestEffort {
		return CanRunPolicy(t.canRunPolicy.Load()) == CanRunAll
	}
	return true
}

// RegisterTaskSource increments numIncompleteTaskSources and returns a
// RegisteredTaskSource wrapping source. Returns an invalid (empty)
// token if the source's shutdown behavior is no longer admissible.
//
// This is a source-level admission check only: it does not touch
// numItemsBlockingShutdown. That counter is maintained per-task by
// WillPostTask (called once per task, by whatever posts the task into
// a source, before RunAndPopNextTask ever sees it) and released
// per-task by RunAndPopNextTask's afterRunTask — registering or
// re-registering the source itself must not perturb it.
func (t *TaskTracker) RegisterTaskSource(source tasksource.TaskSource, behavior tasksource.ShutdownBehavior) RegisteredTaskSource {
	if !t.admissibleForShutdownPhase(behavior) {
		return RegisteredTaskSource{}
	}
	t.numIncompleteTaskSources.Add(1)
	return RegisteredTaskSource{tracker: t, source: source}
}

func (t *TaskTracker) admissibleForShutdownPhase(behavior tasksource.ShutdownBehavior) bool {
	switch behavior {
	case tasksource.ContinueOnShutdown:
		return true
	case tasksource.SkipOnShutdown:
		return t.phaseNow() == shutdownNotStarted
	case tasksource.BlockShutdown:
		return t.phaseNow() != shutdownComplete
	default:
		return false
	}
}

// Reacquire reconstructs a RegisteredTaskSource for a source that was
// already admitted via RegisterTaskSource and is being handed back in
// by a component (like threadgroup's PriorityQueue) that only stores
// bare TaskSource handles between dequeues. It performs no counting —
// the source is still the same logical registration, just passing
// through a layer that doesn't carry the token type.
func (t *TaskTracker) Reacquire(source tasksource.TaskSource) RegisteredTaskSource {
	return RegisteredTaskSource{tracker: t, source: source}
}

func (t *TaskTracker) unregisterTaskSource(tasksource.TaskSource) {
	t.decrementNumIncompleteTaskSources()
}

func (t *TaskTracker) decrementNumIncompleteTaskSources() {
	if v := t.numIncompleteTaskSources.Add(-1); v == 0 {
		t.flushMu.Lock()
		t.flushCond.Broadcast()
		for _, cb := range t.flushCallbacks {
			go cb()
		}
		t.flushCallbacks = nil
		t.flushMu.Unlock()
	} else if v < 0 {
		panic("tasktracker: numIncompleteTaskSources underflow")
	}
}

// RunAndPopNextTask runs the next task out of reg's underlying source,
// subject to the run gate (shutdown admissibility for the task's
// effective shutdown behavior), then pops it. CanRunPriority is not
// consulted here: callers check it before handing the source in. It
// returns reg again if the source is still non-empty after popping
// (signaling the caller should re-enqueue it), or an empty token
// otherwise.
//
// Per spec.md §4.1 this must route through one of three distinguishable
// stack frames named by shutdown behavior, so that a crash's stack
// trace alone identifies what kind of task was running.
func (t *TaskTracker) RunAndPopNextTask(ctx context.Context, reg RegisteredTaskSource) RegisteredTaskSource {
	if !reg.Valid() {
		panic("tasktracker: RunAndPopNextTask called with an invalid RegisteredTaskSource")
	}
	source := reg.source
	traits := source.Traits()

	task, status, ok := source.TakeTask(nowFunc())
	if !ok {
		return RegisteredTaskSource{}
	}

	if t.beforeRunTask(traits.ShutdownBehavior) {
		t.runTaskWithShutdownBehavior(ctx, task, traits.ShutdownBehavior)
		t.afterRunTask(traits.ShutdownBehavior)
	}

	if status == tasksource.NoMoreTasks {
		t.decrementNumIncompleteTaskSources()
		return RegisteredTaskSource{}
	}
	return reg
}

// beforeRunTask applies the same admit/reject table as
// admissibleForShutdownPhase (spec.md §4.1): ContinueOnShutdown always
// admits, SkipOnShutdown only admits before shutdown has started at
// all, BlockShutdown admits up until shutdown is Complete.
func (t *TaskTracker) beforeRunTask(behavior tasksource.ShutdownBehavior) bool {
	return t.admissibleForShutdownPhase(behavior)
}

func (t *TaskTracker) afterRunTask(behavior tasksource.ShutdownBehavior) {
	if behavior == tasksource.BlockShutdown {
		t.decrementNumItemsBlockingShutdown()
	}
}

func (t *TaskTracker) decrementNumItemsBlockingShutdown() {
	if v := t.numItemsBlockingShutdown.Add(-1); v == 0 {
		t.shutdownMu.Lock()
		t.shutdownCond.Broadcast()
		t.shutdownMu.Unlock()
	} else if v < 0 {
		panic("tasktracker: numItemsBlockingShutdown underflow")
	}
}

// Dummy frames that exist only so a panic's stack trace names the
// shutdown behavior of the task that was running (spec.md §4.1). Each
// wrapper is marked //go:noinline so it keeps its own frame.
func (t *TaskTracker) runTaskWithShutdownBehavior(ctx context.Context, task tasksource.Task, behavior tasksource.ShutdownBehavior) {
	switch behavior {
	case tasksource.ContinueOnShutdown:
		t.runContinueOnShutdown(ctx, task)
	case tasksource.SkipOnShutdown:
		t.runSkipOnShutdown(ctx, task)
	case tasksource.BlockShutdown:
		t.runBlockShutdown(ctx, task)
	}
}

//go:noinline
func (t *TaskTracker) runContinueOnShutdown(ctx context.Context, task tasksource.Task) {
	t.runTask(ctx, task)
}

//go:noinline
func (t *TaskTracker) runSkipOnShutdown(ctx context.Context, task tasksource.Task) {
	t.runTask(ctx, task)
}

//go:noinline
func (t *TaskTracker) runBlockShutdown(ctx context.Context, task tasksource.Task) {
	t.runTask(ctx, task)
}

func (t *TaskTracker) runTask(ctx context.Context, task tasksource.Task) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Error("task panicked", "recovered", r)
		}
	}()
	task.Run(ctx)
}

// StartShutdown flips the shutdown phase to InProgress. Single-shot;
// calling it twice panics.
func (t *TaskTracker) StartShutdown() {
	if !t.phase.CompareAndSwap(int32(shutdownNotStarted), int32(shutdownInProgress)) {
		panic("tasktracker: StartShutdown called more than once")
	}
	t.log.Info("shutdown started")
}

// CompleteShutdown blocks until numItemsBlockingShutdown reaches zero,
// then flips the phase to Complete. StartShutdown must have been
// called first; CompleteShutdown is itself single-shot.
func (t *TaskTracker) CompleteShutdown() {
	if t.phaseNow() == shutdownNotStarted {
		panic("tasktracker: CompleteShutdown called before StartShutdown")
	}
	t.shutdownMu.Lock()
	for t.numItemsBlockingShutdown.Load() > 0 {
		t.shutdownCond.Wait()
	}
	t.shutdownMu.Unlock()

	if !t.phase.CompareAndSwap(int32(shutdownInProgress), int32(shutdownComplete)) {
		panic("tasktracker: CompleteShutdown called more than once")
	}
	t.log.Info("shutdown complete")
}

// FlushForTesting blocks until numIncompleteTaskSources reaches zero,
// or returns immediately if shutdown has already completed.
func (t *TaskTracker) FlushForTesting() {
	if t.IsShutdownComplete() {
		return
	}
	t.flushMu.Lock()
	defer t.flushMu.Unlock()
	for t.numIncompleteTaskSources.Load() > 0 && !t.IsShutdownComplete() {
		t.flushCond.Wait()
	}
}

// FlushAsyncForTesting calls flushCallback (on an arbitrary goroutine)
// once numIncompleteTaskSources reaches zero, or immediately if it is
// already zero or shutdown has completed. Only one call may be
// outstanding at a time.
func (t *TaskTracker) FlushAsyncForTesting(flushCallback func()) {
	if t.numIncompleteTaskSources.Load() == 0 || t.IsShutdownComplete() {
		go flushCallback()
		return
	}
	t.flushMu.Lock()
	defer t.flushMu.Unlock()
	if len(t.flushCallbacks) != 0 {
		panic("tasktracker: only one FlushAsyncForTesting may be outstanding at a time")
	}
	t.flushCallbacks = append(t.flushCallbacks, flushCallback)
}

// HasIncompleteTaskSourcesForTesting reports whether any task sources
// are still queued or running.
func (t *TaskTracker) HasIncompleteTaskSourcesForTesting() bool {
	return t.numIncompleteTaskSources.Load() > 0
}

// nowFunc is overridable by tests needing a fixed clock; production
// code always uses the real wall clock.
var nowFunc = defaultNow
