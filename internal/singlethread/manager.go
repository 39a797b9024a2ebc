// Package singlethread implements PooledSingleThreadTaskRunnerManager
// (spec.md §4.5): dedicated and shared single-thread task runners that
// share the pool's TaskTracker gate but otherwise run independently of
// ThreadGroup, each serving its own per-worker PriorityQueue instead of
// a group-wide one. Grounded on the teacher's internal/worker package
// for the goroutine-per-worker lifecycle shape (registration, start,
// join) and on
// _examples/original_source/src/base/task/thread_pool/pooled_single_thread_task_runner_manager.cc
// for the dedicated-vs-shared worker matrix.
package singlethread

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ChuLiYu/threadpool/internal/delayedtask"
	"github.com/ChuLiYu/threadpool/internal/tasksource"
	"github.com/ChuLiYu/threadpool/internal/tasktracker"
)

// ThreadMode selects whether CreateSingleThreadTaskRunner hands back a
// worker dedicated to this one caller or one shared with every other
// runner requesting the same environment.
type ThreadMode int

const (
	Shared ThreadMode = iota
	Dedicated
)

// Manager owns every single-thread worker it has handed a runner out
// for. The zero value is not usable; construct with New.
type Manager struct {
	tracker      *tasktracker.TaskTracker
	delayManager *delayedtask.Manager

	mu      sync.Mutex
	started bool
	workers []*worker
	shared  [numEnvironments][2]*worker

	nextID int

	// alive mirrors the original's process-global g_manager_is_alive:
	// a TaskRunner handed out by this Manager stops accepting posts
	// once the Manager has been torn down, rather than touching freed
	// state. Unlike the original, this is an instance field (nothing
	// prevents more than one Manager existing, e.g. in parallel tests).
	alive atomic.Bool
}

// New returns an unstarted Manager gated by tracker.
func New(tracker *tasktracker.TaskTracker) *Manager {
	m := &Manager{tracker: tracker, delayManager: delayedtask.New()}
	m.alive.Store(true)
	return m
}

// Start launches every worker created before this call returns, and
// marks the manager so all future CreateSingleThreadTaskRunner-created
// workers start immediately instead of waiting for a later Start.
func (m *Manager) Start() {
	m.mu.Lock()
	m.started = true
	toStart := append([]*worker(nil), m.workers...)
	m.mu.Unlock()

	for _, w := range toStart {
		w.start()
	}
}

// DidUpdateCanRunPolicy re-evaluates every worker against the tracker's
// current CanRunPolicy, waking any that can now make progress.
func (m *Manager) DidUpdateCanRunPolicy() {
	m.mu.Lock()
	workers := append([]*worker(nil), m.workers...)
	m.mu.Unlock()
	for _, w := range workers {
		w.didUpdateCanRunPolicy()
	}
}

// CreateSingleThreadTaskRunner returns a TaskRunner backed by a
// dedicated or shared single-thread worker, per mode.
func (m *Manager) CreateSingleThreadTaskRunner(traits tasksource.Traits, mode ThreadMode) *TaskRunner {
	if mode == Shared && traits.WithSyncPrimitives {
		panic("singlethread: WithSyncPrimitives is forbidden on a Shared SingleThreadTaskRunner; use Dedicated")
	}

	var w *worker
	switch mode {
	case Dedicated:
		w = m.newWorkerLocked("Dedicated")
	case Shared:
		w = m.sharedWorkerFor(traits)
	default:
		panic("singlethread: unknown ThreadMode")
	}

	seq := tasksource.NewSequence(traits)
	return &TaskRunner{manager: m, worker: w, mode: mode, sequence: seq}
}

func (m *Manager) sharedWorkerFor(traits tasksource.Traits) *worker {
	env := environmentForTraits(traits)
	bucket := continueOnShutdownBucket(traits.ShutdownBehavior)

	m.mu.Lock()
	defer m.mu.Unlock()
	if w := m.shared[env][bucket]; w != nil {
		return w
	}
	w := m.newWorkerLockedName(fmt.Sprintf("Shared-env%d-cos%d", env, bucket), true)
	m.shared[env][bucket] = w
	return w
}

// newWorkerLocked creates and registers a dedicated worker, starting
// it immediately if the manager has already started.
func (m *Manager) newWorkerLocked(name string) *worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newWorkerLockedName(name, false)
}

func (m *Manager) newWorkerLockedName(name string, shared bool) *worker {
	id := m.nextID
	m.nextID++
	w := newWorker(name, id, shared, m.tracker)
	m.workers = append(m.workers, w)
	if m.started {
		w.start()
	}
	return w
}

// unregisterWorker drops w from the manager's bookkeeping and signals
// it to exit. Called when a Dedicated runner's last reference drops
// (TaskRunner.Close); shared workers are torn down only by
// JoinForTesting.
func (m *Manager) unregisterWorker(w *worker) {
	m.mu.Lock()
	for i, ww := range m.workers {
		if ww == w {
			m.workers = append(m.workers[:i], m.workers[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	w.cleanup()
}

// JoinForTesting stops every worker (dedicated and shared) and blocks
// until each has exited.
func (m *Manager) JoinForTesting() {
	m.mu.Lock()
	workers := append([]*worker(nil), m.workers...)
	m.workers = nil
	m.shared = [numEnvironments][2]*worker{}
	m.mu.Unlock()

	for _, w := range workers {
		w.cleanup()
	}
	for _, w := range workers {
		<-w.done
	}
}

// Shutdown marks the manager as no longer alive: TaskRunners it
// created will refuse further posts (PostTask returns false) from this
// point on, matching the original's "post-teardown calls return
// failure rather than crash" contract (spec.md §4.5).
func (m *Manager) Shutdown() {
	m.alive.Store(false)
}
