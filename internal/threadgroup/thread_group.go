// Package threadgroup implements the worker-pool half of the
// scheduler: a set of goroutine workers served by one shared
// PriorityQueue, with dynamic concurrency adjustment in response to
// blocking calls (spec.md §4.2). Grounded on the teacher's
// internal/worker/worker_pool.go (Pool owning a worker slice plus a
// WaitGroup-joined lifecycle) generalized from a push/pull job queue
// to a priority-ordered task-source queue, and on
// _examples/original_source/src/base/task/thread_pool/thread_group.h
// for the exact counters and adjustment rules.
package threadgroup

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/threadpool/internal/queue"
	"github.com/ChuLiYu/threadpool/internal/tasksource"
	"github.com/ChuLiYu/threadpool/internal/tasktracker"
	"golang.org/x/sync/errgroup"
)

// Router decides, given a task source's current traits, which
// ThreadGroup it should run on. The root package implements this to
// route foreground/background and must-use-foreground traffic to
// separate groups; ThreadGroup itself has no notion of "the other
// group" beyond this interface, consulted only from UpdateSortKey.
type Router interface {
	RouteTraits(traits tasksource.Traits) *ThreadGroup
}

// Config is the write-once configuration captured at Start. Reading
// any field after Start has returned is always safe without holding
// the group lock.
type Config struct {
	MaxTasks             int
	MaxBestEffortTasks   int
	SuggestedReclaimTime time.Duration
	MayBlockThreshold    time.Duration
	MaxNumWorkersCreated int
}

const maxTasksCeiling = 256

// ThreadGroup multiplexes a set of goroutine workers over a shared
// PriorityQueue, per spec.md §4.2. The zero value is not usable;
// construct with New.
//
// Wake-up uses the "waitable-event per worker" variant from spec.md
// §4.2: each worker owns a 1-buffered channel acting as an auto-reset
// event. WakeUp sends a non-blocking signal; a worker that wakes
// without finding runnable work simply goes back to waiting, which
// spec.md explicitly allows ("observable but not an error").
type ThreadGroup struct {
	name string
	log  *slog.Logger

	tracker *tasktracker.TaskTracker
	router  Router

	mu sync.Mutex

	queue   *queue.PriorityQueue
	workers []*worker

	cfg             Config
	started         bool
	shutdownStarted bool
	joining         bool

	maxTasks             int
	maxBestEffortTasks   int
	numRunningTasks      int
	numRunningBestEffort int

	numUnresolvedMayBlock           int
	numUnresolvedBestEffortMayBlock int

	minAllowedSortKey tasksource.SortKey

	reclaimTicker *time.Ticker
	stopReclaim   chan struct{}

	adjustTicker *time.Ticker
	stopAdjust   chan struct{}
}

// New returns a named, unstarted ThreadGroup. tracker gates every task
// run through it; router is consulted on priority-driven migration.
func New(name string, tracker *tasktracker.TaskTracker, router Router, log *slog.Logger) *ThreadGroup {
	if log == nil {
		log = slog.Default()
	}
	return &ThreadGroup{
		name:              name,
		log:               log.With("thread_group", name),
		tracker:           tracker,
		router:            router,
		queue:             queue.New(),
		minAllowedSortKey: tasksource.MaxSortKey(),
	}
}

// Start applies cfg and launches workers lazily up to the level the
// current queue demands. Single-shot.
func (tg *ThreadGroup) Start(cfg Config) {
	tg.mu.Lock()
	if tg.started {
		tg.mu.Unlock()
		panic("threadgroup: Start called more than once")
	}
	tg.started = true
	tg.cfg = cfg
	tg.maxTasks = cfg.MaxTasks
	tg.maxBestEffortTasks = cfg.MaxBestEffortTasks
	tg.ensureEnoughWorkersLocked()
	tg.mu.Unlock()

	if cfg.SuggestedReclaimTime > 0 {
		tg.reclaimTicker = time.NewTicker(cfg.SuggestedReclaimTime)
		tg.stopReclaim = make(chan struct{})
		go tg.reclaimLoop()
	}
	tg.startAdjustMaxTasksLoop()
}

// ensureEnoughWorkersLocked creates new workers up to max_tasks (capped
// by MaxNumWorkersCreated per call) if the queue has more runnable work
// than there are awake workers to serve it. Must be called with tg.mu held.
func (tg *ThreadGroup) ensureEnoughWorkersLocked() {
	desired := tg.numAwakeWorkersRequiredLocked()
	created := 0
	for len(tg.workers) < desired && len(tg.workers) < tg.maxTasks {
		if tg.cfg.MaxNumWorkersCreated > 0 && created >= tg.cfg.MaxNumWorkersCreated {
			break
		}
		w := newWorker(tg, len(tg.workers))
		tg.workers = append(tg.workers, w)
		go w.mainLoop()
		created++
	}
	tg.wakeAllLocked()
}

// numAwakeWorkersRequiredLocked returns how many workers this group
// needs awake to make progress on everything it's currently holding:
// tasks already checked out to a running worker, plus queued sources
// each wanting one more, capped at max_tasks. Must be called with
// tg.mu held.
func (tg *ThreadGroup) numAwakeWorkersRequiredLocked() int {
	total := tg.queue.Len() + tg.numRunningTasks
	if total == 0 {
		return 0
	}
	if total > tg.maxTasks {
		total = tg.maxTasks
	}
	if total < 1 {
		total = 1
	}
	return total
}

// wakeAllLocked signals every worker's wake channel without blocking.
// Must be called with tg.mu held.
func (tg *ThreadGroup) wakeAllLocked() {
	for _, w := range tg.workers {
		select {
		case w.wake <- struct{}{}:
		default:
		}
	}
}

// PushTaskSource registers source with the TaskTracker and, if
// admitted, enqueues it at key and wakes workers as needed. Reports
// whether the source was admitted; a false result means shutdown has
// already progressed past the point where source's shutdown behavior
// is legal, and the caller must not requeue it.
func (tg *ThreadGroup) PushTaskSource(source tasksource.TaskSource, key tasksource.SortKey) bool {
	reg := tg.tracker.RegisterTaskSource(source, source.Traits().ShutdownBehavior)
	if !reg.Valid() {
		return false
	}
	tg.mu.Lock()
	tg.queue.Push(source, key)
	tg.refreshMinAllowedSortKeyLocked()
	tg.ensureEnoughWorkersLocked()
	tg.mu.Unlock()
	return true
}

// reenqueue pushes a source that is already registered (e.g. one this
// group just ran and is putting back because it still has work, or
// one migrating in from another group's handoff) without registering
// it again.
func (tg *ThreadGroup) reenqueue(source tasksource.TaskSource, key tasksource.SortKey) {
	tg.mu.Lock()
	tg.queue.Push(source, key)
	tg.refreshMinAllowedSortKeyLocked()
	tg.ensureEnoughWorkersLocked()
	tg.mu.Unlock()
}

func (tg *ThreadGroup) refreshMinAllowedSortKeyLocked() {
	if tg.queue.IsEmpty() {
		tg.minAllowedSortKey = tasksource.MaxSortKey()
		return
	}
	tg.minAllowedSortKey = tg.queue.PeekSortKey()
}

// ShouldYield reports whether a running task whose source currently
// has sourceKey should yield the worker back to the scheduler: the
// group is over its running-task capacity for that priority and a
// strictly-better source is waiting. A true result is single-shot —
// the tracked minimum resets to the sentinel MaxSortKey, which means
// "no waiting source to yield to", so the same task isn't told to
// yield twice for the same condition.
func (tg *ThreadGroup) ShouldYield(sourceKey tasksource.SortKey) bool {
	tg.mu.Lock()
	defer tg.mu.Unlock()

	overCapacity := tg.numRunningTasks > tg.maxTasks ||
		(sourceKey.Priority == tasksource.BestEffort && tg.numRunningBestEffort > tg.maxBestEffortTasks)
	if !overCapacity {
		return false
	}
	if tg.minAllowedSortKey == tasksource.MaxSortKey() || !tg.minAllowedSortKey.Less(sourceKey) {
		return false
	}
	tg.minAllowedSortKey = tasksource.MaxSortKey()
	return true
}

// Stats returns a point-in-time snapshot of this group's queue depth,
// running-task count, and current max_tasks ceiling, for metrics export.
func (tg *ThreadGroup) Stats() (queued, running, maxTasks int) {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	return tg.queue.Len(), tg.numRunningTasks, tg.maxTasks
}

// Name returns the group's name, as given to New.
func (tg *ThreadGroup) Name() string {
	return tg.name
}

// DidUpdateCanRunPolicy wakes every worker so newly-runnable sources
// (if any) get picked up promptly.
func (tg *ThreadGroup) DidUpdateCanRunPolicy() {
	tg.mu.Lock()
	tg.wakeAllLocked()
	tg.mu.Unlock()
}

// OnShutdownStarted marks the group as draining. Workers re-evaluate
// admissibility via TaskTracker.CanRunPriority/WillPostTask on their
// own; this just wakes everyone so the transition is noticed promptly.
func (tg *ThreadGroup) OnShutdownStarted() {
	tg.mu.Lock()
	tg.shutdownStarted = true
	tg.wakeAllLocked()
	tg.mu.Unlock()
}

// JoinForTesting flips the joining flag, wakes every worker, and
// blocks until each worker's goroutine has exited.
func (tg *ThreadGroup) JoinForTesting() {
	tg.mu.Lock()
	tg.joining = true
	workers := append([]*worker(nil), tg.workers...)
	tg.wakeAllLocked()
	tg.mu.Unlock()

	var g errgroup.Group
	for _, w := range workers {
		w := w
		g.Go(func() error {
			<-w.done
			return nil
		})
	}
	_ = g.Wait()

	if tg.reclaimTicker != nil {
		tg.reclaimTicker.Stop()
		close(tg.stopReclaim)
	}
	if tg.adjustTicker != nil {
		tg.adjustTicker.Stop()
		close(tg.stopAdjust)
	}
}

func (tg *ThreadGroup) reclaimLoop() {
	for {
		select {
		case <-tg.reclaimTicker.C:
			tg.reclaimExcessWorkers()
		case <-tg.stopReclaim:
			return
		}
	}
}

// reclaimExcessWorkers asks idle workers beyond the currently-required
// awake count to exit. A genuinely minimal pool (one persistent
// worker) is never reclaimed.
func (tg *ThreadGroup) reclaimExcessWorkers() {
	tg.mu.Lock()
	defer tg.mu.Unlock()
	required := tg.numAwakeWorkersRequiredLocked()
	if required < 1 {
		required = 1
	}
	alive := len(tg.workers)
	for _, w := range tg.workers {
		if alive <= required {
			break
		}
		if w.tryReclaimLocked() {
			alive--
		}
	}
}

// HandoffAllTaskSourcesToOtherThreadGroup drains every queued source
// (regardless of priority) and pushes each into dest.
func (tg *ThreadGroup) HandoffAllTaskSourcesToOtherThreadGroup(dest *ThreadGroup) {
	tg.handoff(dest, func(tasksource.Priority) bool { return true })
}

// HandoffNonUserBlockingTaskSourcesToOtherThreadGroup drains every
// queued source below UserBlocking priority and pushes it into dest.
func (tg *ThreadGroup) HandoffNonUserBlockingTaskSourcesToOtherThreadGroup(dest *ThreadGroup) {
	tg.handoff(dest, func(p tasksource.Priority) bool { return p != tasksource.UserBlocking })
}

// handoff drains matching sources under tg's lock into a plain slice,
// releases the lock, then pushes each into dest — a
// ScopedReenqueueExecutor in spirit (spec.md §4.2): the push into
// another group's lock never happens while this group's lock is held.
func (tg *ThreadGroup) handoff(dest *ThreadGroup, match func(tasksource.Priority) bool) {
	var reenq []queuedSource

	tg.mu.Lock()
	remaining := queue.New()
	for !tg.queue.IsEmpty() {
		key := tg.queue.PeekSortKey()
		src := tg.queue.PopTaskSource()
		if match(key.Priority) {
			reenq = append(reenq, queuedSource{src, key})
		} else {
			remaining.Push(src, key)
		}
	}
	tg.queue = remaining
	tg.refreshMinAllowedSortKeyLocked()
	tg.mu.Unlock()

	for _, qs := range reenq {
		dest.reenqueue(qs.source, qs.key)
	}
}

type queuedSource struct {
	source tasksource.TaskSource
	key    tasksource.SortKey
}
