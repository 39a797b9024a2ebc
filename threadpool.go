// ============================================================================
// ThreadPool - Top-Level Scheduler Coordinator
// ============================================================================
//
// Package: threadpool (root)
// File: threadpool.go
// Purpose: Owns and wires every scheduling subsystem: TaskTracker (admission
// and shutdown), the foreground/background ThreadGroups (worker pools), the
// PooledSingleThreadTaskRunnerManager (dedicated/shared single-thread
// runners), and the fence-driven CanRunPolicy.
//
// Architecture:
//   This is the single entry point an embedder talks to. It never runs a
//   task itself; every operation below delegates to one of the four
//   subsystems it owns, in the dependency order TaskTracker -> PriorityQueue
//   -> ThreadGroup/SingleThreadRunnerManager -> ThreadPool.
//
// ============================================================================

package threadpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/threadpool/internal/delayedtask"
	"github.com/ChuLiYu/threadpool/internal/metrics"
	"github.com/ChuLiYu/threadpool/internal/singlethread"
	"github.com/ChuLiYu/threadpool/internal/tasksource"
	"github.com/ChuLiYu/threadpool/internal/tasktracker"
	"github.com/ChuLiYu/threadpool/internal/threadgroup"
)

// Config mirrors the Start init_params from spec.md §6.
type Config struct {
	MaxNumForegroundThreads int
	MaxNumBackgroundThreads int
	MaxBestEffortThreads    int
	SuggestedReclaimTime    time.Duration
	MayBlockThreshold       time.Duration
	MaxNumWorkersCreated    int

	Logger *slog.Logger

	// Metrics, if set, receives per-task post/reject/completion counters
	// in addition to whatever CollectMetrics snapshots are taken of it
	// externally. Nil disables this instrumentation entirely.
	Metrics *metrics.Collector
}

// ThreadPool is the top-level owner described in spec.md §6. The zero
// value is not usable; construct with New and call Start before
// posting any work.
type ThreadPool struct {
	log *slog.Logger

	tracker      *tasktracker.TaskTracker
	foreground   *threadgroup.ThreadGroup
	background   *threadgroup.ThreadGroup
	groups       []*threadgroup.ThreadGroup
	singleThread *singlethread.Manager
	delayManager *delayedtask.Manager
	metrics      *metrics.Collector

	mu                   sync.Mutex
	started              bool
	numFences            int
	numBestEffortFences  int
	bestEffortKillSwitch bool
}

// New constructs an unstarted ThreadPool wiring every subsystem
// together; workers do not run until Start is called.
func New() *ThreadPool {
	log := slog.Default()
	tracker := tasktracker.New(log)

	p := &ThreadPool{
		log:          log,
		tracker:      tracker,
		delayManager: delayedtask.New(),
		singleThread: singlethread.New(tracker),
	}
	p.foreground = threadgroup.New("foreground", tracker, p, log)
	p.background = threadgroup.New("background", tracker, p, log)
	p.groups = []*threadgroup.ThreadGroup{p.foreground, p.background}
	return p
}

// RouteTraits implements threadgroup.Router: BestEffort work that
// prefers the background thread type runs in the background group;
// everything else (including any MustUseForeground task regardless of
// priority) runs in the foreground group. This is also used directly
// by postSequence to pick a new source's starting group.
func (p *ThreadPool) RouteTraits(traits tasksource.Traits) *threadgroup.ThreadGroup {
	if traits.ThreadPolicy == tasksource.MustUseForeground {
		return p.foreground
	}
	if traits.Priority == tasksource.BestEffort {
		return p.background
	}
	return p.foreground
}

// Start is single-shot: after it returns, posts are admitted and
// workers run. Calling it twice panics.
func (p *ThreadPool) Start(cfg Config) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		panic("threadpool: Start called more than once")
	}
	p.started = true
	if cfg.Logger != nil {
		p.log = cfg.Logger
	}
	p.metrics = cfg.Metrics
	p.mu.Unlock()

	fgMax := cfg.MaxNumForegroundThreads
	if fgMax <= 0 {
		fgMax = 4
	}
	bgMax := cfg.MaxNumBackgroundThreads
	if bgMax <= 0 {
		bgMax = 2
	}
	beMax := cfg.MaxBestEffortThreads
	if beMax <= 0 || beMax > bgMax {
		beMax = bgMax
	}

	p.foreground.Start(threadgroup.Config{
		MaxTasks:             fgMax,
		MaxBestEffortTasks:   fgMax,
		SuggestedReclaimTime: cfg.SuggestedReclaimTime,
		MayBlockThreshold:    cfg.MayBlockThreshold,
		MaxNumWorkersCreated: cfg.MaxNumWorkersCreated,
	})
	p.background.Start(threadgroup.Config{
		MaxTasks:             bgMax,
		MaxBestEffortTasks:   beMax,
		SuggestedReclaimTime: cfg.SuggestedReclaimTime,
		MayBlockThreshold:    cfg.MayBlockThreshold,
		MaxNumWorkersCreated: cfg.MaxNumWorkersCreated,
	})
	p.singleThread.Start()

	p.log.Info("threadpool started",
		"foreground_threads", fgMax, "background_threads", bgMax, "best_effort_threads", beMax)
}

// postSequence registers seq (per-task, via WillPostTask at the
// caller) and enqueues it onto the group its traits route to. Returns
// false if the tracker no longer admits seq's shutdown behavior.
func (p *ThreadPool) postSequence(seq *tasksource.Sequence) bool {
	group := p.RouteTraits(seq.Traits())
	return group.PushTaskSource(seq, seq.SortKey())
}

// PostDelayedTask wraps fn in a single-task Sequence and posts it,
// honoring delay via the shared delayed-task dispatcher. Returns false
// if admission was rejected; per spec.md §3 the caller must not run
// fn's cleanup on this goroutine in that case if it touches
// sequence-affine state — callers posting through ThreadPool are
// expected to treat a false return as "never ran", not "ran elsewhere".
func (p *ThreadPool) PostDelayedTask(traits tasksource.Traits, fn func(ctx context.Context), delay time.Duration) bool {
	if !p.tracker.WillPostTask(traits.ShutdownBehavior) {
		p.recordRejected()
		return false
	}
	now := time.Now()
	task := tasksource.Task{Run: fn, PostedAt: now}
	if delay <= 0 {
		return p.postImmediateTask(traits, task)
	}
	task.DelayedRunTime = now.Add(delay)
	p.delayManager.AddDelayedTask(task, func(t tasksource.Task) {
		p.postImmediateTask(traits, t)
	})
	p.recordPosted()
	return true
}

func (p *ThreadPool) postImmediateTask(traits tasksource.Traits, task tasksource.Task) bool {
	if !p.tracker.WillPostTaskNow(traits.Priority) {
		p.recordRejected()
		return false
	}
	task.Run = p.instrument(task.PostedAt, task.Run)
	seq := tasksource.NewSequence(traits)
	seq.PushImmediateTask(task)
	ok := p.postSequence(seq)
	if ok {
		p.recordPosted()
	} else {
		p.recordRejected()
	}
	return ok
}

// instrument wraps fn so its completion records the post-to-completion
// latency (measured from postedAt) with p.metrics, if one is
// configured. A nil metrics collector makes this a transparent
// passthrough.
func (p *ThreadPool) instrument(postedAt time.Time, fn func(ctx context.Context)) func(ctx context.Context) {
	if p.metrics == nil {
		return fn
	}
	return func(ctx context.Context) {
		fn(ctx)
		p.metrics.RecordCompleted(time.Since(postedAt).Seconds())
	}
}

func (p *ThreadPool) recordPosted() {
	if p.metrics != nil {
		p.metrics.RecordPosted()
	}
}

func (p *ThreadPool) recordRejected() {
	if p.metrics != nil {
		p.metrics.RecordRejected()
	}
}

// CreateTaskRunner returns a TaskRunner whose every post runs on its
// own single-task Sequence (spec.md §3's Parallel-single-task
// execution mode): posts through it may run concurrently with one
// another.
func (p *ThreadPool) CreateTaskRunner(traits tasksource.Traits) *TaskRunner {
	return &TaskRunner{pool: p, traits: traits}
}

// CreateSequencedTaskRunner returns a runner backed by one persistent
// Sequence: every post through it runs in posting order, never
// concurrently with another post through the same runner.
func (p *ThreadPool) CreateSequencedTaskRunner(traits tasksource.Traits) *SequencedTaskRunner {
	return &SequencedTaskRunner{pool: p, traits: traits, seq: tasksource.NewSequence(traits)}
}

// CreateUpdateableSequencedTaskRunner is like CreateSequencedTaskRunner
// but additionally exposes UpdatePriority, which re-homes the
// underlying Sequence across thread groups if the new priority routes
// it differently (spec.md §4.2's migration-on-priority-change).
func (p *ThreadPool) CreateUpdateableSequencedTaskRunner(traits tasksource.Traits) *UpdateableSequencedTaskRunner {
	return &UpdateableSequencedTaskRunner{
		SequencedTaskRunner: SequencedTaskRunner{pool: p, traits: traits, seq: tasksource.NewSequence(traits)},
	}
}

// CreateSingleThreadTaskRunner returns a runner backed by the
// PooledSingleThreadTaskRunnerManager (spec.md §4.5).
func (p *ThreadPool) CreateSingleThreadTaskRunner(traits tasksource.Traits, mode singlethread.ThreadMode) *singlethread.TaskRunner {
	return p.singleThread.CreateSingleThreadTaskRunner(traits, mode)
}

// Shutdown runs the shutdown protocol from spec.md §4.1: flips the
// TaskTracker to InProgress, releases fences so BlockShutdown tasks
// can drain at normal priority even under an active best-effort kill
// switch, wakes every group and single-thread worker, then blocks
// until every BlockShutdown task has run.
func (p *ThreadPool) Shutdown() {
	p.tracker.StartShutdown()
	p.updateCanRunPolicy()
	for _, g := range p.groups {
		g.OnShutdownStarted()
	}
	p.tracker.CompleteShutdown()
	p.singleThread.Shutdown()
	p.log.Info("threadpool shutdown complete")
}

// FlushForTesting blocks until every posted task source has drained.
func (p *ThreadPool) FlushForTesting() {
	p.tracker.FlushForTesting()
}

// FlushAsyncForTesting calls flushCallback once every posted task
// source has drained, without blocking the caller.
func (p *ThreadPool) FlushAsyncForTesting(flushCallback func()) {
	p.tracker.FlushAsyncForTesting(flushCallback)
}

// JoinForTesting stops every worker (both thread groups and every
// single-thread worker) and blocks until all have exited. Only valid
// in tests; production code calls Shutdown instead.
func (p *ThreadPool) JoinForTesting() {
	for _, g := range p.groups {
		g.JoinForTesting()
	}
	p.singleThread.JoinForTesting()
}

func (p *ThreadPool) String() string {
	return fmt.Sprintf("ThreadPool{foreground=%s, background=%s}", p.foreground, p.background)
}

// CollectMetrics snapshots every subsystem's current counters into c. It
// does not block on anything and is cheap enough to call from a
// periodic ticker (internal/cli's "run" command does exactly that).
func (p *ThreadPool) CollectMetrics(c *metrics.Collector) {
	for _, g := range p.groups {
		queued, running, maxTasks := g.Stats()
		c.SetGroupStats(g.Name(), queued, running, maxTasks)
	}

	p.mu.Lock()
	fenced := p.numFences > 0
	beFenced := p.numBestEffortFences > 0 || p.bestEffortKillSwitch
	p.mu.Unlock()
	c.SetFenceState(fenced, beFenced)

	c.SetShutdownPhase(p.tracker.ShutdownPhase())
}
