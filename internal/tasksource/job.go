package tasksource

import (
	"context"
	"sync"
	"time"
)

// JobWorkerFunc is the caller-provided body run by each concurrent
// worker of a JobTaskSource. It should check ctx and return promptly
// once canceled or once it has no more work to contribute.
type JobWorkerFunc func(ctx context.Context)

// MaxConcurrencyFunc bounds how many workers may run a JobTaskSource
// simultaneously, as a function of how many are already running. It
// is re-evaluated on every scheduling decision so a job can shrink or
// grow its desired concurrency as it progresses.
type MaxConcurrencyFunc func(activeWorkers int) int

// JobTaskSource is a cooperative-parallel TaskSource: up to
// MaxConcurrency(activeWorkers) workers may run WorkerFunc
// concurrently. Unlike a Sequence, popping a "task" from a
// JobTaskSource doesn't consume a fixed work item — it hands out one
// more concurrent invocation of WorkerFunc, which is expected to pull
// its own work (e.g. by atomically claiming indices out of a range)
// until there's nothing left to do or ctx is canceled.
type JobTaskSource struct {
	id uint64

	workerFn       JobWorkerFunc
	maxConcurrency MaxConcurrencyFunc

	mu            sync.Mutex
	traits        Traits
	postedAt      time.Time
	activeWorkers int
	done          bool // set once the job has signaled no more work is available
}

// NewJobTaskSource creates a JobTaskSource. maxConcurrency is called
// with the current active worker count each time the scheduler
// considers dispatching one more worker to it.
func NewJobTaskSource(traits Traits, workerFn JobWorkerFunc, maxConcurrency MaxConcurrencyFunc) *JobTaskSource {
	return &JobTaskSource{
		id:             NewID(),
		workerFn:       workerFn,
		maxConcurrency: maxConcurrency,
		traits:         traits,
		postedAt:       time.Now(),
	}
}

func (j *JobTaskSource) ID() uint64 { return j.id }

func (j *JobTaskSource) Traits() Traits {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.traits
}

func (j *JobTaskSource) SortKey() SortKey {
	j.mu.Lock()
	defer j.mu.Unlock()
	return SortKey{Priority: j.traits.Priority, WorkerCount: j.activeWorkers, EarliestReady: j.postedAt}
}

// CanAcceptWorker reports whether the job's concurrency function
// currently allows one more worker to start, and the job hasn't
// already signaled completion via NotifyConcurrencyExhausted.
func (j *JobTaskSource) CanAcceptWorker() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.done {
		return false
	}
	return j.activeWorkers < j.maxConcurrency(j.activeWorkers)
}

func (j *JobTaskSource) DidBecomeRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.activeWorkers++
}

func (j *JobTaskSource) DidStopRunning() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.activeWorkers == 0 {
		panic("tasksource: JobTaskSource active worker count underflow")
	}
	j.activeWorkers--
}

// TakeTask hands out one more concurrent invocation of WorkerFunc. The
// caller must have already confirmed CanAcceptWorker and called
// DidBecomeRunning. status reports whether the concurrency function
// still permits additional workers beyond this one, which the
// ThreadGroup uses to decide whether to keep the source queued.
func (j *JobTaskSource) TakeTask(now time.Time) (Task, RunStatus, bool) {
	j.mu.Lock()
	workerFn := j.workerFn
	status := NoMoreTasks
	if !j.done && j.activeWorkers < j.maxConcurrency(j.activeWorkers) {
		status = HasMoreTasks
	}
	j.mu.Unlock()

	return Task{Run: workerFn, PostedAt: now}, status, true
}

// NotifyConcurrencyExhausted marks the job as having no more work to
// hand out, regardless of what MaxConcurrency would otherwise allow.
// Called by a worker's invocation of WorkerFunc once it observes
// there's nothing left to claim.
func (j *JobTaskSource) NotifyConcurrencyExhausted() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.done = true
}
