package tasksource

import (
	"sync"
	"time"
)

// Sequence is a FIFO TaskSource with concurrency 1: at most one
// worker runs tasks from a given Sequence at any time. This backs
// CreateSequencedTaskRunner, CreateTaskRunner (a single-task Sequence
// per post) and the per-worker queues in internal/singlethread.
type Sequence struct {
	id uint64

	mu      sync.Mutex
	traits  Traits
	tasks   []Task
	running bool // true while a worker is between DidBecomeRunning/DidStopRunning
}

// NewSequence creates an empty Sequence with the given traits.
func NewSequence(traits Traits) *Sequence {
	return &Sequence{id: NewID(), traits: traits}
}

func (s *Sequence) ID() uint64 { return s.id }

func (s *Sequence) Traits() Traits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traits
}

// UpdatePriority changes the sequence's priority in place. Only legal
// on a source created via CreateUpdateableSequencedTaskRunner; the
// caller (root package) is responsible for re-homing the sequence in
// its ThreadGroup's queue after calling this (see spec.md §4.2
// "Migration on priority change").
func (s *Sequence) UpdatePriority(p Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traits.Priority = p
}

// PushImmediateTask appends an immediate (non-delayed) task. Returns
// true if the caller must (re)queue the Sequence with its ThreadGroup:
// the task list was empty AND no worker currently holds the Sequence
// checked out (between DidBecomeRunning/DidStopRunning). A push that
// arrives while a worker is mid-run, even into an empty task list
// (the worker already took the previous one off), must NOT be queued
// again here — the running worker's own completion handling
// (runRegisteredSource's "again" check) is what re-enqueues it, and
// queuing it twice would double the source's TaskTracker registration.
func (s *Sequence) PushImmediateTask(t Task) (needsEnqueue bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	needsEnqueue = len(s.tasks) == 0 && !s.running
	s.tasks = append(s.tasks, t)
	return needsEnqueue
}

func (s *Sequence) SortKey() SortKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortKeyLocked()
}

func (s *Sequence) sortKeyLocked() SortKey {
	workerCount := 0
	if s.running {
		workerCount = 1
	}
	earliest := time.Time{}
	if len(s.tasks) > 0 {
		earliest = s.tasks[0].PostedAt
	}
	return SortKey{Priority: s.traits.Priority, WorkerCount: workerCount, EarliestReady: earliest}
}

func (s *Sequence) CanAcceptWorker() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

func (s *Sequence) DidBecomeRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *Sequence) DidStopRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

// TakeTask pops the head task if it is ready (its delay, if any, has
// elapsed). A not-yet-ready head task is left in place and ok is
// false; the caller (ThreadGroup) treats this identically to an empty
// Sequence for scheduling purposes.
func (s *Sequence) TakeTask(now time.Time) (Task, RunStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 || !s.tasks[0].Ready(now) {
		return Task{}, NoMoreTasks, false
	}
	t := s.tasks[0]
	s.tasks = s.tasks[1:]
	status := HasMoreTasks
	if len(s.tasks) == 0 {
		status = NoMoreTasks
	}
	return t, status, true
}

// IsEmpty reports whether the Sequence currently holds no tasks.
func (s *Sequence) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks) == 0
}

// HasRunnableTask reports whether the Sequence has a task ready to run
// as of now, without removing it.
func (s *Sequence) HasRunnableTask(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks) > 0 && s.tasks[0].Ready(now)
}
