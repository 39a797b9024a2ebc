// Package worktracker implements the sync-work authorization primitive
// from spec.md §4.3: a single atomic state word plus a lock/condvar
// pair that lets a RunOrPostTask-style caller run a callback inline,
// with sequencing guarantees equivalent to posting it, exactly when
// the scheduler has nothing else to do.
//
// Ported line-for-line in spirit from the original
// base/task/sequence_manager/work_tracker.{h,cc}; see
// _examples/original_source/src/base/task/sequence_manager/work_tracker.cc.
package worktracker

import (
	"sync"
	"sync/atomic"
)

const (
	// immediateWorkQueueNeedsReload: an immediate queue needs reload.
	immediateWorkQueueNeedsReload uint32 = 1 << 0
	// workQueuesEmptyAndNoWorkRunning: thread is idle.
	workQueuesEmptyAndNoWorkRunning uint32 = 1 << 1
	// activeSyncWork: a caller currently holds a sync-work authorization.
	activeSyncWork uint32 = 1 << 2
	// syncWorkSupported: sync work is permitted by configuration.
	syncWorkSupported uint32 = 1 << 3
)

// WorkTracker is safe for concurrent use. Exactly one atomic word
// carries all state transitions; the lock/condvar below exist only to
// let OnBeginWork and SetRunTaskSynchronouslyAllowed(false) wait for
// an in-flight sync work authorization to drain (see WaitNoSyncWork).
type WorkTracker struct {
	state atomic.Uint32

	activeSyncWorkMu sync.Mutex
	activeSyncWorkCV *sync.Cond
}

// New returns a WorkTracker with both work queues considered empty and
// sync work not yet enabled.
func New() *WorkTracker {
	t := &WorkTracker{}
	t.state.Store(workQueuesEmptyAndNoWorkRunning)
	t.activeSyncWorkCV = sync.NewCond(&t.activeSyncWorkMu)
	return t
}

// SyncWorkAuthorization is a token returned by TryAcquireSyncWorkAuthorization
// once IsValid returns true. It represents permission to run a
// callback synchronously on the caller's thread, sequenced equivalently
// to a post. Move-only in spirit; Release (called at most once, extra
// calls are harmless no-ops since Go has no linear-type enforcement
// for a type modeled after a move-only C++ object) must be called
// exactly once logically to hand the authorization back.
type SyncWorkAuthorization struct {
	tracker *WorkTracker
	once    sync.Once
}

// IsValid reports whether this token grants an authorization. A zero
// SyncWorkAuthorization (returned when acquisition fails) is invalid.
func (a *SyncWorkAuthorization) IsValid() bool {
	return a != nil && a.tracker != nil
}

// Release ends the authorization, allowing non-sync work to proceed.
// Safe to call multiple times or on an invalid token.
func (a *SyncWorkAuthorization) Release() {
	if !a.IsValid() {
		return
	}
	a.once.Do(func() {
		t := a.tracker
		t.activeSyncWorkMu.Lock()
		prev := t.state.Load()
		t.state.Store(prev &^ activeSyncWork)
		t.activeSyncWorkMu.Unlock()
		t.activeSyncWorkCV.Signal()
	})
}

// SetRunTaskSynchronouslyAllowed controls whether
// TryAcquireSyncWorkAuthorization can ever succeed. Setting to false
// blocks until any currently active sync work authorization is
// released, so that non-sync work resuming afterward is correctly
// sequenced after it (acquire paired with the release in
// SyncWorkAuthorization.Release).
func (t *WorkTracker) SetRunTaskSynchronouslyAllowed(allowed bool) {
	if allowed {
		t.orState(syncWorkSupported)
		return
	}
	prev := t.andState(^syncWorkSupported)
	if prev&activeSyncWork != 0 {
		t.waitNoSyncWork()
	}
}

func (t *WorkTracker) waitNoSyncWork() {
	t.activeSyncWorkMu.Lock()
	defer t.activeSyncWorkMu.Unlock()
	for t.state.Load()&activeSyncWork != 0 {
		t.activeSyncWorkCV.Wait()
	}
}

// WillRequestReloadImmediateWorkQueue is invoked before requesting a
// reload of an empty immediate work queue. After this, sync work can't
// run until WillReloadImmediateWorkQueues and OnIdle have both been
// called in sequence. May be called from any thread.
func (t *WorkTracker) WillRequestReloadImmediateWorkQueue() {
	t.orState(immediateWorkQueueNeedsReload)
}

// WillReloadImmediateWorkQueues is invoked before reloading empty
// immediate work queues. Sync work is disallowed until OnIdle is
// called again.
func (t *WorkTracker) WillReloadImmediateWorkQueues() {
	t.andState(^(immediateWorkQueueNeedsReload | workQueuesEmptyAndNoWorkRunning))
}

// OnBeginWork is invoked before doing work. After this, no sync work
// may run until OnIdle is called. If a sync work authorization is
// currently active, this blocks until it's released so the worker's
// subsequent reads are correctly ordered after it.
func (t *WorkTracker) OnBeginWork() {
	prev := t.andState(^workQueuesEmptyAndNoWorkRunning)
	if prev&activeSyncWork != 0 {
		t.waitNoSyncWork()
	}
}

// OnIdle is invoked when the calling thread is out of work. It is the
// only operation that sets workQueuesEmptyAndNoWorkRunning, and does
// so with release semantics so that sync work running after this sees
// every write issued by the work that just went idle.
func (t *WorkTracker) OnIdle() {
	t.orState(workQueuesEmptyAndNoWorkRunning)
}

// TryAcquireSyncWorkAuthorization attempts to acquire the right to run
// a callback synchronously. Succeeds iff the state is exactly
// syncWorkSupported|workQueuesEmptyAndNoWorkRunning. May be called
// from any thread.
func (t *WorkTracker) TryAcquireSyncWorkAuthorization() *SyncWorkAuthorization {
	want := syncWorkSupported | workQueuesEmptyAndNoWorkRunning
	state := t.state.Load()
	if state == want && t.state.CompareAndSwap(state, state|activeSyncWork) {
		return &SyncWorkAuthorization{tracker: t}
	}
	return &SyncWorkAuthorization{}
}

// AssertHasWorkForTesting panics if the workQueuesEmptyAndNoWorkRunning
// bit is set, i.e. if this believes there's no tracked work despite
// the caller's claim there is, whether or not sync work is currently
// supported. Mirrors the original's
// AssertHasWork, a testing-only consistency check.
func (t *WorkTracker) AssertHasWorkForTesting() {
	if t.state.Load()&workQueuesEmptyAndNoWorkRunning != 0 {
		panic("worktracker: expected tracked work but queues are empty and idle")
	}
}

func (t *WorkTracker) orState(bits uint32) uint32 {
	for {
		old := t.state.Load()
		if t.state.CompareAndSwap(old, old|bits) {
			return old
		}
	}
}

func (t *WorkTracker) andState(mask uint32) uint32 {
	for {
		old := t.state.Load()
		if t.state.CompareAndSwap(old, old&mask) {
			return old
		}
	}
}
