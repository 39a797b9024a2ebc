package threadgroup

import "context"

// BlockType distinguishes the two ScopedBlockingCall variants from
// spec.md §4.2.
type BlockType int

const (
	// MayBlock is the optimistic variant: the adjustment to max_tasks
	// is delayed by MayBlockThreshold, on the expectation the call
	// returns quickly.
	MayBlock BlockType = iota
	// WillBlock applies the max_tasks adjustment immediately.
	WillBlock
)

type blockingObserverKey struct{}

// withBlockingObserver attaches w as ctx's blocking observer so a
// running task can signal ScopedBlockingCall entry/exit via
// EnterBlockingCall/ScopedBlockingCall.Release without needing a direct
// reference to the worker or its ThreadGroup.
func withBlockingObserver(ctx context.Context, w *worker) context.Context {
	return context.WithValue(ctx, blockingObserverKey{}, w)
}

func observerFromContext(ctx context.Context) *worker {
	w, _ := ctx.Value(blockingObserverKey{}).(*worker)
	return w
}

// ScopedBlockingCall models entry into a blocking region of a task
// body. Callers obtain one with EnterBlockingCall(ctx, blockType) and
// must call Release when the blocking region ends — typically via
// defer, mirroring the teacher's RAII pattern translated to Go's
// defer-based scope idiom.
type ScopedBlockingCall struct {
	w         *worker
	blockType BlockType
}

// EnterBlockingCall signals that the task running on ctx's worker is
// entering a blocking region. If ctx carries no worker (e.g. a task
// run outside a ThreadGroup, such as in a unit test), this is a no-op
// and Release on the result is always safe.
func EnterBlockingCall(ctx context.Context, blockType BlockType) *ScopedBlockingCall {
	w := observerFromContext(ctx)
	if w == nil {
		return &ScopedBlockingCall{}
	}
	w.blockingStarted(blockType)
	return &ScopedBlockingCall{w: w, blockType: blockType}
}

// UpgradeToWillBlock converts an in-progress MayBlock scope to
// WillBlock, applying the immediate max_tasks adjustment if it hasn't
// already happened. No-op if the scope was already WillBlock or the
// call is a no-op token.
func (s *ScopedBlockingCall) UpgradeToWillBlock() {
	if s.w == nil || s.blockType == WillBlock {
		return
	}
	s.blockType = WillBlock
	s.w.blockingTypeUpgraded()
}

// Release ends the blocking scope.
func (s *ScopedBlockingCall) Release() {
	if s.w == nil {
		return
	}
	s.w.blockingEnded()
	s.w = nil
}

// blockingStarted implements the Enter rows of spec.md §4.2's table.
func (w *worker) blockingStarted(blockType BlockType) {
	g := w.group
	g.mu.Lock()
	defer g.mu.Unlock()

	switch blockType {
	case WillBlock:
		g.applyWillBlockLocked(w)
	case MayBlock:
		w.mayBlockActive = true
		w.blockingStartedAt = nowFunc()
		if w.isBestEffort {
			g.numUnresolvedBestEffortMayBlock++
		} else {
			g.numUnresolvedMayBlock++
		}
	}
}

func (w *worker) blockingTypeUpgraded() {
	g := w.group
	g.mu.Lock()
	defer g.mu.Unlock()

	if w.mayBlockActive {
		w.mayBlockActive = false
		if w.isBestEffort {
			g.numUnresolvedBestEffortMayBlock--
		} else {
			g.numUnresolvedMayBlock--
		}
	}
	g.applyWillBlockLocked(w)
}

// applyWillBlockLocked atomically bumps max_tasks (and
// max_best_effort_tasks, if the blocked task is best-effort), capped
// at maxTasksCeiling, and wakes workers so the new capacity can be
// used. Must be called with g.mu held.
func (g *ThreadGroup) applyWillBlockLocked(w *worker) {
	if w.maxTasksBumped {
		return
	}
	if g.maxTasks < maxTasksCeiling {
		g.maxTasks++
		w.maxTasksBumped = true
	}
	if w.isBestEffort && !w.bestEffortBumped && g.maxBestEffortTasks < maxTasksCeiling {
		g.maxBestEffortTasks++
		w.bestEffortBumped = true
	}
	g.ensureEnoughWorkersLocked()
}

func (w *worker) blockingEnded() {
	g := w.group
	g.mu.Lock()
	defer g.mu.Unlock()

	if w.mayBlockActive {
		w.mayBlockActive = false
		if w.isBestEffort {
			g.numUnresolvedBestEffortMayBlock--
		} else {
			g.numUnresolvedMayBlock--
		}
	}
	// A max_tasks bump applied for this scope is released as the scope
	// ends; runRegisteredSource releases any bump still held when the
	// task finishes.
	if w.maxTasksBumped {
		g.maxTasks--
		w.maxTasksBumped = false
	}
	if w.bestEffortBumped {
		g.maxBestEffortTasks--
		w.bestEffortBumped = false
	}
}

// escalateMayBlockToWillBlock applies the MayBlock-threshold escalation
// to WillBlock for w. Called by the periodic AdjustMaxTasks sweep in
// adjust_max_tasks.go once MayBlockThreshold has elapsed.
func (w *worker) escalateMayBlockToWillBlock() {
	g := w.group
	g.mu.Lock()
	defer g.mu.Unlock()
	if !w.mayBlockActive {
		return
	}
	w.mayBlockActive = false
	if w.isBestEffort {
		g.numUnresolvedBestEffortMayBlock--
	} else {
		g.numUnresolvedMayBlock--
	}
	g.applyWillBlockLocked(w)
}

var nowFunc = defaultNow
