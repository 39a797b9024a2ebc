package threadgroup

import "github.com/ChuLiYu/threadpool/internal/tasksource"

// ThreadType mirrors the background/foreground OS-thread-priority hint
// from spec.md §4.6. Go gives a goroutine no stable binding to an OS
// thread (the runtime migrates goroutines across M's freely), so there
// is no portable primitive to actually lower a specific goroutine's
// scheduling priority the way Chromium's PlatformThread::SetCurrentThreadType
// does. desiredThreadType is kept as an observable hint only: it drives
// nothing but is recorded so callers (and tests) can assert the policy
// that WOULD drive a real thread-priority call on a platform that
// exposed one.
type ThreadType int

const (
	ThreadTypeBackground ThreadType = iota
	ThreadTypeForeground
)

// desiredThreadType implements spec.md §4.6's GetDesiredThreadType:
// a task that must use the foreground (MustUseForeground, or any task
// once shutdown has started and is blocking it) gets a foreground
// hint; everything else defers to the trait's PreferBackground bit.
func desiredThreadType(traits tasksource.Traits, shutdownStarted bool) ThreadType {
	if traits.ThreadPolicy == tasksource.MustUseForeground {
		return ThreadTypeForeground
	}
	if shutdownStarted && traits.ShutdownBehavior == tasksource.BlockShutdown {
		return ThreadTypeForeground
	}
	if traits.ThreadPolicy == tasksource.PreferBackground {
		return ThreadTypeBackground
	}
	return ThreadTypeForeground
}

// applyDesiredThreadType records the hint for w without attempting any
// OS-level priority change (see ThreadType's doc comment). Called by
// runRegisteredSource before each task runs.
func (w *worker) applyDesiredThreadType(traits tasksource.Traits) {
	g := w.group
	g.mu.Lock()
	shutdownStarted := g.shutdownStarted
	g.mu.Unlock()
	w.currentThreadType = desiredThreadType(traits, shutdownStarted)
}
