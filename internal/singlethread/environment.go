package singlethread

import "github.com/ChuLiYu/threadpool/internal/tasksource"

// environment buckets traits into one of the shared-worker matrix
// cells described in spec.md §4.5. The original additionally carves
// out a feature-flagged "utility" tier between background and
// foreground; this module drops it (see DESIGN.md) since nothing in
// this spec exercises a third OS-thread-priority tier.
type environment int

const (
	envBackground environment = iota
	envBackgroundBlocking
	envForeground
	envForegroundBlocking
	numEnvironments
)

func environmentForTraits(traits tasksource.Traits) environment {
	background := traits.ThreadPolicy == tasksource.PreferBackground
	blocking := traits.MayBlock || traits.WithSyncPrimitives
	switch {
	case background && blocking:
		return envBackgroundBlocking
	case background:
		return envBackground
	case blocking:
		return envForegroundBlocking
	default:
		return envForeground
	}
}

// continueOnShutdownBucket is the second axis of the shared-worker
// matrix: a shared worker is never reused across sources whose
// shutdown behavior disagrees on whether it's ContinueOnShutdown,
// since that changes what must happen to it at shutdown.
func continueOnShutdownBucket(behavior tasksource.ShutdownBehavior) int {
	if behavior == tasksource.ContinueOnShutdown {
		return 1
	}
	return 0
}
