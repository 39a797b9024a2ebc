package threadpool

import (
	"github.com/ChuLiYu/threadpool/internal/singlethread"
	"github.com/ChuLiYu/threadpool/internal/tasksource"
)

// Re-exported so callers never need to import internal/tasksource
// directly to build a TaskTraits value — the public façade's contract
// from spec.md §1 is that TaskTraits is an opaque tag with these
// fields, not that callers reach past this package for it.
type (
	Priority         = tasksource.Priority
	ShutdownBehavior = tasksource.ShutdownBehavior
	ThreadPolicy     = tasksource.ThreadPolicy
	Traits           = tasksource.Traits
)

const (
	BestEffort   = tasksource.BestEffort
	UserVisible  = tasksource.UserVisible
	UserBlocking = tasksource.UserBlocking

	ContinueOnShutdown = tasksource.ContinueOnShutdown
	SkipOnShutdown     = tasksource.SkipOnShutdown
	BlockShutdown      = tasksource.BlockShutdown

	PreferBackground  = tasksource.PreferBackground
	MustUseForeground = tasksource.MustUseForeground
)

// ThreadMode, Shared and Dedicated are re-exported the same way, for
// CreateSingleThreadTaskRunner's mode argument.
type ThreadMode = singlethread.ThreadMode

const (
	Shared    = singlethread.Shared
	Dedicated = singlethread.Dedicated
)
