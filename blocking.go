package threadpool

import "github.com/ChuLiYu/threadpool/internal/threadgroup"

// Re-exported so a task body never needs to import internal/threadgroup
// directly to signal that it's entering a blocking region.
type (
	BlockType         = threadgroup.BlockType
	ScopedBlockingCall = threadgroup.ScopedBlockingCall
)

const (
	MayBlock  = threadgroup.MayBlock
	WillBlock = threadgroup.WillBlock
)

// EnterBlockingCall signals that the task running on ctx is entering a
// blocking region, per spec.md §4.2: a MayBlock scope delays the
// max_tasks adjustment by MayBlockThreshold on the expectation it
// returns quickly; a WillBlock scope applies it immediately. Outside a
// ThreadGroup worker (e.g. a task run directly in a unit test) this is
// a harmless no-op and Release is always safe to call.
var EnterBlockingCall = threadgroup.EnterBlockingCall
