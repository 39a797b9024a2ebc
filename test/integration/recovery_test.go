// ============================================================================
// Shutdown-draining end-to-end test
// ============================================================================
//
// Package: test/integration
// File: recovery_test.go
//
// Covers scenario 5: a ContinueOnShutdown task (sleeping 500ms), a
// SkipOnShutdown task, and a BlockShutdown task (sleeping 200ms) are
// posted, then Shutdown() is called immediately. The SkipOnShutdown task must not
// run (shutdown has already started by the time it would be
// dequeued); the BlockShutdown task must run to completion before
// Shutdown() returns; the ContinueOnShutdown task is allowed to still
// be mid-flight when Shutdown() returns.
//
// ============================================================================

package integration

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	threadpool "github.com/ChuLiYu/threadpool"
	"github.com/stretchr/testify/require"
)

func TestShutdownDrainsBlockShutdownAndSkipsSkipOnShutdown(t *testing.T) {
	pool := threadpool.New()
	pool.Start(threadpool.Config{MaxNumBackgroundThreads: 1, MaxBestEffortThreads: 1})

	var continueStarted, continueFinished atomic.Bool
	var skipStarted atomic.Bool
	var blockStarted, blockFinished atomic.Bool

	// A single background worker, occupied by the ContinueOnShutdown
	// task for the test's duration, keeps the Skip/Block tasks queued
	// (not yet started) by the time Shutdown() is called right after.
	continueRunner := pool.CreateTaskRunner(threadpool.Traits{Priority: threadpool.BestEffort})
	require.True(t, continueRunner.PostTask(func(context.Context) {
		continueStarted.Store(true)
		time.Sleep(500 * time.Millisecond)
		continueFinished.Store(true)
	}))

	require.True(t, pool.PostDelayedTask(threadpool.Traits{
		Priority:         threadpool.BestEffort,
		ShutdownBehavior: threadpool.SkipOnShutdown,
	}, func(context.Context) {
		skipStarted.Store(true)
	}, 0))

	require.True(t, pool.PostDelayedTask(threadpool.Traits{
		Priority:         threadpool.BestEffort,
		ShutdownBehavior: threadpool.BlockShutdown,
	}, func(context.Context) {
		blockStarted.Store(true)
		time.Sleep(200 * time.Millisecond)
		blockFinished.Store(true)
	}, 0))

	pool.Shutdown()

	require.True(t, blockStarted.Load(), "BlockShutdown task must have started")
	require.True(t, blockFinished.Load(), "Shutdown() must not return before the BlockShutdown task finishes")
	require.False(t, skipStarted.Load(), "SkipOnShutdown task must not run once shutdown has started")
	t.Logf("continue task started=%v finished=%v by the time Shutdown() returned", continueStarted.Load(), continueFinished.Load())
}
