// ============================================================================
// threadpool demo - Main Entry Point
// ============================================================================
//
// File: cmd/demo/main.go
// Purpose: Exercise the scheduler end to end from the command line: a
// best-effort fence, a priority migration across thread groups, and a
// graceful shutdown that drains BlockShutdown work.
//
// Usage:
//   go run cmd/demo/main.go <fence|priority|shutdown>
//
// ============================================================================

package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	threadpool "github.com/ChuLiYu/threadpool"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/demo/main.go <fence|priority|shutdown>")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "fence":
		demoFence()
	case "priority":
		demoPriorityMigration()
	case "shutdown":
		demoShutdown()
	default:
		fmt.Printf("unknown mode %q\n", os.Args[1])
		os.Exit(1)
	}
}

// demoFence shows a best-effort fence in effect: a background post made
// while the fence is held is refused and never runs, while user-visible
// work keeps running on the foreground group.
func demoFence() {
	pool := threadpool.New()
	pool.Start(threadpool.Config{MaxNumForegroundThreads: 2, MaxNumBackgroundThreads: 1, MaxBestEffortThreads: 1})
	defer pool.JoinForTesting()

	fg := pool.CreateTaskRunner(threadpool.Traits{Priority: threadpool.UserVisible})
	bg := pool.CreateTaskRunner(threadpool.Traits{Priority: threadpool.BestEffort})

	fmt.Println("✓ Pool started (2 foreground, 1 background)")

	var beRan atomic.Bool
	pool.BeginBestEffortFence()
	fmt.Println("✓ Best-effort fence raised — background posts are refused")

	bg.PostTask(func(context.Context) {
		beRan.Store(true)
		fmt.Println("  [background] task ran (should not happen while fenced)")
	})

	var done sync.WaitGroup
	done.Add(1)
	fg.PostTask(func(context.Context) {
		fmt.Println("  [foreground] task ran while fence is held")
		done.Done()
	})
	done.Wait()

	if !beRan.Load() {
		fmt.Println("✓ Confirmed: background task did not run while fenced")
	}

	pool.EndBestEffortFence()
	fmt.Println("✓ Fence released")

	time.Sleep(50 * time.Millisecond)
	if beRan.Load() {
		fmt.Println("✓ Background task ran after the fence was released")
	}

	pool.FlushForTesting()
}

// demoPriorityMigration shows an UpdateableSequencedTaskRunner re-homing
// from the background group to the foreground group when its priority
// is raised mid-flight.
func demoPriorityMigration() {
	pool := threadpool.New()
	pool.Start(threadpool.Config{MaxNumBackgroundThreads: 1, MaxBestEffortThreads: 1})
	defer pool.JoinForTesting()

	runner := pool.CreateUpdateableSequencedTaskRunner(threadpool.Traits{
		Priority:     threadpool.BestEffort,
		ThreadPolicy: threadpool.PreferBackground,
	})

	fmt.Println("✓ Posting a BestEffort sequence to the background group")
	runner.PostTask(func(context.Context) {
		fmt.Println("  [background] first task ran")
	})

	time.Sleep(20 * time.Millisecond)
	fmt.Println("✓ Raising priority to UserBlocking — sequence migrates to foreground")
	runner.UpdatePriority(threadpool.UserBlocking)

	var done sync.WaitGroup
	done.Add(1)
	runner.PostTask(func(context.Context) {
		fmt.Println("  [foreground] task ran after migration")
		done.Done()
	})
	done.Wait()

	pool.FlushForTesting()
}

// demoShutdown shows the three shutdown-behavior classes draining
// differently: ContinueOnShutdown keeps running, SkipOnShutdown is
// dropped once shutdown starts, BlockShutdown delays Shutdown's return
// until it has run.
func demoShutdown() {
	pool := threadpool.New()
	pool.Start(threadpool.Config{MaxNumBackgroundThreads: 1, MaxBestEffortThreads: 1})

	occupy := pool.CreateTaskRunner(threadpool.Traits{
		Priority:         threadpool.BestEffort,
		ShutdownBehavior: threadpool.ContinueOnShutdown,
	})
	skip := pool.CreateTaskRunner(threadpool.Traits{
		Priority:         threadpool.BestEffort,
		ShutdownBehavior: threadpool.SkipOnShutdown,
	})
	block := pool.CreateTaskRunner(threadpool.Traits{
		Priority:         threadpool.BestEffort,
		ShutdownBehavior: threadpool.BlockShutdown,
	})

	occupy.PostTask(func(context.Context) {
		fmt.Println("  [continue] holding the only worker for 200ms")
		time.Sleep(200 * time.Millisecond)
	})
	time.Sleep(10 * time.Millisecond)

	var skipRan, blockRan atomic.Bool
	skip.PostTask(func(context.Context) {
		skipRan.Store(true)
		fmt.Println("  [skip] ran (should not happen once shutdown starts)")
	})
	block.PostTask(func(context.Context) {
		blockRan.Store(true)
		fmt.Println("  [block] ran, delaying Shutdown's return")
	})

	fmt.Println("✓ Calling Shutdown — it blocks until the BlockShutdown task drains")
	pool.Shutdown()

	fmt.Printf("✓ Shutdown returned: skip ran=%v, block ran=%v\n", skipRan.Load(), blockRan.Load())
}
