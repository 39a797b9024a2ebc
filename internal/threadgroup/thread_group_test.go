package threadgroup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ChuLiYu/threadpool/internal/tasksource"
	"github.com/ChuLiYu/threadpool/internal/tasktracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGroup(t *testing.T, cfg Config) (*ThreadGroup, *tasktracker.TaskTracker) {
	t.Helper()
	tr := tasktracker.New(nil)
	tg := New("test", tr, nil, nil)
	tg.Start(cfg)
	t.Cleanup(tg.JoinForTesting)
	return tg, tr
}

func pushTask(t *testing.T, tg *ThreadGroup, priority tasksource.Priority, behavior tasksource.ShutdownBehavior, run func(context.Context)) *tasksource.Sequence {
	t.Helper()
	seq := tasksource.NewSequence(tasksource.Traits{Priority: priority, ShutdownBehavior: behavior})
	seq.PushImmediateTask(tasksource.Task{Run: run, PostedAt: time.Now()})
	require.True(t, tg.PushTaskSource(seq, seq.SortKey()))
	return seq
}

func TestThreadGroupRunsPostedTask(t *testing.T) {
	tg, _ := newTestGroup(t, Config{MaxTasks: 2, MaxBestEffortTasks: 1})

	var ran atomic.Bool
	done := make(chan struct{})
	pushTask(t, tg, tasksource.UserBlocking, tasksource.ContinueOnShutdown, func(context.Context) {
		ran.Store(true)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
	assert.True(t, ran.Load())
}

func TestThreadGroupOrdersUserBlockingBeforeBestEffort(t *testing.T) {
	tg, _ := newTestGroup(t, Config{MaxTasks: 1, MaxBestEffortTasks: 1})

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) {
		return func(context.Context) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}
	}

	gate := make(chan struct{})
	pushTask(t, tg, tasksource.BestEffort, tasksource.ContinueOnShutdown, func(ctx context.Context) {
		<-gate
		record("B1")(ctx)
	})
	// Give the first task a chance to start running before the rest queue.
	time.Sleep(10 * time.Millisecond)
	pushTask(t, tg, tasksource.UserBlocking, tasksource.ContinueOnShutdown, record("U"))
	pushTask(t, tg, tasksource.BestEffort, tasksource.ContinueOnShutdown, record("B2"))
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "B1", order[0])
	assert.Equal(t, "U", order[1])
	assert.Equal(t, "B2", order[2])
}

func TestMayBlockExpansionAndContraction(t *testing.T) {
	tg, _ := newTestGroup(t, Config{MaxTasks: 2, MaxBestEffortTasks: 2, MayBlockThreshold: 20 * time.Millisecond})

	release := make(chan struct{})
	started := make(chan struct{}, 3)
	var runningConcurrently atomic.Int32
	var sawThree atomic.Bool

	body := func(blocks bool) func(context.Context) {
		return func(ctx context.Context) {
			started <- struct{}{}
			n := runningConcurrently.Add(1)
			if n >= 3 {
				sawThree.Store(true)
			}
			if blocks {
				call := EnterBlockingCall(ctx, MayBlock)
				<-release
				call.Release()
			} else {
				<-release
			}
			runningConcurrently.Add(-1)
		}
	}

	pushTask(t, tg, tasksource.UserBlocking, tasksource.ContinueOnShutdown, body(true))
	pushTask(t, tg, tasksource.UserBlocking, tasksource.ContinueOnShutdown, body(false))
	pushTask(t, tg, tasksource.UserBlocking, tasksource.ContinueOnShutdown, body(false))

	require.Eventually(t, func() bool { return sawThree.Load() }, 2*time.Second, 5*time.Millisecond,
		"third task should start once AdjustMaxTasks escalates the MayBlock scope")
	close(release)
}

func TestUpdateSortKeyMigratesAcrossGroups(t *testing.T) {
	tr := tasktracker.New(nil)
	background := New("background", tr, nil, nil)
	foreground := New("foreground", tr, nil, nil)

	router := routerFunc(func(traits tasksource.Traits) *ThreadGroup {
		if traits.Priority == tasksource.BestEffort {
			return background
		}
		return foreground
	})
	background.router = router
	foreground.router = router

	// background never creates a worker, so a queued source sits there
	// deterministically until migrated — no race with a worker racing
	// to dequeue it first.
	background.Start(Config{MaxTasks: 0})
	foreground.Start(Config{MaxTasks: 1, MaxBestEffortTasks: 1})
	defer background.JoinForTesting()
	defer foreground.JoinForTesting()

	done := make(chan struct{})
	seq := tasksource.NewSequence(tasksource.Traits{Priority: tasksource.BestEffort})
	seq.PushImmediateTask(tasksource.Task{Run: func(context.Context) { close(done) }})
	require.True(t, background.PushTaskSource(seq, seq.SortKey()))

	select {
	case <-done:
		t.Fatal("task ran on a zero-capacity group before migration")
	case <-time.After(20 * time.Millisecond):
	}

	seq.UpdatePriority(tasksource.UserBlocking)
	dest := background.UpdateSortKey(seq)
	assert.Same(t, foreground, dest)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("migrated source never ran on the destination group")
	}
}

type routerFunc func(tasksource.Traits) *ThreadGroup

func (f routerFunc) RouteTraits(traits tasksource.Traits) *ThreadGroup { return f(traits) }

func TestHandoffAllTaskSourcesToOtherThreadGroup(t *testing.T) {
	tr := tasktracker.New(nil)
	src := New("src", tr, nil, nil)
	dst := New("dst", tr, nil, nil)
	src.Start(Config{MaxTasks: 0}) // no workers: nothing should run until handed off
	dst.Start(Config{MaxTasks: 1, MaxBestEffortTasks: 1})
	defer src.JoinForTesting()
	defer dst.JoinForTesting()

	done := make(chan struct{})
	pushTask(t, src, tasksource.UserBlocking, tasksource.ContinueOnShutdown, func(context.Context) { close(done) })

	select {
	case <-done:
		t.Fatal("task ran on a zero-capacity group before handoff")
	case <-time.After(20 * time.Millisecond):
	}

	src.HandoffAllTaskSourcesToOtherThreadGroup(dst)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handed-off task never ran on the destination group")
	}
}

func TestJoinForTestingReturnsAfterWorkersExit(t *testing.T) {
	tr := tasktracker.New(nil)
	tg := New("join", tr, nil, nil)
	tg.Start(Config{MaxTasks: 2, MaxBestEffortTasks: 1})

	done := make(chan struct{})
	go func() {
		tg.JoinForTesting()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("JoinForTesting never returned for an idle group")
	}
}
