package threadpool

import "github.com/ChuLiYu/threadpool/internal/tasktracker"

// BeginFence prevents every task from running until the matching
// EndFence, regardless of priority. Fences nest; the pool is only
// runnable again once every outstanding fence has ended.
func (p *ThreadPool) BeginFence() {
	p.mu.Lock()
	p.numFences++
	p.mu.Unlock()
	p.updateCanRunPolicy()
}

// EndFence releases one BeginFence. Calling it without a matching
// BeginFence in flight is a programming error and panics (spec.md §6:
// "always paired; underflow is fatal").
func (p *ThreadPool) EndFence() {
	p.mu.Lock()
	if p.numFences == 0 {
		p.mu.Unlock()
		panic("threadpool: EndFence called without a matching BeginFence")
	}
	p.numFences--
	p.mu.Unlock()
	p.updateCanRunPolicy()
}

// BeginBestEffortFence prevents BestEffort tasks from running until
// the matching EndBestEffortFence. Nests independently of BeginFence.
func (p *ThreadPool) BeginBestEffortFence() {
	p.mu.Lock()
	p.numBestEffortFences++
	p.mu.Unlock()
	p.updateCanRunPolicy()
}

// EndBestEffortFence releases one BeginBestEffortFence. Panics on
// underflow, same as EndFence.
func (p *ThreadPool) EndBestEffortFence() {
	p.mu.Lock()
	if p.numBestEffortFences == 0 {
		p.mu.Unlock()
		panic("threadpool: EndBestEffortFence called without a matching BeginBestEffortFence")
	}
	p.numBestEffortFences--
	p.mu.Unlock()
	p.updateCanRunPolicy()
}

// DisableBestEffortTasks sets the process-level best-effort kill
// switch described in spec.md §4.4 and §6. It is sticky until shutdown
// begins (StartShutdown releases it so BlockShutdown best-effort tasks
// can still drain), and is meant to be set once before Start.
func (p *ThreadPool) DisableBestEffortTasks() {
	p.mu.Lock()
	p.bestEffortKillSwitch = true
	p.mu.Unlock()
	p.updateCanRunPolicy()
}

// updateCanRunPolicy recomputes the effective CanRunPolicy from the
// fence counters and kill switch, pushes it to the TaskTracker, and
// wakes every thread group / single-thread worker so newly-runnable
// work (if any) gets picked up.
func (p *ThreadPool) updateCanRunPolicy() {
	p.mu.Lock()
	shutdownStarted := p.tracker.HasShutdownStarted()
	policy := tasktracker.CanRunAll
	switch {
	case shutdownStarted:
		// Fences exist to hold back work until some precondition is met,
		// but shutdown itself is that precondition being abandoned: once
		// it has started, every fence (and the kill switch) releases so
		// BlockShutdown tasks queued behind a fence can still drain and
		// CompleteShutdown doesn't hang on numItemsBlockingShutdown>0.
		policy = tasktracker.CanRunAll
	case p.numFences > 0:
		policy = tasktracker.CanRunNone
	case p.numBestEffortFences > 0:
		policy = tasktracker.CanRunForegroundOnly
	case p.bestEffortKillSwitch:
		policy = tasktracker.CanRunForegroundOnly
	}
	p.tracker.SetCanRunPolicy(policy)
	p.mu.Unlock()

	for _, g := range p.groups {
		g.DidUpdateCanRunPolicy()
	}
	p.singleThread.DidUpdateCanRunPolicy()
}
