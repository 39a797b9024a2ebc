package threadgroup

import "time"

const defaultAdjustMaxTasksPeriod = 50 * time.Millisecond

// startAdjustMaxTasksLoop periodically escalates any worker whose
// MayBlock scope has been open longer than cfg.MayBlockThreshold to
// WillBlock, per spec.md §4.2's "AdjustMaxTasks fires" row. A zero
// MayBlockThreshold disables the sweep (MayBlock scopes never
// auto-escalate; only an explicit UpgradeToWillBlock does).
func (tg *ThreadGroup) startAdjustMaxTasksLoop() {
	if tg.cfg.MayBlockThreshold <= 0 {
		return
	}
	period := tg.cfg.MayBlockThreshold / 4
	if period <= 0 || period > defaultAdjustMaxTasksPeriod {
		period = defaultAdjustMaxTasksPeriod
	}
	tg.adjustTicker = time.NewTicker(period)
	tg.stopAdjust = make(chan struct{})
	go func() {
		for {
			select {
			case <-tg.adjustTicker.C:
				tg.adjustMaxTasks()
			case <-tg.stopAdjust:
				return
			}
		}
	}()
}

func (tg *ThreadGroup) adjustMaxTasks() {
	now := nowFunc()
	tg.mu.Lock()
	workers := append([]*worker(nil), tg.workers...)
	tg.mu.Unlock()

	for _, w := range workers {
		tg.mu.Lock()
		due := w.mayBlockActive && now.Sub(w.blockingStartedAt) > tg.cfg.MayBlockThreshold
		tg.mu.Unlock()
		if due {
			w.escalateMayBlockToWillBlock()
		}
	}
}
