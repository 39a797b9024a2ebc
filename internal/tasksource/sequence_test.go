package tasksource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceFIFOOrder(t *testing.T) {
	seq := NewSequence(Traits{Priority: UserVisible})

	now := time.Now()
	for i := 0; i < 3; i++ {
		wasEmpty := seq.PushImmediateTask(Task{PostedAt: now.Add(time.Duration(i) * time.Millisecond)})
		if i == 0 {
			assert.True(t, wasEmpty)
		} else {
			assert.False(t, wasEmpty)
		}
	}

	seq.DidBecomeRunning()
	defer seq.DidStopRunning()

	var order []time.Time
	for {
		task, status, ok := seq.TakeTask(now.Add(time.Hour))
		if !ok {
			break
		}
		order = append(order, task.PostedAt)
		if status == NoMoreTasks {
			break
		}
	}
	require.Len(t, order, 3)
	assert.True(t, order[0].Before(order[1]))
	assert.True(t, order[1].Before(order[2]))
}

func TestSequenceConcurrencyIsOne(t *testing.T) {
	seq := NewSequence(Traits{})
	assert.True(t, seq.CanAcceptWorker())
	seq.DidBecomeRunning()
	assert.False(t, seq.CanAcceptWorker())
	seq.DidStopRunning()
	assert.True(t, seq.CanAcceptWorker())
}

func TestSequenceRespectsDelay(t *testing.T) {
	seq := NewSequence(Traits{})
	now := time.Now()
	seq.PushImmediateTask(Task{PostedAt: now, DelayedRunTime: now.Add(time.Hour)})

	seq.DidBecomeRunning()
	defer seq.DidStopRunning()

	_, _, ok := seq.TakeTask(now)
	assert.False(t, ok, "not-yet-ready delayed task must not be taken")

	_, status, ok := seq.TakeTask(now.Add(2 * time.Hour))
	require.True(t, ok)
	assert.Equal(t, NoMoreTasks, status)
}

func TestJobTaskSourceRespectsMaxConcurrency(t *testing.T) {
	job := NewJobTaskSource(Traits{Priority: UserBlocking}, func(ctx context.Context) {}, func(active int) int {
		return 2
	})

	assert.True(t, job.CanAcceptWorker())
	job.DidBecomeRunning()
	assert.True(t, job.CanAcceptWorker())
	job.DidBecomeRunning()
	assert.False(t, job.CanAcceptWorker(), "must not exceed max concurrency of 2")

	job.DidStopRunning()
	assert.True(t, job.CanAcceptWorker())
}

func TestJobTaskSourceNotifyConcurrencyExhausted(t *testing.T) {
	job := NewJobTaskSource(Traits{}, func(ctx context.Context) {}, func(active int) int { return 4 })
	job.NotifyConcurrencyExhausted()
	assert.False(t, job.CanAcceptWorker())
}
