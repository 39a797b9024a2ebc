package queue

import (
	"testing"
	"time"

	"github.com/ChuLiYu/threadpool/internal/tasksource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(p tasksource.Priority) *tasksource.Sequence {
	return tasksource.NewSequence(tasksource.Traits{Priority: p})
}

func TestPriorityQueueOrdersByPriorityThenAge(t *testing.T) {
	q := New()

	low := seq(tasksource.BestEffort)
	mid := seq(tasksource.UserVisible)
	high := seq(tasksource.UserBlocking)

	now := time.Now()
	q.Push(low, tasksource.SortKey{Priority: tasksource.BestEffort, EarliestReady: now})
	q.Push(high, tasksource.SortKey{Priority: tasksource.UserBlocking, EarliestReady: now})
	q.Push(mid, tasksource.SortKey{Priority: tasksource.UserVisible, EarliestReady: now})

	require.Equal(t, 3, q.Len())
	assert.Equal(t, high, q.PopTaskSource())
	assert.Equal(t, mid, q.PopTaskSource())
	assert.Equal(t, low, q.PopTaskSource())
	assert.True(t, q.IsEmpty())
}

func TestPriorityQueueUpdateSortKeyReheapifies(t *testing.T) {
	q := New()
	a := seq(tasksource.BestEffort)
	b := seq(tasksource.UserVisible)
	q.Push(a, tasksource.SortKey{Priority: tasksource.BestEffort})
	q.Push(b, tasksource.SortKey{Priority: tasksource.UserVisible})

	assert.Equal(t, b, q.PeekTaskSource())

	q.UpdateSortKey(a, tasksource.SortKey{Priority: tasksource.UserBlocking})
	assert.Equal(t, a, q.PeekTaskSource())
	assert.Equal(t, 1, q.NumTaskSourcesWithPriority(tasksource.UserBlocking))
	assert.Equal(t, 0, q.NumTaskSourcesWithPriority(tasksource.BestEffort))
}

func TestPriorityQueueRemove(t *testing.T) {
	q := New()
	a := seq(tasksource.UserVisible)
	b := seq(tasksource.UserVisible)
	q.Push(a, tasksource.SortKey{Priority: tasksource.UserVisible})
	q.Push(b, tasksource.SortKey{Priority: tasksource.UserVisible})

	assert.True(t, q.Remove(a))
	assert.False(t, q.Remove(a), "removing an absent source is a no-op")
	require.Equal(t, 1, q.Len())
	assert.Equal(t, b, q.PopTaskSource())
}

func TestPriorityQueuePushDuplicatePanics(t *testing.T) {
	q := New()
	a := seq(tasksource.UserVisible)
	q.Push(a, tasksource.SortKey{})
	assert.Panics(t, func() {
		q.Push(a, tasksource.SortKey{})
	})
}

func TestPriorityQueueCloseRequiresEmptyOutsideTests(t *testing.T) {
	q := New()
	a := seq(tasksource.UserVisible)
	q.Push(a, tasksource.SortKey{})
	assert.Panics(t, func() { q.Close() })

	q2 := New()
	q2.EnableFlushOnCloseForTesting()
	q2.Push(seq(tasksource.UserVisible), tasksource.SortKey{})
	assert.NotPanics(t, func() { q2.Close() })
	assert.True(t, q2.IsEmpty())
}
