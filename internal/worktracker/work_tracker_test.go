package worktracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireFailsWithoutSupportEnabled(t *testing.T) {
	tr := New()
	auth := tr.TryAcquireSyncWorkAuthorization()
	assert.False(t, auth.IsValid())
}

func TestTryAcquireSucceedsWhenIdleAndSupported(t *testing.T) {
	tr := New()
	tr.SetRunTaskSynchronouslyAllowed(true)

	auth := tr.TryAcquireSyncWorkAuthorization()
	require.True(t, auth.IsValid())

	second := tr.TryAcquireSyncWorkAuthorization()
	assert.False(t, second.IsValid(), "only one sync work authorization may be active at a time")

	auth.Release()
	auth.Release() // extra release is harmless

	third := tr.TryAcquireSyncWorkAuthorization()
	assert.True(t, third.IsValid())
	third.Release()
}

func TestOnBeginWorkBlocksAcquisition(t *testing.T) {
	tr := New()
	tr.SetRunTaskSynchronouslyAllowed(true)
	tr.OnBeginWork()

	auth := tr.TryAcquireSyncWorkAuthorization()
	assert.False(t, auth.IsValid())

	tr.OnIdle()
	auth = tr.TryAcquireSyncWorkAuthorization()
	assert.True(t, auth.IsValid())
	auth.Release()
}

func TestWillRequestReloadBlocksAcquisitionUntilIdleAgain(t *testing.T) {
	tr := New()
	tr.SetRunTaskSynchronouslyAllowed(true)

	tr.WillRequestReloadImmediateWorkQueue()
	assert.False(t, tr.TryAcquireSyncWorkAuthorization().IsValid())

	tr.WillReloadImmediateWorkQueues()
	assert.False(t, tr.TryAcquireSyncWorkAuthorization().IsValid(), "queues not yet idle again")

	tr.OnIdle()
	assert.True(t, tr.TryAcquireSyncWorkAuthorization().IsValid())
}

func TestSetRunTaskSynchronouslyAllowedFalseWaitsForRelease(t *testing.T) {
	tr := New()
	tr.SetRunTaskSynchronouslyAllowed(true)
	auth := tr.TryAcquireSyncWorkAuthorization()
	require.True(t, auth.IsValid())

	done := make(chan struct{})
	go func() {
		tr.SetRunTaskSynchronouslyAllowed(false)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("SetRunTaskSynchronouslyAllowed(false) returned before the active authorization was released")
	case <-time.After(20 * time.Millisecond):
	}

	auth.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("SetRunTaskSynchronouslyAllowed(false) never returned after release")
	}

	assert.False(t, tr.TryAcquireSyncWorkAuthorization().IsValid(), "sync work no longer supported")
}

func TestAssertHasWorkForTestingPanicsWhenIdle(t *testing.T) {
	tr := New()
	assert.Panics(t, func() { tr.AssertHasWorkForTesting() })

	tr.OnBeginWork()
	assert.NotPanics(t, func() { tr.AssertHasWorkForTesting() })
}
