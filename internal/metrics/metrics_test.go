package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.tasksPosted)
	assert.NotNil(t, collector.tasksRejected)
	assert.NotNil(t, collector.tasksCompleted)
	assert.NotNil(t, collector.taskLatency)
	assert.NotNil(t, collector.queuedTaskSources)
	assert.NotNil(t, collector.runningTasks)
	assert.NotNil(t, collector.maxTasks)
	assert.NotNil(t, collector.fenceActive)
	assert.NotNil(t, collector.bestEffortFenceActive)
	assert.NotNil(t, collector.shutdownPhase)
}

func TestRecordPostedAndRejected(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		for i := 0; i < 5; i++ {
			collector.RecordPosted()
		}
		for i := 0; i < 2; i++ {
			collector.RecordRejected()
		}
	})
}

func TestRecordCompleted(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	latencies := []float64{0.001, 0.01, 0.1, 1.0, 5.0}
	for _, latency := range latencies {
		assert.NotPanics(t, func() {
			collector.RecordCompleted(latency)
		}, "RecordCompleted should not panic with latency %f", latency)
	}
}

func TestSetGroupStats(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	testCases := []struct {
		name             string
		queued, running, max int
	}{
		{"zero values", 0, 0, 4},
		{"normal values", 10, 5, 8},
		{"saturated", 20, 20, 20},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				collector.SetGroupStats("foreground", tc.queued, tc.running, tc.max)
				collector.SetGroupStats("background", tc.queued, tc.running, tc.max)
			})
		})
	}
}

func TestSetFenceStateAndShutdownPhase(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.SetFenceState(true, false)
		collector.SetFenceState(false, true)
		collector.SetShutdownPhase(0)
		collector.SetShutdownPhase(1)
		collector.SetShutdownPhase(2)
	})
}

func TestConcurrentMetricUpdates(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			collector.RecordPosted()
			collector.RecordCompleted(0.1)
			collector.SetGroupStats("foreground", 10, 5, 8)
			done <- true
		}()
	}
	for i := 0; i < 100; i++ {
		<-done
	}
}

func TestCollectorIsolation(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()

	collector1 := NewCollector()
	require.NotNil(t, collector1)

	// Second collector will panic due to duplicate registration
	// This is expected: a process should have only one collector.
	assert.Panics(t, func() {
		NewCollector()
	}, "Creating a second collector should panic due to duplicate registration")
}

func TestTaskLifecycleSequence(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordPosted()
		collector.SetGroupStats("foreground", 1, 0, 4)

		collector.SetGroupStats("foreground", 0, 1, 4)

		collector.RecordCompleted(0.5)
		collector.SetGroupStats("foreground", 0, 0, 4)
	}, "Complete task lifecycle should not panic")
}

func TestRejectionScenario(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordPosted()
		collector.RecordRejected()
		collector.SetShutdownPhase(1)
	})
}

func TestZeroAndNegativeValues(t *testing.T) {
	prometheus.DefaultRegisterer = prometheus.NewRegistry()
	collector := NewCollector()

	assert.NotPanics(t, func() {
		collector.RecordCompleted(0.0)
		collector.SetGroupStats("foreground", 0, 0, 0)
		collector.SetGroupStats("foreground", -1, -1, -1) // negative values (shouldn't happen)
	}, "Edge case values should not panic")
}
