package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricWindow_EmptySnapshot(t *testing.T) {
	w := NewMetricWindow(10)
	snap := w.Snapshot()
	assert.Equal(t, 1.0, snap.SuccessRate)
	assert.Equal(t, 0, snap.Count)
}

func TestMetricWindow_Aggregates(t *testing.T) {
	w := NewMetricWindow(10)
	for i := 0; i < 8; i++ {
		w.Record(MetricRecord{
			Latency:    time.Duration(i+1) * 10 * time.Millisecond,
			Success:    i%4 != 0, // 2 failures out of 8
			InFlight:   i,
			SystemLoad: float64(i),
		})
	}

	snap := w.Snapshot()
	assert.Equal(t, 8, snap.Count)
	assert.InDelta(t, 0.25, snap.ErrorRate, 1e-9)
	assert.InDelta(t, 0.75, snap.SuccessRate, 1e-9)
	assert.Greater(t, snap.P95Latency, time.Duration(0))
}

func TestMetricWindow_EvictsOldestOnOverflow(t *testing.T) {
	w := NewMetricWindow(3)
	for i := 0; i < 5; i++ {
		w.Record(MetricRecord{Success: true})
	}
	assert.Equal(t, 3, w.Len())
}

func TestMetricWindow_DefaultsCapacityWhenNonPositive(t *testing.T) {
	w := NewMetricWindow(0)
	for i := 0; i < DefaultWindowCapacity+1; i++ {
		w.Record(MetricRecord{Success: true})
	}
	assert.Equal(t, DefaultWindowCapacity, w.Len())
}

func TestP95Latency_OrderStatistic(t *testing.T) {
	w := NewMetricWindow(100)
	for i := 1; i <= 100; i++ {
		w.Record(MetricRecord{Latency: time.Duration(i) * time.Millisecond, Success: true})
	}
	snap := w.Snapshot()
	assert.Equal(t, 95*time.Millisecond, snap.P95Latency)
}
