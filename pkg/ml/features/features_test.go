package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/metrics"
)

func TestEngineer_ExtractProducesFiniteVector(t *testing.T) {
	e := New()
	snap := metrics.MetricSnapshot{
		P95Latency:  50 * time.Millisecond,
		ErrorRate:   0.1,
		SuccessRate: 0.9,
		Concurrency: 3,
		SystemLoad:  4,
		TimeOfDay:   0.5,
	}
	v := e.Extract(snap)
	for i, f := range v {
		assert.False(t, math.IsNaN(f) || math.IsInf(f, 0), "feature %d is non-finite", i)
	}
}

func TestEngineer_TrendsRequireHistory(t *testing.T) {
	e := New()
	snap := metrics.MetricSnapshot{ErrorRate: 0.5, TimeOfDay: 0.5}
	v := e.Extract(snap)
	assert.Equal(t, 0.0, v[IdxErrorTrend], "first observation has no trend history")
	assert.Equal(t, 0.0, v[IdxLatencyTrend])
}

func TestEngineer_ErrorTrendRespondsToWorseningRate(t *testing.T) {
	e := New()
	for i := 0; i < 4; i++ {
		e.Extract(metrics.MetricSnapshot{ErrorRate: 0.05})
	}
	v := e.Extract(metrics.MetricSnapshot{ErrorRate: 0.8})
	assert.Greater(t, v[IdxErrorTrend], 0.0)
}

func TestEngineer_BusinessHoursAndNighttimeFlags(t *testing.T) {
	e := New()
	business := e.Extract(metrics.MetricSnapshot{TimeOfDay: 0.5})
	assert.Equal(t, 1.0, business[IdxIsBusinessHours])
	assert.Equal(t, 0.0, business[IdxIsNighttime])

	night := e.Extract(metrics.MetricSnapshot{TimeOfDay: 0.9})
	assert.Equal(t, 1.0, night[IdxIsNighttime])
	assert.Equal(t, 0.0, night[IdxIsBusinessHours])
}

func TestEngineer_RecentBatchBoundedAndOldestFirst(t *testing.T) {
	e := New()
	for i := 0; i < 5; i++ {
		e.RecordTrainingExample(Vector{}, float64(i))
	}
	batch := e.RecentBatch(3)
	assert.Len(t, batch, 3)
	assert.Equal(t, 2.0, batch[0].Target)
	assert.Equal(t, 4.0, batch[2].Target)

	assert.Nil(t, e.RecentBatch(0))
}

func TestEngineer_RecentBatchCapsAtAvailableExamples(t *testing.T) {
	e := New()
	e.RecordTrainingExample(Vector{}, 1)
	batch := e.RecentBatch(10)
	assert.Len(t, batch, 1)
}
