package threshold

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/metrics"
)

func healthySnapshot() metrics.MetricSnapshot {
	return metrics.MetricSnapshot{
		P95Latency:  50 * time.Millisecond,
		ErrorRate:   0.01,
		SuccessRate: 0.99,
		Concurrency: 2,
		SystemLoad:  3,
		TimeOfDay:   0.5,
	}
}

func degradedSnapshot() metrics.MetricSnapshot {
	return metrics.MetricSnapshot{
		P95Latency:  1500 * time.Millisecond,
		ErrorRate:   0.6,
		SuccessRate: 0.4,
		Concurrency: 9,
		SystemLoad:  9,
		TimeOfDay:   0.5,
	}
}

func TestPredictor_TickReturnsKnobsInRange(t *testing.T) {
	p := New(10)
	pred, _ := p.Tick(healthySnapshot())
	assert.GreaterOrEqual(t, pred.WindowSize, MinWindowSize)
	assert.LessOrEqual(t, pred.WindowSize, MaxWindowSize)
	assert.GreaterOrEqual(t, pred.FailureRate, MinFailureRate)
	assert.LessOrEqual(t, pred.FailureRate, MaxFailureRate)
	assert.GreaterOrEqual(t, pred.OpenWaitMs, MinOpenWaitMs)
	assert.LessOrEqual(t, pred.OpenWaitMs, MaxOpenWaitMs)
}

func TestPredictor_DegradedTrafficShiftsTowardConservativeKnobs(t *testing.T) {
	p := New(10)
	for i := 0; i < 30; i++ {
		p.Tick(healthySnapshot())
	}
	healthyPred, _ := p.Tick(healthySnapshot())

	for i := 0; i < 30; i++ {
		p.Tick(degradedSnapshot())
	}
	degradedPred, _ := p.Tick(degradedSnapshot())

	assert.GreaterOrEqual(t, degradedPred.FailureRate, healthyPred.FailureRate)
	assert.LessOrEqual(t, degradedPred.WindowSize, healthyPred.WindowSize)
}

func TestPredictor_TrainsEnsembleOnEveryTick(t *testing.T) {
	p := New(10)
	before := p.Ensemble.Predict(p.Features.Extract(healthySnapshot()))
	for i := 0; i < 5; i++ {
		p.Tick(healthySnapshot())
	}
	after := p.Ensemble.Predict(p.Features.Extract(healthySnapshot()))
	assert.NotEqual(t, before, after)
}
