// Package features turns a metric snapshot plus recent history into the
// fixed-width feature vector the regressor ensemble, forecaster and anomaly
// detector all consume.
package features

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/metrics"
)

// Width is the fixed feature-vector length F.
const Width = 15

// Index names, fixed — tests assert by index.
const (
	IdxLatencyNorm = iota
	IdxErrorRate
	IdxConcurrencyNorm
	IdxLoadNorm
	IdxTimeOfDay
	IdxErrorTrend
	IdxLatencyTrend
	IdxStabilityScore
	IdxLatencyXError
	IdxLatencySquared
	IdxConcurrencyXError
	IdxLoadXLatency
	IdxIsBusinessHours
	IdxIsNighttime
	IdxRecentFailureDecay
)

const trendWindowCapacity = 10
const trainingMemoryCapacity = 100

// Vector is a fixed-width feature vector.
type Vector [Width]float64

// Example is a (feature vector, target) training pair.
type Example struct {
	Features Vector
	Target   float64
}

// Engineer maintains a bounded trend window and training memory and
// extracts feature vectors from snapshots.
type Engineer struct {
	trend    []metrics.MetricSnapshot // bounded to trendWindowCapacity, oldest first
	training []Example                // bounded to trainingMemoryCapacity, oldest first
}

// New creates an empty Feature Engineer.
func New() *Engineer {
	return &Engineer{
		trend:    make([]metrics.MetricSnapshot, 0, trendWindowCapacity),
		training: make([]Example, 0, trainingMemoryCapacity),
	}
}

// Extract computes the feature vector for snapshot, folding in whatever
// trend history has accumulated so far, then appends snapshot to the trend
// window (evicting the oldest entry on overflow).
func (e *Engineer) Extract(snapshot metrics.MetricSnapshot) Vector {
	var v Vector

	latencyMs := float64(snapshot.P95Latency) / float64(1e6)
	v[IdxLatencyNorm] = latencyMs / 1000
	v[IdxErrorRate] = snapshot.ErrorRate
	v[IdxConcurrencyNorm] = snapshot.Concurrency / 10
	v[IdxLoadNorm] = snapshot.SystemLoad / 10
	v[IdxTimeOfDay] = snapshot.TimeOfDay

	v[IdxErrorTrend] = e.errorTrend(snapshot)
	v[IdxLatencyTrend] = e.latencyTrend(snapshot)
	v[IdxStabilityScore] = e.stabilityScore(snapshot)
	v[IdxRecentFailureDecay] = e.recentFailureDecay()

	v[IdxLatencyXError] = v[IdxLatencyNorm] * v[IdxErrorRate]
	v[IdxLatencySquared] = v[IdxLatencyNorm] * v[IdxLatencyNorm]
	v[IdxConcurrencyXError] = v[IdxConcurrencyNorm] * v[IdxErrorRate]
	v[IdxLoadXLatency] = v[IdxLoadNorm] * v[IdxLatencyNorm]

	if snapshot.TimeOfDay >= 0.33 && snapshot.TimeOfDay <= 0.75 {
		v[IdxIsBusinessHours] = 1
	}
	if snapshot.TimeOfDay <= 0.25 || snapshot.TimeOfDay >= 0.875 {
		v[IdxIsNighttime] = 1
	}

	e.pushTrend(snapshot)

	for i, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			log.Warn().Int("index", i).Msg("feature engineer produced non-finite value, clamping to 0")
			v[i] = 0
		}
	}
	return v
}

func (e *Engineer) pushTrend(s metrics.MetricSnapshot) {
	if len(e.trend) == trendWindowCapacity {
		copy(e.trend, e.trend[1:])
		e.trend[len(e.trend)-1] = s
		return
	}
	e.trend = append(e.trend, s)
}

// RecordTrainingExample appends a (features, target) pair, evicting the
// oldest on overflow at capacity M.
func (e *Engineer) RecordTrainingExample(f Vector, target float64) {
	ex := Example{Features: f, Target: target}
	if len(e.training) == trainingMemoryCapacity {
		copy(e.training, e.training[1:])
		e.training[len(e.training)-1] = ex
		return
	}
	e.training = append(e.training, ex)
}

// RecentBatch returns the most recent n training examples, oldest first. If
// fewer than n are available, it returns what exists (possibly empty).
func (e *Engineer) RecentBatch(n int) []Example {
	if n <= 0 || len(e.training) == 0 {
		return nil
	}
	if n > len(e.training) {
		n = len(e.training)
	}
	out := make([]Example, n)
	copy(out, e.training[len(e.training)-n:])
	return out
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// errorTrend compares the latest error rate against a weighted average of
// the trend window, scaled into [-1, 1].
func (e *Engineer) errorTrend(newest metrics.MetricSnapshot) float64 {
	hist := e.trend
	switch {
	case len(hist) >= 3:
		weighted := ewma(errorRates(hist), 0.8)
		return clip((newest.ErrorRate-weighted)*5, -1, 1)
	case len(hist) == 2:
		oldest := hist[0].ErrorRate
		return clip((newest.ErrorRate-oldest)*5, -1, 1)
	default:
		return 0
	}
}

// latencyTrend is (newest_p95 - oldest_p95) / 500, in millisecond units.
func (e *Engineer) latencyTrend(newest metrics.MetricSnapshot) float64 {
	if len(e.trend) == 0 {
		return 0
	}
	oldest := e.trend[0]
	newestMs := float64(newest.P95Latency) / float64(1e6)
	oldestMs := float64(oldest.P95Latency) / float64(1e6)
	return clip((newestMs-oldestMs)/500, -1, 1)
}

// stabilityScore blends error rate, latency headroom and load balance, then
// damps the result when recent history shows high variance.
func (e *Engineer) stabilityScore(newest metrics.MetricSnapshot) float64 {
	p95Ms := float64(newest.P95Latency) / float64(1e6)
	latencyComponent := math.Max(0, 1-p95Ms/2000)
	loadComponent := clip(1-1.5*math.Abs(0.6-newest.SystemLoad/10), 0, 1)
	score := 0.5*(1-newest.ErrorRate) + 0.3*latencyComponent + 0.2*loadComponent

	if len(e.trend) >= 3 {
		errVar := variance(errorRates(e.trend))
		latVar := variance(latenciesMs(e.trend))
		normErrVar := math.Min(1, errVar*20)
		normLatVar := math.Min(1, latVar*5)
		varianceComponent := 1 - (0.6*normErrVar + 0.4*normLatVar)
		score *= 0.8 + 0.2*varianceComponent
	}
	return clip(score, 0, 1)
}

// recentFailureDecay exponentially weights recent error rates toward the
// most recent snapshot.
func (e *Engineer) recentFailureDecay() float64 {
	if len(e.trend) == 0 {
		return 0
	}
	weighted := ewma(errorRates(e.trend), 0.7)
	return clip(weighted*2, 0, 1)
}

// ewma returns an exponentially weighted mean over values (oldest..newest)
// where decay discounts older samples: weight(i) = decay^(age), age
// measured from the newest sample backwards.
func ewma(values []float64, decay float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	var weightedSum, weightSum float64
	for i, v := range values {
		age := n - 1 - i
		w := math.Pow(decay, float64(age))
		weightedSum += w * v
		weightSum += w
	}
	if weightSum == 0 {
		return 0
	}
	return weightedSum / weightSum
}

func variance(values []float64) float64 {
	n := len(values)
	if n == 0 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(n)
}

func errorRates(snaps []metrics.MetricSnapshot) []float64 {
	out := make([]float64, len(snaps))
	for i, s := range snaps {
		out[i] = s.ErrorRate
	}
	return out
}

func latenciesMs(snaps []metrics.MetricSnapshot) []float64 {
	out := make([]float64, len(snaps))
	for i, s := range snaps {
		out[i] = float64(s.P95Latency) / float64(1e6)
	}
	return out
}
