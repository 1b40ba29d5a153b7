// Package threshold combines the ensemble regressor, the ARMA forecaster
// and the anomaly detector into the three breaker knobs: the ensemble and
// time-series scores are blended behind a confidence weight that grows with
// experience and is dampened by anomaly severity.
package threshold

import (
	"github.com/khryptorgraphics/adaptivebreaker/pkg/ml/anomaly"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/ml/ensemble"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/ml/features"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/ml/forecast"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/metrics"
)

// Knob ranges and fixed operational constants.
const (
	MinWindowSize = 10
	MaxWindowSize = 100

	MinFailureRate = 0.2
	MaxFailureRate = 0.8

	MinOpenWaitMs = 1000
	MaxOpenWaitMs = 60000
)

// Prediction is the output of one predictor tick: the three knobs plus the
// composite score that produced them.
type Prediction struct {
	WindowSize     int
	FailureRate    float64
	OpenWaitMs     int
	LastPrediction float64
}

// Predictor owns the ensemble, forecaster and anomaly detector used to
// derive the knobs, plus the feature engineer that feeds them. It is not
// safe for concurrent use — callers must serialize access.
type Predictor struct {
	Features  *features.Engineer
	Ensemble  *ensemble.Ensemble
	Forecast  *forecast.Forecaster
	Anomaly   *anomaly.Detector
	tickCount int

	trainingInterval int
}

const defaultTrainingInterval = 10

// New creates a Predictor with fresh learning components. trainingInterval
// is the tick cadence (breaker.ml.training_interval) at which the ensemble
// is batch-trained over its recent examples instead of learning one example
// at a time; a non-positive value falls back to defaultTrainingInterval.
func New(trainingInterval int) *Predictor {
	if trainingInterval <= 0 {
		trainingInterval = defaultTrainingInterval
	}
	return &Predictor{
		Features:         features.New(),
		Ensemble:         ensemble.New(),
		Forecast:         forecast.New(),
		Anomaly:          anomaly.New(anomaly.DefaultThreshold),
		trainingInterval: trainingInterval,
	}
}

// Tick extracts features, forecasts, detects anomalies, combines them into
// a composite score, derives knobs from it, and feeds the observed target
// back into the ensemble and the forecaster.
//
// anomalous reports whether this snapshot was itself flagged as anomalous —
// callers use that to decide whether to suppress reconfiguration for this
// tick; Tick always still trains the ensemble and the forecaster.
func (p *Predictor) Tick(snapshot metrics.MetricSnapshot) (pred Prediction, anomalous bool) {
	p.tickCount++

	f := p.Features.Extract(snapshot)
	forecastTS := p.Forecast.Forecast()
	forecastEnsemble := p.Ensemble.Predict(f)
	isAnom, anomScore := p.Anomaly.IsAnomaly(f)

	ensembleWeight := minFloat(0.8, 0.4+0.4*minFloat(1, float64(p.tickCount)/100))
	if anomScore > 0.8 {
		ensembleWeight *= 1 - (anomScore-0.8)*0.5
	}

	composite := ensembleWeight*forecastEnsemble + (1-ensembleWeight)*forecastTS

	errorTrend := f[features.IdxErrorTrend]
	latencyTrend := f[features.IdxLatencyTrend]
	if errorTrend > 0.3 {
		composite *= 1 - (errorTrend-0.3)*0.5
	}
	if latencyTrend > 0.3 {
		composite *= 1 - (latencyTrend-0.3)*0.3
	}
	composite = clip01(composite)

	pred = Prediction{
		WindowSize:     roundInt(MinWindowSize + (1-composite)*(MaxWindowSize-MinWindowSize)),
		FailureRate:    MinFailureRate + composite*(MaxFailureRate-MinFailureRate),
		OpenWaitMs:     roundInt(MinOpenWaitMs + (1-composite)*(MaxOpenWaitMs-MinOpenWaitMs)),
		LastPrediction: composite,
	}

	p95Ms := float64(snapshot.P95Latency) / float64(1e6)
	latencyScore := maxFloat(0, 1-p95Ms/2000)
	target := 0.6*snapshot.SuccessRate + 0.3*latencyScore + 0.1*f[features.IdxStabilityScore]

	p.Features.RecordTrainingExample(f, target)

	if p.tickCount%p.trainingInterval == 0 {
		batch := p.Features.RecentBatch(p.trainingInterval)
		if len(batch) >= p.trainingInterval {
			p.Ensemble.LearnBatch(batch)
		} else {
			p.Ensemble.Learn(f, target)
		}
	} else {
		p.Ensemble.Learn(f, target)
	}
	p.Forecast.Update(target)

	return pred, isAnom
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func roundInt(v float64) int {
	if v < 0 {
		return int(v - 0.5)
	}
	return int(v + 0.5)
}
