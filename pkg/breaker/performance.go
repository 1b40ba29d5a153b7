package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// accuratePredictionThreshold is the |actual-predicted| bound below which a
// prediction counts as accurate. Kept independent of the anomaly and
// significance thresholds rather than tied to either; see DESIGN.md.
const accuratePredictionThreshold = 0.25

// changeRecord captures the error rate observed just before and just after
// one config replacement, so the Performance Monitor can report the
// effectiveness delta.
type changeRecord struct {
	at              time.Time
	errorRateBefore float64
	errorRateAfter  float64
}

// PerformanceMonitor records prediction-vs-actual error and
// parameter-change effectiveness, and publishes Prometheus gauges for both.
type PerformanceMonitor struct {
	mu sync.Mutex

	totalPredictions int64
	accurateCount    int64
	errorSum         float64
	lastError        float64
	lastActual       float64
	lastForecast     float64

	changes []changeRecord

	metrics *performanceGauges
}

type performanceGauges struct {
	accuracyPercent prometheus.Gauge
	avgError        prometheus.Gauge
	lastError       prometheus.Gauge
	actual          prometheus.Gauge
	forecast        prometheus.Gauge
	featureLatency  prometheus.Gauge
	featureError    prometheus.Gauge
	concurrency     prometheus.Gauge
	systemLoad      prometheus.Gauge
	windowSize      prometheus.Gauge
	threshold       prometheus.Gauge
	waitDuration    prometheus.Gauge
	effectiveness   prometheus.Gauge
}

// NewPerformanceMonitor creates a monitor and registers its gauges against
// registry. A nil registry disables metric export (used in tests).
func NewPerformanceMonitor(registry *prometheus.Registry, breakerName string) *PerformanceMonitor {
	labels := prometheus.Labels{"breaker": breakerName}
	g := &performanceGauges{
		accuracyPercent: newGauge(registry, "ml_prediction_accuracy_percent", "Percentage of predictions within the accuracy bound.", labels),
		avgError:        newGauge(registry, "ml_prediction_error_avg", "Running average absolute prediction error.", labels),
		lastError:       newGauge(registry, "ml_prediction_error_last", "Most recent absolute prediction error.", labels),
		actual:          newGauge(registry, "ml_prediction_actual", "Most recent observed target value.", labels),
		forecast:        newGauge(registry, "ml_prediction_forecast", "Most recent composite forecast.", labels),
		featureLatency:  newGauge(registry, "ml_feature_latency", "Most recent normalized latency feature.", labels),
		featureError:    newGauge(registry, "ml_feature_error_rate", "Most recent error-rate feature.", labels),
		concurrency:     newGauge(registry, "ml_feature_concurrency", "Most recent normalized concurrency feature.", labels),
		systemLoad:      newGauge(registry, "ml_feature_system_load", "Most recent normalized system-load feature.", labels),
		windowSize:      newGauge(registry, "ml_config_window_size", "Current breaker window size knob.", labels),
		threshold:       newGauge(registry, "ml_config_threshold", "Current breaker failure-rate threshold knob.", labels),
		waitDuration:    newGauge(registry, "ml_config_wait_duration", "Current breaker open-state wait knob, in milliseconds.", labels),
		effectiveness:   newGauge(registry, "ml_config_effectiveness", "Effectiveness delta of the most recent config change.", labels),
	}
	return &PerformanceMonitor{metrics: g}
}

func newGauge(registry *prometheus.Registry, name, help string, labels prometheus.Labels) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help, ConstLabels: labels})
	if registry != nil {
		registry.MustRegister(g)
	}
	return g
}

// RecordPrediction records one prediction-vs-actual pair, updating the
// running average error and accurate-prediction count.
func (pm *PerformanceMonitor) RecordPrediction(predicted, actual float64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	err := predicted - actual
	if err < 0 {
		err = -err
	}

	pm.totalPredictions++
	pm.errorSum += err
	pm.lastError = err
	pm.lastActual = actual
	pm.lastForecast = predicted
	if err < accuratePredictionThreshold {
		pm.accurateCount++
	}

	pm.metrics.lastError.Set(err)
	pm.metrics.avgError.Set(pm.errorSum / float64(pm.totalPredictions))
	pm.metrics.actual.Set(actual)
	pm.metrics.forecast.Set(predicted)
	pm.metrics.accuracyPercent.Set(100 * float64(pm.accurateCount) / float64(pm.totalPredictions))
}

// RecordFeatures publishes the feature telemetry gauges (latency,
// error_rate, concurrency, system_load); the caller passes the normalized
// values.
func (pm *PerformanceMonitor) RecordFeatures(latencyNorm, errorRate, concurrencyNorm, loadNorm float64) {
	pm.metrics.featureLatency.Set(latencyNorm)
	pm.metrics.featureError.Set(errorRate)
	pm.metrics.concurrency.Set(concurrencyNorm)
	pm.metrics.systemLoad.Set(loadNorm)
}

// RecordConfig publishes the current knob gauges.
func (pm *PerformanceMonitor) RecordConfig(cfg Config) {
	pm.metrics.windowSize.Set(float64(cfg.WindowSize))
	pm.metrics.threshold.Set(cfg.FailureRateThreshold)
	pm.metrics.waitDuration.Set(float64(cfg.OpenStateWait.Milliseconds()))
}

// RecordConfigChange opens a new effectiveness window at the moment a
// config replacement happens, capturing the error rate just before it.
func (pm *PerformanceMonitor) RecordConfigChange(errorRateBefore float64, at time.Time) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.changes = append(pm.changes, changeRecord{at: at, errorRateBefore: errorRateBefore})
}

// ObserveEffectiveness closes out the most recent open change window with
// the error rate observed afterward, and publishes the effectiveness delta
// (post-change error_rate − pre-change error_rate; negative is good).
func (pm *PerformanceMonitor) ObserveEffectiveness(errorRateAfter float64) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if len(pm.changes) == 0 {
		return
	}
	last := &pm.changes[len(pm.changes)-1]
	if last.errorRateAfter != 0 {
		return // already closed out
	}
	last.errorRateAfter = errorRateAfter
	delta := errorRateAfter - last.errorRateBefore
	pm.metrics.effectiveness.Set(delta)
}

// AvgError reports the running average absolute prediction error.
func (pm *PerformanceMonitor) AvgError() float64 {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.totalPredictions == 0 {
		return 0
	}
	return pm.errorSum / float64(pm.totalPredictions)
}

// Report renders the hourly human-readable summary asks for.
func (pm *PerformanceMonitor) Report() string {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	accuracy := 0.0
	avgErr := 0.0
	if pm.totalPredictions > 0 {
		accuracy = 100 * float64(pm.accurateCount) / float64(pm.totalPredictions)
		avgErr = pm.errorSum / float64(pm.totalPredictions)
	}

	return fmt.Sprintf(
		"performance report: predictions=%d accuracy=%.1f%% avg_error=%.4f last_error=%.4f config_changes=%d",
		pm.totalPredictions, accuracy, avgErr, pm.lastError, len(pm.changes),
	)
}
