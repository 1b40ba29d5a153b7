// Package breaker implements the adaptive config manager, the breaker
// state machine and the ML breaker orchestrator: a per-instance circuit
// breaker whose window, failure-rate threshold and open-state wait are
// continuously re-derived from a learning pipeline rather than fixed at
// startup.
package breaker

import (
	"math"
	"time"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/metrics"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/ml/threshold"
)

// Config is the BreakerConfig: the three tunable knobs plus
// the fixed operational constants.
type Config struct {
	WindowSize           int
	FailureRateThreshold float64
	OpenStateWait        time.Duration

	MinCallsBeforeEval     int
	HalfOpenPermittedCalls int
	SlowCallRateThreshold  float64
	SlowCallDuration       time.Duration
}

// SafeDefaults is the conservative knob set installed when ML
// initialization fails: window=100, threshold=0.5, wait=30s.
func SafeDefaults() Config {
	return Config{
		WindowSize:             100,
		FailureRateThreshold:   0.5,
		OpenStateWait:          30 * time.Second,
		MinCallsBeforeEval:     10,
		HalfOpenPermittedCalls: 5,
		SlowCallRateThreshold:  0.5,
		SlowCallDuration:       time.Second,
	}
}

func (c Config) withPrediction(p threshold.Prediction) Config {
	c.WindowSize = p.WindowSize
	c.FailureRateThreshold = p.FailureRate
	c.OpenStateWait = time.Duration(p.OpenWaitMs) * time.Millisecond
	return c
}

// reconfigurer is the seam the orchestrator drives each ML tick through.
// *ConfigManager is the only production implementation; tests substitute a
// fake to exercise the per-tick failure-isolation path (spec.md §8 S6),
// which a real predictor has no deterministic way to trigger.
type reconfigurer interface {
	UpdatedConfig(snapshot metrics.MetricSnapshot) (Config, bool)
	IsSignificant(newCfg, oldCfg Config) bool
	LastPrediction() float64
	SaveModel() []byte
}

// ConfigManager packages the predictor's knobs into a Config and decides
// whether a candidate replacement differs enough from the current one to
// matter.
type ConfigManager struct {
	predictor         *threshold.Predictor
	significantChange float64
	base              Config
	lastPrediction    float64
}

// NewConfigManager creates a manager seeded with the predictor and the
// fixed operational constants to carry into every derived Config.
func NewConfigManager(predictor *threshold.Predictor, significantChange float64, base Config) *ConfigManager {
	if significantChange <= 0 {
		significantChange = 0.10
	}
	return &ConfigManager{predictor: predictor, significantChange: significantChange, base: base}
}

// UpdatedConfig runs the threshold predictor over snapshot and packages the
// resulting knobs with the fixed operational constants. It reports whether
// this snapshot was itself judged anomalous.
func (m *ConfigManager) UpdatedConfig(snapshot metrics.MetricSnapshot) (cfg Config, anomalous bool) {
	pred, anomalous := m.predictor.Tick(snapshot)
	m.lastPrediction = pred.LastPrediction
	return m.base.withPrediction(pred), anomalous
}

// LastPrediction reports the composite score from the most recent tick.
func (m *ConfigManager) LastPrediction() float64 {
	return m.lastPrediction
}

// SaveModel serializes the predictor's ensemble into a persistable blob.
func (m *ConfigManager) SaveModel() []byte {
	return m.predictor.Ensemble.Save()
}

// IsSignificant reports whether newCfg differs enough from oldCfg to
// warrant a replacement: any knob's relative change exceeds the configured
// threshold (default 10%), or the open-state wait changes by more than 1s
// in absolute terms.
func (m *ConfigManager) IsSignificant(newCfg, oldCfg Config) bool {
	if relativeChange(float64(newCfg.WindowSize), float64(oldCfg.WindowSize)) > m.significantChange {
		return true
	}
	if relativeChange(newCfg.FailureRateThreshold, oldCfg.FailureRateThreshold) > m.significantChange {
		return true
	}
	if relativeChange(float64(newCfg.OpenStateWait), float64(oldCfg.OpenStateWait)) > m.significantChange {
		return true
	}
	if math.Abs(float64(newCfg.OpenStateWait-oldCfg.OpenStateWait)) > float64(time.Second) {
		return true
	}
	return false
}

func relativeChange(newV, oldV float64) float64 {
	denom := math.Max(math.Abs(oldV), 1e-9)
	return math.Abs(newV-oldV) / denom
}

