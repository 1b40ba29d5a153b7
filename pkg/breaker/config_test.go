package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/metrics"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/ml/threshold"
)

func TestSafeDefaults_Values(t *testing.T) {
	cfg := SafeDefaults()
	assert.Equal(t, 100, cfg.WindowSize)
	assert.Equal(t, 0.5, cfg.FailureRateThreshold)
	assert.Equal(t, 30*time.Second, cfg.OpenStateWait)
}

func TestConfigManager_DefaultsSignificantChangeWhenNonPositive(t *testing.T) {
	m := NewConfigManager(threshold.New(10), 0, SafeDefaults())
	assert.Equal(t, 0.10, m.significantChange)
	assert.False(t, m.IsSignificant(SafeDefaults(), SafeDefaults()))
}

func TestConfigManager_UpdatedConfigTracksLastPrediction(t *testing.T) {
	m := NewConfigManager(threshold.New(10), 0.1, SafeDefaults())
	assert.Equal(t, 0.0, m.LastPrediction())

	_, _ = m.UpdatedConfig(metrics.MetricSnapshot{SuccessRate: 1})
	assert.NotEqual(t, 0.0, m.lastPrediction)
	assert.Equal(t, m.lastPrediction, m.LastPrediction())
}

func TestConfigManager_IsSignificant(t *testing.T) {
	m := NewConfigManager(threshold.New(10), 0.1, SafeDefaults())
	base := SafeDefaults()

	assert.False(t, m.IsSignificant(base, base), "identical configs are never significant")

	small := base
	small.FailureRateThreshold += 0.01
	assert.False(t, m.IsSignificant(small, base), "a 2% relative change stays below the 10% threshold")

	big := base
	big.FailureRateThreshold = base.FailureRateThreshold * 1.5
	assert.True(t, m.IsSignificant(big, base))

	waitChange := base
	waitChange.OpenStateWait = base.OpenStateWait + 2*time.Second
	assert.True(t, m.IsSignificant(waitChange, base), "absolute wait changes over 1s are always significant")
}
