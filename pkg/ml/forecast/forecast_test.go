package forecast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForecaster_InitialForecastIsZero(t *testing.T) {
	f := New()
	assert.Equal(t, 0.0, f.Forecast())
}

func TestForecaster_ForecastAlwaysClipped(t *testing.T) {
	f := New()
	for i := 0; i < 20; i++ {
		f.Update(1.0)
		y := f.Forecast()
		assert.GreaterOrEqual(t, y, 0.0)
		assert.LessOrEqual(t, y, 1.0)
	}
}

func TestForecaster_LearnsConstantTarget(t *testing.T) {
	f := New()
	for i := 0; i < 200; i++ {
		f.Forecast()
		f.Update(0.7)
	}
	y := f.Forecast()
	assert.InDelta(t, 0.7, y, 0.1)
}

func TestForecaster_RenormalizeKeepsCoefficientsBounded(t *testing.T) {
	f := New()
	for i := 0; i < renormalizeEvery*3; i++ {
		f.Forecast()
		f.Update(1.0)
	}
	var sumAR, sumMA float64
	for _, a := range f.ar {
		sumAR += abs(a)
	}
	for _, b := range f.ma {
		sumMA += abs(b)
	}
	assert.LessOrEqual(t, sumAR, maxSumAbsAR+1e-9)
	assert.LessOrEqual(t, sumMA, maxSumAbsMA+1e-9)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
