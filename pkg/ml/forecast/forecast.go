// Package forecast implements an ARMA-like temporal prior: fixed-order
// autoregressive and moving-average coefficients updated one step at a time
// by online gradient descent, with periodic L1-norm renormalization to keep
// the coefficients stable.
package forecast

import "math"

const (
	arOrder = 5
	maOrder = 3

	learningRate     = 0.01
	renormalizeEvery = 50
	maxSumAbsAR      = 0.95
	maxSumAbsMA      = 0.5
)

// Forecaster holds AR/MA coefficients and bounded history of past values
// and residuals.
type Forecaster struct {
	ar []float64
	ma []float64

	pastValues    []float64 // bounded to arOrder, most recent last
	pastResiduals []float64 // bounded to maOrder, most recent last

	lastForecast float64
	updateCount  int
}

// New creates a Forecaster with zero-initialized coefficients.
func New() *Forecaster {
	return &Forecaster{
		ar: make([]float64, arOrder),
		ma: make([]float64, maOrder),
	}
}

// Forecast computes ŷₜ = Σ aᵢ·yₜ₋ᵢ + Σ bⱼ·εₜ₋ⱼ, clipped to [0,1].
func (f *Forecaster) Forecast() float64 {
	var y float64
	for i, a := range f.ar {
		y += a * f.lagValue(i)
	}
	for j, b := range f.ma {
		y += b * f.lagResidual(j)
	}
	y = clip01(y)
	f.lastForecast = y
	return y
}

// lagValue returns yₜ₋₍i+1₎; 0 if history doesn't reach that far back.
func (f *Forecaster) lagValue(i int) float64 {
	idx := len(f.pastValues) - 1 - i
	if idx < 0 {
		return 0
	}
	return f.pastValues[idx]
}

func (f *Forecaster) lagResidual(j int) float64 {
	idx := len(f.pastResiduals) - 1 - j
	if idx < 0 {
		return 0
	}
	return f.pastResiduals[idx]
}

// Update feeds the observed target value y back into the model: records the
// residual against the last forecast, runs one gradient step on the AR/MA
// coefficients, renormalizes every renormalizeEvery updates, then pushes y
// and the residual into history.
func (f *Forecaster) Update(y float64) {
	residual := y - f.lastForecast

	for i := range f.ar {
		grad := -2 * residual * f.lagValue(i)
		f.ar[i] -= learningRate * grad
	}
	for j := range f.ma {
		grad := -2 * residual * f.lagResidual(j)
		f.ma[j] -= learningRate * grad
	}

	f.updateCount++
	if f.updateCount%renormalizeEvery == 0 {
		f.renormalize()
	}

	f.pushValue(y)
	f.pushResidual(residual)
}

func (f *Forecaster) pushValue(y float64) {
	if len(f.pastValues) == arOrder {
		copy(f.pastValues, f.pastValues[1:])
		f.pastValues[arOrder-1] = y
		return
	}
	f.pastValues = append(f.pastValues, y)
}

func (f *Forecaster) pushResidual(r float64) {
	if len(f.pastResiduals) == maOrder {
		copy(f.pastResiduals, f.pastResiduals[1:])
		f.pastResiduals[maOrder-1] = r
		return
	}
	f.pastResiduals = append(f.pastResiduals, r)
}

// renormalize rescales coefficients so Σ|a| ≤ 0.95 and Σ|b| ≤ 0.5.
func (f *Forecaster) renormalize() {
	rescale(f.ar, maxSumAbsAR)
	rescale(f.ma, maxSumAbsMA)
}

func rescale(coeffs []float64, maxSum float64) {
	var sumAbs float64
	for _, c := range coeffs {
		sumAbs += math.Abs(c)
	}
	if sumAbs <= maxSum || sumAbs == 0 {
		return
	}
	factor := maxSum / sumAbs
	for i := range coeffs {
		coeffs[i] *= factor
	}
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
