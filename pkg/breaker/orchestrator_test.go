package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/metrics"
)

func testSettings(name string) Settings {
	s := DefaultSettings(name)
	s.MinCalls = 4
	s.HalfOpenCalls = 2
	s.InitialWindow = 10
	s.InitialWaitMs = 20
	s.ReconfigMinIntervalMs = 1 // no rate-limit gate in tests
	return s
}

func TestOrchestrator_ColdStartAdmitsAndTracksSuccess(t *testing.T) {
	o := New(testSettings("cold-start"))
	calls := 0
	v, err := Execute(o, func() (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, o.State())
}

func TestOrchestrator_MLDisabledNeverReconfigures(t *testing.T) {
	settings := testSettings("no-ml")
	settings.MLEnabled = false
	o := New(settings)

	initial := o.Config()
	for i := 0; i < 200; i++ {
		fail := i%3 == 0
		Execute(o, func() (struct{}, error) {
			if fail {
				return struct{}{}, errors.New("synthetic")
			}
			return struct{}{}, nil
		})
	}

	assert.Equal(t, initial.WindowSize, o.Config().WindowSize)
	assert.Equal(t, initial.FailureRateThreshold, o.Config().FailureRateThreshold)
}

func TestOrchestrator_ClassicTripRejectsWhileOpen(t *testing.T) {
	o := New(testSettings("classic-trip"))

	var rejected int
	for i := 0; i < 10; i++ {
		_, err := Execute(o, func() (struct{}, error) {
			return struct{}{}, errors.New("boom")
		})
		if errors.Is(err, ErrBreakerOpen) {
			rejected++
		}
	}

	assert.Equal(t, StateOpen, o.State())
	assert.Greater(t, rejected, 0, "once OPEN, further calls must be rejected without invoking op")
}

func TestOrchestrator_HalfOpenRecoversToClosed(t *testing.T) {
	settings := testSettings("half-open-recovery")
	o := New(settings)

	for i := 0; i < 10; i++ {
		Execute(o, func() (struct{}, error) { return struct{}{}, errors.New("boom") })
	}
	require.Equal(t, StateOpen, o.State())

	waitMs := o.Config().OpenStateWait
	time.Sleep(waitMs + 5*time.Millisecond)

	for i := 0; i < settings.HalfOpenCalls; i++ {
		_, err := Execute(o, func() (struct{}, error) { return struct{}{}, nil })
		require.NoError(t, err)
	}

	assert.Equal(t, StateClosed, o.State())
}

func TestOrchestrator_OperationErrorWrapsCause(t *testing.T) {
	o := New(testSettings("op-error"))
	cause := errors.New("downstream failure")

	_, err := Execute(o, func() (struct{}, error) { return struct{}{}, cause })

	var opErr *OperationError
	require.ErrorAs(t, err, &opErr)
	assert.ErrorIs(t, err, cause)
}

func TestOrchestrator_MLInitFailureIsolatesToSafeDefaults(t *testing.T) {
	settings := testSettings("ml-isolation")
	settings.InitialWindow = 0 // forces SafeDefaults() fallback in New

	o := New(settings)

	_, err := Execute(o, func() (struct{}, error) { return struct{}{}, nil })
	require.NoError(t, err)
	assert.Equal(t, 100, o.Config().WindowSize, "SafeDefaults window, not the requested zero window")
}

// TestOrchestrator_MLTickPanicIsolatesToCallPath covers spec.md §8 S6: a
// predictor whose update always raises must never affect the call path —
// every call still returns its operation's result, and the breaker
// configuration is left untouched.
func TestOrchestrator_MLTickPanicIsolatesToCallPath(t *testing.T) {
	o := New(testSettings("ml-tick-panic"))
	o.manager = panickingReconfigurer{}
	initial := o.Config()

	var succeeded int
	for i := 0; i < 100; i++ {
		_, err := Execute(o, func() (struct{}, error) { return struct{}{}, nil })
		if err == nil {
			succeeded++
		}
	}

	assert.Equal(t, 100, succeeded, "every call must still return its operation's result")
	assert.Equal(t, initial, o.Config(), "breaker configuration must remain the initial one")
}

type panickingReconfigurer struct{}

func (panickingReconfigurer) UpdatedConfig(metrics.MetricSnapshot) (Config, bool) {
	panic("predictor update always raises")
}
func (panickingReconfigurer) IsSignificant(Config, Config) bool { return false }
func (panickingReconfigurer) LastPrediction() float64           { return 0 }
func (panickingReconfigurer) SaveModel() []byte                 { return nil }

func TestOrchestrator_ShutdownPropagatesMetricSinkError(t *testing.T) {
	o := New(testSettings("shutdown-error"))
	o.metricSink = failingMetricSink{err: errors.New("sink down")}

	err := o.Shutdown(context.Background())
	assert.Error(t, err)
}

func TestOrchestrator_CurrentReportReflectsState(t *testing.T) {
	o := New(testSettings("report"))
	Execute(o, func() (struct{}, error) { return struct{}{}, nil })

	report := o.CurrentReport()
	assert.Equal(t, "report", report.Breaker)
	assert.Equal(t, StateClosed.String(), report.State)
}

type failingMetricSink struct{ err error }

func (failingMetricSink) Store(context.Context, metrics.MetricSnapshot, string) error { return nil }
func (failingMetricSink) LoadHistorical(context.Context, string, time.Duration) ([]metrics.MetricSnapshot, error) {
	return nil, nil
}
func (f failingMetricSink) Shutdown(context.Context) error { return f.err }
