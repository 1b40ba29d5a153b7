package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		WindowSize:             10,
		FailureRateThreshold:   0.5,
		OpenStateWait:          50 * time.Millisecond,
		MinCallsBeforeEval:     4,
		HalfOpenPermittedCalls: 3,
	}
}

func TestMachine_StartsClosedAndAdmitsEverything(t *testing.T) {
	m := NewMachine(testConfig())
	assert.Equal(t, StateClosed, m.State())
	assert.True(t, m.Admit(time.Now()))
}

func TestMachine_TripsOpenAfterThresholdBreached(t *testing.T) {
	m := NewMachine(testConfig())
	now := time.Now()

	for i := 0; i < 4; i++ {
		require.True(t, m.Admit(now))
		m.Complete(false, now)
	}

	assert.Equal(t, StateOpen, m.State())
	assert.False(t, m.Admit(now))
}

func TestMachine_StaysClosedBelowMinCalls(t *testing.T) {
	m := NewMachine(testConfig())
	now := time.Now()

	m.Admit(now)
	m.Complete(false, now)
	m.Admit(now)
	m.Complete(false, now)

	assert.Equal(t, StateClosed, m.State())
}

func TestMachine_OpenDeniesUntilDeadlineThenHalfOpens(t *testing.T) {
	cfg := testConfig()
	m := NewMachine(cfg)
	now := time.Now()
	for i := 0; i < cfg.MinCallsBeforeEval; i++ {
		m.Admit(now)
		m.Complete(false, now)
	}
	require.Equal(t, StateOpen, m.State())

	assert.False(t, m.Admit(now.Add(cfg.OpenStateWait/2)))

	admitted := m.Admit(now.Add(cfg.OpenStateWait + time.Millisecond))
	assert.True(t, admitted)
	assert.Equal(t, StateHalfOpen, m.State())
}

func TestMachine_HalfOpenClosesOnAllTrialsSucceeding(t *testing.T) {
	cfg := testConfig()
	m := NewMachine(cfg)
	now := time.Now()
	for i := 0; i < cfg.MinCallsBeforeEval; i++ {
		m.Admit(now)
		m.Complete(false, now)
	}
	m.Admit(now.Add(cfg.OpenStateWait + time.Millisecond)) // first half-open trial

	for i := 1; i < cfg.HalfOpenPermittedCalls; i++ {
		require.True(t, m.Admit(now))
	}
	for i := 0; i < cfg.HalfOpenPermittedCalls; i++ {
		m.Complete(true, now)
	}

	assert.Equal(t, StateClosed, m.State())
}

func TestMachine_HalfOpenReopensOnSingleFailure(t *testing.T) {
	cfg := testConfig()
	m := NewMachine(cfg)
	now := time.Now()
	for i := 0; i < cfg.MinCallsBeforeEval; i++ {
		m.Admit(now)
		m.Complete(false, now)
	}
	m.Admit(now.Add(cfg.OpenStateWait + time.Millisecond))
	for i := 1; i < cfg.HalfOpenPermittedCalls; i++ {
		m.Admit(now)
	}

	m.Complete(true, now)
	m.Complete(false, now) // one failure among completed trials

	assert.Equal(t, StateOpen, m.State())
}

func TestMachine_HalfOpenLimitsInFlightTrials(t *testing.T) {
	cfg := testConfig()
	m := NewMachine(cfg)
	now := time.Now()
	for i := 0; i < cfg.MinCallsBeforeEval; i++ {
		m.Admit(now)
		m.Complete(false, now)
	}
	m.Admit(now.Add(cfg.OpenStateWait + time.Millisecond))
	for i := 1; i < cfg.HalfOpenPermittedCalls; i++ {
		m.Admit(now)
	}

	assert.False(t, m.Admit(now), "no more trial slots available")
}

func TestMachine_ReplaceConfigPreservesOpenDeadline(t *testing.T) {
	cfg := testConfig()
	m := NewMachine(cfg)
	now := time.Now()
	for i := 0; i < cfg.MinCallsBeforeEval; i++ {
		m.Admit(now)
		m.Complete(false, now)
	}
	require.Equal(t, StateOpen, m.State())

	newCfg := cfg
	newCfg.OpenStateWait = time.Hour
	replaced := m.ReplaceConfig(newCfg)

	assert.Equal(t, StateOpen, replaced.State())
	assert.False(t, replaced.Admit(now.Add(time.Millisecond)), "deadline carried over, not reset to the new wait")
}

func TestMachine_ReplaceConfigResetsHalfOpenTrialCounter(t *testing.T) {
	cfg := testConfig()
	cfg.HalfOpenPermittedCalls = 2
	m := NewMachine(cfg)
	now := time.Now()
	for i := 0; i < cfg.MinCallsBeforeEval; i++ {
		m.Admit(now)
		m.Complete(false, now)
	}
	require.True(t, m.Admit(now.Add(cfg.OpenStateWait+time.Millisecond)))
	m.Complete(true, now) // one of HalfOpenPermittedCalls=2 trials succeeds before the swap

	replaced := m.ReplaceConfig(cfg)
	require.Equal(t, StateHalfOpen, replaced.State())

	// Fresh trial counter per spec.md §4.8: the pre-swap success must not
	// count toward closing — both new trials must complete.
	require.True(t, replaced.Admit(now))
	replaced.Complete(true, now)
	assert.Equal(t, StateHalfOpen, replaced.State(), "only one of two fresh trials has completed")

	require.True(t, replaced.Admit(now))
	replaced.Complete(true, now)
	assert.Equal(t, StateClosed, replaced.State(), "both fresh trials succeeded")
}

func TestMachine_ReplaceConfigTrimsClosedBuffer(t *testing.T) {
	cfg := testConfig()
	m := NewMachine(cfg)
	now := time.Now()
	for i := 0; i < 3; i++ {
		m.Admit(now)
		m.Complete(true, now)
	}

	newCfg := cfg
	newCfg.WindowSize = 2
	replaced := m.ReplaceConfig(newCfg)

	assert.LessOrEqual(t, len(replaced.buffer), 2)
}
