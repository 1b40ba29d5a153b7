// Orchestrator is the public entry point that wraps a caller's operation,
// drives the online learning stack, gates admission through the state
// machine, and degrades safely when any ML component misbehaves.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/livefeed"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/metrics"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/ml/ensemble"
	"github.com/khryptorgraphics/adaptivebreaker/pkg/ml/threshold"
)

// Settings configures an Orchestrator.
type Settings struct {
	Name                      string
	MLEnabled                 bool
	MinCalls                  int
	HalfOpenCalls             int
	InitialFailureThreshold   float64
	InitialWindow             int
	InitialWaitMs             int
	ReconfigMinIntervalMs     int
	SignificantChange         float64
	TrainingInterval          int

	MetricSink MetricSink
	ModelSink  ModelSink
	Registry   *prometheus.Registry
}

// DefaultSettings returns the defaults.
func DefaultSettings(name string) Settings {
	if name == "" {
		name = "defaultBreaker"
	}
	return Settings{
		Name:                    name,
		MLEnabled:               true,
		MinCalls:                10,
		HalfOpenCalls:           5,
		InitialFailureThreshold: 0.5,
		InitialWindow:           100,
		InitialWaitMs:           30000,
		ReconfigMinIntervalMs:   60000,
		SignificantChange:       0.10,
		TrainingInterval:        10,
	}
}

const defaultReconfigInterval = 60 * time.Second
const snapshotRefreshThroughput = 1000
const snapshotPersistInterval = 50

// Orchestrator is the ML Breaker Orchestrator. It owns the metric window,
// the learning stack, the config manager and the active state machine.
// Exactly one Orchestrator should own a given learning stack — sharing one
// across orchestrators requires an external lock,
type Orchestrator struct {
	name string
	id   string

	window *metrics.MetricWindow

	mlEnabled int32 // atomic bool
	mu        sync.Mutex
	machine   atomic.Pointer[Machine]
	manager   reconfigurer

	reconfigLimiter *rate.Limiter
	lastPrediction  float64

	metricSink MetricSink
	modelSink  ModelSink
	monitor    *PerformanceMonitor

	opCount int64

	logger zerolog.Logger
}

// New constructs an Orchestrator. If any ML component fails to initialize,
// it falls back to the safe-defaults path: ML updates are
// disabled, fixed knobs are installed, and the breaker remains fully
// operational.
func New(settings Settings) *Orchestrator {
	id := uuid.NewString()
	logger := log.With().Str("component", "breaker").Str("breaker", settings.Name).Str("instance", id).Logger()

	base := Config{
		WindowSize:             settings.InitialWindow,
		FailureRateThreshold:   settings.InitialFailureThreshold,
		OpenStateWait:          time.Duration(settings.InitialWaitMs) * time.Millisecond,
		MinCallsBeforeEval:     settings.MinCalls,
		HalfOpenPermittedCalls: settings.HalfOpenCalls,
		SlowCallRateThreshold:  0.5,
		SlowCallDuration:       time.Second,
	}
	if base.WindowSize <= 0 {
		base = SafeDefaults()
	}

	reconfigInterval := time.Duration(settings.ReconfigMinIntervalMs) * time.Millisecond
	if reconfigInterval <= 0 {
		reconfigInterval = defaultReconfigInterval
	}

	o := &Orchestrator{
		name:            settings.Name,
		id:              id,
		window:          metrics.NewMetricWindow(base.WindowSize),
		metricSink:      settings.MetricSink,
		modelSink:       settings.ModelSink,
		monitor:         NewPerformanceMonitor(settings.Registry, settings.Name),
		reconfigLimiter: rate.NewLimiter(rate.Every(reconfigInterval), 1),
		logger:          logger,
	}
	o.machine.Store(NewMachine(base))
	if o.metricSink == nil {
		o.metricSink = noopMetricSink{}
	}
	if o.modelSink == nil {
		o.modelSink = noopModelSink{}
	}

	mlEnabled := settings.MLEnabled
	predictor, err := safeNewPredictor(settings.TrainingInterval)
	if err != nil {
		logger.Error().Err(err).Msg("ML stack failed to initialize, installing safe defaults and disabling reconfiguration")
		mlEnabled = false
		o.machine.Store(NewMachine(SafeDefaults()))
	} else {
		o.manager = NewConfigManager(predictor, settings.SignificantChange, base)
		o.restoreModel(predictor)
	}
	o.setMLEnabled(mlEnabled)

	o.warmStart(base)

	return o
}

func safeNewPredictor(trainingInterval int) (p *threshold.Predictor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic initializing ML stack: %v", r)
		}
	}()
	return threshold.New(trainingInterval), nil
}

func (o *Orchestrator) setMLEnabled(v bool) {
	if v {
		atomic.StoreInt32(&o.mlEnabled, 1)
	} else {
		atomic.StoreInt32(&o.mlEnabled, 0)
	}
}

func (o *Orchestrator) mlEnabledNow() bool {
	return atomic.LoadInt32(&o.mlEnabled) == 1
}

// warmStart loads historical snapshots from the metric sink, if any, and
// feeds them into the window before the first call is admitted.
func (o *Orchestrator) warmStart(base Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	history, err := o.metricSink.LoadHistorical(ctx, o.name, 24*time.Hour)
	if err != nil {
		o.logger.Warn().Err(err).Msg("metric sink warm-start failed, starting cold")
		return
	}
	for _, snap := range history {
		o.window.Record(metrics.MetricRecord{
			Timestamp:  time.Now(),
			Latency:    snap.P95Latency,
			Success:    snap.ErrorRate < base.FailureRateThreshold,
			InFlight:   int(snap.Concurrency),
			SystemLoad: snap.SystemLoad,
		})
	}
}

func (o *Orchestrator) restoreModel(predictor *threshold.Predictor) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	blob, ok, err := o.modelSink.Load(ctx, o.name)
	if err != nil {
		o.logger.Warn().Err(err).Msg("model sink load failed, starting with a fresh ensemble")
		return
	}
	if !ok {
		return
	}
	restored, err := ensemble.Load(blob)
	if err != nil {
		o.logger.Warn().Err(err).Msg("stored model failed to deserialize, starting with a fresh ensemble")
		return
	}
	predictor.Ensemble = restored
}

// Execute runs op under protection. It returns op's value on success, op's
// error wrapped in *OperationError on failure, or ErrBreakerOpen if
// admission was denied — op is never invoked in that case.
func Execute[T any](o *Orchestrator, op func() (T, error)) (T, error) {
	var zero T

	now := time.Now()
	snapshot := o.safeSnapshot()

	n := o.tickThroughput()
	if n%snapshotPersistInterval == 0 {
		go o.persistSnapshot(snapshot)
	}

	if o.mlEnabledNow() {
		o.runMLTick(snapshot)
	}

	machine := o.machine.Load()
	if !machine.Admit(now) {
		return zero, ErrBreakerOpen
	}

	start := time.Now()
	value, err := op()
	latency := time.Since(start)

	success := err == nil
	machine.Complete(success, time.Now())
	o.window.Record(metrics.MetricRecord{
		Timestamp:  time.Now(),
		Latency:    latency,
		Success:    success,
		InFlight:   int(snapshot.Concurrency),
		SystemLoad: snapshot.SystemLoad,
	})

	o.mu.Lock()
	predicted := o.lastPrediction
	o.mu.Unlock()
	actual := 0.0
	if success {
		actual = 1
	}
	o.monitor.RecordPrediction(predicted, actual)

	if err != nil {
		return zero, &OperationError{Cause: err}
	}
	return value, nil
}

func (o *Orchestrator) tickThroughput() int64 {
	n := atomic.AddInt64(&o.opCount, 1)
	if n%snapshotRefreshThroughput == 0 {
		o.logger.Info().Int64("operations", n).Msg("breaker throughput checkpoint")
	}
	return n
}

// persistSnapshot pushes snapshot to the metric sink in the background so a
// slow or unavailable store never adds latency to the caller's operation.
func (o *Orchestrator) persistSnapshot(snapshot metrics.MetricSnapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.metricSink.Store(ctx, snapshot, o.name); err != nil {
		o.logger.Warn().Err(err).Msg("metric sink store failed")
	}
}

// safeSnapshot takes a window snapshot, falling back to an empty one if the
// window read panics (defensive — in practice MetricWindow
// never panics, but the orchestrator must not depend on that).
func (o *Orchestrator) safeSnapshot() (snap metrics.MetricSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn().Interface("panic", r).Msg("metric snapshot failed, substituting empty snapshot")
			snap = metrics.MetricSnapshot{SuccessRate: 1}
		}
	}()
	return o.window.Snapshot()
}

// runMLTick drives one feature-extract/predict/reconfigure pass. Every step
// is isolated: an error or panic anywhere in here is logged and the
// previous breaker config stands.
func (o *Orchestrator) runMLTick(snapshot metrics.MetricSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.manager == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Interface("panic", r).Msg("ML tick failed, keeping previous breaker config")
		}
	}()

	newCfg, anomalous := o.manager.UpdatedConfig(snapshot)
	o.lastPrediction = o.manager.LastPrediction()
	o.monitor.RecordFeatures(
		float64(snapshot.P95Latency)/1e9,
		snapshot.ErrorRate,
		snapshot.Concurrency/10,
		snapshot.SystemLoad/10,
	)

	o.monitor.ObserveEffectiveness(snapshot.ErrorRate)

	if anomalous {
		o.logger.Debug().Msg("anomalous snapshot, suppressing reconfiguration this tick")
		return
	}

	o.replaceConfigIfNeeded(newCfg)
}

// replaceConfigIfNeeded rate-limits replacements via reconfigLimiter and
// requires the candidate to be judged significant; the active Machine is
// atomically swapped for a state-preserving replacement otherwise left
// untouched.
func (o *Orchestrator) replaceConfigIfNeeded(newCfg Config) {
	current := o.machine.Load()
	oldCfg := current.cfg
	if !o.manager.IsSignificant(newCfg, oldCfg) {
		return
	}

	if !o.reconfigLimiter.Allow() {
		return
	}

	now := time.Now()
	errBefore := o.window.Snapshot().ErrorRate
	o.monitor.RecordConfigChange(errBefore, now)

	o.machine.Store(current.ReplaceConfig(newCfg))
	o.monitor.RecordConfig(newCfg)

	o.logger.Info().
		Int("window_size", newCfg.WindowSize).
		Float64("failure_threshold", newCfg.FailureRateThreshold).
		Dur("open_wait", newCfg.OpenStateWait).
		Msg("breaker config replaced")
}

// Shutdown saves the ensemble to the model sink and shuts the metric sink
// down. Snapshot writes already started in the background by Execute are
// not waited for.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.manager != nil {
		blob := o.manager.SaveModel()
		if err := o.modelSink.Save(ctx, blob, o.name); err != nil {
			o.logger.Warn().Err(err).Msg("model sink save failed on shutdown")
		}
	}
	if err := o.metricSink.Shutdown(ctx); err != nil {
		o.logger.Warn().Err(err).Msg("metric sink shutdown failed")
		return err
	}
	return nil
}

// State reports the current breaker state, for observability/tests.
func (o *Orchestrator) State() State {
	return o.machine.Load().State()
}

// Config reports the currently active breaker config.
func (o *Orchestrator) Config() Config {
	return o.machine.Load().cfg
}

// CurrentReport implements livefeed.Source: a point-in-time summary of
// breaker state and prediction performance suitable for broadcast.
func (o *Orchestrator) CurrentReport() livefeed.Report {
	cfg := o.Config()
	snap := o.safeSnapshot()

	o.mu.Lock()
	predicted := o.lastPrediction
	o.mu.Unlock()

	return livefeed.Report{
		Timestamp:  time.Now(),
		Breaker:    o.name,
		State:      o.State().String(),
		Summary:    o.monitor.Report(),
		Predicted:  predicted,
		Actual:     1 - snap.ErrorRate,
		AvgError:   o.monitor.AvgError(),
		WindowSize: cfg.WindowSize,
	}
}
