package breaker

import (
	"context"
	"time"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/metrics"
)

// MetricSink is the outward metric-persistence collaborator. Implementations
// are best-effort and non-blocking from the orchestrator's point of view:
// any error is logged and swallowed.
type MetricSink interface {
	Store(ctx context.Context, snapshot metrics.MetricSnapshot, breakerName string) error
	LoadHistorical(ctx context.Context, breakerName string, lookback time.Duration) ([]metrics.MetricSnapshot, error)
	Shutdown(ctx context.Context) error
}

// ModelSink is the outward model-persistence collaborator. Models are
// opaque blobs; the orchestrator is responsible for encoding/decoding its
// own ensemble parameters.
type ModelSink interface {
	Save(ctx context.Context, modelBytes []byte, serviceName string) error
	Load(ctx context.Context, serviceName string) ([]byte, bool, error)
}

// noopMetricSink is installed when no MetricSink collaborator is given:
// absent means no-op.
type noopMetricSink struct{}

func (noopMetricSink) Store(context.Context, metrics.MetricSnapshot, string) error { return nil }
func (noopMetricSink) LoadHistorical(context.Context, string, time.Duration) ([]metrics.MetricSnapshot, error) {
	return nil, nil
}
func (noopMetricSink) Shutdown(context.Context) error { return nil }

type noopModelSink struct{}

func (noopModelSink) Save(context.Context, []byte, string) error { return nil }
func (noopModelSink) Load(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}
