package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/adaptivebreaker/pkg/metrics"
)

func TestNoopMetricSink_NeverErrorsAndReturnsNoHistory(t *testing.T) {
	var s noopMetricSink
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, metrics.MetricSnapshot{}, "svc"))

	history, err := s.LoadHistorical(ctx, "svc", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, history)

	require.NoError(t, s.Shutdown(ctx))
}

func TestNoopModelSink_NeverErrorsAndReportsAbsent(t *testing.T) {
	var s noopModelSink
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []byte("blob"), "svc"))

	blob, ok, err := s.Load(ctx, "svc")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, blob)
}
