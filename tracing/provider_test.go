package tracing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ongniud/medalarm/config"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	shutdown, err := NewTracerProvider(config.TracingConfig{}, "medalarmd", "test", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, span := Tracer().Start(context.Background(), "noop")
	require.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestNewTracerProvider_Enabled(t *testing.T) {
	shutdown, err := NewTracerProvider(config.TracingConfig{
		Enabled:      true,
		Endpoint:     "http://127.0.0.1:4318",
		Insecure:     true,
		SamplingRate: 1,
		Timeout:      100 * time.Millisecond,
		Environment:  "test",
	}, "medalarmd", "test", zap.NewNop())
	require.NoError(t, err)

	_, span := Tracer().Start(context.Background(), "sync")
	require.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
