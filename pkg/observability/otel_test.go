package observability

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitOTel_Disabled(t *testing.T) {
	log, hook := test.NewNullLogger()

	providers, err := InitOTel(context.Background(), OTelConfig{Enabled: false}, log)

	require.NoError(t, err)
	assert.Nil(t, providers)
	assert.Equal(t, "OpenTelemetry is disabled", hook.LastEntry().Message)
}

func TestShutdownOTel(t *testing.T) {
	log, _ := test.NewNullLogger()

	assert.NoError(t, ShutdownOTel(context.Background(), nil, log))

	providers := &OTelProviders{
		TracerProvider: sdktrace.NewTracerProvider(),
		MeterProvider:  sdkmetric.NewMeterProvider(),
	}
	assert.NoError(t, ShutdownOTel(context.Background(), providers, log))
}

func TestTraceFields(t *testing.T) {
	assert.Empty(t, TraceFields(context.Background()))

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	fields := TraceFields(ctx)
	assert.Equal(t, span.SpanContext().TraceID().String(), fields["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), fields["span_id"])
}
