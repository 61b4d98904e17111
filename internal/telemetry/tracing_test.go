package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProvider_RecordsSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := InitTracerProvider(context.Background(), Options{
		ServiceName: "site-template-ci-test",
		SampleRatio: 1,
		Exporter:    exporter,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	require.Same(t, tp, otel.GetTracerProvider())

	_, span := Tracer().Start(context.Background(), "unit")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "unit", spans[0].Name)
}

func TestSampler(t *testing.T) {
	t.Parallel()

	require.Contains(t, sampler(1).Description(), "AlwaysOn")
	require.Contains(t, sampler(0).Description(), "AlwaysOff")
	require.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}
