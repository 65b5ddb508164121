package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProvider(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp, err := InitTracerProvider(context.Background(), Config{
		ServiceName: "scraper-test",
		Enabled:     true,
		Exporter:    exporter,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := Tracer().Start(context.Background(), "unit")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	require.NotEmpty(t, carrier.Get("traceparent"))
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Equal(t, "unit", spans[0].Name)
}

func TestSamplerFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "disabled", cfg: Config{SampleRatio: 0.5}, want: "AlwaysOffSampler"},
		{name: "enabled without ratio", cfg: Config{Enabled: true}, want: "root:AlwaysOnSampler"},
		{name: "ratio", cfg: Config{Enabled: true, SampleRatio: 0.25}, want: "root:TraceIDRatioBased{0.25}"},
		{name: "ratio above one", cfg: Config{Enabled: true, SampleRatio: 3}, want: "root:AlwaysOnSampler"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Contains(t, samplerFor(tc.cfg).Description(), tc.want)
		})
	}
}
