package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitInstallsProviders(t *testing.T) {
	providers, err := Init(context.Background(), Config{ServiceName: "price-sentinel-test", TracingEnabled: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	require.Same(t, providers.Tracer, otel.GetTracerProvider())

	_, span := Tracer().Start(context.Background(), "probe")
	require.True(t, span.SpanContext().IsSampled())
	span.End()
}

func TestShutdownNil(t *testing.T) {
	t.Parallel()

	var p *Providers
	require.NoError(t, p.Shutdown(context.Background()))
}
