package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestInitInstallsTracingAndPropagation(t *testing.T) {
	ctx := context.Background()
	tp, err := Init(ctx, Config{ServiceName: "ragcrawler-test", Version: "1.0.0"})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, tp.Shutdown(ctx)) })

	spanCtx, span := otel.Tracer("test").Start(ctx, "scrape")
	defer span.End()
	require.True(t, span.SpanContext().IsValid())
	require.True(t, span.SpanContext().IsSampled())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	require.Contains(t, carrier.Get("traceparent"), span.SpanContext().TraceID().String())

	extracted := otel.GetTextMapPropagator().Extract(ctx, carrier)
	_, child := otel.Tracer("test").Start(extracted, "index")
	defer child.End()
	require.Equal(t, span.SpanContext().TraceID(), child.SpanContext().TraceID())

	task := Inject(spanCtx)
	require.Equal(t, carrier.Get("traceparent"), task["traceparent"])
	restored := trace.SpanContextFromContext(Extract(ctx, task))
	require.Equal(t, span.SpanContext().TraceID(), restored.TraceID())
	require.True(t, restored.IsRemote())
}

func TestInjectWithoutSpan(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	require.Nil(t, Inject(ctx))
	require.Equal(t, ctx, Extract(ctx, nil))
}

func TestPropagatorFields(t *testing.T) {
	t.Parallel()
	require.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, Propagator().Fields())
}
