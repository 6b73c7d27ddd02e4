package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestTracerProviderResource(t *testing.T) {
	tp, err := newTracerProvider(Options{
		ServiceName: "agentgate",
		Environment: "staging",
		SampleRatio: 1,
		Attributes:  map[string]string{"team": "data", "service.name": "ignored"},
	})
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.True(t, span.SpanContext().IsSampled())

	set := attribute.NewSet(resourceAttributes(Options{
		ServiceName: "agentgate",
		Environment: "staging",
		Attributes:  map[string]string{"team": "data", "service.name": "ignored"},
	})...)
	for key, want := range map[string]string{
		"service.name":           "agentgate",
		"deployment.environment": "staging",
		"team":                   "data",
	} {
		v, ok := set.Value(attribute.Key(key))
		require.True(t, ok, key)
		assert.Equal(t, want, v.AsString(), key)
	}
}

func TestTracerProviderSampleRatio(t *testing.T) {
	tp, err := newTracerProvider(Options{ServiceName: "agentgate", SampleRatio: 0})
	require.NoError(t, err)
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	assert.False(t, span.SpanContext().IsSampled())

	set := attribute.NewSet(resourceAttributes(Options{ServiceName: "agentgate"})...)
	_, ok := set.Value(attribute.Key("deployment.environment"))
	assert.False(t, ok)
}
