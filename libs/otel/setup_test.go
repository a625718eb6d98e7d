package otelx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigFromEnvDefaultsToDisabled(t *testing.T) {
	t.Setenv("OTEL_SAMPLING_RATIO", "2")
	t.Setenv("OTEL_DEPLOYMENT_ENVIRONMENT", "staging")
	cfg := ConfigFromEnv("booking-service")
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "booking-service", cfg.ServiceName)
	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, 1.0, cfg.SampleRatio)
}

func TestParseRatio(t *testing.T) {
	assert.Equal(t, 0.25, parseRatio(" 0.25 "))
	assert.Equal(t, 1.0, parseRatio("-1"))
	assert.Equal(t, 1.0, parseRatio("abc"))
}

func TestAttributesSkipEmpty(t *testing.T) {
	assert.Len(t, Config{ServiceName: "x"}.attributes(), 1)
	assert.Len(t, Config{ServiceName: "x", ServiceVersion: "1.2.0", Environment: "prod"}.attributes(), 3)
}

func TestSetupDisabledIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "x"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestFinishRecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := Start(context.Background(), "booking.Book", attribute.String("provider_id", "p1"))
	Finish(span, errors.New("slot taken"))
	_, ok := Start(context.Background(), "booking.Book")
	Finish(ok, nil)

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "slot taken", spans[0].Status().Description)
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
}
