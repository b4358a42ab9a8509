package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/chunk-streamer/internal/config"
)

func TestInitTelemetryDisabled(t *testing.T) {
	shutdown, err := InitTelemetry(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTelemetryEnabled(t *testing.T) {
	// Экспортер подключается лениво: создание проходит без коллектора
	shutdown, err := InitTelemetry(context.Background(), config.TelemetryConfig{
		Enabled:     true,
		ServiceName: "chunk-streamer-test",
		Endpoint:    "127.0.0.1:4318",
	})
	require.NoError(t, err)
	assert.NotNil(t, shutdown)
	_ = shutdown(context.Background())
}

func TestEndpointOrDefault(t *testing.T) {
	assert.Equal(t, "localhost:4318", endpointOrDefault(""))
	assert.Equal(t, "collector:4318", endpointOrDefault("collector:4318"))
}
