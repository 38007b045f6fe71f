package observability

import (
	"testing"

	"github.com/smallbiznis/agrisubsidy/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestConfigDerivesComponentSettings(t *testing.T) {
	cfg := NewConfig(config.Config{
		AppVersion:        "1.4.0",
		Environment:       "production",
		LogLevel:          "warn",
		LogFormat:         "console",
		OTLPEndpoint:      "collector:4318",
		OTLPProtocol:      "http/protobuf",
		OtelEnabled:       true,
		OtelSamplingRatio: 0.5,
	})

	assert.False(t, cfg.Debug())
	assert.Equal(t, "agrisubsidy", cfg.Logger().ServiceName)
	assert.Equal(t, "console", cfg.Logger().Format)

	tracing := cfg.Tracing()
	assert.True(t, tracing.Enabled)
	assert.Equal(t, "collector:4318", tracing.ExporterEndpoint)
	assert.Equal(t, "1.4.0", tracing.ServiceVersion)
	assert.InDelta(t, 0.5, tracing.SamplingRatio, 1e-9)
	assert.Equal(t, "http/protobuf", cfg.Metrics().ExporterProtocol)
}

func TestConfigDebug(t *testing.T) {
	assert.True(t, NewConfig(config.Config{Environment: "production", LogLevel: "debug"}).Debug())
	assert.True(t, NewConfig(config.Config{Environment: "local"}).Debug())
	assert.False(t, NewConfig(config.Config{Environment: "staging"}).Debug())
}
