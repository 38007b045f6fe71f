package observability

import (
	"strings"

	"github.com/smallbiznis/agrisubsidy/internal/config"
	"github.com/smallbiznis/agrisubsidy/internal/observability/logger"
	"github.com/smallbiznis/agrisubsidy/internal/observability/metrics"
	"github.com/smallbiznis/agrisubsidy/internal/observability/tracing"
)

// Config is the slice of application configuration the logger, tracer and
// meter are built from.
type Config struct {
	app config.Config
}

func NewConfig(cfg config.Config) Config {
	if strings.TrimSpace(cfg.AppName) == "" {
		cfg.AppName = "agrisubsidy"
	}
	return Config{app: cfg}
}

// Debug enables verbose request and query logging. It is on for debug log
// levels and for non-production style environments.
func (c Config) Debug() bool {
	if c.app.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(c.app.Environment)) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName: c.app.AppName,
		Environment: c.app.Environment,
		Version:     c.app.AppVersion,
		Level:       c.app.LogLevel,
		Format:      c.app.LogFormat,
		Debug:       c.Debug(),
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.app.OtelEnabled,
		ServiceName:      c.app.AppName,
		ServiceVersion:   c.app.AppVersion,
		Environment:      c.app.Environment,
		ExporterEndpoint: c.app.OTLPEndpoint,
		ExporterProtocol: c.app.OTLPProtocol,
		SamplingRatio:    c.app.OtelSamplingRatio,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:          c.app.OtelEnabled,
		ExporterEndpoint: c.app.OTLPEndpoint,
		ExporterProtocol: c.app.OTLPProtocol,
		ServiceName:      c.app.AppName,
		Environment:      c.app.Environment,
	}
}
