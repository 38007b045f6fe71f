package observability

import (
	"github.com/smallbiznis/agrisubsidy/internal/observability/logger"
	"github.com/smallbiznis/agrisubsidy/internal/observability/metrics"
	"github.com/smallbiznis/agrisubsidy/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the process logger, the tracer provider and the metric
// instruments shared by the API server and the scheduler.
var Module = fx.Module("observability",
	fx.Provide(
		NewConfig,
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	fx.Invoke(
		func(*sdktrace.TracerProvider) {},
		metrics.SchedulerWithConfig,
	),
)
