package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	stockMovements     metric.Int64Counter
	allocations        metric.Int64Counter
	disbursementLines  metric.Int64Counter
	programTransitions metric.Int64Counter
	calculationRuns    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "agrisubsidy"
	}
	meter := provider.Meter(name)

	stockMovements, err := meter.Int64Counter("agrisubsidy_stock_movements_total")
	if err != nil {
		return nil, err
	}
	allocations, err := meter.Int64Counter("agrisubsidy_allocations_total")
	if err != nil {
		return nil, err
	}
	disbursementLines, err := meter.Int64Counter("agrisubsidy_disbursement_lines_total")
	if err != nil {
		return nil, err
	}
	programTransitions, err := meter.Int64Counter("agrisubsidy_program_transitions_total")
	if err != nil {
		return nil, err
	}
	calculationRuns, err := meter.Int64Counter("agrisubsidy_calculation_items_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		stockMovements:     stockMovements,
		allocations:        allocations,
		disbursementLines:  disbursementLines,
		programTransitions: programTransitions,
		calculationRuns:    calculationRuns,
	}, nil
}

// RecordStockMovement increments ledger movement counts.
func (m *Metrics) RecordStockMovement(ctx context.Context, movementType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("movement_type", strings.TrimSpace(movementType)))
	m.stockMovements.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordAllocation increments allocation line counts by kind (inventory, financial).
func (m *Metrics) RecordAllocation(ctx context.Context, kind string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("allocation_kind", strings.TrimSpace(kind)))
	m.allocations.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordDisbursementLine increments disbursement line outcomes.
func (m *Metrics) RecordDisbursementLine(ctx context.Context, kind, result, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("allocation_kind", strings.TrimSpace(kind)),
		attribute.String("result", strings.TrimSpace(result)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.disbursementLines.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordProgramTransition increments program lifecycle transitions.
func (m *Metrics) RecordProgramTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from", strings.TrimSpace(from)),
		attribute.String("to", strings.TrimSpace(to)),
	)
	m.programTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCalculation increments calculated entitlement counts by outcome.
func (m *Metrics) RecordCalculation(ctx context.Context, result string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("result", strings.TrimSpace(result)))
	m.calculationRuns.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":        {},
	"status_code":     {},
	"movement_type":   {},
	"allocation_kind": {},
	"result":          {},
	"reason":          {},
	"from":            {},
	"to":              {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
