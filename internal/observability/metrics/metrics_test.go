package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("movement_type", "distribution"),
		attribute.String("beneficiary_id", "456"),
		attribute.String("result", "succeeded"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	if attrs[0].Key != "movement_type" && attrs[1].Key != "movement_type" {
		t.Fatalf("expected movement_type to be retained")
	}
	if attrs[0].Key != "result" && attrs[1].Key != "result" {
		t.Fatalf("expected result to be retained")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordStockMovement(context.Background(), "stock_in")
	m.RecordDisbursementLine(context.Background(), "inventory", "failed", "insufficient_allocation")
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "agrisubsidy"}, noop.NewMeterProvider())
	require.NoError(t, err)
	m.RecordAllocation(context.Background(), "inventory", 2)
	m.RecordProgramTransition(context.Background(), "submitted", "approved")
	m.RecordCalculation(context.Background(), "calculated", 3)
}
