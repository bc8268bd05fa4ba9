package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("feature_key", "video_analysis"),
		attribute.String("user_id", "u-1"),
		attribute.String("reason", "timeout"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "user_id" {
			t.Fatalf("user_id must not be exported")
		}
	}
}

func TestRecordDecisionCountsGrantedAndDenied(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := New(Config{ServiceName: "test"}, provider)
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordDecision(ctx, "video_analysis", true)
	m.RecordDecision(ctx, "video_analysis", true)
	m.RecordDecision(ctx, "video_analysis", false)
	m.ObserveRecordUse(ctx, "gorm", 5*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	totals := map[string]int64{}
	for _, scope := range rm.ScopeMetrics {
		for _, metric := range scope.Metrics {
			sum, ok := metric.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, point := range sum.DataPoints {
				totals[metric.Name] += point.Value
			}
		}
	}
	assert.Equal(t, int64(2), totals["featuregate_usage_granted_total"])
	assert.Equal(t, int64(1), totals["featuregate_usage_denied_total"])
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordDecision(context.Background(), "x", true)
	m.RecordStoreError(context.Background(), "record_use", "timeout")
	m.RecordAuditWriteFailure(context.Background(), "x")
	m.RecordRateLimitDenied(context.Background(), "use")
}
