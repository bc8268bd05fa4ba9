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

// Metrics exposes quota instruments.
type Metrics struct {
	granted          metric.Int64Counter
	denied           metric.Int64Counter
	storeErrors      metric.Int64Counter
	auditFailures    metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
	recordUseLatency metric.Float64Histogram
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

// New registers the quota instruments on provider.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "featuregate"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	var err error
	if m.granted, err = meter.Int64Counter("featuregate_usage_granted_total"); err != nil {
		return nil, err
	}
	if m.denied, err = meter.Int64Counter("featuregate_usage_denied_total"); err != nil {
		return nil, err
	}
	if m.storeErrors, err = meter.Int64Counter("featuregate_store_errors_total"); err != nil {
		return nil, err
	}
	if m.auditFailures, err = meter.Int64Counter("featuregate_audit_write_failures_total"); err != nil {
		return nil, err
	}
	if m.rateLimitDenied, err = meter.Int64Counter("featuregate_rate_limit_denied_total"); err != nil {
		return nil, err
	}
	if m.recordUseLatency, err = meter.Float64Histogram("featuregate_record_use_duration_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

// NewNoop returns instruments backed by a no-op provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordDecision counts a granted or denied use of featureKey.
func (m *Metrics) RecordDecision(ctx context.Context, featureKey string, granted bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature_key", strings.TrimSpace(featureKey)))
	if granted {
		m.granted.Add(ctx, 1, metric.WithAttributes(attrs...))
		return
	}
	m.denied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordStoreError(ctx context.Context, operation, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.storeErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordAuditWriteFailure(ctx context.Context, featureKey string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("feature_key", strings.TrimSpace(featureKey)))
	m.auditFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) ObserveRecordUse(ctx context.Context, store string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("store", strings.TrimSpace(store)))
	m.recordUseLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
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

// user_id is never a label.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"feature_key": {},
	"endpoint":    {},
	"operation":   {},
	"store":       {},
	"status_code": {},
	"reason":      {},
	"job":         {},
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
