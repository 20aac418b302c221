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
	readingsRecorded metric.Int64Counter
	malformedRecords metric.Int64Counter
	snapshotRequests metric.Int64Counter
	predictions      metric.Int64Counter
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
		name = "kwhtracker"
	}
	meter := provider.Meter(name)

	readingsRecorded, err := meter.Int64Counter("kwhtracker_readings_recorded_total")
	if err != nil {
		return nil, err
	}
	malformedRecords, err := meter.Int64Counter("kwhtracker_malformed_readings_total")
	if err != nil {
		return nil, err
	}
	snapshotRequests, err := meter.Int64Counter("kwhtracker_snapshot_cache_requests_total")
	if err != nil {
		return nil, err
	}
	predictions, err := meter.Int64Counter("kwhtracker_predictions_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		readingsRecorded: readingsRecorded,
		malformedRecords: malformedRecords,
		snapshotRequests: snapshotRequests,
		predictions:      predictions,
	}, nil
}

// RecordReading counts a stored meter reading. source is "forward" or "backdated".
func (m *Metrics) RecordReading(ctx context.Context, source string, topUp bool) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("source", strings.TrimSpace(source)),
		attribute.Bool("top_up", topUp),
	)
	m.readingsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordMalformed counts readings the deriver had to sanitize or skip.
func (m *Metrics) RecordMalformed(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.malformedRecords.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSnapshotLookup counts snapshot cache hits and misses.
func (m *Metrics) RecordSnapshotLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	attrs := FilterAttributes(attribute.String("result", result))
	m.snapshotRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPrediction counts computed predictions by status.
func (m *Metrics) RecordPrediction(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.predictions.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"source":       {},
	"top_up":       {},
	"reason":       {},
	"result":       {},
	"status":       {},
	"trigger_type": {},
	"event_type":   {},
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
