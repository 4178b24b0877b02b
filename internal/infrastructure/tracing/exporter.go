package tracing

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/zipkin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newExporter(ctx context.Context, cfg Config, logger *zap.Logger) (sdktrace.SpanExporter, *grpc.ClientConn, error) {
	switch cfg.Exporter {
	case ExporterNone:
		return nil, nil, nil
	case ExporterOTLP:
		if cfg.Endpoint == "" {
			return nil, nil, errors.Mark(errors.New("otlp exporter requires an endpoint"), ErrInvalidConfig)
		}
		conn, err := grpc.NewClient(cfg.Endpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create gRPC connection to collector")
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			_ = conn.Close()
			return nil, nil, errors.Wrap(err, "failed to create otlp exporter")
		}
		return exp, conn, nil
	case ExporterZipkin:
		if cfg.ZipkinURL == "" {
			return nil, nil, errors.Mark(errors.New("zipkin exporter requires a url"), ErrInvalidConfig)
		}
		exp, err := zipkin.New(cfg.ZipkinURL)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create zipkin exporter")
		}
		return exp, nil, nil
	default:
		return NewLogExporter(logger), nil, nil
	}
}

// LogExporter writes finished spans to a zap logger.
type LogExporter struct {
	logger *zap.Logger
}

var _ sdktrace.SpanExporter = (*LogExporter)(nil)

// NewLogExporter creates an exporter that logs one line per span.
func NewLogExporter(logger *zap.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

// ExportSpans logs each span. It never fails.
func (e *LogExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		e.processSpan(span)
	}
	return nil
}

// Shutdown flushes the underlying logger.
func (e *LogExporter) Shutdown(context.Context) error {
	_ = e.logger.Sync()
	return nil
}

func (e *LogExporter) processSpan(span sdktrace.ReadOnlySpan) {
	sc := span.SpanContext()
	fields := []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
		zap.String("operation", span.Name()),
		zap.String("kind", span.SpanKind().String()),
		zap.Duration("duration", span.EndTime().Sub(span.StartTime())),
		zap.String("service", span.InstrumentationScope().Name),
	}

	if parent := span.Parent(); parent.IsValid() {
		fields = append(fields, zap.String("parent_id", parent.SpanID().String()))
	}

	for _, attr := range span.Attributes() {
		fields = append(fields, zap.String(string(attr.Key), attr.Value.Emit()))
	}

	status := span.Status()
	if status.Code == codes.Error {
		fields = append(fields, zap.String("status", status.Description))
		e.logger.Error("span completed with error", fields...)
		return
	}
	e.logger.Info("span completed", fields...)
}
