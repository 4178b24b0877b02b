package tracing

import (
	"context"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// ErrInvalidConfig is returned when a tracer cannot be built from its
// configuration. It indicates a wiring defect and is never retried.
var ErrInvalidConfig = errors.New("invalid tracing configuration")

// Exporter names.
const (
	ExporterLog    = "log"
	ExporterOTLP   = "otlp"
	ExporterZipkin = "zipkin"
	ExporterNone   = "none"
)

// Config describes how spans are sampled and exported.
type Config struct {
	ServiceName string
	Version     string
	Environment string
	Enabled     bool
	Exporter    string
	Endpoint    string
	ZipkinURL   string
	SampleRatio float64
}

// Option customises a Tracer.
type Option func(*options)

type options struct {
	processors    []sdktrace.SpanProcessor
	exporter      sdktrace.SpanExporter
	sampler       sdktrace.Sampler
	propagator    propagation.TextMapPropagator
	propagatorSet bool
}

// WithSpanProcessor registers an additional span processor, such as a
// tracetest.SpanRecorder.
func WithSpanProcessor(p sdktrace.SpanProcessor) Option {
	return func(o *options) {
		o.processors = append(o.processors, p)
	}
}

// WithExporter replaces the exporter selected by Config.Exporter.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *options) {
		o.exporter = exp
	}
}

// WithSampler replaces the parent-based ratio sampler.
func WithSampler(s sdktrace.Sampler) Option {
	return func(o *options) {
		o.sampler = s
	}
}

// WithPropagator replaces the TraceContext+Baggage propagator. Passing nil
// makes New fail.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *options) {
		o.propagator = p
		o.propagatorSet = true
	}
}

// Tracer starts spans and moves their context across process boundaries.
// One Tracer is built per process and shared read-only by every component
// that opens spans.
type Tracer struct {
	service    string
	logger     *zap.Logger
	tracer     trace.Tracer
	provider   *sdktrace.TracerProvider
	propagator propagation.TextMapPropagator
	conn       *grpc.ClientConn

	statusOverwrites atomic.Int64
}

// New builds a tracer. With tracing disabled spans are no-ops and carry no
// context, so injection writes nothing.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...Option) (*Tracer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if err := validate(cfg, o); err != nil {
		return nil, err
	}

	t := &Tracer{
		service:    cfg.ServiceName,
		logger:     logger.Named("tracing"),
		propagator: o.propagator,
	}
	if !o.propagatorSet {
		t.propagator = propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		)
	}

	if !cfg.Enabled {
		t.tracer = noop.NewTracerProvider().Tracer(cfg.ServiceName)
		return t, nil
	}

	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create resource")
	}

	sampler := o.sampler
	if sampler == nil {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	}

	exp := o.exporter
	if exp == nil {
		exp, t.conn, err = newExporter(ctx, cfg, t.logger)
		if err != nil {
			return nil, err
		}
	}
	if exp != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	for _, p := range o.processors {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(p))
	}

	t.provider = sdktrace.NewTracerProvider(tpOpts...)
	t.tracer = t.provider.Tracer(cfg.ServiceName)

	return t, nil
}

func validate(cfg Config, o options) error {
	if cfg.ServiceName == "" {
		return errors.Mark(errors.New("service name is required"), ErrInvalidConfig)
	}
	if o.propagatorSet && o.propagator == nil {
		return errors.Mark(errors.New("propagator must not be nil"), ErrInvalidConfig)
	}
	if !cfg.Enabled {
		return nil
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return errors.Mark(errors.Newf("sample ratio %v outside [0,1]", cfg.SampleRatio), ErrInvalidConfig)
	}
	switch cfg.Exporter {
	case ExporterLog, ExporterOTLP, ExporterZipkin, ExporterNone, "":
	default:
		return errors.Mark(errors.Newf("unknown exporter %q", cfg.Exporter), ErrInvalidConfig)
	}
	return nil
}

func newResource(ctx context.Context, cfg Config) (*resource.Resource, error) {
	return resource.New(
		ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.Version),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
		resource.WithHost(),
	)
}

// Service returns the service name spans are attributed to.
func (t *Tracer) Service() string {
	return t.service
}

// StatusOverwrites counts spans whose status was set more than once.
func (t *Tracer) StatusOverwrites() int64 {
	return t.statusOverwrites.Load()
}

// Shutdown flushes pending spans and releases the exporter connection.
func (t *Tracer) Shutdown(ctx context.Context) error {
	var err error
	if t.provider != nil {
		err = t.provider.Shutdown(ctx)
	}
	if t.conn != nil {
		err = errors.CombineErrors(err, t.conn.Close())
	}
	return err
}
