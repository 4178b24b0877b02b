package server

import (
	"context"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/config"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/database"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/logging"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/orderflow/internal/messaging"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Components are the process-wide dependencies shared by the API and the
// worker. Close releases them in reverse order of construction.
type Components struct {
	Logger    *logging.Logger
	Tracer    *tracing.Tracer
	Metrics   *monitoring.Metrics
	Transport messaging.Transport
	Codec     *messaging.Codec
	// Pool is nil when no database is configured.
	Pool *pgxpool.Pool

	closers []func(context.Context) error
}

// NewLogger builds the process logger from cfg.
func NewLogger(cfg *config.Config) (*logging.Logger, error) {
	lc := logging.DefaultConfig()
	if cfg.Logging.Development {
		lc = logging.DevelopmentConfig()
	}
	if cfg.Logging.Level != "" {
		lc.Level = cfg.Logging.Level
	}
	logger, err := logging.New(lc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build logger")
	}
	return logger, nil
}

// TracingConfig maps the tracing section onto the tracer configuration.
func TracingConfig(cfg *config.Config, service string) tracing.Config {
	return tracing.Config{
		ServiceName: service,
		Version:     cfg.Service.Version,
		Environment: cfg.Service.Environment,
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ZipkinURL:   cfg.Tracing.ZipkinURL,
		SampleRatio: cfg.Tracing.SampleRatio,
	}
}

// NewTransport selects the broker transport named by cfg.Broker.Kind.
func NewTransport(cfg *config.Config, logger *zap.Logger) (messaging.Transport, error) {
	switch cfg.Broker.Kind {
	case "memory":
		return messaging.NewMemoryTransport(cfg.Broker.BufferSize), nil
	case "kafka":
		return messaging.NewKafkaTransport(messaging.KafkaConfig{
			Brokers:          cfg.Broker.Brokers,
			ConsumerGroup:    cfg.Broker.ConsumerGroup,
			AutoCreateTopics: true,
		}, logger)
	default:
		return nil, errors.Mark(errors.Newf("unknown broker kind %q", cfg.Broker.Kind), config.ErrInvalid)
	}
}

// NewComponents builds every shared dependency for the process named
// service. On failure everything built so far is released.
func NewComponents(ctx context.Context, cfg *config.Config, service string) (_ *Components, err error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	c := &Components{Logger: logger}
	defer func() {
		if err != nil {
			_ = c.Close(context.WithoutCancel(ctx))
		}
	}()
	c.onClose(func(context.Context) error {
		_ = logger.Sync()
		return nil
	})

	logger.Info("Initializing components",
		zap.String("service", service),
		zap.String("version", cfg.Service.Version),
		zap.String("broker", cfg.Broker.Kind),
		zap.Bool("persistence", cfg.Database.Enabled()),
	)

	c.Metrics = monitoring.NewMetrics(metricsNamespace(service))

	c.Tracer, err = tracing.New(ctx, TracingConfig(cfg, service), logger.Logger)
	if err != nil {
		return nil, err
	}
	c.onClose(c.Tracer.Shutdown)
	logger.Info("Distributed tracing initialized",
		zap.Bool("enabled", cfg.Tracing.Enabled),
		zap.String("exporter", cfg.Tracing.Exporter),
	)

	c.Codec, err = messaging.NewCodec(cfg.Broker.CompressAbove)
	if err != nil {
		return nil, err
	}
	c.onClose(func(context.Context) error {
		c.Codec.Close()
		return nil
	})

	c.Transport, err = NewTransport(cfg, logger.Logger)
	if err != nil {
		return nil, err
	}
	c.onClose(func(context.Context) error { return c.Transport.Close() })

	if cfg.Database.Enabled() {
		c.Pool, err = database.Connect(ctx, database.Config{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		c.onClose(func(context.Context) error {
			c.Pool.Close()
			return nil
		})
		if cfg.Database.MigrateOnStart {
			if err = database.Migrate(ctx, c.Pool, logger.Logger); err != nil {
				return nil, err
			}
		}
		logger.Info("Connected to database", zap.Int32("max_conns", cfg.Database.MaxConns))
	} else {
		logger.Warn("No database configured, orders are sent but not stored")
	}

	return c, nil
}

func (c *Components) onClose(fn func(context.Context) error) {
	c.closers = append(c.closers, fn)
}

// DB returns the pool as a database.DB, or nil without persistence.
func (c *Components) DB() database.DB {
	if c.Pool == nil {
		return nil
	}
	return c.Pool
}

// Close releases components in reverse order and returns every failure.
func (c *Components) Close(ctx context.Context) error {
	var err error
	for i := len(c.closers) - 1; i >= 0; i-- {
		err = errors.CombineErrors(err, c.closers[i](ctx))
	}
	c.closers = nil
	return err
}

func metricsNamespace(service string) string {
	out := []byte(service)
	for i, b := range out {
		if !(b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9') {
			out[i] = '_'
		}
	}
	return string(out)
}
