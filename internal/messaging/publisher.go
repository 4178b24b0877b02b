package messaging

import (
	"context"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/logging"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/orderflow/internal/messages"
	"github.com/GriffinCanCode/orderflow/internal/shared/id"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// PublisherConfig configures a Publisher.
type PublisherConfig struct {
	// System is the messaging.system span tag.
	System string
	// LegacyCorrelation also writes the traceparent into CorrelationID for
	// consumers that read the trace context from there.
	LegacyCorrelation bool
}

// Publisher sends messages inside a Producer span whose context is injected
// into the envelope headers.
type Publisher struct {
	cfg       PublisherConfig
	transport Transport
	codec     *Codec
	tracer    *tracing.Tracer
	metrics   *monitoring.Metrics
	logger    *zap.Logger
}

// NewPublisher creates a publisher. metrics may be nil.
func NewPublisher(cfg PublisherConfig, transport Transport, codec *Codec, tracer *tracing.Tracer, metrics *monitoring.Metrics, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.System == "" {
		cfg.System = "rabbitmq"
	}
	return &Publisher{
		cfg:       cfg,
		transport: transport,
		codec:     codec,
		tracer:    tracer,
		metrics:   metrics,
		logger:    logger.Named("publisher"),
	}
}

// Publish sends msg to queue and returns its message id. The Producer span
// is a child of the span active in ctx.
func (p *Publisher) Publish(ctx context.Context, queue string, msg messages.Message, correlationID id.CorrelationID) (id.MessageID, error) {
	env, err := NewEnvelope(msg, correlationID)
	if err != nil {
		return "", err
	}

	err = p.tracer.Run(ctx, queue+" send", tracing.KindProducer, func(ctx context.Context, span *tracing.Span) error {
		span.SetTags(tracing.MessagingTags(p.cfg.System, queue, "send", env.MessageID.String(), correlationID.String()))

		env.Headers = p.tracer.InjectSpan(span, env.Headers)
		if p.cfg.LegacyCorrelation {
			if tp := env.Headers.TraceParent(); tp != "" {
				env.CorrelationID = id.CorrelationID(tp)
			}
		}

		body, err := p.codec.Encode(env)
		if err != nil {
			return err
		}
		if err := p.transport.Send(ctx, queue, body, env.Headers); err != nil {
			return errors.Wrapf(err, "send %s to %s", env.MessageType, queue)
		}

		logging.WithTrace(ctx, p.logger).Info("message sent",
			zap.String("queue", queue),
			zap.String("message_id", env.MessageID.String()),
			zap.String("message_type", env.MessageType),
			zap.String("correlation_id", correlationID.String()),
		)
		return nil
	})

	if p.metrics != nil {
		status := monitoring.StatusSuccess
		if err != nil {
			status = monitoring.StatusError
		}
		p.metrics.RecordPublish(queue, status)
	}
	if err != nil {
		return "", err
	}
	return env.MessageID, nil
}
