package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/logging"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/orderflow/internal/messaging/inbox"
	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Outcome of handling one delivery.
type Outcome string

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeRejected     Outcome = "rejected"
	OutcomeAbandoned    Outcome = "abandoned"
)

// Handler runs the business action for one message. ctx carries the
// Consumer span.
type Handler interface {
	Handle(ctx context.Context, env *Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env *Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env *Envelope) error { return f(ctx, env) }

// ConsumerConfig configures a Consumer.
type ConsumerConfig struct {
	Queue  string
	System string
	// MaxConcurrent bounds messages in flight.
	MaxConcurrent int
	// MaxAttempts counts the first try; 1 disables retries.
	MaxAttempts   int
	RetryInterval time.Duration
	// DeadLetterQueue, when set, also receives the raw body of messages
	// that exhausted their attempts.
	DeadLetterQueue string
	// LegacyCorrelation reads a traceparent-shaped correlation id when the
	// headers carry no trace context.
	LegacyCorrelation bool
}

func (c *ConsumerConfig) setDefaults() {
	if c.System == "" {
		c.System = "rabbitmq"
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 1
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 200 * time.Millisecond
	}
}

// ConsumerOption customises a Consumer.
type ConsumerOption func(*Consumer)

// WithInbox enables the idempotency check and the dead-letter store.
func WithInbox(store inbox.Store) ConsumerOption {
	return func(c *Consumer) { c.inbox = store }
}

// WithMetrics records consume metrics.
func WithMetrics(m *monitoring.Metrics) ConsumerOption {
	return func(c *Consumer) { c.metrics = m }
}

// WithLogger sets the consumer logger.
func WithLogger(l *zap.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = l }
}

// Consumer receives messages from one queue and runs a Handler for each
// inside a Consumer span continued from the message headers.
type Consumer struct {
	cfg       ConsumerConfig
	transport Transport
	codec     *Codec
	tracer    *tracing.Tracer
	handler   Handler
	inbox     inbox.Store
	metrics   *monitoring.Metrics
	logger    *zap.Logger
	sem       *semaphore.Weighted
}

// NewConsumer creates a consumer for cfg.Queue.
func NewConsumer(cfg ConsumerConfig, transport Transport, codec *Codec, tracer *tracing.Tracer, handler Handler, opts ...ConsumerOption) (*Consumer, error) {
	if cfg.Queue == "" {
		return nil, errors.New("consumer requires a queue")
	}
	if transport == nil || codec == nil || tracer == nil || handler == nil {
		return nil, errors.New("consumer requires a transport, codec, tracer and handler")
	}
	cfg.setDefaults()

	c := &Consumer{
		cfg:       cfg,
		transport: transport,
		codec:     codec,
		tracer:    tracer,
		handler:   handler,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("consumer").With(zap.String("queue", cfg.Queue))
	c.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrent))
	return c, nil
}

// Run consumes until ctx is cancelled or the subscription ends, then waits
// for in-flight messages. Cancellation is a normal stop and returns nil.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.transport.Subscribe(ctx, c.cfg.Queue)
	if err != nil {
		return errors.Wrapf(err, "subscribe to %s", c.cfg.Queue)
	}
	c.logger.Info("consumer started", zap.Int("max_concurrent", c.cfg.MaxConcurrent))

	defer func() {
		_ = c.sem.Acquire(context.Background(), int64(c.cfg.MaxConcurrent))
		c.sem.Release(int64(c.cfg.MaxConcurrent))
		c.logger.Info("consumer stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := c.sem.Acquire(ctx, 1); err != nil {
				return nil
			}
			go func() {
				defer c.sem.Release(1)
				c.Handle(ctx, d)
			}()
		}
	}
}

// Handle processes one delivery. Every outcome acks except abandonment on
// cancellation, which leaves the message to the broker for redelivery.
func (c *Consumer) Handle(ctx context.Context, d *Delivery) Outcome {
	start := time.Now()
	if c.metrics != nil {
		defer c.metrics.InFlight(c.cfg.Queue)()
	}

	outcome := c.handle(ctx, d)
	if outcome != OutcomeAbandoned {
		d.Ack()
	}
	if c.metrics != nil {
		c.metrics.RecordConsume(c.cfg.Queue, string(outcome), time.Since(start))
	}
	return outcome
}

func (c *Consumer) handle(ctx context.Context, d *Delivery) Outcome {
	env, err := c.codec.Decode(d.Body)
	if err != nil {
		c.logger.Error("undecodable message dropped", zap.Int("bytes", len(d.Body)), zap.Error(err))
		return OutcomeRejected
	}

	parent := c.parentOf(env, d)
	outcome := OutcomeProcessed

	_ = c.tracer.Run(ctx, c.cfg.Queue+" process", tracing.KindConsumer, func(ctx context.Context, span *tracing.Span) error {
		span.SetTags(tracing.MessagingTags(c.cfg.System, c.cfg.Queue, "process", env.MessageID.String(), env.CorrelationID.String()))
		log := logging.WithTrace(ctx, c.logger).With(
			zap.String("message_id", env.MessageID.String()),
			zap.String("message_type", env.MessageType),
			zap.String("correlation_id", env.CorrelationID.String()),
		)

		if c.inbox != nil {
			seen, err := c.inbox.Seen(ctx, env.MessageID)
			if err != nil {
				log.Warn("idempotency check failed", zap.Error(err))
			}
			if seen {
				outcome = OutcomeDuplicate
				span.SetTag("messaging.duplicate", "true")
				log.Info("duplicate message skipped")
				return nil
			}
		}

		attempts, err := c.process(ctx, env, log)
		span.SetTag("messaging.attempts", fmt.Sprint(attempts))
		if err != nil {
			if ctx.Err() != nil {
				outcome = OutcomeAbandoned
				log.Warn("message abandoned on shutdown", zap.Error(err))
				return err
			}
			outcome = OutcomeDeadLettered
			c.deadLetter(ctx, env, d, attempts, err, log)
			return err
		}

		if c.inbox != nil {
			if err := c.inbox.MarkProcessed(ctx, env.MessageID); err != nil {
				log.Warn("marking message processed failed", zap.Error(err))
			}
		}
		log.Info("message consumed", zap.Int("attempts", attempts))
		return nil
	}, tracing.WithParent(parent))

	return outcome
}

// parentOf finds the trace parent: envelope headers first, then broker
// headers, then, in legacy mode, a traceparent held in the correlation id.
// Plain correlation ids are not parsed.
func (c *Consumer) parentOf(env *Envelope, d *Delivery) tracing.ParentContext {
	if parent := c.tracer.Extract(env.Headers); parent.HasParent() {
		return parent
	}
	if len(d.Headers) > 0 {
		if parent := c.tracer.Extract(tracing.CarrierFromHeaders(d.Headers)); parent.HasParent() {
			return parent
		}
	}
	if c.cfg.LegacyCorrelation && tracing.LooksLikeTraceParent(env.CorrelationID.String()) {
		return c.tracer.Extract(tracing.Carrier{tracing.TraceParentKey: env.CorrelationID.String()})
	}
	return tracing.NoParent
}

// process runs the handler with bounded exponential backoff. Permanent
// errors and cancellation stop retrying.
func (c *Consumer) process(ctx context.Context, env *Envelope, log *zap.Logger) (int, error) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts > 1 && c.metrics != nil {
			c.metrics.RecordRetry(c.cfg.Queue)
		}

		err := c.invoke(ctx, env)
		switch {
		case err == nil:
			return nil
		case IsPermanent(err), ctx.Err() != nil:
			return backoff.Permanent(err)
		}
		log.Warn("handler attempt failed", zap.Int("attempt", attempts), zap.Error(err))
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.cfg.RetryInterval
	policy.MaxInterval = 10 * c.cfg.RetryInterval
	policy.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(c.cfg.MaxAttempts-1)), ctx))
	return attempts, err
}

func (c *Consumer) invoke(ctx context.Context, env *Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("handler panicked: %v", r)
		}
	}()
	return c.handler.Handle(ctx, env)
}

func (c *Consumer) deadLetter(ctx context.Context, env *Envelope, d *Delivery, attempts int, cause error, log *zap.Logger) {
	log.Error("message dead-lettered", zap.Int("attempts", attempts), zap.Error(cause))
	if c.metrics != nil {
		c.metrics.RecordDeadLetter(c.cfg.Queue)
	}

	if c.inbox != nil {
		dl := inbox.DeadLetter{
			MessageID:     env.MessageID,
			Queue:         c.cfg.Queue,
			MessageType:   env.MessageType,
			CorrelationID: env.CorrelationID.String(),
			Reason:        cause.Error(),
			Attempts:      attempts,
			Body:          d.Body,
			FailedAt:      time.Now().UTC(),
		}
		if err := c.inbox.DeadLetter(context.WithoutCancel(ctx), dl); err != nil {
			log.Error("storing dead letter failed", zap.Error(err))
		}
		// A dead-lettered message is final; redeliveries are skipped.
		if err := c.inbox.MarkProcessed(context.WithoutCancel(ctx), env.MessageID); err != nil {
			log.Warn("marking message processed failed", zap.Error(err))
		}
	}

	if c.cfg.DeadLetterQueue != "" {
		if err := c.transport.Send(context.WithoutCancel(ctx), c.cfg.DeadLetterQueue, d.Body, env.Headers); err != nil {
			log.Error("forwarding to dead-letter queue failed", zap.String("dead_letter_queue", c.cfg.DeadLetterQueue), zap.Error(err))
		}
	}
}
