package tracing

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Span kinds accepted by Start.
const (
	KindInternal = trace.SpanKindInternal
	KindServer   = trace.SpanKindServer
	KindClient   = trace.SpanKindClient
	KindProducer = trace.SpanKindProducer
	KindConsumer = trace.SpanKindConsumer
)

// Status codes accepted by SetStatus.
const (
	StatusUnset = codes.Unset
	StatusOk    = codes.Ok
	StatusError = codes.Error
)

// Status is the outcome recorded on a span.
type Status struct {
	Code        codes.Code
	Description string
}

// Span is one timed unit of traced work. The status is held locally and
// applied when the span ends, so the last SetStatus wins even after Ok.
// All methods are safe on a nil *Span.
type Span struct {
	tracer *Tracer
	span   trace.Span
	ctx    context.Context
	name   string

	mu        sync.Mutex
	status    Status
	statusSet bool
	once      sync.Once
}

// StartOption customises Start.
type StartOption func(*startConfig)

type startConfig struct {
	parent    *ParentContext
	attrs     []attribute.KeyValue
	hasParent bool
}

// WithParent makes the span a child of an extracted context. A parent
// context without a parent starts a fresh root even if ctx holds a span.
func WithParent(p ParentContext) StartOption {
	return func(c *startConfig) {
		c.parent = &p
		c.hasParent = true
	}
}

// WithTags attaches tags at span start, where samplers can see them.
func WithTags(tags map[string]string) StartOption {
	return func(c *startConfig) {
		for k, v := range tags {
			c.attrs = append(c.attrs, attribute.String(k, v))
		}
	}
}

// Start opens a span. With no parent option and no span in ctx the span is
// a new root with a freshly generated trace id.
func (t *Tracer) Start(ctx context.Context, name string, kind trace.SpanKind, opts ...StartOption) (context.Context, *Span) {
	cfg := startConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	spanOpts := []trace.SpanStartOption{trace.WithSpanKind(kind)}
	if len(cfg.attrs) > 0 {
		spanOpts = append(spanOpts, trace.WithAttributes(cfg.attrs...))
	}

	if cfg.hasParent {
		if cfg.parent.HasParent() {
			ctx = cfg.parent.ContextWith(ctx)
		} else {
			ctx = trace.ContextWithSpanContext(ctx, trace.SpanContext{})
			if cfg.parent.bag.Len() > 0 {
				ctx = baggage.ContextWithBaggage(ctx, cfg.parent.bag)
			}
			spanOpts = append(spanOpts, trace.WithNewRoot())
		}
	}

	ctx, otSpan := t.tracer.Start(ctx, name, spanOpts...)
	return ctx, &Span{
		tracer: t,
		span:   otSpan,
		ctx:    ctx,
		name:   name,
	}
}

// Run opens a span, runs fn inside it, and ends the span on every exit
// path. A returned error sets status Error, otherwise status Ok unless fn
// set one. A panic is recorded on the span and re-raised.
func (t *Tracer) Run(ctx context.Context, name string, kind trace.SpanKind, fn func(context.Context, *Span) error, opts ...StartOption) (err error) {
	ctx, span := t.Start(ctx, name, kind, opts...)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r))
			span.SetStatus(StatusError, fmt.Sprint(r))
			panic(r)
		}
	}()

	err = fn(ctx, span)
	switch {
	case err != nil:
		span.RecordError(err)
		if span.Status().Code != StatusError {
			span.SetStatus(StatusError, err.Error())
		}
	case !span.HasStatus():
		span.SetStatus(StatusOk, "")
	}
	return err
}

// SetTag adds a string attribute.
func (s *Span) SetTag(key, value string) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.String(key, value))
}

// SetTags adds several string attributes.
func (s *Span) SetTags(tags map[string]string) {
	if s == nil || len(tags) == 0 {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(tags))
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	s.span.SetAttributes(attrs...)
}

// SetStatus records the span outcome. Setting it twice is a logic error:
// the last write wins, and the overwrite is logged and counted.
func (s *Span) SetStatus(code codes.Code, description string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	overwrite := s.statusSet
	previous := s.status
	s.status = Status{Code: code, Description: description}
	s.statusSet = true
	s.mu.Unlock()

	if overwrite {
		s.tracer.statusOverwrites.Inc()
		s.tracer.logger.Warn("span status set more than once",
			zap.String("span", s.name),
			zap.String("previous", previous.Code.String()),
			zap.String("current", code.String()),
		)
	}
}

// HasStatus reports whether SetStatus has been called.
func (s *Span) HasStatus() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusSet
}

// Status returns the recorded outcome.
func (s *Span) Status() Status {
	if s == nil {
		return Status{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RecordError adds err as an exception event. It does not set the status.
func (s *Span) RecordError(err error) {
	if s == nil || err == nil {
		return
	}
	s.span.RecordError(err)
}

// End closes the span. Only the first call has an effect.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		st := s.Status()
		if st.Code != codes.Unset {
			s.span.SetStatus(st.Code, st.Description)
		}
		s.span.End()
	})
}

// SpanContext returns the span identity.
func (s *Span) SpanContext() trace.SpanContext {
	if s == nil {
		return trace.SpanContext{}
	}
	return s.span.SpanContext()
}

// Context returns the context carrying this span.
func (s *Span) Context() context.Context {
	if s == nil {
		return context.Background()
	}
	return s.ctx
}

// TraceID returns the hex trace id, or "" when the span has no identity.
func (s *Span) TraceID() string {
	sc := s.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}

// SpanID returns the hex span id, or "" when the span has no identity.
func (s *Span) SpanID() string {
	sc := s.SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.SpanID().String()
}

// MessagingTags returns the messaging attributes set on send and process
// spans.
func MessagingTags(system, destination, operation, messageID, correlationID string) map[string]string {
	tags := map[string]string{
		"messaging.system":           system,
		"messaging.destination_kind": "queue",
		"messaging.destination.name": destination,
		"messaging.operation":        operation,
	}
	if messageID != "" {
		tags["messaging.message.id"] = messageID
	}
	if correlationID != "" {
		tags["messaging.message.conversation_id"] = correlationID
	}
	return tags
}
