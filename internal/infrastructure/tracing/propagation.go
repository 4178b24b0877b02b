package tracing

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ParentContext is the result of extraction: either a remote span to
// continue, or no parent. Baggage is carried either way.
type ParentContext struct {
	sc  trace.SpanContext
	bag baggage.Baggage
}

// NoParent is the extraction result for carriers without a usable trace.
var NoParent = ParentContext{}

// HasParent reports whether a remote span was extracted.
func (p ParentContext) HasParent() bool {
	return p.sc.IsValid()
}

// TraceID returns the hex trace id of the remote span, or "".
func (p ParentContext) TraceID() string {
	if !p.HasParent() {
		return ""
	}
	return p.sc.TraceID().String()
}

// SpanID returns the hex span id of the remote span, or "".
func (p ParentContext) SpanID() string {
	if !p.HasParent() {
		return ""
	}
	return p.sc.SpanID().String()
}

// Sampled reports the sampling decision carried by the remote span.
func (p ParentContext) Sampled() bool {
	return p.sc.IsSampled()
}

// SpanContext returns the remote span context.
func (p ParentContext) SpanContext() trace.SpanContext {
	return p.sc
}

// Baggage returns the extracted baggage members.
func (p ParentContext) Baggage() baggage.Baggage {
	return p.bag
}

// ContextWith returns ctx carrying the remote span and baggage.
func (p ParentContext) ContextWith(ctx context.Context) context.Context {
	if p.HasParent() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, p.sc)
	}
	if p.bag.Len() > 0 {
		ctx = baggage.ContextWithBaggage(ctx, p.bag)
	}
	return ctx
}

// Inject writes the span active in ctx into carrier. Without a valid span
// the carrier is returned unmodified. Injection never fails; a propagator
// fault is logged and leaves the carrier as it was.
func (t *Tracer) Inject(ctx context.Context, carrier Carrier) Carrier {
	if carrier == nil {
		carrier = Carrier{}
	}
	if !trace.SpanContextFromContext(ctx).IsValid() {
		return carrier
	}

	injected, err := t.safeInject(ctx)
	if err != nil {
		t.logger.Warn("trace context injection failed", zap.Error(err))
		return carrier
	}
	for k, v := range injected {
		carrier[k] = v
	}
	return carrier
}

// InjectSpan writes span into carrier along with the baggage active when
// the span was started.
func (t *Tracer) InjectSpan(span *Span, carrier Carrier) Carrier {
	if span == nil {
		if carrier == nil {
			carrier = Carrier{}
		}
		return carrier
	}
	return t.Inject(span.Context(), carrier)
}

// InjectHTTP writes the span active in ctx into outgoing HTTP headers.
func (t *Tracer) InjectHTTP(ctx context.Context, header http.Header) {
	for k, v := range t.Inject(ctx, nil) {
		header.Set(k, v)
	}
}

func (t *Tracer) safeInject(ctx context.Context) (out Carrier, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("propagator panic: %v", r)
		}
	}()
	out = Carrier{}
	t.propagator.Inject(ctx, out)
	return out, nil
}

// Extract reads a parent context from carrier. Missing keys yield
// NoParent silently; a malformed traceparent yields NoParent and a warning.
func (t *Tracer) Extract(carrier Carrier) ParentContext {
	if len(carrier) == 0 {
		return NoParent
	}
	return t.extract(carrier, carrier.Get(TraceParentKey))
}

// ExtractHTTP reads a parent context from incoming HTTP headers.
func (t *Tracer) ExtractHTTP(header http.Header) ParentContext {
	if len(header) == 0 {
		return NoParent
	}
	hc := propagation.HeaderCarrier(header)
	return t.extract(hc, hc.Get(TraceParentKey))
}

// LooksLikeTraceParent reports whether s has the shape of a W3C
// traceparent: version, 32 hex trace id, 16 hex span id and flags.
func LooksLikeTraceParent(s string) bool {
	if len(s) < 55 || s[2] != '-' || s[35] != '-' || s[52] != '-' {
		return false
	}
	for i, r := range s[:55] {
		if i == 2 || i == 35 || i == 52 {
			continue
		}
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f') {
			return false
		}
	}
	return true
}

func (t *Tracer) extract(carrier propagation.TextMapCarrier, traceparent string) (parent ParentContext) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("trace context extraction failed", zap.Any("panic", r))
			parent = NoParent
		}
	}()

	ctx := t.propagator.Extract(context.Background(), carrier)
	parent = ParentContext{
		sc:  trace.SpanContextFromContext(ctx),
		bag: baggage.FromContext(ctx),
	}

	if traceparent != "" && !parent.HasParent() {
		t.logger.Warn("malformed traceparent ignored", zap.String("traceparent", traceparent))
	}
	return parent
}
