/*
Package tracing carries trace context across HTTP requests and message
queues.

# Overview

A Tracer is built once per process and handed to every component that opens
spans. It wraps an OpenTelemetry SDK provider with a parent-based ratio
sampler and a W3C TraceContext+Baggage propagator.

Three boundaries are instrumented:

  - inbound HTTP: HTTPMiddleware opens a Server span per request
  - outbound send: the publisher opens a Producer span and injects it
  - inbound consume: the consumer extracts the carrier and opens a Consumer span

# Usage

	tracer, err := tracing.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer tracer.Shutdown(ctx)

	router.Use(tracing.HTTPMiddleware(tracer))

	// Scoped span, ended on every exit path
	err = tracer.Run(ctx, "order-queue send", tracing.KindProducer,
		func(ctx context.Context, span *tracing.Span) error {
			headers := tracer.Inject(ctx, tracing.Carrier{})
			return transport.Send(ctx, queue, envelope.WithHeaders(headers))
		})

	// Consumer side
	parent := tracer.Extract(tracing.CarrierFromHeaders(raw))
	ctx, span := tracer.Start(ctx, "order-queue process", tracing.KindConsumer,
		tracing.WithParent(parent))
	defer span.End()

# Carrier Format

	traceparent: 00-<32 hex trace id>-<16 hex span id>-<2 hex flags>
	tracestate:  vendor state, passed through
	baggage:     W3C baggage members

Extraction never fails. Carriers without a traceparent, or with a malformed
one, yield NoParent and the consumer starts a new root span.

# Export

Finished spans go through a batch span processor to one of: a zap log
exporter, OTLP over gRPC, or Zipkin. Export errors never reach callers.
*/
package tracing
