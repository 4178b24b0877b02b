/*
Package messaging carries commands and events between the order API and the
worker with their trace context attached.

# Overview

A Publisher wraps a message in an Envelope, opens a Producer span, injects
the span into the envelope headers and hands the encoded body to a
Transport. A Consumer decodes each delivery, extracts the parent context
from the headers, and runs the Handler inside a Consumer span continued from
it. Extraction never blocks processing: a missing or malformed context
starts a new root span.

# Delivery semantics

Transports deliver at least once. The consumer makes handling idempotent per
message id through an inbox.Store, retries failures with exponential backoff
up to MaxAttempts, and dead-letters what is left. Every delivery is acked
except one abandoned by shutdown, which stays with the broker.

# Transports

  - MemoryTransport: in-process queues for tests and the embedded worker
  - KafkaTransport: franz-go client, one topic per queue, offsets committed on ack

# Usage

	pub := messaging.NewPublisher(cfg, transport, codec, tracer, metrics, logger)
	msgID, err := pub.Publish(ctx, "order-queue", messages.OrderMessage{...}, correlationID)

	consumer, err := messaging.NewConsumer(ccfg, transport, codec, tracer, handler,
		messaging.WithInbox(store), messaging.WithMetrics(metrics))
	err = consumer.Run(ctx)
*/
package messaging
