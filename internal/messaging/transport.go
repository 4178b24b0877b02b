package messaging

import (
	"context"
	"sync"
)

// Delivery is one message handed to a consumer.
type Delivery struct {
	Queue string
	Body  []byte
	// Headers are the broker-level headers, loosely typed as the broker
	// delivers them.
	Headers map[string]any

	ack   func()
	once  sync.Once
	acked bool
	mu    sync.Mutex
}

// NewDelivery builds a delivery whose Ack calls ack once.
func NewDelivery(queue string, body []byte, headers map[string]any, ack func()) *Delivery {
	return &Delivery{Queue: queue, Body: body, Headers: headers, ack: ack}
}

// Ack completes the delivery. Later calls do nothing.
func (d *Delivery) Ack() {
	d.once.Do(func() {
		if d.ack != nil {
			d.ack()
		}
		d.mu.Lock()
		d.acked = true
		d.mu.Unlock()
	})
}

// Acked reports whether Ack was called.
func (d *Delivery) Acked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked
}

// Transport is the broker boundary. Delivery is at least once; redelivery
// policy belongs to the broker.
type Transport interface {
	Send(ctx context.Context, queue string, body []byte, headers map[string]string) error
	// Subscribe streams deliveries for queue until ctx is done or the
	// transport is closed, then closes the channel.
	Subscribe(ctx context.Context, queue string) (<-chan *Delivery, error)
	Close() error
}
