package messaging

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// MemoryTransport is an in-process Transport. Each queue is a buffered
// channel; concurrent subscribers to one queue compete for its messages.
// Headers are delivered as []byte values, the way most brokers hand them
// over.
type MemoryTransport struct {
	bufferSize int

	mu     sync.Mutex
	queues map[string]chan *Delivery
	closed chan struct{}
	once   sync.Once

	sent  atomic.Int64
	acked atomic.Int64
}

var _ Transport = (*MemoryTransport)(nil)

// NewMemoryTransport creates a transport whose queues hold bufferSize
// messages before Send blocks.
func NewMemoryTransport(bufferSize int) *MemoryTransport {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &MemoryTransport{
		bufferSize: bufferSize,
		queues:     make(map[string]chan *Delivery),
		closed:     make(chan struct{}),
	}
}

func (t *MemoryTransport) queue(name string) chan *Delivery {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.queues[name]
	if !ok {
		q = make(chan *Delivery, t.bufferSize)
		t.queues[name] = q
	}
	return q
}

// Send enqueues body, blocking while the queue is full.
func (t *MemoryTransport) Send(ctx context.Context, queue string, body []byte, headers map[string]string) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	raw := make(map[string]any, len(headers))
	for k, v := range headers {
		raw[k] = []byte(v)
	}
	d := NewDelivery(queue, append([]byte(nil), body...), raw, func() { t.acked.Inc() })

	select {
	case t.queue(queue) <- d:
		t.sent.Inc()
		return nil
	case <-t.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe streams deliveries from queue.
func (t *MemoryTransport) Subscribe(ctx context.Context, queue string) (<-chan *Delivery, error) {
	select {
	case <-t.closed:
		return nil, ErrClosed
	default:
	}

	in := t.queue(queue)
	out := make(chan *Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case d := <-in:
				select {
				case out <- d:
				case <-ctx.Done():
					t.requeue(in, d)
					return
				case <-t.closed:
					return
				}
			case <-ctx.Done():
				return
			case <-t.closed:
				return
			}
		}
	}()
	return out, nil
}

// requeue puts back a message taken by a subscription that was cancelled
// before handing it over.
func (t *MemoryTransport) requeue(in chan *Delivery, d *Delivery) {
	select {
	case in <- d:
	default:
	}
}

// Receive takes one pending message from queue without a subscription.
func (t *MemoryTransport) Receive(ctx context.Context, queue string) (*Delivery, error) {
	select {
	case d := <-t.queue(queue):
		return d, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports how many messages wait in queue.
func (t *MemoryTransport) Len(queue string) int {
	return len(t.queue(queue))
}

// Sent reports the number of accepted sends.
func (t *MemoryTransport) Sent() int64 { return t.sent.Load() }

// Acked reports the number of acknowledged deliveries.
func (t *MemoryTransport) Acked() int64 { return t.acked.Load() }

// Close stops all subscriptions. Pending messages are dropped.
func (t *MemoryTransport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}
