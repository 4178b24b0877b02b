// Package inbox records which messages a consumer has already processed and
// keeps the ones it gave up on.
package inbox

import (
	"context"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/shared/id"
)

// DefaultRetention is how long a processed message id is remembered when no
// retention is given.
const DefaultRetention = 7 * 24 * time.Hour

// Option configures a Store.
type Option func(*options)

type options struct {
	retention time.Duration
	now       func() time.Time
}

func newOptions(opts []Option) options {
	o := options{retention: DefaultRetention, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// pruneInterval spaces out sweeps of expired ids.
func (o options) pruneInterval() time.Duration {
	return o.retention / 4
}

func (o options) expired(stamp, now time.Time) bool {
	return now.Sub(stamp) >= o.retention
}

// WithRetention sets how long processed ids are remembered. A redelivery
// older than that is processed again. Non-positive values are ignored.
func WithRetention(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.retention = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// DeadLetter is a message whose retries were exhausted.
type DeadLetter struct {
	MessageID     id.MessageID `json:"messageId"`
	Queue         string       `json:"queue"`
	MessageType   string       `json:"messageType"`
	CorrelationID string       `json:"correlationId,omitempty"`
	Reason        string       `json:"reason"`
	Attempts      int          `json:"attempts"`
	Body          []byte       `json:"body,omitempty"`
	FailedAt      time.Time    `json:"failedAt"`
}

// Store is the consumer-side idempotency and dead-letter store. Processed
// ids expire after the store's retention; dead letters are kept.
type Store interface {
	// Seen reports whether the message was already processed.
	Seen(ctx context.Context, messageID id.MessageID) (bool, error)
	// MarkProcessed records the message as processed.
	MarkProcessed(ctx context.Context, messageID id.MessageID) error
	// DeadLetter keeps a message that could not be processed.
	DeadLetter(ctx context.Context, dl DeadLetter) error
	// DeadLetters lists kept messages in arrival order.
	DeadLetters(ctx context.Context) ([]DeadLetter, error)
	Close() error
}
