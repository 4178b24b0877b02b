// Package notification tells customers about their orders.
package notification

import (
	"context"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/logging"
	"github.com/GriffinCanCode/orderflow/internal/messages"
	"go.uber.org/zap"
)

// Notifier delivers one notification.
type Notifier interface {
	Notify(ctx context.Context, n messages.Notification) error
}

// LogNotifier simulates an email gateway by logging each notification
// after an optional delay.
type LogNotifier struct {
	logger *zap.Logger
	delay  time.Duration
}

var _ Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a log notifier.
func NewLogNotifier(logger *zap.Logger, delay time.Duration) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("email"), delay: delay}
}

// Notify logs n. It returns early with the context error on cancellation.
func (l *LogNotifier) Notify(ctx context.Context, n messages.Notification) error {
	log := logging.WithTrace(ctx, l.logger)
	log.Info("sending email",
		zap.String("notification_id", n.NotificationID),
		zap.String("address", n.Address),
		zap.String("order_id", n.OrderID.String()),
	)

	if l.delay > 0 {
		timer := time.NewTimer(l.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	log.Info("email sent", zap.String("notification_id", n.NotificationID))
	return nil
}
