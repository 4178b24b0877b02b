package worker

import (
	"context"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/domain/order"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/database"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/logging"
	"github.com/GriffinCanCode/orderflow/internal/messages"
	"github.com/GriffinCanCode/orderflow/internal/messaging"
	"github.com/GriffinCanCode/orderflow/internal/notification"
	"github.com/GriffinCanCode/orderflow/internal/shared/id"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandlerConfig configures OrderHandler.
type HandlerConfig struct {
	NotificationQueue string
	// ProcessingDelay simulates work before the customer is notified.
	ProcessingDelay time.Duration
	Recipient       string
}

// OrderHandler processes OrderMessage commands: it marks the stored order
// as awaiting validation, notifies the customer and emits a Notification
// event carrying the same correlation id.
type OrderHandler struct {
	cfg       HandlerConfig
	notifier  notification.Notifier
	publisher order.Publisher
	factory   *database.Factory
	logger    *zap.Logger
}

var _ messaging.Handler = (*OrderHandler)(nil)

// NewOrderHandler creates the handler. factory may be nil, in which case no
// status is written.
func NewOrderHandler(cfg HandlerConfig, notifier notification.Notifier, publisher order.Publisher, factory *database.Factory, logger *zap.Logger) *OrderHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderHandler{
		cfg:       cfg,
		notifier:  notifier,
		publisher: publisher,
		factory:   factory,
		logger:    logger.Named("orders"),
	}
}

// Handle implements messaging.Handler.
func (h *OrderHandler) Handle(ctx context.Context, env *messaging.Envelope) error {
	msg, err := messaging.Decode[messages.OrderMessage](env)
	if err != nil {
		return err
	}

	log := logging.WithTrace(ctx, h.logger).With(
		zap.String("correlation_id", env.CorrelationID.String()),
		zap.String("order_number", msg.OrderNumber),
	)
	log.Info("consuming order message")

	if h.factory != nil {
		if err := h.markAwaitingValidation(ctx, msg.OrderID, log); err != nil {
			return err
		}
	}

	if err := sleep(ctx, h.cfg.ProcessingDelay); err != nil {
		return err
	}

	n := messages.Notification{
		NotificationID: id.NewNotificationID().String(),
		Type:           messages.NotificationEmail,
		Content:        "Order: " + msg.OrderNumber,
		Address:        h.cfg.Recipient,
		Date:           time.Now().UTC(),
		OrderID:        msg.OrderID,
	}
	if err := h.notifier.Notify(ctx, n); err != nil {
		return errors.Wrapf(err, "notify order %s", msg.OrderNumber)
	}

	if _, err := h.publisher.Publish(ctx, h.cfg.NotificationQueue, n, env.CorrelationID); err != nil {
		return errors.Wrapf(err, "publish notification for order %s", msg.OrderNumber)
	}

	log.Info("consumed order message", zap.String("notification_id", n.NotificationID))
	return nil
}

// markAwaitingValidation runs in its own unit of work. An order the API
// never stored is not an error for the worker.
func (h *OrderHandler) markAwaitingValidation(ctx context.Context, orderID uuid.UUID, log *zap.Logger) error {
	uow := h.factory.New()
	repo := order.NewRepository(uow)
	if err := repo.MarkStatus(orderID, order.StatusAwaitingValidation); err != nil {
		return messaging.Permanent(err)
	}

	tx, err := uow.Begin(ctx)
	if err != nil {
		return err
	}
	err = uow.Commit(ctx, tx)
	switch order.KindOf(err) {
	case order.KindNone:
		return nil
	case order.KindNotFound:
		log.Warn("order not stored, status unchanged", zap.String("order_id", orderID.String()))
		return nil
	case order.KindInvalid:
		return messaging.Permanent(err)
	default:
		return err
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
