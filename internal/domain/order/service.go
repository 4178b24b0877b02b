package order

import (
	"context"
	"strconv"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/database"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/logging"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/orderflow/internal/messages"
	"github.com/GriffinCanCode/orderflow/internal/shared/id"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher sends a message to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg messages.Message, correlationID id.CorrelationID) (id.MessageID, error)
}

// PlaceOrderRequest is the input of PlaceOrder.
type PlaceOrderRequest struct {
	OrderNumber   string           `json:"orderNumber"`
	OrderAmount   float64          `json:"orderAmount"`
	Description   string           `json:"description,omitempty"`
	BuyerID       uuid.UUID        `json:"buyerId,omitempty"`
	Address       Address          `json:"address"`
	Items         []Item           `json:"items,omitempty"`
	CorrelationID id.CorrelationID `json:"-"`
}

// PlaceOrderResult describes a placed order.
type PlaceOrderResult struct {
	OrderID       uuid.UUID        `json:"orderId"`
	OrderNumber   string           `json:"orderNumber"`
	ID            int64            `json:"id,omitempty"`
	MessageID     id.MessageID     `json:"messageId"`
	CorrelationID id.CorrelationID `json:"correlationId"`
	Persisted     bool             `json:"persisted"`
}

// Service places orders. With a nil factory orders are published but not
// stored.
type Service struct {
	factory   *database.Factory
	publisher Publisher
	tracer    *tracing.Tracer
	queue     string
	logger    *zap.Logger
}

// NewService creates the order service.
func NewService(factory *database.Factory, publisher Publisher, tracer *tracing.Tracer, queue string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		factory:   factory,
		publisher: publisher,
		tracer:    tracer,
		queue:     queue,
		logger:    logger.Named("order"),
	}
}

// Persistent reports whether orders are stored.
func (s *Service) Persistent() bool {
	return s.factory != nil
}

// PlaceOrder stores the order and sends the OrderMessage command. The
// insert is flushed inside the transaction before the send and committed
// after it, so a failed send leaves nothing stored. A commit failing after
// a successful send leaves a message for an order that does not exist.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	o := New(req.OrderNumber, req.OrderAmount)
	o.Description = req.Description
	o.BuyerID = req.BuyerID
	o.Address = req.Address
	o.Items = req.Items
	if req.CorrelationID == "" {
		req.CorrelationID = id.NewCorrelationID()
	}
	o.CorrelationID = req.CorrelationID.String()

	if err := o.Validate(); err != nil {
		return nil, err
	}

	result := &PlaceOrderResult{
		OrderID:       o.OrderID,
		OrderNumber:   o.Number,
		CorrelationID: req.CorrelationID,
		Persisted:     s.factory != nil,
	}

	err := s.tracer.Run(ctx, "PlaceOrder", tracing.KindInternal, func(ctx context.Context, span *tracing.Span) error {
		span.SetTags(map[string]string{
			"order.id":       o.OrderID.String(),
			"order.number":   o.Number,
			"correlation.id": o.CorrelationID,
		})
		log := logging.WithTrace(ctx, s.logger).With(
			zap.String("order_id", o.OrderID.String()),
			zap.String("order_number", o.Number),
			zap.String("correlation_id", o.CorrelationID),
			zap.Float64("order_amount", o.Amount),
		)

		if s.factory == nil {
			msgID, err := s.publish(ctx, o, req.CorrelationID)
			if err != nil {
				return err
			}
			result.MessageID = msgID
			log.Info("order sent", zap.String("message_id", msgID.String()))
			return nil
		}

		uow := s.factory.New()
		tx, err := uow.Begin(ctx)
		if err != nil {
			return errors.Mark(err, ErrTransient)
		}

		repo := NewRepository(uow)
		if err := repo.Add(o); err != nil {
			_ = uow.Rollback(ctx)
			return err
		}
		if err := uow.SaveChanges(ctx); err != nil {
			_ = uow.Rollback(ctx)
			return err
		}

		msgID, err := s.publish(ctx, o, req.CorrelationID)
		if err != nil {
			if rbErr := uow.Rollback(ctx); rbErr != nil {
				log.Warn("rollback after failed send failed", zap.Error(rbErr))
			}
			return err
		}
		result.MessageID = msgID

		if err := uow.Commit(ctx, tx); err != nil {
			log.Error("order sent but not stored", zap.String("message_id", msgID.String()), zap.Error(err))
			return err
		}
		result.ID = o.ID
		span.SetTag("order.row_id", strconv.FormatInt(o.ID, 10))
		log.Info("order placed",
			zap.Int64("id", o.ID),
			zap.String("message_id", msgID.String()),
			zap.String("tx_id", tx.ID().String()),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) publish(ctx context.Context, o *Order, correlationID id.CorrelationID) (id.MessageID, error) {
	msgID, err := s.publisher.Publish(ctx, s.queue, messages.OrderMessage{
		OrderID:     o.OrderID,
		OrderAmount: o.Amount,
		OrderNumber: o.Number,
		OrderDate:   o.Date,
	}, correlationID)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "send order message"), ErrTransient)
	}
	return msgID, nil
}
