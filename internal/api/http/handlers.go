package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/orderflow/internal/domain/order"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/logging"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/orderflow/internal/shared/id"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CorrelationHeader lets callers choose the business correlation id.
const CorrelationHeader = "X-Correlation-ID"

const maxCorrelationLen = 128

// OrderPlacer places orders.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
}

// OrderReader is the read side of the ordering store.
type OrderReader interface {
	GetOrder(ctx context.Context, id int64) (*order.View, error)
	GetOrdersFromUser(ctx context.Context, buyer uuid.UUID) ([]order.Summary, error)
	GetCardTypes(ctx context.Context) ([]order.CardType, error)
}

// Handlers contains all HTTP handlers
type Handlers struct {
	service string
	placer  OrderPlacer
	reader  OrderReader
	metrics *monitoring.Metrics
	tracked *HandlerMetrics
	logger  *zap.Logger
}

// NewHandlers creates a new handlers instance. reader is nil when
// persistence is disabled; read endpoints then answer 503.
func NewHandlers(service string, placer OrderPlacer, reader OrderReader, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		service: service,
		placer:  placer,
		reader:  reader,
		metrics: metrics,
		tracked: NewHandlerMetrics(metrics),
		logger:  logger.Named("http"),
	}
}

// Health returns service health
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":      "healthy",
		"service":     h.service,
		"persistence": h.reader != nil,
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// Metrics serves Prometheus metrics
func (h *Handlers) Metrics(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusNotFound)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// PlaceOrder stores an order and sends it to the worker
func (h *Handlers) PlaceOrder(c *gin.Context) {
	var req order.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order payload"})
		return
	}

	cid := strings.TrimSpace(c.GetHeader(CorrelationHeader))
	if len(cid) > maxCorrelationLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "correlation id too long"})
		return
	}
	req.CorrelationID = id.CorrelationID(cid)

	done := h.tracked.TrackOrderOperation("place")
	result, err := h.placer.PlaceOrder(c.Request.Context(), req)
	done(err)
	if err != nil {
		h.fail(c, err)
		return
	}

	logging.WithTrace(c.Request.Context(), h.logger).Info("order accepted",
		zap.String("order_id", result.OrderID.String()),
		zap.String("message_id", result.MessageID.String()),
	)
	c.JSON(http.StatusOK, result)
}

// GetOrder returns one order with its lines
func (h *Handlers) GetOrder(c *gin.Context) {
	if !h.readable(c) {
		return
	}
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || orderID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id must be a positive integer"})
		return
	}

	done := h.tracked.TrackQueryOperation("get_order")
	view, err := h.reader.GetOrder(c.Request.Context(), orderID)
	done(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ListOrders returns the orders of the buyer named by the buyerId query
func (h *Handlers) ListOrders(c *gin.Context) {
	if !h.readable(c) {
		return
	}
	buyer, err := uuid.Parse(c.Query("buyerId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "buyerId must be a uuid"})
		return
	}

	done := h.tracked.TrackQueryOperation("orders_from_user")
	orders, err := h.reader.GetOrdersFromUser(c.Request.Context(), buyer)
	done(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	if orders == nil {
		orders = []order.Summary{}
	}
	c.JSON(http.StatusOK, orders)
}

// CardTypes lists accepted card brands
func (h *Handlers) CardTypes(c *gin.Context) {
	if !h.readable(c) {
		return
	}

	done := h.tracked.TrackQueryOperation("card_types")
	types, err := h.reader.GetCardTypes(c.Request.Context())
	done(err)
	if err != nil {
		h.fail(c, err)
		return
	}
	if types == nil {
		types = []order.CardType{}
	}
	c.JSON(http.StatusOK, types)
}

func (h *Handlers) readable(c *gin.Context) bool {
	if h.reader != nil {
		return true
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "order persistence is disabled"})
	return false
}

// fail maps an error to a status. Bodies never carry internal detail
// beyond validation messages.
func (h *Handlers) fail(c *gin.Context, err error) {
	_ = c.Error(err)

	switch order.KindOf(err) {
	case order.KindInvalid:
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
	case order.KindNotFound:
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
	case order.KindTransient:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	default:
		logging.WithTrace(c.Request.Context(), h.logger).Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

// validationMessage keeps the innermost message, which is the one written
// for the caller.
func validationMessage(err error) string {
	if cause := errors.UnwrapAll(err); cause != nil {
		return cause.Error()
	}
	return err.Error()
}
