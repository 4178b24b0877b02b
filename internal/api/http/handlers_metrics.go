package http

import (
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/monitoring"
)

// HandlerMetrics times handler operations as service calls.
type HandlerMetrics struct {
	metrics *monitoring.Metrics
}

// NewHandlerMetrics creates a metrics wrapper. metrics may be nil.
func NewHandlerMetrics(metrics *monitoring.Metrics) *HandlerMetrics {
	return &HandlerMetrics{metrics: metrics}
}

// TrackOrderOperation tracks order placement
func (hm *HandlerMetrics) TrackOrderOperation(operation string) func(error) {
	return hm.track("order_service", operation)
}

// TrackQueryOperation tracks read-side queries
func (hm *HandlerMetrics) TrackQueryOperation(operation string) func(error) {
	return hm.track("order_queries", operation)
}

func (hm *HandlerMetrics) track(service, operation string) func(error) {
	if hm == nil || hm.metrics == nil {
		return func(error) {}
	}
	return monitoring.NewTimer(hm.metrics, service, operation).StopErr
}
