package http

import (
	"github.com/gin-gonic/gin"
)

// Register mounts the order API on r.
func Register(r gin.IRouter, h *Handlers) {
	r.GET("/health", h.Health)
	r.GET("/metrics", h.Metrics)

	r.POST("/order", h.PlaceOrder)
	r.GET("/order", h.ListOrders)
	r.GET("/order/:id", h.GetOrder)
	r.GET("/cardtypes", h.CardTypes)
}
