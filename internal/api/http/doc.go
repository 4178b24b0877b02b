// Package http implements the order API handlers.
//
// Routes, relative to the configured path base:
//
//	GET  /health              liveness and a metrics snapshot
//	GET  /metrics             Prometheus exposition
//	POST /order               place an order
//	GET  /order?buyerId=<id>  orders of one buyer
//	GET  /order/:id           one order with its lines
//	GET  /cardtypes           accepted card brands
//
// Errors map to 400 for invalid input, 404 for unknown orders, 503 when the
// store is unavailable or disabled and 500 otherwise.
package http
