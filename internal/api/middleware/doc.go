// Package middleware provides HTTP middleware for the order API.
//
// Middleware stack includes:
//   - CORS: Cross-origin resource sharing, trace headers allowed
//   - RateLimit: Per-IP token bucket rate limiting
//   - RequestLogger: One zap line per request with trace_id and span_id
//   - BodyLimit: 413 for oversized request bodies
//
// Rate Limiting:
//   - Per-IP tracking with idle eviction
//   - Token bucket algorithm
//   - Configurable RPS and burst capacity
//   - Global rate limiting option
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
