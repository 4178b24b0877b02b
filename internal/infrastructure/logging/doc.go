// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Log lines written while a span is active should carry its identity so the
// tracing sink and the log sink can be joined:
//
//	logger := logging.NewDefault()
//	logging.WithTrace(ctx, logger.Logger).Info("order accepted",
//		zap.String("order_number", number))
package logging
