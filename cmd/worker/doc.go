// Package main is the entry point for the order worker.
//
// The worker consumes OrderMessage commands, continues the trace carried
// in their headers, notifies the customer and publishes a Notification
// event. Health, Prometheus metrics and dead letters are served on
// WORKER_METRICS_PORT.
//
// Usage:
//
//	BROKER_KIND=kafka BROKER_ADDRS=localhost:9092 ./worker -metrics-port 8001
//
// Signals:
//   - SIGINT, SIGTERM: Stop consuming, finish in-flight messages, exit
package main
