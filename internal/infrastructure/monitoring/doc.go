/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the order
API and the worker. Each process owns one registry, so two processes
embedded in one binary never collide on metric names.

# Features

- HTTP request metrics (latency, throughput, size)
- Message metrics (published, consumed, retries, dead letters, in flight)
- Unit-of-work transaction outcomes
- Outbound service call metrics (notifications)
- Process uptime

# Usage

	metrics := monitoring.NewMetrics("orderflow_api")
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// Time operations
	timer := monitoring.NewTimer(metrics, "webhook", "notify")
	err := send()
	timer.StopErr(err)
*/
package monitoring
