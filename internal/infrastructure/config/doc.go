// Package config provides 12-factor configuration management for orderflow.
//
// Configuration starts from Default(), is overlaid by an optional YAML file
// named in CONFIG_FILE, and finally by environment variables. Validate runs
// last; an invalid configuration is fatal at startup.
//
// Configuration Sections:
//   - Service: Name, version and environment reported on spans
//   - Server: HTTP server settings (port, host, path base, embedded worker)
//   - Worker: Consumer concurrency, retry budget, inbox location
//   - Database: PostgreSQL connection; persistence is off when DATABASE_URL is empty
//   - Broker: Transport kind, queues and wire-compatibility switches
//   - Tracing: Exporter, endpoint and sample ratio
//   - Notification: Webhook target and its rate limit
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - SERVICE_NAME, ENVIRONMENT, PORT, HOST, PATH_BASE, EMBEDDED_WORKER
//   - WORKER_MAX_CONCURRENT, WORKER_MAX_ATTEMPTS, WORKER_INBOX_PATH,
//     WORKER_INBOX_RETENTION
//   - DATABASE_URL, DATABASE_MAX_CONNS, DATABASE_MIGRATE
//   - BROKER_KIND, BROKER_ADDRS, ORDER_QUEUE, NOTIFICATION_QUEUE, LEGACY_CORRELATION
//   - TRACING_ENABLED, TRACING_EXPORTER, OTLP_ENDPOINT, TRACING_SAMPLE_RATIO
//   - NOTIFY_WEBHOOK_URL, NOTIFY_RATE_LIMIT, NOTIFY_RECIPIENT
//   - LOG_LEVEL, LOG_DEV, RATE_LIMIT_RPS, RATE_LIMIT_BURST
package config
