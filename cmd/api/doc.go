// Package main is the entry point for the order API.
//
// The API accepts orders over HTTP, stores them when a database is
// configured, and sends an OrderMessage command to the order queue. The
// request span's context travels with the message so the worker continues
// the same trace.
//
// Configuration:
//   - Defaults for development
//   - Optional YAML file (-config or CONFIG_FILE)
//   - Environment variables (12-factor), applied last
//   - CLI flags for the listen port and the embedded worker
//
// Usage:
//
//	# In-memory broker, no database, worker in the same process
//	./api -embedded-worker
//
//	# Kafka and Postgres
//	BROKER_KIND=kafka BROKER_ADDRS=localhost:9092 \
//	DATABASE_URL=postgres://localhost/orders ./api -port 8000
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
