/*
Package worker consumes OrderMessage commands.

Each message continues the trace started by the API, runs with its own
context and unit of work, and ends with a customer notification and a
Notification event on the notification queue. Messages that keep failing
are dead-lettered to the inbox store and, when configured, to a
dead-letter queue.

The worker also serves:

	GET /health       liveness and a metrics snapshot
	GET /metrics      Prometheus exposition
	GET /deadletters  messages that exhausted their attempts
*/
package worker
