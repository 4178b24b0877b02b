package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Messaging metrics
	MessagesPublished *prometheus.CounterVec
	MessagesConsumed  *prometheus.CounterVec
	MessageDuration   *prometheus.HistogramVec
	MessagesInFlight  *prometheus.GaugeVec
	MessageRetries    *prometheus.CounterVec
	DeadLetters       *prometheus.CounterVec

	// Unit of work metrics
	Transactions        *prometheus.CounterVec
	TransactionDuration *prometheus.HistogramVec

	// Service metrics
	ServiceCalls    *prometheus.CounterVec
	ServiceDuration *prometheus.HistogramVec

	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current metric values for the health endpoint
type Snapshot struct {
	TotalRequests     int64   `json:"totalRequests"`
	TotalErrors       int64   `json:"totalErrors"`
	MessagesPublished int64   `json:"messagesPublished"`
	MessagesConsumed  int64   `json:"messagesConsumed"`
	DeadLetters       int64   `json:"deadLetters"`
	UptimeSeconds     float64 `json:"uptimeSeconds"`
}

// NewMetrics creates a metrics collector on its own registry, prefixed with
// namespace (for example "orderflow_api").
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Messaging metrics
		MessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_published_total",
				Help:      "Total number of messages sent",
			},
			[]string{"queue", "status"},
		),
		MessagesConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_consumed_total",
				Help:      "Total number of messages consumed by outcome",
			},
			[]string{"queue", "outcome"},
		),
		MessageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_processing_duration_seconds",
				Help:      "Message processing duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"queue"},
		),
		MessagesInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "messages_in_flight",
				Help:      "Number of messages currently being processed",
			},
			[]string{"queue"},
		),
		MessageRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "message_retries_total",
				Help:      "Total number of handler retries",
			},
			[]string{"queue"},
		),
		DeadLetters: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_dead_lettered_total",
				Help:      "Total number of messages moved to the dead-letter store",
			},
			[]string{"queue"},
		),

		// Unit of work metrics
		Transactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Total number of unit-of-work transactions by outcome",
			},
			[]string{"outcome"},
		),
		TransactionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_duration_seconds",
				Help:      "Transaction duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"outcome"},
		),

		// Service metrics
		ServiceCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "service_calls_total",
				Help:      "Total number of outbound service calls",
			},
			[]string{"service", "method", "status"},
		),
		ServiceDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "service_duration_seconds",
				Help:      "Outbound service call duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"service", "method"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordPublish records one send attempt
func (m *Metrics) RecordPublish(queue, status string) {
	m.MessagesPublished.WithLabelValues(queue, status).Inc()
	if status == StatusSuccess {
		m.mu.Lock()
		m.snapshot.MessagesPublished++
		m.mu.Unlock()
	}
}

// RecordConsume records one processed delivery
func (m *Metrics) RecordConsume(queue, outcome string, duration time.Duration) {
	m.MessagesConsumed.WithLabelValues(queue, outcome).Inc()
	m.MessageDuration.WithLabelValues(queue).Observe(duration.Seconds())
	m.mu.Lock()
	m.snapshot.MessagesConsumed++
	m.mu.Unlock()
}

// InFlight increments the in-flight gauge and returns its decrement.
func (m *Metrics) InFlight(queue string) func() {
	g := m.MessagesInFlight.WithLabelValues(queue)
	g.Inc()
	return g.Dec
}

// RecordRetry records a handler retry
func (m *Metrics) RecordRetry(queue string) {
	m.MessageRetries.WithLabelValues(queue).Inc()
}

// RecordDeadLetter records a dead-lettered message
func (m *Metrics) RecordDeadLetter(queue string) {
	m.DeadLetters.WithLabelValues(queue).Inc()
	m.mu.Lock()
	m.snapshot.DeadLetters++
	m.mu.Unlock()
}

// ObserveTransaction records a unit-of-work outcome
func (m *Metrics) ObserveTransaction(outcome string, duration time.Duration) {
	m.Transactions.WithLabelValues(outcome).Inc()
	m.TransactionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordServiceCall records an outbound service call
func (m *Metrics) RecordServiceCall(service, method, status string, duration time.Duration) {
	m.ServiceCalls.WithLabelValues(service, method, status).Inc()
	m.ServiceDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// Snapshot returns current values for the JSON health endpoint
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.snapshot
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
