package notification

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/logging"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/orderflow/internal/messages"
	"github.com/GriffinCanCode/orderflow/internal/messaging"
	"github.com/bytedance/sonic"
	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// WebhookConfig configures WebhookNotifier.
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	// RetryMax is the number of transport retries on 5xx and connection
	// errors.
	RetryMax  int
	RetryWait time.Duration
	// RateLimit caps notifications per second; 0 means unlimited.
	RateLimit float64
	// TripAfter opens the breaker after this many consecutive failures.
	TripAfter uint32
}

// WebhookNotifier posts notifications as JSON. Calls are rate limited,
// guarded by a circuit breaker, retried by the transport, and traced with a
// Client span whose context travels in the request headers.
type WebhookNotifier struct {
	cfg     WebhookConfig
	client  *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	tracer  *tracing.Tracer
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

var _ Notifier = (*WebhookNotifier)(nil)

// NewWebhookNotifier creates a webhook notifier. metrics may be nil.
func NewWebhookNotifier(cfg WebhookConfig, tracer *tracing.Tracer, metrics *monitoring.Metrics, logger *zap.Logger) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook notifier requires a url")
	}
	if tracer == nil {
		return nil, errors.New("webhook notifier requires a tracer")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 200 * time.Millisecond
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("webhook")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = cfg.RetryWait
	retryClient.RetryWaitMax = 10 * cfg.RetryWait
	retryClient.Logger = nil

	restyClient := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", "orderflow-worker/1.0").
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	limit := rate.Inf
	burst := 0
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
		burst = int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
	}

	breaker := resilience.New("notification-webhook", resilience.Settings{
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.TripAfter
		},
		// A rejected payload says nothing about the endpoint's health.
		IsSuccessful: func(err error) bool {
			return err == nil || messaging.IsPermanent(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &WebhookNotifier{
		cfg:     cfg,
		client:  restyClient,
		limiter: rate.NewLimiter(limit, burst),
		breaker: breaker,
		tracer:  tracer,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Breaker exposes the circuit breaker state for health reporting.
func (w *WebhookNotifier) Breaker() *resilience.Breaker {
	return w.breaker
}

// Notify posts n. A 4xx answer is permanent; 5xx answers and transport
// errors are retried by the transport and then returned.
func (w *WebhookNotifier) Notify(ctx context.Context, n messages.Notification) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "notification rate limit")
	}

	timer := monitoring.NewTimer(w.metrics, "webhook", "notify")
	err := w.breaker.Do(ctx, func(ctx context.Context) error {
		return w.tracer.Run(ctx, "POST notification", tracing.KindClient, func(ctx context.Context, span *tracing.Span) error {
			span.SetTags(map[string]string{
				"http.method":     http.MethodPost,
				"http.url":        w.cfg.URL,
				"notification.id": n.NotificationID,
			})

			headers := http.Header{}
			w.tracer.InjectHTTP(ctx, headers)

			resp, err := w.client.R().
				SetContext(ctx).
				SetHeaderMultiValues(headers).
				SetBody(n).
				Post(w.cfg.URL)
			if err != nil {
				return errors.Wrap(err, "post notification")
			}

			span.SetTag("http.status_code", strconv.Itoa(resp.StatusCode()))
			switch {
			case resp.StatusCode() >= 500:
				return errors.Newf("notification endpoint answered %d", resp.StatusCode())
			case resp.StatusCode() >= 400:
				return messaging.Permanent(errors.Newf("notification rejected with %d", resp.StatusCode()))
			}
			return nil
		})
	})
	timer.StopErr(err)

	if err != nil {
		logging.WithTrace(ctx, w.logger).Warn("notification failed",
			zap.String("notification_id", n.NotificationID),
			zap.Error(err),
		)
		return err
	}
	return nil
}
