package worker

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/config"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/database"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/orderflow/internal/messaging"
	"github.com/GriffinCanCode/orderflow/internal/messaging/inbox"
	"github.com/GriffinCanCode/orderflow/internal/notification"
	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const webhookTripAfter = 5

// Deps are the shared components a Worker runs on. The caller owns them and
// closes them after the Worker stops.
type Deps struct {
	Tracer    *tracing.Tracer
	Transport messaging.Transport
	Codec     *messaging.Codec
	// DB enables order status updates; nil disables them.
	DB      database.DB
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// Worker consumes the order queue and serves health and metrics.
type Worker struct {
	cfg      *config.Config
	deps     Deps
	inbox    inbox.Store
	consumer *messaging.Consumer
	// breaker guards the webhook notifier; nil for the log notifier.
	breaker *resilience.Breaker
	router  *gin.Engine
	server  *http.Server
	logger  *zap.Logger
}

// New wires a worker from cfg and deps.
func New(cfg *config.Config, deps Deps) (*Worker, error) {
	if cfg == nil {
		return nil, errors.New("worker requires a config")
	}
	if deps.Tracer == nil || deps.Transport == nil || deps.Codec == nil {
		return nil, errors.New("worker requires a tracer, transport and codec")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = monitoring.NewMetrics("orderflow_worker")
	}
	logger := deps.Logger.Named("worker")

	store, err := openInbox(cfg.Worker.InboxPath, cfg.Worker.InboxRetention)
	if err != nil {
		return nil, err
	}

	notifier, err := newNotifier(cfg, deps, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	publisher := messaging.NewPublisher(messaging.PublisherConfig{
		System:            cfg.Broker.System,
		LegacyCorrelation: cfg.Broker.LegacyCorrelation,
	}, deps.Transport, deps.Codec, deps.Tracer, deps.Metrics, logger)

	var factory *database.Factory
	if deps.DB != nil {
		factory = database.NewFactory(deps.DB, logger, deps.Metrics)
	}

	handler := NewOrderHandler(HandlerConfig{
		NotificationQueue: cfg.Broker.NotificationQueue,
		ProcessingDelay:   cfg.Worker.ProcessingDelay,
		Recipient:         cfg.Notification.Recipient,
	}, notifier, publisher, factory, logger)

	consumer, err := messaging.NewConsumer(messaging.ConsumerConfig{
		Queue:             cfg.Broker.OrderQueue,
		System:            cfg.Broker.System,
		MaxConcurrent:     cfg.Worker.MaxConcurrent,
		MaxAttempts:       cfg.Worker.MaxAttempts,
		RetryInterval:     cfg.Worker.RetryInterval,
		DeadLetterQueue:   cfg.Broker.DeadLetterQueue,
		LegacyCorrelation: cfg.Broker.LegacyCorrelation,
	}, deps.Transport, deps.Codec, deps.Tracer, handler,
		messaging.WithInbox(store),
		messaging.WithMetrics(deps.Metrics),
		messaging.WithLogger(logger),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	w := &Worker{
		cfg:      cfg,
		deps:     deps,
		inbox:    store,
		consumer: consumer,
		logger:   logger,
	}
	if webhook, ok := notifier.(*notification.WebhookNotifier); ok {
		w.breaker = webhook.Breaker()
	}
	w.router = w.routes()
	if cfg.Worker.MetricsPort != "" {
		w.server = &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Worker.MetricsPort),
			Handler:           w.router,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return w, nil
}

func openInbox(path string, retention time.Duration) (inbox.Store, error) {
	if path == "" {
		return inbox.NewMemoryStore(inbox.WithRetention(retention)), nil
	}
	store, err := inbox.OpenBolt(path, inbox.WithRetention(retention))
	if err != nil {
		return nil, errors.Wrapf(err, "open inbox %s", path)
	}
	return store, nil
}

func newNotifier(cfg *config.Config, deps Deps, logger *zap.Logger) (notification.Notifier, error) {
	if cfg.Notification.WebhookURL == "" {
		return notification.NewLogNotifier(logger, 0), nil
	}
	return notification.NewWebhookNotifier(notification.WebhookConfig{
		URL:       cfg.Notification.WebhookURL,
		Timeout:   cfg.Notification.Timeout,
		RetryMax:  cfg.Notification.RetryMax,
		RateLimit: cfg.Notification.RateLimit,
		TripAfter: webhookTripAfter,
	}, deps.Tracer, deps.Metrics, logger)
}

func (w *Worker) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":  "healthy",
			"service": w.cfg.Service.Name,
			"queue":   w.cfg.Broker.OrderQueue,
			"metrics": w.deps.Metrics.Snapshot(),
		}
		if w.breaker != nil {
			body["notifier"] = w.breaker.State().String()
			if !w.breaker.Allow() {
				body["status"] = "degraded"
			}
		}
		c.JSON(http.StatusOK, body)
	})
	router.GET("/metrics", gin.WrapH(w.deps.Metrics.Handler()))
	router.GET("/deadletters", func(c *gin.Context) {
		letters, err := w.inbox.DeadLetters(c.Request.Context())
		if err != nil {
			w.logger.Error("failed to list dead letters", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "dead letters unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deadLetters": letters, "count": len(letters)})
	})
	return router
}

// Handler serves health, metrics and dead letters.
func (w *Worker) Handler() http.Handler {
	return w.router
}

// Inbox returns the idempotency and dead-letter store.
func (w *Worker) Inbox() inbox.Store {
	return w.inbox
}

// Run consumes until ctx is cancelled, then drains in-flight messages and
// shuts the HTTP endpoint down. It returns the first failure of either.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		w.logger.Info("consuming", zap.String("queue", w.cfg.Broker.OrderQueue),
			zap.Int("max_concurrent", w.cfg.Worker.MaxConcurrent))
		return w.consumer.Run(gctx)
	})

	if w.server != nil {
		g.Go(func() error {
			w.logger.Info("starting metrics server", zap.String("addr", w.server.Addr))
			if err := w.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.Server.ShutdownTimeout)
			defer done()
			return w.server.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}

// Close releases the inbox.
func (w *Worker) Close() error {
	return w.inbox.Close()
}
