package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apihttp "github.com/GriffinCanCode/orderflow/internal/api/http"
	"github.com/GriffinCanCode/orderflow/internal/api/middleware"
	"github.com/GriffinCanCode/orderflow/internal/domain/order"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/config"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/database"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/logging"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/orderflow/internal/messaging"
	"github.com/GriffinCanCode/orderflow/internal/worker"
	"github.com/cockroachdb/errors"
)

// APIService is the service name the order API reports.
const APIService = "orderflow-api"

// Server wraps the HTTP server and dependencies
type Server struct {
	router     *gin.Engine
	http       *http.Server
	components *Components
	worker     *worker.Worker
	logger     *logging.Logger
	config     *config.Config
}

// NewServer creates a new server instance
func NewServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	components, err := NewComponents(ctx, cfg, APIService)
	if err != nil {
		return nil, err
	}
	srv, err := newServer(cfg, components)
	if err != nil {
		_ = components.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return srv, nil
}

func newServer(cfg *config.Config, c *Components) (*Server, error) {
	logger := c.Logger

	publisher := messaging.NewPublisher(messaging.PublisherConfig{
		System:            cfg.Broker.System,
		LegacyCorrelation: cfg.Broker.LegacyCorrelation,
	}, c.Transport, c.Codec, c.Tracer, c.Metrics, logger.Logger)

	var (
		factory *database.Factory
		reader  apihttp.OrderReader
	)
	if db := c.DB(); db != nil {
		factory = database.NewFactory(db, logger.Logger, c.Metrics)
		queries, err := order.NewQueries(db)
		if err != nil {
			return nil, err
		}
		reader = queries
	}
	service := order.NewService(factory, publisher, c.Tracer, cfg.Broker.OrderQueue, logger.Logger)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := NewRouter(cfg, c.Tracer, c.Metrics, logger.Logger)

	handlers := apihttp.NewHandlers(APIService, service, reader, c.Metrics, logger.Logger)
	apihttp.Register(router.Group(cfg.Server.PathBase), handlers)

	s := &Server{
		router:     router,
		components: c,
		logger:     logger,
		config:     cfg,
		http: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	if cfg.Server.EmbeddedWorker {
		wcfg := *cfg
		wcfg.Worker.MetricsPort = ""
		w, err := worker.New(&wcfg, worker.Deps{
			Tracer:    c.Tracer,
			Transport: c.Transport,
			Codec:     c.Codec,
			DB:        c.DB(),
			Metrics:   c.Metrics,
			Logger:    logger.Logger,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create embedded worker")
		}
		s.worker = w
		logger.Info("Embedded worker enabled", zap.String("queue", cfg.Broker.OrderQueue))
	}

	logger.Info("Server initialized successfully",
		zap.String("path_base", cfg.Server.PathBase),
		zap.Bool("persistence", service.Persistent()),
	)
	return s, nil
}

// NewRouter builds a gin engine with the standard middleware chain.
func NewRouter(cfg *config.Config, tracer *tracing.Tracer, metrics *monitoring.Metrics, logger *zap.Logger) *gin.Engine {
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.BodyLimit(middleware.MaxBodySize))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		rl.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(rl))
	}
	return router
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP, and the embedded worker when enabled, until ctx is
// cancelled. Shutdown waits up to Server.ShutdownTimeout for requests in
// flight.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.Server.ShutdownTimeout)
		defer cancel()
		s.logger.Info("Shutting down HTTP server")
		return s.http.Shutdown(shutdownCtx)
	})
	if s.worker != nil {
		g.Go(func() error { return s.worker.Run(gctx) })
	}

	return g.Wait()
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var err error
	if s.worker != nil {
		err = errors.CombineErrors(err, s.worker.Close())
	}
	return errors.CombineErrors(err, s.components.Close(ctx))
}
