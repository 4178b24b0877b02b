package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/GriffinCanCode/orderflow/internal/infrastructure/config"
	"github.com/GriffinCanCode/orderflow/internal/infrastructure/server"
	"github.com/GriffinCanCode/orderflow/internal/worker"
	"go.uber.org/zap"
)

const service = "orderflow-worker"

func main() {
	configFile := flag.String("config", "", "YAML config file (overrides CONFIG_FILE)")
	metricsPort := flag.String("metrics-port", "", "Health and metrics port (overrides WORKER_METRICS_PORT)")
	flag.Parse()

	if *configFile != "" {
		_ = os.Setenv("CONFIG_FILE", *configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *metricsPort != "" {
		cfg.Worker.MetricsPort = *metricsPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := server.NewComponents(ctx, cfg, service)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	w, err := worker.New(cfg, worker.Deps{
		Tracer:    components.Tracer,
		Transport: components.Transport,
		Codec:     components.Codec,
		DB:        components.DB(),
		Metrics:   components.Metrics,
		Logger:    components.Logger.Logger,
	})
	if err != nil {
		_ = components.Close(context.Background())
		log.Fatalf("Failed to create worker: %v", err)
	}

	runErr := w.Run(ctx)
	if runErr != nil {
		components.Logger.Error("Worker failed", zap.Error(runErr))
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := w.Close(); err != nil {
		log.Printf("Error closing inbox: %v", err)
	}
	if err := components.Close(closeCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
