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
)

func main() {
	// Parse flags
	configFile := flag.String("config", "", "YAML config file (overrides CONFIG_FILE)")
	port := flag.String("port", "", "Server port (overrides PORT)")
	embedded := flag.Bool("embedded-worker", false, "Run the order worker in this process")
	flag.Parse()

	if *configFile != "" {
		_ = os.Setenv("CONFIG_FILE", *configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *embedded {
		cfg.Server.EmbeddedWorker = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Create server
	srv, err := server.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Serve until a shutdown signal arrives
	runErr := srv.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Close(closeCtx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	if runErr != nil {
		log.Fatalf("Server error: %v", runErr)
	}
}
