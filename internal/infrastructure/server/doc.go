// Package server wires the order API process and the components it shares
// with the worker.
//
// Server Lifecycle:
//  1. Load configuration (defaults, YAML, environment)
//  2. Build the logger, metrics registry and tracer
//  3. Select the broker transport and open the database when configured
//  4. Set up the gin router and middleware under the path base
//  5. Serve HTTP, plus the embedded worker when enabled
//  6. Shut down gracefully when the context is cancelled
//
// Example Usage:
//
//	cfg, err := config.Load()
//	srv, err := server.NewServer(ctx, cfg)
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	_ = srv.Close(context.Background())
package server
