// Package server assembles the host: configuration, logging, metrics, the
// session provider, the auxiliary pool, debugger registry and the gin
// command interface.
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger (production or development)
//  3. Register Prometheus collectors on a private registry
//  4. Pick the worker launcher (embedded, dial or process)
//  5. Create the provider, pool and debugger registry
//  6. Setup HTTP routes and middleware
//  7. Serve until Close stops the listener, pool and sessions
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(cfg)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
