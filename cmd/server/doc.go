// Package main is the entry point for the rhost server.
//
// The server owns worker sessions and exposes evaluation, inspection and
// debugging over HTTP, with a websocket event stream per session.
//
// Architecture:
//
//	HTTP client → rhost server → worker (embedded, dialed or launched on a pty)
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	# Launch rhost-worker processes on demand
//	./server --port 8700 --worker ./rhost-worker
//
//	# In-process workers, colored logs
//	./server --embedded --dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
