/*
Package monitoring provides Prometheus metrics for the rhost daemon.

# Overview

Collectors cover worker sessions (state, disconnects, start failures, token
wait), worker round trips (count, latency, in-flight), the auxiliary session
pool, debugger stops and the HTTP command interface.

# Usage

	metrics := monitoring.NewMetrics(prometheus.NewRegistry())
	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTimer(metrics, "evaluate")
	// ... round trip ...
	timer.Stop("ok")

A nil *Metrics is valid and records nothing.
*/
package monitoring
