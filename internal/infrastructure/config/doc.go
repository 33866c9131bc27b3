// Package config provides environment-driven configuration for the rhost daemon.
//
// Configuration Sections:
//   - Server: HTTP command interface (PORT, HOST)
//   - Worker: worker binary or address (RHOST_WORKER_PATH, RHOST_WORKER_ARGS, RHOST_WORKER_ADDR, RHOST_WORKER_DIR)
//   - Session: start/stop/evaluation timeouts (RHOST_START_TIMEOUT, RHOST_STOP_TIMEOUT, RHOST_EVAL_TIMEOUT)
//   - Pool: auxiliary session count (RHOST_POOL_SIZE)
//   - Debugger: breakpoint file (RHOST_BREAKPOINTS_FILE)
//   - Logging: LOG_LEVEL, LOG_DEV
//   - RateLimit: RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//
// Command line flags override the environment.
//
//	cfg := config.LoadOrDefault()
//	provider := session.NewProvider(session.ProviderOptions{StartTimeout: cfg.Session.StartTimeout})
package config
