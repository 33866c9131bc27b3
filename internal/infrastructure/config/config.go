package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all host configuration.
type Config struct {
	Server    ServerConfig
	Worker    WorkerConfig
	Session   SessionConfig
	Pool      PoolConfig
	Debugger  DebuggerConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds HTTP command interface configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8700"`
	Host string `envconfig:"HOST" default:"127.0.0.1"`
	// APIKeyHash is a bcrypt hash; when set every non-public route needs the key
	APIKeyHash string `envconfig:"RHOST_API_KEY_HASH"`
	// CORSOrigins restricts browser origins; empty allows any
	CORSOrigins []string `envconfig:"RHOST_CORS_ORIGINS"`
}

// WorkerConfig describes how worker processes are reached.
// When Address is set the host connects to an already running worker
// instead of launching Path. Embedded runs interpreters inside the host.
type WorkerConfig struct {
	Path     string   `envconfig:"RHOST_WORKER_PATH" default:"rhost-worker"`
	Args     []string `envconfig:"RHOST_WORKER_ARGS"`
	Address  string   `envconfig:"RHOST_WORKER_ADDR"`
	WorkDir  string   `envconfig:"RHOST_WORKER_DIR"`
	Embedded bool     `envconfig:"RHOST_WORKER_EMBEDDED" default:"false"`
	LibPaths []string `envconfig:"RHOST_LIB_PATHS"`
}

// SessionConfig holds session timeouts.
type SessionConfig struct {
	StartTimeout time.Duration `envconfig:"RHOST_START_TIMEOUT" default:"30s"`
	StopTimeout  time.Duration `envconfig:"RHOST_STOP_TIMEOUT" default:"5s"`
	EvalTimeout  time.Duration `envconfig:"RHOST_EVAL_TIMEOUT" default:"0s"`
}

// PoolConfig holds auxiliary session pool configuration.
type PoolConfig struct {
	Size int `envconfig:"RHOST_POOL_SIZE" default:"2"`
}

// DebuggerConfig holds breakpoint persistence configuration.
type DebuggerConfig struct {
	BreakpointsFile string `envconfig:"RHOST_BREAKPOINTS_FILE"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration for the HTTP interface.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"50"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"100"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Pool.Size <= 0 {
		return nil, fmt.Errorf("failed to load config: pool size must be positive, got %d", cfg.Pool.Size)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8700",
			Host: "127.0.0.1",
		},
		Worker: WorkerConfig{
			Path: "rhost-worker",
		},
		Session: SessionConfig{
			StartTimeout: 30 * time.Second,
			StopTimeout:  5 * time.Second,
		},
		Pool: PoolConfig{
			Size: 2,
		},
		Logging: LogConfig{
			Level: "info",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			Enabled:           true,
		},
	}
}
