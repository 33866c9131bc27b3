package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8700", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "rhost-worker", cfg.Worker.Path)
	assert.Equal(t, 30*time.Second, cfg.Session.StartTimeout)
	assert.Equal(t, 5*time.Second, cfg.Session.StopTimeout)
	assert.Zero(t, cfg.Session.EvalTimeout)
	assert.Equal(t, 2, cfg.Pool.Size)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.RateLimit.Enabled)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":                   "9000",
		"RHOST_WORKER_ADDR":      "127.0.0.1:7001",
		"RHOST_WORKER_ARGS":      "--name,primary",
		"RHOST_START_TIMEOUT":    "2s",
		"RHOST_EVAL_TIMEOUT":     "750ms",
		"RHOST_POOL_SIZE":        "4",
		"RHOST_BREAKPOINTS_FILE": "/tmp/bp.yaml",
		"LOG_LEVEL":              "debug",
		"RATE_LIMIT_ENABLED":     "false",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "127.0.0.1:7001", cfg.Worker.Address)
	assert.Equal(t, []string{"--name", "primary"}, cfg.Worker.Args)
	assert.Equal(t, 2*time.Second, cfg.Session.StartTimeout)
	assert.Equal(t, 750*time.Millisecond, cfg.Session.EvalTimeout)
	assert.Equal(t, 4, cfg.Pool.Size)
	assert.Equal(t, "/tmp/bp.yaml", cfg.Debugger.BreakpointsFile)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.False(t, cfg.RateLimit.Enabled)
}

func TestLoadRejectsEmptyPool(t *testing.T) {
	t.Setenv("RHOST_POOL_SIZE", "0")

	_, err := Load()
	assert.Error(t, err)

	cfg := LoadOrDefault()
	assert.Equal(t, 2, cfg.Pool.Size)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("RHOST_START_TIMEOUT", "soon")

	_, err := Load()
	assert.Error(t, err)
}
