package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/rhost/internal/api/middleware"
	"github.com/GriffinCanCode/rhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/rhost/internal/logging"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/GriffinCanCode/rhost/internal/worker"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer(t *testing.T, tweaks ...func(*config.Config)) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Worker.Embedded = true
	cfg.Worker.WorkDir = t.TempDir()
	cfg.RateLimit.Enabled = false
	cfg.Session.StartTimeout = 5 * time.Second
	for _, tweak := range tweaks {
		tweak(cfg)
	}

	srv, err := New(cfg, Options{Logger: &logging.Logger{Logger: zap.NewNop()}})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Close(ctx)
	})
	return srv
}

func serve(srv *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func TestRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"root", "GET", "/", http.StatusOK},
		{"health", "GET", "/health", http.StatusOK},
		{"metrics", "GET", "/metrics", http.StatusOK},
		{"sessions", "GET", "/sessions", http.StatusOK},
		{"unmatched", "GET", "/nope", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(srv, tt.method, tt.path)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, w.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestAPIKeyProtectsSessions(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("k"), bcrypt.MinCost)
	require.NoError(t, err)
	srv := newTestServer(t, func(cfg *config.Config) { cfg.Server.APIKeyHash = string(hash) })

	assert.Equal(t, http.StatusOK, serve(srv, "GET", "/health").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(srv, "GET", "/sessions").Code)
	assert.Equal(t, http.StatusOK, serve(srv, "GET", "/sessions?api_key=k").Code)
}

func TestStartedSessionIsMetered(t *testing.T) {
	srv := newTestServer(t)

	w := serve(srv, "POST", "/sessions/"+uuid.NewString()+"/start")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, srv.Provider().Sessions(), 1)

	metrics := serve(srv, "GET", "/metrics").Body.String()
	assert.Contains(t, metrics, `rhost_sessions{state="running"} 1`)
	assert.Contains(t, metrics, `rhost_http_requests_total{method="POST",path="/sessions/:id/start",status="200"} 1`)
}

func TestNewLauncherSelection(t *testing.T) {
	logger := &logging.Logger{Logger: zap.NewNop()}

	cfg := config.Default()
	cfg.Worker.Address = "ws://127.0.0.1:9/worker"
	dial, ok := newLauncher(cfg, logger).(*session.DialLauncher)
	require.True(t, ok)
	assert.Equal(t, cfg.Worker.Address, dial.URL)

	cfg = config.Default()
	cfg.Worker.LibPaths = []string{"/a", "/b"}
	proc, ok := newLauncher(cfg, logger).(*session.ProcessLauncher)
	require.True(t, ok)
	assert.Equal(t, "rhost-worker", proc.Path)
	assert.Equal(t, []string{"RHOST_LIB_PATHS=/a,/b"}, proc.Env)
}

func TestDialLauncherReachesRunningWorker(t *testing.T) {
	wsrv, err := worker.NewServer(worker.Options{WorkingDirectory: t.TempDir()})
	require.NoError(t, err)
	hs := httptest.NewServer(wsrv.Handler())
	t.Cleanup(func() {
		hs.Close()
		wsrv.Close()
	})

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/worker"
	s := session.New(uuid.New(), session.Options{Launcher: &session.DialLauncher{URL: url}})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, s.Start(ctx, session.StartupInfo{Name: "dial"}, 5*time.Second))
	defer func() { _ = s.Stop(ctx) }()

	n, err := session.EvaluateAs[int](ctx, s, "6 * 7", session.Normal)
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
