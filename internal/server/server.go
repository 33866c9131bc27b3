package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/rhost/internal/api/http"
	"github.com/GriffinCanCode/rhost/internal/api/middleware"
	"github.com/GriffinCanCode/rhost/internal/debugger"
	"github.com/GriffinCanCode/rhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/rhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/rhost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/rhost/internal/logging"
	"github.com/GriffinCanCode/rhost/internal/pool"
	"github.com/GriffinCanCode/rhost/internal/session"
	"github.com/GriffinCanCode/rhost/internal/worker"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router    *gin.Engine
	http      *http.Server
	provider  *session.Provider
	pool      *pool.Pool
	debuggers *apihttp.Debuggers
	logger    *logging.Logger
	config    *config.Config
	metrics   *monitoring.Metrics
}

// Options overrides parts of the assembly, mostly for tests
type Options struct {
	// Launcher replaces the launcher chosen from the worker configuration
	Launcher session.Launcher
	// Registry receives the collectors; defaults to a fresh registry
	Registry *prometheus.Registry
	Logger   *logging.Logger
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	return New(cfg, Options{})
}

// New creates a server with overrides
func New(cfg *config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	logger.Info("Initializing rhost server",
		zap.String("port", cfg.Server.Port),
		zap.Int("pool_size", cfg.Pool.Size),
		zap.Bool("embedded_worker", cfg.Worker.Embedded),
	)

	// Metrics first; every component below reports into them
	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	metrics := monitoring.NewMetrics(registry)

	launcher := opts.Launcher
	if launcher == nil {
		launcher = newLauncher(cfg, logger)
	}

	sessionOpts := session.Options{
		Launcher:    launcher,
		Logger:      logger.Component("session"),
		Metrics:     metrics,
		EvalTimeout: cfg.Session.EvalTimeout,
		StopTimeout: cfg.Session.StopTimeout,
	}
	startInfo := session.StartupInfo{
		Name:             "rhost",
		WorkingDirectory: cfg.Worker.WorkDir,
	}

	providerLog := logger.Component("provider")
	breaker := resilience.New("worker-start", resilience.Settings{
		OnStateChange: func(name string, from, to resilience.State) {
			providerLog.Warn("start breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	provider := session.NewProvider(session.ProviderOptions{
		Session:      sessionOpts,
		StartInfo:    startInfo,
		StartTimeout: cfg.Session.StartTimeout,
		Breaker:      breaker,
		Logger:       providerLog,
	})

	sessionPool := pool.New(pool.Options{
		Size: cfg.Pool.Size,
		Factory: func(ctx context.Context) (*session.Session, error) {
			s := session.New(uuid.New(), sessionOpts)
			if err := breaker.Execute(func() error {
				return s.Start(ctx, startInfo, cfg.Session.StartTimeout)
			}); err != nil {
				return nil, err
			}
			return s, nil
		},
		Primary: func() *session.Session { return primary(provider) },
		Logger:  logger.Component("pool"),
		Metrics: metrics,
	})

	var store debugger.Store = debugger.NewMemoryStore()
	if cfg.Debugger.BreakpointsFile != "" {
		store = debugger.NewFileStore(cfg.Debugger.BreakpointsFile)
		logger.Info("Persisting breakpoints", zap.String("file", cfg.Debugger.BreakpointsFile))
	}
	debuggers := apihttp.NewDebuggers(store, logger.Component("debugger"), metrics)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID(logger.Component("http")))
	router.Use(monitoring.Middleware(metrics))
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.Origins = cfg.Server.CORSOrigins
	router.Use(middleware.CORS(corsCfg))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
	}
	if cfg.Server.APIKeyHash != "" {
		logger.Info("API key required")
		router.Use(middleware.APIKey(middleware.APIKeyConfig{
			Hash:   []byte(cfg.Server.APIKeyHash),
			Public: []string{"/", "/health", "/metrics"},
		}))
	}

	handlers := apihttp.NewHandlers(apihttp.Deps{
		Provider:  provider,
		Pool:      sessionPool,
		Debuggers: debuggers,
		Logger:    logger.Component("http"),
	})

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "online", "service": "rhost", "version": apihttp.Version})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	handlers.Register(router)

	logger.Info("Server initialized successfully")

	return &Server{
		router: router,
		http: &http.Server{
			Addr:    cfg.Server.Host + ":" + cfg.Server.Port,
			Handler: router,
		},
		provider:  provider,
		pool:      sessionPool,
		debuggers: debuggers,
		logger:    logger,
		config:    cfg,
		metrics:   metrics,
	}, nil
}

// newLauncher picks how workers are reached
func newLauncher(cfg *config.Config, logger *logging.Logger) session.Launcher {
	switch {
	case cfg.Worker.Embedded:
		logger.Info("Using embedded workers")
		return worker.Embedded(worker.Options{
			Logger:           logger.Component("worker"),
			WorkingDirectory: cfg.Worker.WorkDir,
			LibPaths:         cfg.Worker.LibPaths,
		})
	case cfg.Worker.Address != "":
		logger.Info("Connecting to running worker", zap.String("addr", cfg.Worker.Address))
		return &session.DialLauncher{URL: cfg.Worker.Address}
	default:
		logger.Info("Launching worker processes", zap.String("path", cfg.Worker.Path))
		var env []string
		if len(cfg.Worker.LibPaths) > 0 {
			env = append(env, "RHOST_LIB_PATHS="+strings.Join(cfg.Worker.LibPaths, ","))
		}
		return &session.ProcessLauncher{
			Path:   cfg.Worker.Path,
			Args:   cfg.Worker.Args,
			Dir:    cfg.Worker.WorkDir,
			Env:    env,
			Logger: logger.Component("launcher"),
		}
	}
}

// primary is the first running session; pooled sessions copy its context
func primary(p *session.Provider) *session.Session {
	for _, s := range p.Sessions() {
		if s.IsRunning() {
			return s
		}
	}
	return nil
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Provider returns the session provider
func (s *Server) Provider() *session.Provider {
	return s.provider
}

// Run starts the HTTP server and blocks until Close
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop http server: %w", err))
	}
	if err := s.pool.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to close session pool: %w", err))
	}
	if err := s.provider.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("failed to stop sessions: %w", err))
	}
	for _, err := range errs {
		s.logger.Error("Shutdown error", zap.Error(err))
	}

	// Sync logger before exit
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
