package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/costplane/pkg/config"
	"mercator-hq/costplane/pkg/controlplane"
	"mercator-hq/costplane/pkg/server/middleware"
	"mercator-hq/costplane/pkg/telemetry/health"
	"mercator-hq/costplane/pkg/telemetry/metrics"
	"mercator-hq/costplane/pkg/telemetry/tracing"
)

// Options configures a Server.
type Options struct {
	Config    config.ServerConfig
	Telemetry config.TelemetryConfig

	// Facade serves the API. Required.
	Facade *controlplane.Facade

	// Health backs /health and /ready. Defaults to a checker with no
	// registered checks.
	Health *health.Checker

	Metrics *metrics.Collector
	Tracer  *tracing.Tracer
	Logger  *slog.Logger

	// Build information reported by /version.
	Version   string
	Commit    string
	BuildTime string
}

// Server is the HTTP front end of the control plane.
type Server struct {
	opts    Options
	logger  *slog.Logger
	handler http.Handler

	mu         sync.RWMutex
	httpServer *http.Server
	listener   net.Listener
	isRunning  bool
}

// New creates a server. It does not start listening.
func New(opts Options) (*Server, error) {
	if opts.Facade == nil {
		return nil, fmt.Errorf("control plane facade is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Health == nil {
		opts.Health = health.New(config.DefaultHealthCheckTimeout)
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Noop()
	}
	if opts.Telemetry.Health.LivenessPath == "" {
		opts.Telemetry.Health.LivenessPath = config.DefaultLivenessPath
	}
	if opts.Telemetry.Health.ReadinessPath == "" {
		opts.Telemetry.Health.ReadinessPath = config.DefaultReadinessPath
	}
	if opts.Telemetry.Metrics.Path == "" {
		opts.Telemetry.Metrics.Path = config.DefaultPrometheusPath
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger.With("component", "server"),
	}
	s.handler = s.setupRoutes()
	return s, nil
}

// Handler returns the configured HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// setupRoutes configures the routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()
	api := &apiHandler{
		facade: s.opts.Facade,
		logger: s.logger,
	}

	mux.HandleFunc("POST /v1/resolve", api.resolve)
	mux.HandleFunc("POST /v1/record", api.record)
	mux.HandleFunc("POST /v1/abandon", api.abandon)
	mux.HandleFunc("GET /v1/firms/{firm}/budget", api.budgetStatus)
	mux.HandleFunc("PUT /v1/firms/{firm}/budget", api.setBudget)
	mux.HandleFunc("POST /v1/firms/{firm}/budget/resume", api.resumeBudget)
	mux.HandleFunc("GET /v1/firms/{firm}/usage", api.usage)

	tel := s.opts.Telemetry
	mux.Handle(tel.Health.LivenessPath, s.opts.Health.LivenessHandler())
	mux.Handle(tel.Health.ReadinessPath, s.opts.Health.ReadinessHandler())
	mux.Handle("/version", health.VersionHandler(s.opts.Version, s.opts.Commit, s.opts.BuildTime))
	if s.opts.Metrics != nil {
		mux.Handle(tel.Metrics.Path, s.opts.Metrics.Handler())
	}

	var handler http.Handler = mux
	handler = middleware.BodyLimit(s.opts.Config.MaxBodyBytes)(handler)
	handler = middleware.Logging(s.logger)(handler)
	handler = middleware.RequestID(handler)
	if s.opts.Tracer.Enabled() {
		handler = middleware.Tracing(s.opts.Tracer.Provider(),
			tel.Health.LivenessPath, tel.Health.ReadinessPath, tel.Metrics.Path)(handler)
	}
	handler = middleware.Recovery(s.logger)(handler)
	return handler
}

// Start listens on the configured address and serves until ctx is
// cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}

	ln, err := net.Listen("tcp", s.opts.Config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Config.ListenAddress, err)
	}

	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.opts.Config.ReadTimeout,
		WriteTimeout: s.opts.Config.WriteTimeout,
		IdleTimeout:  s.opts.Config.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting costplane server", "address", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		if !ok {
			return nil
		}
		return err
	}
}

// Shutdown gracefully stops the server, waiting up to the configured
// shutdown timeout for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	timeout := s.opts.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = config.DefaultShutdownTimeout
	}
	s.logger.Info("initiating graceful shutdown", "timeout", timeout.String())

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var shutdownErr error
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		shutdownErr = fmt.Errorf("server shutdown error: %w", err)
	}

	s.isRunning = false
	s.logger.Info("costplane server stopped")
	return shutdownErr
}

// Addr returns the address the server is listening on, or "" when it is
// not running.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil || !s.isRunning {
		return ""
	}
	return s.listener.Addr().String()
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
