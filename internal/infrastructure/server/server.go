package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/playground/internal/api/http"
	"github.com/GriffinCanCode/playground/internal/api/middleware"
	"github.com/GriffinCanCode/playground/internal/api/ws"
	"github.com/GriffinCanCode/playground/internal/infrastructure/config"
	"github.com/GriffinCanCode/playground/internal/infrastructure/logging"
	"github.com/GriffinCanCode/playground/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/playground/internal/sandbox"
	"github.com/GriffinCanCode/playground/internal/session"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	sessions *session.Manager
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	registry *prometheus.Registry
}

// Option configures a Server
type Option func(*options)

type options struct {
	logger *logging.Logger
	vendor *sandbox.VendorRegistry
	env    sandbox.Environment
}

// WithLogger sets the logger instead of deriving one from the config
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithVendor sets the vendor modules available to every session
func WithVendor(vendor *sandbox.VendorRegistry) Option {
	return func(o *options) { o.vendor = vendor }
}

// WithEnvironment sets the host capabilities available to every session
func WithEnvironment(env sandbox.Environment) Option {
	return func(o *options) { o.env = env }
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config is required")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logCfg := logging.DefaultConfig()
		if cfg.Logging.Development {
			logCfg = logging.DevelopmentConfig()
		}
		logCfg.Level = cfg.Logging.Level
		logger, err = logging.New(logCfg)
		if err != nil {
			return nil, err
		}
	}

	logger.Info("Initializing playground server",
		zap.String("port", cfg.Server.Port),
		zap.Int("compiler_workers", cfg.Compiler.Workers),
		zap.Bool("type_info", cfg.TypeInfo.Enabled),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewMetrics(registry)

	managerOpts := []session.Option{
		session.WithLogger(logger.Logger),
		session.WithMetrics(metrics),
		session.WithEnvironment(o.env),
	}
	if o.vendor != nil {
		managerOpts = append(managerOpts, session.WithVendor(o.vendor))
	}
	sessions := session.NewManager(cfg, managerOpts...)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger.Logger))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	limits := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		IdleTTL:           middleware.DefaultRateLimitConfig().IdleTTL,
	}
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(limits))
	}

	handlers := apihttp.NewHandlers(sessions, metrics, logger.Logger, cfg.Server.AssetsDir)
	handlers.Register(router)

	wsHandler := ws.NewHandler(sessions, metrics, logger.Logger, limits)
	router.GET("/sessions/:id/stream", wsHandler.HandleConnection)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	s := &Server{
		router:   router,
		sessions: sessions,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		registry: registry,
	}
	s.http = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server initialized successfully")
	return s, nil
}

// Handler returns the root handler. Responses are gzip compressed except
// for WebSocket upgrades, which must reach the router unwrapped.
func (s *Server) Handler() http.Handler {
	compressed := gzhttp.GzipHandler(s.router)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.router.ServeHTTP(w, r)
			return
		}
		compressed.ServeHTTP(w, r)
	})
}

// Sessions returns the session manager
func (s *Server) Sessions() *session.Manager {
	return s.sessions
}

// Run starts the HTTP server and blocks until it stops
func (s *Server) Run() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close gracefully shuts down the server and every session
func (s *Server) Close(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	err := s.http.Shutdown(ctx)
	if err != nil {
		s.logger.Error("Failed to shut down HTTP server", zap.Error(err))
	}

	s.sessions.CloseAll()
	s.metrics.Close()
	_ = s.logger.Sync()

	return err
}
