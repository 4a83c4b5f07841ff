// Package server wires the stores, services and workers together and
// serves the HTTP API.
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/packshop/internal/admin"
	"github.com/mbd888/packshop/internal/catalog"
	"github.com/mbd888/packshop/internal/config"
	"github.com/mbd888/packshop/internal/delivery"
	"github.com/mbd888/packshop/internal/health"
	"github.com/mbd888/packshop/internal/logging"
	"github.com/mbd888/packshop/internal/metrics"
	"github.com/mbd888/packshop/internal/orders"
	"github.com/mbd888/packshop/internal/ratelimit"
	"github.com/mbd888/packshop/internal/realtime"
	"github.com/mbd888/packshop/internal/reconciliation"
	"github.com/mbd888/packshop/internal/security"
	"github.com/mbd888/packshop/internal/traces"
	"github.com/mbd888/packshop/internal/validation"
	"github.com/mbd888/packshop/internal/webhooks"
	"github.com/mbd888/packshop/migrations"
)

// Version is reported by /health and the index route. Set by ldflags
// through cmd/server.
var Version = "dev"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	catalog     *catalog.Service
	orders      *orders.Service
	webhooks    *webhooks.Service
	deliverer   delivery.Deliverer
	dispatcher  *delivery.Dispatcher
	expiryTimer *orders.Timer
	reconciler  *reconciliation.Timer
	realtimeHub *realtime.Hub
	rateLimiter *ratelimit.Limiter
	health      *health.Registry
	db          *sql.DB // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	shutdownTracing func(context.Context) error
	cancelRunCtx    context.CancelFunc // cancels background goroutines started in Start
	drainDelay      time.Duration

	started atomic.Bool
	stopped atomic.Bool
	ready   atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDeliverer replaces the deliverer chosen by DELIVERY_MODE (for testing)
func WithDeliverer(d delivery.Deliverer) Option {
	return func(s *Server) {
		s.deliverer = d
	}
}

// WithDrainDelay sets how long Shutdown waits after failing readiness
// before closing listeners. Defaults to 5s.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
		health:     health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, cfg.Env, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTracing = shutdownTracing

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		packStore  catalog.Store
		orderStore orders.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := openDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		s.db = db
		s.logger.Info("connected to postgres", "dsn", maskDSN(cfg.DatabaseURL))

		if cfg.AutoMigrate {
			if err := migrations.Up(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			s.logger.Info("database migrations applied")
		}

		packStore = catalog.NewPostgresStore(db)
		orderStore = orders.NewPostgresStore(db)
		s.health.Register("database", health.DatabaseChecker(db))
	} else {
		packStore = catalog.NewSeededMemoryStore()
		orderStore = orders.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.catalog = catalog.NewService(packStore)

	// Realtime hub receives every order lifecycle event
	s.realtimeHub = realtime.NewHub(s.logger, cfg.CORSOrigins...)

	s.orders = orders.NewService(orderStore, s.catalog,
		orders.WithNotifier(s.realtimeHub),
		orders.WithPresenter(orders.LinkPresenter{Prefix: cfg.PaymentPresentationPrefix}),
		orders.WithLogger(s.logger),
	)

	// Delivery dispatcher; the orders service is both producer and recorder
	if s.deliverer == nil {
		s.deliverer = newDeliverer(cfg, s.logger)
	}
	dcfg := delivery.DefaultConfig()
	dcfg.Workers = cfg.DeliveryWorkers
	dcfg.MaxAttempts = cfg.DeliveryMaxAttempts
	s.dispatcher = delivery.NewDispatcher(s.deliverer, s.orders, dcfg, s.logger)
	s.orders.SetDispatcher(s.dispatcher)
	s.health.Register("delivery", health.RunningChecker("delivery", s.dispatcher.Running))
	s.logger.Info("delivery configured", "mode", s.deliverer.Name(), "workers", dcfg.Workers)

	// Webhook ingestion
	verifier, err := webhooks.NewVerifier(cfg.WebhookVerifier, cfg.WebhookSecret, cfg.WebhookTolerance)
	if err != nil {
		s.closeDB()
		return nil, fmt.Errorf("failed to create webhook verifier: %w", err)
	}
	s.webhooks = webhooks.NewService(verifier, s.orders, s.logger)
	if verifier.Name() == "none" {
		s.logger.Warn("webhook signature verification disabled")
	}

	// Expiry of abandoned orders
	if cfg.OrderTTL > 0 {
		s.expiryTimer = orders.NewTimer(s.orders, cfg.OrderTTL, cfg.ExpiryInterval, s.logger)
		s.health.Register("expiry", health.RunningChecker("expiry", s.expiryTimer.Running))
		s.logger.Info("order expiry enabled", "ttl", cfg.OrderTTL, "interval", cfg.ExpiryInterval)
	}

	// Re-dispatch deliveries stranded by a crash or restart
	if cfg.ReconcileInterval > 0 {
		runner := reconciliation.NewRunner(s.orders, cfg.DeliveryStaleAfter, s.logger)
		s.reconciler = reconciliation.NewTimer(runner, cfg.ReconcileInterval, s.logger)
		s.logger.Info("delivery reconciliation enabled",
			"interval", cfg.ReconcileInterval, "stale_after", cfg.DeliveryStaleAfter)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

func openDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

func newDeliverer(cfg *config.Config, logger *slog.Logger) delivery.Deliverer {
	if cfg.DeliveryMode != "http" {
		return delivery.NewLogDeliverer(logger)
	}
	var opts []delivery.HTTPOption
	if cfg.IsProduction() {
		opts = append(opts, delivery.WithURLValidator(func(u string) error {
			return security.ValidateEndpointURL(u, true)
		}))
	}
	return delivery.NewHTTPDeliverer(cfg.DeliveryURL, cfg.DeliverySecret, opts...)
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request ID and logging come first so later middleware can log with them
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	if s.cfg.RateLimitBurst > 0 {
		rl.BurstSize = s.cfg.RateLimitBurst
	}
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	health.NewHandler(s.health, s.ready.Load, Version).RegisterRoutes(s.router)
	s.router.GET("/metrics", metrics.Handler())
	s.router.GET("/", s.infoHandler)

	public := s.router.Group("")
	catalog.NewHandler(s.catalog).RegisterRoutes(public)
	orders.NewHandler(s.orders).RegisterRoutes(public)
	webhooks.NewHandler(s.webhooks).RegisterRoutes(public)

	// Realtime order status for the checkout page
	s.router.GET("/ws", gin.WrapF(s.realtimeHub.HandleWebSocket))

	adminGroup := s.router.Group("")
	adminGroup.Use(admin.RequireSecret(s.cfg.AdminSecret))
	admin.NewHandler(s.orders, s.cfg.OrderTTL).RegisterRoutes(adminGroup)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Route not found",
		})
	})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    "packshop",
		"version": Version,
		"endpoints": gin.H{
			"packs":    "GET /packs",
			"orders":   "POST /orders, GET /orders/:id",
			"webhooks": "POST /webhooks/payment",
			"realtime": "GET /ws?orderId=",
			"health":   "GET /health",
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches the background workers: realtime hub, delivery
// dispatcher, expiry and reconciliation timers, DB stats collector.
// It does not listen.
func (s *Server) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	go s.realtimeHub.Run(runCtx)
	s.dispatcher.Start(runCtx)
	if s.expiryTimer != nil {
		go s.expiryTimer.Start(runCtx)
	}
	if s.reconciler != nil {
		go s.reconciler.Start(runCtx)
	}
	metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)

	s.ready.Store(true)
	s.logger.Info("server ready")
}

// Run starts the workers and the HTTP server, and blocks until a signal,
// ctx cancellation or a listener error. It then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server. Listeners close first so no new
// notification can commit a delivery, then queued deliveries drain.
func (s *Server) Shutdown() error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.httpSrv != nil && s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("http shutdown error", "error", err)
			firstErr = err
		}
	}

	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.logger.Info("expiry timer stopped")
	}
	if s.reconciler != nil {
		s.reconciler.Stop()
		s.logger.Info("reconciliation timer stopped")
	}

	if s.started.Load() {
		if err := s.dispatcher.Stop(ctx); err != nil {
			s.logger.Error("delivery dispatcher did not drain", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			s.logger.Info("delivery dispatcher drained")
		}
	}

	// Hub, timer loop and stats collector
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	s.rateLimiter.Stop()

	if err := s.shutdownTracing(ctx); err != nil {
		s.logger.Error("tracing shutdown error", "error", err)
	}

	s.closeDB()
	s.logger.Info("server stopped")
	return firstErr
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	} else {
		s.logger.Info("database connection closed")
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Orders exposes the order service (used by tests and the CLI tools).
func (s *Server) Orders() *orders.Service {
	return s.orders
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
