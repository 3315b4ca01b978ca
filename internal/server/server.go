// Package server sets up the HTTP server with all routes
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

	"github.com/mbd888/bakehouse/internal/auth"
	"github.com/mbd888/bakehouse/internal/config"
	"github.com/mbd888/bakehouse/internal/directory"
	"github.com/mbd888/bakehouse/internal/health"
	"github.com/mbd888/bakehouse/internal/logging"
	"github.com/mbd888/bakehouse/internal/metrics"
	"github.com/mbd888/bakehouse/internal/notify"
	"github.com/mbd888/bakehouse/internal/paystack"
	"github.com/mbd888/bakehouse/internal/plans"
	"github.com/mbd888/bakehouse/internal/provisioning"
	"github.com/mbd888/bakehouse/internal/ratelimit"
	"github.com/mbd888/bakehouse/internal/realtime"
	"github.com/mbd888/bakehouse/internal/security"
	"github.com/mbd888/bakehouse/internal/subscription"
	"github.com/mbd888/bakehouse/internal/tenancy"
	"github.com/mbd888/bakehouse/internal/tenant"
	"github.com/mbd888/bakehouse/internal/traces"
	"github.com/mbd888/bakehouse/internal/validation"
)

// webhookPath is exempt from rate limiting: the processor retries on 429.
const webhookPath = "/subscriptions/webhook"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	tenants       tenant.Store
	pool          *tenancy.Pool
	pipeline      *provisioning.Pipeline
	plansService  *plans.Service
	planTimer     *plans.Timer
	subscriptions *subscription.Service
	directory     *directory.Service
	stores        directory.Stores
	sender        notify.Sender
	paystack      *paystack.Client
	realtimeHub   *realtime.Hub
	health        *health.Registry
	rateLimiter   *ratelimit.Limiter

	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	shutdownTraces func(context.Context) error
	drainDelay     time.Duration

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSender replaces the outbound mail sender (for testing)
func WithSender(sender notify.Sender) Option {
	return func(s *Server) {
		s.sender = sender
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers before
// closing listeners.
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
		health:     health.NewRegistry(),
		drainDelay: 5 * time.Second,
	}

	// Apply options first (may set sender/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.shutdownTraces = shutdownTraces

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		schemas   tenancy.Schemas
		connector tenancy.Connector
		planStore plans.Store
		subStore  subscription.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.tenants = tenant.NewPostgresStore(db)
		planStore = plans.NewPostgresStore(db)
		subStore = subscription.NewPostgresStore(db)
		schemas = tenancy.NewPostgresSchemas(db, cfg.DatabaseURL, s.logger)
		connector = &tenancy.PostgresConnector{
			BaseDSN:         cfg.DatabaseURL,
			MaxOpenConns:    cfg.TenantDBMaxOpen,
			MaxIdleConns:    cfg.TenantDBMaxIdle,
			ConnMaxLifetime: cfg.TenantConnLifetime,
		}
		s.stores = directory.PostgresStores{}
		s.health.Register("registry", health.DBChecker("registry", db))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		memoryStores := directory.NewMemoryStores()
		memorySchemas := tenancy.NewMemorySchemas()
		memorySchemas.OnDrop = memoryStores.Forget

		s.tenants = tenant.NewMemoryStore()
		planStore = plans.NewMemoryStore()
		subStore = subscription.NewMemoryStore()
		schemas = memorySchemas
		connector = tenancy.MemoryConnector{}
		s.stores = memoryStores
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.pool = tenancy.NewPool(s.tenants, connector, s.logger)
	s.health.Register("tenant_pool", func(_ context.Context) health.Status {
		return health.Status{Name: "tenant_pool", Healthy: true, Detail: fmt.Sprintf("%d handles", s.pool.Size())}
	})

	// Payment processor
	s.paystack = paystack.NewClient(paystack.Config{
		BaseURL:     cfg.PaystackBaseURL,
		SecretKey:   cfg.PaystackSecretKey,
		CallbackURL: cfg.PaystackCallbackURL,
		Timeout:     cfg.PaystackTimeout,
	}, s.logger)
	s.health.Register("paystack", health.BreakerChecker("paystack", s.paystack.BreakerState))
	if cfg.PaystackSecretKey == "" {
		s.logger.Warn("PAYSTACK_SECRET_KEY not set: webhooks will be rejected")
	}

	s.plansService = plans.NewService(planStore, s.paystack, s.logger)
	if cfg.PlanSyncInterval > 0 {
		s.planTimer = plans.NewTimer(s.plansService, cfg.PlanSyncInterval, s.logger)
		s.logger.Info("plan catalog sync enabled", "interval", cfg.PlanSyncInterval)
	}

	s.subscriptions = subscription.NewService(subStore, s.tenants, s.plansService, s.paystack, s.logger)

	// Outbound email
	if s.sender == nil {
		if cfg.SMTPEnabled() {
			s.sender = notify.NewRetryingSender(
				notify.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.EmailFrom),
				s.logger,
			)
			s.logger.Info("smtp email enabled", "host", cfg.SMTPHost)
		} else {
			s.sender = notify.LogSender{Logger: s.logger}
			s.logger.Info("smtp not configured, emails will be logged")
		}
	}

	// Create realtime hub for notification streaming
	s.realtimeHub = realtime.NewHub(s.logger, cfg.FrontEndURL)
	s.logger.Info("realtime streaming enabled")

	s.directory = directory.NewService(s.sender, s.realtimeHub, cfg.FrontEndURL, s.logger)
	s.pipeline = provisioning.NewPipeline(s.tenants, schemas, s.pool, s.stores, s.sender, cfg.FrontEndURL, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
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

	// Security headers
	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))

	// CORS for the tenant front end
	origins := []string{s.cfg.FrontEndURL}
	if s.cfg.IsDevelopment() && s.cfg.FrontEndURL == "" {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.FromRPM(s.cfg.RateLimitRPM, webhookPath))
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Server span, so logs below carry trace ids
	s.router.Use(traces.Middleware())

	// Tenant id from /tenants/<id>/... onto the request context
	s.router.Use(tenancy.Middleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
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
			logger.Info("request completed",
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
	// Health and metrics
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	root := s.router.Group("")

	// Sign-up
	provisioning.NewHandler(s.pipeline).RegisterRoutes(root)

	// Plan catalog and subscriptions
	plansHandler := plans.NewHandler(s.plansService)
	plansHandler.RegisterRoutes(root)
	subHandler := subscription.NewHandler(s.subscriptions, s.cfg.PaystackSecretKey, s.logger)
	subHandler.RegisterRoutes(root)

	// Tenant-scoped directory, resolved through the connection pool
	tenantGroup := s.router.Group("/tenants/:tenantID",
		validation.IDParamMiddleware("tenantID"),
		tenancy.RequireTenant(s.pool),
	)
	directory.NewHandler(s.stores, s.directory, s.realtimeHub).RegisterRoutes(tenantGroup)

	// Operator API
	admin := s.router.Group("/admin",
		auth.RequireAPIKey(s.cfg.APIKey),
		validation.IDParamMiddleware("tenantID"),
		validation.IDParamMiddleware("id"),
	)
	tenant.NewHandler(s.tenants).RegisterAdminRoutes(admin)
	plansHandler.RegisterAdminRoutes(admin)
	subHandler.RegisterAdminRoutes(admin)
	admin.GET("/stats", s.statsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.health.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	health.Handler(s.health, 5*time.Second)(c)
}

func (s *Server) statsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tenant_handles": s.pool.Size(),
		"realtime":       s.realtimeHub.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start plan catalog sync
	if s.planTimer != nil {
		go s.planTimer.Start(runCtx)
	}

	// Sample control-plane pool stats
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, timers, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	// Stop plan sync timer
	if s.planTimer != nil {
		s.planTimer.Stop()
		s.logger.Info("plan sync timer stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Let queued welcome emails finish
	s.pipeline.Wait()

	// Close cached tenant handles
	if err := s.pool.Close(); err != nil {
		s.logger.Error("tenant pool close error", "error", err)
	} else {
		s.logger.Info("tenant pool closed")
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Error("trace exporter shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
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
