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
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mbd888/chainvoice/internal/chain"
	"github.com/mbd888/chainvoice/internal/config"
	"github.com/mbd888/chainvoice/internal/details"
	"github.com/mbd888/chainvoice/internal/health"
	"github.com/mbd888/chainvoice/internal/history"
	"github.com/mbd888/chainvoice/internal/invoice"
	"github.com/mbd888/chainvoice/internal/ipfsmeta"
	"github.com/mbd888/chainvoice/internal/logging"
	"github.com/mbd888/chainvoice/internal/metrics"
	"github.com/mbd888/chainvoice/internal/ratelimit"
	"github.com/mbd888/chainvoice/internal/realtime"
	"github.com/mbd888/chainvoice/internal/resolver"
	"github.com/mbd888/chainvoice/internal/security"
	"github.com/mbd888/chainvoice/internal/subgraph"
	"github.com/mbd888/chainvoice/internal/token"
	"github.com/mbd888/chainvoice/internal/validation"
	"github.com/mbd888/chainvoice/internal/watcher"
)

// SnapshotService is the server's view of the details layer.
type SnapshotService interface {
	Get(ctx context.Context, chainID int64, address common.Address) (*details.Snapshot, error)
	Refresh(ctx context.Context, chainID int64, address common.Address) (*details.Snapshot, error)
	Track(ctx context.Context, chainID int64, address common.Address) error
}

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	snapshots      SnapshotService
	invoiceWatcher *watcher.Watcher
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	checks         *health.Registry
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// WithSnapshots sets a custom snapshot service (for testing)
func WithSnapshots(svc SnapshotService) Option {
	return func(s *Server) {
		s.snapshots = svc
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
		checks: health.NewRegistry(),
	}

	// Apply options first (may set snapshots/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var store history.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		store = history.NewPostgresStore(db)
		s.checks.Register("database", func(ctx context.Context) health.Status {
			st := health.Status{Name: "database", Healthy: true}
			if err := db.PingContext(ctx); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		store = history.NewMemoryStore()
		s.logger.Info("using in-memory storage (event cache will not persist)")
	}

	// Build the snapshot service if not injected
	if s.snapshots == nil {
		indexer := subgraph.NewClient(cfg.SubgraphEndpoints)

		reader, err := chain.Dial(cfg.RPCEndpoints)
		if err != nil {
			return nil, fmt.Errorf("connect chain readers: %w", err)
		}

		var meta details.MetaFetcher
		if cfg.IPFSGateway != "" {
			meta = ipfsmeta.NewFetcher(cfg.IPFSGateway)
		}

		svc := details.NewService(indexer, reader, meta, resolver.NewRegistry(), store, s.logger)
		s.snapshots = svc

		// The watcher invalidates and recomputes on chain activity,
		// then pushes the fresh snapshot to stream subscribers.
		if len(cfg.RPCEndpoints) > 0 {
			w, err := watcher.Dial(
				watcher.Config{PollInterval: cfg.PollInterval},
				cfg.RPCEndpoints,
				store,
				func(ctx context.Context, chainID int64, addr common.Address) {
					snap, err := svc.Refresh(ctx, chainID, addr)
					if err != nil {
						s.logger.Error("refresh after activity failed",
							"chain_id", chainID, "invoice", addr.Hex(), "error", err)
						return
					}
					s.realtimeHub.BroadcastSnapshot(chainID, addr.Hex(), snap)
				},
				s.logger,
			)
			if err != nil {
				return nil, fmt.Errorf("start watcher: %w", err)
			}
			s.invoiceWatcher = w
		}
	}

	s.realtimeHub = realtime.NewHub(s.logger)

	// Setup gin
	if !cfg.IsDevelopment() {
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
	s.router.Use(security.HeadersMiddleware())

	// CORS (snapshots are public reads; any origin may fetch them)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

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

func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for real-time snapshot streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	v1.Use(validation.AddressParamMiddleware())

	v1.GET("/invoices/:chainId/:address", s.getInvoice)
	v1.GET("/invoices/:chainId/:address/status", s.getInvoiceStatus)
	v1.POST("/invoices/:chainId/:address/refresh", s.refreshInvoice)
	v1.GET("/stream/stats", s.streamStatsHandler)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) parseInvoiceRef(c *gin.Context) (int64, common.Address, bool) {
	chainID, err := strconv.ParseInt(c.Param("chainId"), 10, 64)
	if err != nil || chainID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_chain_id",
			"message": "chainId must be a positive integer",
		})
		return 0, common.Address{}, false
	}
	// AddressParamMiddleware already rejected malformed addresses.
	return chainID, common.HexToAddress(c.Param("address")), true
}

func (s *Server) getInvoice(c *gin.Context) {
	chainID, addr, ok := s.parseInvoiceRef(c)
	if !ok {
		return
	}

	snap, err := s.snapshots.Get(c.Request.Context(), chainID, addr)
	if err != nil {
		s.respondSnapshotError(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

func (s *Server) getInvoiceStatus(c *gin.Context) {
	chainID, addr, ok := s.parseInvoiceRef(c)
	if !ok {
		return
	}

	snap, err := s.snapshots.Get(c.Request.Context(), chainID, addr)
	if err != nil {
		s.respondSnapshotError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         snap.Status,
		"label":          snap.Status.Label(),
		"isReleasable":   snap.IsReleasable,
		"isLockable":     snap.IsLockable,
		"isWithdrawable": snap.IsWithdrawable,
		"isExpired":      snap.IsExpired,
		"inconsistent":   snap.Inconsistent,
		"verified":       snap.Verified,
		"computedAt":     snap.ComputedAt,
	})
}

func (s *Server) refreshInvoice(c *gin.Context) {
	chainID, addr, ok := s.parseInvoiceRef(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	snap, err := s.snapshots.Refresh(ctx, chainID, addr)
	if err != nil {
		s.respondSnapshotError(c, err)
		return
	}

	// Refreshed invoices stay tracked so the watcher keeps them fresh.
	if err := s.snapshots.Track(ctx, chainID, addr); err != nil {
		logging.L(ctx).Warn("track invoice failed", "invoice", addr.Hex(), "error", err)
	}

	s.realtimeHub.BroadcastSnapshot(chainID, addr.Hex(), snap)

	c.JSON(http.StatusOK, snap)
}

func (s *Server) respondSnapshotError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, subgraph.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "invoice_not_found",
			"message": "No invoice at this address on this chain",
		})
	case errors.Is(err, subgraph.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "indexer_unavailable",
			"message": "The event indexer is not reachable; try again shortly",
		})
	case errors.Is(err, invoice.ErrMalformedInput), errors.Is(err, token.ErrInvalidAmount):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "malformed_invoice_data",
			"message": err.Error(),
		})
	default:
		logging.L(c.Request.Context()).Error("snapshot failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to compute invoice snapshot",
		})
	}
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

	ok, statuses := s.checks.CheckAll(c.Request.Context())
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": statuses})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": statuses})
}

func (s *Server) infoHandler(c *gin.Context) {
	chains := make([]int64, 0, len(s.cfg.SubgraphEndpoints))
	for chainID := range s.cfg.SubgraphEndpoints {
		chains = append(chains, chainID)
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        "Chainvoice",
		"description": "Derived state service for on-chain escrow invoices",
		"version":     "0.1.0",
		"chains":      chains,
	})
}

func (s *Server) streamStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

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
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start invoice watcher
	if s.invoiceWatcher != nil {
		if err := s.invoiceWatcher.Start(runCtx); err != nil {
			s.logger.Error("failed to start invoice watcher", "error", err)
		}
	}

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start DB stats collector
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

	// Cancel the context for all background goroutines (hub, watcher)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop invoice watcher
	if s.invoiceWatcher != nil {
		s.invoiceWatcher.Stop()
		s.logger.Info("invoice watcher stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
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
