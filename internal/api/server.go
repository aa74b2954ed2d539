package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"embpay-license-server/internal/auth"
	"embpay-license-server/internal/billing"
	"embpay-license-server/internal/database"
	"embpay-license-server/internal/events"
	"embpay-license-server/internal/license"
	"embpay-license-server/internal/logging"
	"embpay-license-server/internal/ratelimit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// Server represents the HTTP API server
type Server struct {
	router         *gin.Engine
	httpServer     *http.Server
	repo           *database.Repository
	eventBus       *events.EventBus
	licenses       *license.Service
	authService    *auth.Service
	billingService *billing.Service
	limiter        *ratelimit.Limiter
	config         ServerConfig
	logger         *logging.Logger
	wsHub          *WSHub
	startedAt      time.Time
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AdminOrigins   []string
}

// NewServer creates a new API server
func NewServer(
	config ServerConfig,
	repo *database.Repository,
	eventBus *events.EventBus,
	licenses *license.Service,
	authService *auth.Service,
	billingService *billing.Service,
	limiter *ratelimit.Limiter,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Admin dashboard CORS. The public license endpoint handles its own
	// wide-open CORS headers since it is called from arbitrary customer
	// software.
	corsConfig := cors.DefaultConfig()
	if len(config.AdminOrigins) > 0 {
		corsConfig.AllowOrigins = config.AdminOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:         router,
		repo:           repo,
		eventBus:       eventBus,
		licenses:       licenses,
		authService:    authService,
		billingService: billingService,
		limiter:        limiter,
		config:         config,
		logger:         logging.Default().WithComponent("api"),
		wsHub:          NewWSHub(eventBus),
		startedAt:      time.Now(),
	}

	server.setupRoutes()

	go server.wsHub.Run()

	return server
}

// rateLimitMiddleware limits public endpoint requests per client IP.
// The limiter fails open, so a Redis outage never blocks verification.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		allowed, remaining, _ := s.limiter.Allow(c.Request.Context(), c.ClientIP())
		if !allowed {
			c.Header("X-RateLimit-Remaining", "0")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "rate_limited",
			})
			c.Abort()
			return
		}
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Auth routes (login is public, the rest require a token)
	authHandlers := auth.NewHandlers(s.authService)
	authGroup := s.router.Group("/api/auth")
	authHandlers.RegisterRoutes(authGroup, s.authService.JWT())

	// Public license endpoint, called by customer software with no auth
	public := s.router.Group("/api/license")
	public.Use(s.publicCORSMiddleware())
	public.Use(s.rateLimitMiddleware())
	public.POST("", s.handleLicenseRequest)
	public.OPTIONS("", s.handleLicensePreflight)

	// Billing webhook (Stripe-signed, no session auth)
	s.router.POST("/api/webhooks/stripe", s.handleStripeWebhook)

	// Admin routes
	admin := s.router.Group("/api/admin")
	admin.Use(auth.Middleware(s.authService.JWT()))
	admin.Use(auth.RequireAdmin())
	{
		admin.GET("/licenses", s.handleListLicenses)
		admin.POST("/licenses", s.handleIssueLicense)
		admin.GET("/licenses/:id", s.handleGetLicense)
		admin.PATCH("/licenses", s.handleMutateLicense)
		admin.GET("/audit", s.handleListAuditLogs)
		admin.GET("/stats", s.handleGetStats)
		admin.GET("/ws", s.handleAdminWebSocket)
	}
}

// publicCORSMiddleware sets wide-open CORS headers on the public license
// endpoint, which is called cross-origin from customer sites and desktop apps
func (s *Server) publicCORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Next()
	}
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.WithField("address", addr).Info("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// Router exposes the gin engine, for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// handleHealth returns server health status
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := s.repo.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
		"uptime":   time.Since(s.startedAt).String(),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, gin.H{
		"error":   code,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// actorFromContext builds the audit actor for the authenticated admin
func (s *Server) actorFromContext(c *gin.Context) license.Actor {
	return license.Actor{
		ID:        auth.GetUserID(c),
		Email:     auth.GetUserEmail(c),
		IPAddress: c.ClientIP(),
	}
}
