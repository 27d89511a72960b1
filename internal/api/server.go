// Package api exposes the engine's ops surface: strategy control, queue and
// position inspection, and health.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"quantdinger-engine/config"
	"quantdinger-engine/internal/database"
	"quantdinger-engine/internal/logging"
	"quantdinger-engine/internal/runner"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// RateLimiter provides simple in-memory rate limiting per endpoint.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a rate limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Server is the ops HTTP API.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	repo        *database.Repository
	supervisor  *runner.Supervisor
	config      config.ServerConfig
	authEnabled bool
	rateLimiter *RateLimiter
	logger      *logging.Logger
	startedAt   time.Time
}

// NewServer creates the ops API server. An empty JWTSecret disables auth.
func NewServer(cfg config.ServerConfig, repo *database.Repository, supervisor *runner.Supervisor) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins == "" || cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		repo:        repo,
		supervisor:  supervisor,
		config:      cfg,
		authEnabled: cfg.JWTSecret != "",
		rateLimiter: NewRateLimiter(120, time.Minute),
		logger:      logging.WithComponent("api"),
		startedAt:   time.Now(),
	}

	server.setupRoutes()
	return server
}

// traceMiddleware tags every request with a trace ID and logs its completion.
// Handlers pick the request logger back up via logging.FromContext.
func (s *Server) traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, reqLogger := logging.WithTraceContext(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		reqLogger.Info("Request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// rateLimitMiddleware rate limits requests by route.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "rate limit exceeded",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(s.traceMiddleware())
	api.Use(s.rateLimitMiddleware())
	if s.authEnabled {
		api.Use(jwtMiddleware(s.config.JWTSecret))
	}
	{
		api.GET("/engine/status", s.handleEngineStatus)

		api.GET("/strategies", s.handleListStrategies)
		api.GET("/strategies/:id", s.handleGetStrategy)
		api.POST("/strategies/:id/start", s.handleStartStrategy)
		api.POST("/strategies/:id/stop", s.handleStopStrategy)
		api.GET("/strategies/:id/positions", s.handleGetStrategyPositions)
		api.GET("/strategies/:id/trades", s.handleGetStrategyTrades)
		api.GET("/strategies/:id/notifications", s.handleGetStrategyNotifications)

		api.GET("/positions", s.handleListPositions)
		api.GET("/orders", s.handleListOrders)
		api.GET("/orders/:id", s.handleGetOrder)
	}
}

// Start starts the HTTP server and blocks until it exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	readTimeout := time.Duration(s.config.ReadTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := time.Duration(s.config.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("HTTP server starting", "addr", addr, "auth", s.authEnabled)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth reports process and database health.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
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
		"uptime":   time.Since(s.startedAt).Round(time.Second).String(),
	})
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
