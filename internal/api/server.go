// Package api exposes the operational HTTP surface: health, portfolio
// state, risk analytics and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"multi-venue-trading-bot/internal/circuit"
	"multi-venue-trading-bot/internal/engine"
	"multi-venue-trading-bot/internal/events"
	"multi-venue-trading-bot/internal/portfolio"
	"multi-venue-trading-bot/internal/venue"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
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

// TraderAPI defines what the trading core must expose to the API
type TraderAPI interface {
	GetPortfolioEquity() float64
	GetEquityHistory() []portfolio.PortfolioEquityPoint
	GetAllPositions() []venue.Position
	GetCorrelationMatrix() map[string]map[string]float64
	GetPortfolioRiskAnalysis() portfolio.RiskReport
	SetSystemMode(ctx context.Context, mode engine.Mode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr           string `json:"addr"`
	ProductionMode bool   `json:"production_mode"`
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	trader      TraderAPI
	breaker     *circuit.Breaker // can be nil
	eventLog    *events.Log      // can be nil
	config      ServerConfig
	rateLimiter *RateLimiter
	logger      zerolog.Logger
}

// NewServer creates the API server.
func NewServer(config ServerConfig, trader TraderAPI, breaker *circuit.Breaker, logger zerolog.Logger) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8088"}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		trader:      trader,
		breaker:     breaker,
		config:      config,
		rateLimiter: NewRateLimiter(120, time.Minute),
		logger:      logger.With().Str("component", "api").Logger(),
	}
	server.setupRoutes()
	return server
}

// WithEventBus subscribes the server to the bus so /api/events can serve
// the recent event feed.
func (s *Server) WithEventBus(bus *events.Bus) *Server {
	s.eventLog = events.NewLog(bus, 128)
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := s.router.Group("/api", s.rateLimitMiddleware())
	{
		apiGroup.GET("/status", s.handleStatus)
		apiGroup.GET("/positions", s.handlePositions)
		apiGroup.GET("/equity", s.handleEquity)
		apiGroup.GET("/correlation", s.handleCorrelation)
		apiGroup.GET("/risk", s.handleRisk)
		apiGroup.GET("/events", s.handleEvents)
		apiGroup.POST("/mode", s.handleSetMode)
		apiGroup.POST("/breaker/reset", s.handleBreakerReset)
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.FullPath()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.config.Addr
	if addr == "" {
		addr = ":8080"
	}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	s.logger.Info().Str("addr", addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
