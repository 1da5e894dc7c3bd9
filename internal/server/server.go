package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/handler"
	"github.com/aman-churiwal/admission-gateway/internal/healthcheck"
	"github.com/aman-churiwal/admission-gateway/internal/metrics"
	"github.com/aman-churiwal/admission-gateway/internal/middleware"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/ratelimit"
	"github.com/aman-churiwal/admission-gateway/internal/rules"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/gin-gonic/gin"
)

type Dependencies struct {
	Config   *config.Config
	Logger   *slog.Logger
	Service  *service.AdmissionService
	Registry *ratelimit.Registry
	Rules    *rules.Store
	Metrics  *metrics.Metrics

	// Optional
	Repository handler.RuleRepository
	Breaker    *circuitbreaker.Breaker
	Health     *healthcheck.Checker
}

type Server struct {
	router     *gin.Engine
	config     *config.Config
	logger     *slog.Logger
	deps       Dependencies
	httpServer *http.Server
}

func New(deps Dependencies) (*Server, error) {
	if deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Health == nil {
		deps.Health = healthcheck.NewChecker(healthcheck.Config{Logger: deps.Logger})
	}

	router := gin.New()
	if err := router.SetTrustedProxies(deps.Config.RateLimit.TrustedProxies); err != nil {
		return nil, err
	}

	s := &Server{
		router: router,
		config: deps.Config,
		logger: deps.Logger.With("component", "server"),
		deps:   deps,
	}

	// Setup middleware
	s.setupMiddleware()

	// Setup routes
	s.setupRoutes()

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger(s.logger))
}

func (s *Server) limitTypes() []models.LimitType {
	var types []models.LimitType
	for _, raw := range s.config.RateLimit.LimitTypes {
		if t, ok := models.ParseLimitType(raw); ok {
			types = append(types, t)
		}
	}
	return types
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	rateLimitHandler := handler.NewRateLimitHandler(s.deps.Service)
	rulesHandler := handler.NewRulesHandler(s.deps.Rules, s.deps.Repository, s.deps.Service, s.logger)
	systemHandler := handler.NewSystemHandler(s.deps.Registry, s.deps.Rules, s.deps.Breaker)

	v1 := s.router.Group("/v1/ratelimit")
	{
		v1.POST("/check", rateLimitHandler.Check)
		v1.GET("/info", rateLimitHandler.Info)

		// Forward-auth target for reverse proxies: the original request is
		// admitted against every configured limit type.
		v1.Any("/admit",
			middleware.Identity(middleware.IdentityConfig{
				CredentialHeader: s.config.RateLimit.CredentialHeader,
				JWTSecret:        s.config.Auth.JWTSecret,
				UserIDClaim:      s.config.Auth.UserIDClaim,
				Logger:           s.logger,
			}),
			middleware.RateLimit(s.deps.Service, middleware.RateLimitOptions{
				LimitTypes:  s.limitTypes(),
				LimitHeader: s.config.RateLimit.LimitHeader,
				Path:        middleware.ForwardedPath,
			}),
			func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"allowed": true})
			},
		)
	}

	admin := s.router.Group("/admin", middleware.RequireAdmin(s.config.Auth.AdminToken))
	{
		admin.GET("/status", systemHandler.Status)
		admin.POST("/circuit-breaker/reset", systemHandler.ResetCircuitBreaker)

		admin.POST("/ratelimit/reset", rateLimitHandler.Reset)
		admin.POST("/ratelimit/reset-all", rateLimitHandler.ResetAll)

		admin.GET("/rules", rulesHandler.List)
		admin.GET("/rules/:id", rulesHandler.Get)
		admin.POST("/rules", rulesHandler.Upsert)
		admin.PUT("/rules/:id", rulesHandler.Upsert)
		admin.DELETE("/rules/:id", rulesHandler.Delete)
	}
}

// Reports the cached dependency checks; 503 unless every dependency is healthy
func (s *Server) healthCheck(c *gin.Context) {
	overall := s.deps.Health.OverallHealth()

	statusCode := http.StatusOK
	if overall != healthcheck.Healthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overall.String(),
		"service":   "admission-gateway",
		"version":   Version,
		"timestamp": time.Now().Unix(),
		"checks":    s.deps.Health.GetAllStatus(),
	})
}

func (s *Server) Run(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout.Std(),
		WriteTimeout: s.config.Server.WriteTimeout.Std(),
		IdleTimeout:  s.config.Server.IdleTimeout.Std(),
	}

	s.logger.Info("starting admission gateway", "addr", addr, "environment", s.config.Server.Environment)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
