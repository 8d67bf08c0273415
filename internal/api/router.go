package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/adamscao/certregistry/internal/api/handlers"
	"github.com/adamscao/certregistry/internal/api/middleware"
	"github.com/adamscao/certregistry/internal/config"
	"github.com/adamscao/certregistry/internal/db/repository"
	"github.com/adamscao/certregistry/internal/metrics"
	"github.com/adamscao/certregistry/internal/models"
	"github.com/adamscao/certregistry/internal/policy"
	"github.com/adamscao/certregistry/internal/registry"
)

// Server represents the HTTP server
type Server struct {
	router *gin.Engine
	config *config.Config
	http   *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	reg *registry.Registry,
	callerRepo *repository.CallerRepository,
	auditRepo *repository.AuditRepository,
	validator *policy.Validator,
	m *metrics.Metrics,
	log *slog.Logger,
) *Server {
	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log))
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst)
		router.Use(limiter.Middleware())
	}

	onAuthFailure := func(c *gin.Context, scheme, subject, reason string) {
		m.IncrementAuthFailure(scheme)
		log.Warn("authentication failed",
			"request_id", middleware.RequestID(c),
			"scheme", scheme,
			"subject", subject,
			"reason", reason,
		)
		if err := auditRepo.Create(&models.AuditLog{
			Action:    models.ActionAuthFailed,
			Caller:    subject,
			ClientIP:  handlers.GetClientIP(c),
			UserAgent: c.GetHeader("User-Agent"),
			Success:   false,
			ErrorMsg:  scheme + ": " + reason,
		}); err != nil {
			log.Error("failed to write audit log", "error", err)
		}
	}

	// Create handlers
	registryHandler := handlers.NewRegistryHandler(reg)
	certHandler := handlers.NewCertHandler(reg, auditRepo, validator, m, log)
	ownerHandler := handlers.NewOwnerHandler(reg)
	adminHandler := handlers.NewAdminHandler(callerRepo, auditRepo, log)

	// API v1 routes
	v1 := router.Group("/v1")
	{
		v1.GET("/registry", registryHandler.GetInfo)
		v1.GET("/events", registryHandler.ListEvents)

		// Certificate endpoints
		certs := v1.Group("/certificates")
		{
			certs.POST("", middleware.CallerAuth(callerRepo, onAuthFailure), certHandler.Mint)
			certs.GET("/:id", certHandler.GetCertificate)
			certs.GET("/:id/uri", certHandler.GetTokenURI)
		}

		// Owner endpoints
		owners := v1.Group("/owners/:address")
		{
			owners.GET("/balance", ownerHandler.GetBalance)
			owners.GET("/tokens/:index", ownerHandler.GetTokenByIndex)
			owners.GET("/certificates", ownerHandler.ListCertificates)
			owners.GET("/details", ownerHandler.ListDetails)
			owners.GET("/events", ownerHandler.ListEvents)
		}

		// Admin endpoints (require admin token)
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminAuth(cfg.Admin.Token, onAuthFailure))
		{
			admin.POST("/callers", adminHandler.CreateCaller)
			admin.GET("/callers", adminHandler.ListCallers)
			admin.PUT("/callers/:address/enabled", adminHandler.SetCallerEnabled)
			admin.GET("/audit", adminHandler.ListAudit)
		}
	}

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"total_supply": reg.TotalSupply(),
		})
	})

	router.GET("/metrics", gin.WrapH(m.Handler()))

	return &Server{
		router: router,
		config: cfg,
		http: &http.Server{
			Addr:    cfg.Server.ListenAddr,
			Handler: router,
		},
	}
}

// Run starts the HTTP server and blocks until it stops. A clean Shutdown
// returns nil.
func (s *Server) Run() error {
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}
