package admin

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"conduit/internal/config"
	"conduit/internal/logger"
	"conduit/pkg/middleware"
	"conduit/pkg/ratelimit"
	"conduit/pkg/tracing"
)

// NewRouter wires the admin middleware chain and routes. ctx bounds the
// rate limiter's background cleanup.
func NewRouter(ctx context.Context, cfg *config.Config, handler *Handler, log logger.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(serviceName(cfg)))
	}

	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(log))

	if cfg.Admin.RateLimit.Enabled {
		rateLimitConfig := ratelimit.Config{
			RPS:             cfg.Admin.RateLimit.RPS,
			Burst:           cfg.Admin.RateLimit.Burst,
			CleanupInterval: time.Duration(cfg.Admin.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(cfg.Admin.RateLimit.MaxAge) * time.Second,
		}
		router.Use(ratelimit.Middleware(ctx, rateLimitConfig))
		log.Infow("Rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	handler.RegisterRoutes(router)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return router
}

func serviceName(cfg *config.Config) string {
	if cfg.Tracing.ServiceName != "" {
		return cfg.Tracing.ServiceName
	}
	return "consumer-service"
}
