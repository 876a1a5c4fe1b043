package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/olpm-engine/internal/config"
	"github.com/stemsi/olpm-engine/internal/handler"
	"github.com/stemsi/olpm-engine/internal/middleware"
	"github.com/stemsi/olpm-engine/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Attempt *handler.AttemptHandler
	WS      *handler.WSHandler
	Monitor *handler.MonitorHandler
	Health  *handler.HealthHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
// createLimiter may be nil to disable rate limiting of attempt creation.
func SetupRouter(handlers *Handlers, cfg *config.Config, createLimiter *middleware.RateLimiter, log zerolog.Logger) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	router.Use(response.RequestIDMiddleware(log))
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.Health.Health)

	// The server's own API_TOKEN stands in when the caller sends none.
	bearer := middleware.BearerToken(cfg.APIToken == "")

	// ─── 1. Attempt commands ───────────────────────────────────────────
	attempts := router.Group("/api/v1/attempts")
	attempts.Use(bearer, middleware.NoStore())
	{
		create := []gin.HandlerFunc{handlers.Attempt.CreateAttempt}
		if createLimiter != nil {
			create = append([]gin.HandlerFunc{createLimiter.Middleware()}, create...)
		}
		attempts.POST("", create...)

		attempts.GET("/:id", handlers.Attempt.GetAttempt)
		attempts.DELETE("/:id", handlers.Attempt.DeleteAttempt)
		attempts.GET("/:id/test", handlers.Attempt.GetTest)
		attempts.POST("/:id/load", handlers.Attempt.LoadTest)
		attempts.POST("/:id/start", handlers.Attempt.StartAttempt)
		attempts.POST("/:id/pause", handlers.Attempt.PauseAttempt)
		attempts.POST("/:id/resume", handlers.Attempt.ResumeAttempt)
		attempts.PUT("/:id/answers", handlers.Attempt.SelectAnswer)
		attempts.POST("/:id/submit", handlers.Attempt.SubmitAttempt)
		attempts.POST("/:id/exit", handlers.Attempt.ExitAttempt)
	}

	// ─── 2. Monitor (SSE) ──────────────────────────────────────────────
	// Proctors only. Without MONITOR_TOKEN every request is refused.
	monitor := router.Group("/api/v1/monitor")
	monitor.Use(middleware.RequireToken(cfg.MonitorToken))
	{
		monitor.GET("/tests/:test_id", handlers.Monitor.MonitorTestSSE)
	}

	// ─── 3. WebSocket ──────────────────────────────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(bearer)
	{
		ws.GET("/attempts/:id/stream", handlers.WS.AttemptStream)
	}

	return router
}
