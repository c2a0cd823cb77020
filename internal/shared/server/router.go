package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	googleauth "brandpost-backend/internal/auth"
	"brandpost-backend/internal/services/health"
	"brandpost-backend/internal/sessions"
	"brandpost-backend/internal/shared/auth"
	"brandpost-backend/internal/shared/config"
	"brandpost-backend/internal/shared/metrics"
	"brandpost-backend/internal/shared/server/middleware"
	"brandpost-backend/internal/shared/server/respond"
)

// RouterDeps are the handlers and services the router mounts.
type RouterDeps struct {
	Config     config.Config
	Signer     *auth.Signer
	Sessions   *sessions.Handler
	GoogleAuth *googleauth.GoogleService
	Health     *health.Service
	Limiter    *middleware.RateLimiter
}

// Generation calls are expensive; everything else gets a looser default budget.
var rateLimitRules = map[string]middleware.RateLimitRule{
	"DEFAULT":                  {Rate: 10, Burst: 40},
	middleware.GenerationGroup: {Rate: 0.5, Burst: 6},
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Signer),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    rateLimitRules,
			GroupFor: middleware.GenerationRoutes(sessions.GenerationSuffixes...),
			Limiter:  deps.Limiter,
		}),
	)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		if deps.Health == nil {
			respond.OK(c, gin.H{"ok": true})
			return
		}
		report := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	api.GET("/metrics", metrics.Handler())
	registerMeRoutes(api)
	if deps.GoogleAuth != nil {
		deps.GoogleAuth.RegisterRoutes(api)
	}
	if deps.Sessions != nil {
		deps.Sessions.RegisterRoutes(api)
	}

	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
