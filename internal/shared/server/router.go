package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"leadscore-backend/internal/cache"
	"leadscore-backend/internal/progress"
	"leadscore-backend/internal/runs"
	"leadscore-backend/internal/shared/config"
	"leadscore-backend/internal/shared/metrics"
	"leadscore-backend/internal/shared/server/middleware"
	"leadscore-backend/internal/shared/server/respond"
)

// RouterDeps carries everything route registration needs.
type RouterDeps struct {
	Config          config.Config
	DB              *sql.DB
	Verifier        middleware.TokenVerifier
	RunsHandler     *runs.Handler
	ProgressHandler *progress.Handler
	Cache           *cache.Strategy
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())

	api := r.Group("/api/v1")
	api.GET("/health", healthHandler(deps.DB))

	authed := api.Group("")
	authed.Use(middleware.Auth(deps.Verifier))
	if deps.RunsHandler != nil {
		deps.RunsHandler.RegisterRoutes(authed)
	}
	if deps.ProgressHandler != nil {
		deps.ProgressHandler.RegisterRoutes(authed)
	}

	if deps.Config.Env == "dev" && deps.Cache != nil {
		dev := authed.Group("/dev")
		dev.GET("/cache/stats", cacheStatsHandler(deps.Cache))
	}

	return r
}

func healthHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"ok": true}
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				respond.JSON(c, http.StatusServiceUnavailable, gin.H{"ok": false, "db": "down"})
				return
			}
			body["db"] = "up"
		}
		respond.JSON(c, http.StatusOK, body)
	}
}

func cacheStatsHandler(strategy *cache.Strategy) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := strategy.Stats(c.Request.Context())
		if err != nil {
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to read cache stats", nil)
			return
		}
		respond.JSON(c, http.StatusOK, stats)
	}
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
