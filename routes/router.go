package routes

import (
	"net/http"
	"time"

	"medisos/internal/config"
	handlers "medisos/internal/handlers/shared"
	"medisos/internal/metrics"
	"medisos/internal/middleware"
	"medisos/internal/utils"
	"medisos/pkg/logger"
	"medisos/pkg/websocket"

	"github.com/gin-gonic/gin"
)

// HealthCheck reports a dependency as healthy when it returns nil.
type HealthCheck func() error

type RouterDeps struct {
	Config       *config.Config
	Logger       *logger.Logger
	Metrics      *metrics.Metrics
	SOSHandler   *handlers.SOSHandler
	WSHandler    *websocket.Handler
	HealthChecks map[string]HealthCheck
}

func NewRouter(deps *RouterDeps) *gin.Engine {
	router := gin.New()
	if len(deps.Config.Security.TrustedProxies) > 0 {
		router.SetTrustedProxies(deps.Config.Security.TrustedProxies)
	}

	router.Use(
		middleware.RequestIDMiddleware(),
		middleware.Recovery(deps.Logger),
		middleware.LoggingMiddleware(deps.Logger),
		middleware.CORSMiddleware(deps.Config.Security.CORSAllowedOrigins),
	)

	router.GET("/health", healthHandler(deps))

	if deps.Config.Metrics.Enabled {
		router.GET(deps.Config.Metrics.Path, gin.WrapH(deps.Metrics.Handler()))
	}

	router.GET(deps.Config.WebSocket.Path, middleware.WebSocketAuth(deps.Config.Security.JWTSecret), deps.WSHandler.HandleWebSocket)

	v1 := router.Group("/api/v1")
	SetupSOSRoutes(v1, deps.SOSHandler, deps.Config.Security.JWTSecret)

	router.NoRoute(func(c *gin.Context) {
		utils.NotFoundResponse(c, "route")
	})

	return router
}

func healthHandler(deps *RouterDeps) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		checks := make(map[string]string, len(deps.HealthChecks))
		for name, check := range deps.HealthChecks {
			if err := check(); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		c.JSON(status, gin.H{
			"status":      http.StatusText(status),
			"service":     deps.Config.App.Name,
			"version":     deps.Config.App.Version,
			"connections": deps.WSHandler.GetHub().ClientCount(),
			"checks":      checks,
			"timestamp":   time.Now(),
		})
	}
}
