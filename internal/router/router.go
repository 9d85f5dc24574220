// Package router wires the HTTP routes and middleware chain.
package router

import (
	"github.com/jleechanorg/codex-plus/internal/handler"
	"github.com/jleechanorg/codex-plus/internal/middleware"
	"github.com/jleechanorg/codex-plus/internal/proxy"
	"github.com/jleechanorg/codex-plus/internal/types"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the gin engine with the full middleware chain.
func NewRouter(
	proxyServer *proxy.ProxyServer,
	handlers *handler.Server,
	configManager types.ConfigManager,
) *gin.Engine {
	if logrus.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.Recovery(),
		middleware.Logger(),
		middleware.SecurityHeaders(),
		middleware.CORS(configManager.GetCORSConfig()),
		// the completion endpoint streams SSE and must never be buffered
		// by compression
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/v1/responses"})),
	)

	engine.GET("/health", handlers.Health)

	auth := middleware.Auth(configManager.GetAuthConfig())
	limiter := middleware.RateLimiter(configManager.GetPerformanceConfig())

	v1 := engine.Group("/v1", auth)
	{
		v1.POST("/responses", limiter, proxyServer.HandleProxyRequest)
		v1.GET("/models", handlers.Models)
	}

	engine.POST("/reload", auth, handlers.Reload)

	return engine
}
