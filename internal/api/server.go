package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Router wraps a configured Gin engine and exposes it as an http.Handler.
type Router struct {
	engine *gin.Engine
}

// NewRouter constructs a Router with the full middleware chain and all routes
// registered. Middleware order:
//  1. Recovery: panic → 500
//  2. OTEL: trace context per request
//  3. RequestLogger: structured request logging
func NewRouter(b bootService, serviceName string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(Recovery(logger))
	engine.Use(OTEL(serviceName))
	engine.Use(RequestLogger(logger))

	h := &Handler{boot: b, logger: logger}

	v1 := engine.Group("/api/v1")
	v1.POST("/boot", h.Boot)

	engine.GET("/health", h.Health)
	engine.GET("/ready", h.Ready)
	engine.GET("/report", h.Report)
	engine.GET("/signals", h.Signals)

	return &Router{engine: engine}
}

// Handler returns the underlying http.Handler for use with net/http servers.
func (r *Router) Handler() http.Handler {
	return r.engine
}
