package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"resqfood/api/handlers"
	"resqfood/api/middleware"
)

const SERVICE_NAME = "resqfood-debug"

// NewDebugRouter собирает gin-движок отладочного сервера с метриками
func NewDebugRouter(h *handlers.DebugHandlers, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.PrometheusMiddleware(SERVICE_NAME))

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	DebugApi(router, h)
	return router
}

func DebugApi(router *gin.Engine, h *handlers.DebugHandlers) *gin.RouterGroup {
	debugEndpoints := router.Group("/debug/")
	{
		debugEndpoints.GET("view", h.GetView)
		debugEndpoints.GET("view/posts/:id", h.GetPost)

		// Карта
		debugEndpoints.GET("map/markers", h.GetMarkers)
		debugEndpoints.GET("map/overlay", h.GetOverlay)
		debugEndpoints.GET("map/bounds", h.GetBounds)
		debugEndpoints.PUT("map/radius", h.SetRadius)
		debugEndpoints.PUT("map/center", h.SetCenter)

		debugEndpoints.GET("connection", h.GetConnection)
		debugEndpoints.GET("diagnostics", h.GetDiagnostics)
		debugEndpoints.GET("diagnostics/counts", h.GetDiagnosticCounts)
		debugEndpoints.GET("toasts", h.GetToasts)
		debugEndpoints.POST("events", h.InjectEvent)
	}
	return debugEndpoints
}
