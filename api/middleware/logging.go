package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggingMiddleware пишет одну строку на запрос через slog вместо gin.Logger
func LoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"uri", c.Request.URL.RequestURI(),
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}
