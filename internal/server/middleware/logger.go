package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"
)

// NewRequestLogger creates a middleware that logs details about each incoming request.
func NewRequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ip string
		if reqMeta, ok := ReqMetadataFrom(c); ok {
			ip = reqMeta.IP
		}

		logger.Info("Incoming HTTP request",
			slog.String("method", c.Request.Method),
			slog.String("uri", c.Request.URL.Path),
			slog.String("ip", ip),
		)
		c.Next()
	}
}
