package middleware

import (
	"log/slog"
	"net/http"

	"github.com/CarlosdRojasC/envigo-realtime/pkg/config"
	"github.com/gin-gonic/gin"
)

type UserConnectionCounter func(userID string) int
type UserConnectionCycler func(userID string)

// NewConnectionLimiter bounds concurrent connections per user id. It must run
// after the auth middleware so the user id is known.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter UserConnectionCounter,
	cycler UserConnectionCycler,
	cfg config.ConnectionLimitConfig,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.MaxPerUser <= 0 {
			c.Next()
			return
		}

		reqMeta, ok := ReqMetadataFrom(c)
		if !ok {
			logger.Error("Connection limiter could not find request metadata in context. Check middleware order.")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}
		if reqMeta.Identity.UserID == "" {
			logger.Warn("Connection limiter could not determine userID from metadata; blocking request for safety.")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		count := counter(reqMeta.Identity.UserID)
		if count < cfg.MaxPerUser {
			c.Next()
			return
		}

		logger.Warn("User connection limit reached",
			slog.String("userID", reqMeta.Identity.UserID),
			slog.Int("count", count),
		)
		switch cfg.Mode {
		case "reject":
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many active connections"})
		case "cycle":
			cycler(reqMeta.Identity.UserID)
			c.Next()
		default:
			logger.Error("Invalid connection limit mode configured", slog.String("mode", cfg.Mode))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
	}
}
