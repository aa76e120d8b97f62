package middleware

import (
	"log/slog"
	"net/http"

	"github.com/CarlosdRojasC/envigo-realtime/pkg/state"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AppClaims defines our custom JWT claims structure. Browsers cannot set
// headers on a WebSocket upgrade, so the credential arrives as the `token`
// query parameter instead.
type AppClaims struct {
	Role      string `json:"role"`
	CompanyID string `json:"company_id,omitempty"`
	DriverID  string `json:"driver_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func NewAuthMiddleware(logger *slog.Logger, jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// couldn't extract metadata from request so something went wrong with previous middlewares
		reqMeta, ok := ReqMetadataFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
			return
		}

		tokenString := c.Query("token")
		if tokenString == "" {
			logger.Warn("Admission token missing in request", "ip", reqMeta.IP)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		// Parse and validate the JWT token with HMAC signing
		token, err := jwt.ParseWithClaims(tokenString, &AppClaims{}, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(jwtSecret), nil
		})

		// Reject token if invalid
		if err != nil || !token.Valid {
			logger.Warn("Invalid admission token presented", "ip", reqMeta.IP, slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, ok := token.Claims.(*AppClaims)
		if !ok {
			logger.Error("Failed to parse custom JWT claims", slog.Any("ip", reqMeta.IP))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if claims.Subject == "" {
			logger.Warn("Valid token missing 'sub' claim", "ip", reqMeta.IP)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if claims.Role == "" {
			logger.Warn("Valid token missing 'role' claim", "ip", reqMeta.IP)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		reqMeta.Identity = state.Identity{
			UserID:    claims.Subject,
			Role:      state.ParseRole(claims.Role),
			CompanyID: claims.CompanyID,
			DriverID:  claims.DriverID,
			Name:      claims.Name,
			Email:     claims.Email,
		}
		c.Next()
	}
}
