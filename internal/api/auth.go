package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/logging"
)

// DefaultAPIKeyHeader is used when the config does not name one.
const DefaultAPIKeyHeader = "X-API-Key"

// APIKeyAuth guards admin routes with a static API key. With no keys
// configured the guard is disabled, which is only sensible for local
// development.
func APIKeyAuth(cfg config.AuthConfig, logger *logging.Logger) gin.HandlerFunc {
	header := cfg.HeaderName
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	if len(cfg.APIKeys) == 0 {
		logger.Warn("no api keys configured, admin routes are unprotected")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		provided := c.GetHeader(header)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}
		for _, key := range cfg.APIKeys {
			if subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1 {
				c.Next()
				return
			}
		}
		logger.WarnWithContext(c.Request.Context(), "rejected api key",
			"client_ip", c.ClientIP(),
			"path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
	}
}

// MaskToken shortens a secret for display. Short values mask entirely.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "..." + token[len(token)-4:]
}
