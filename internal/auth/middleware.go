// Package auth guards operator routes with a shared API key.
package auth

import (
	"crypto/subtle"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/bakehouse/internal/apperr"
	"github.com/mbd888/bakehouse/internal/logging"
)

// HeaderAPIKey carries the operator key.
const HeaderAPIKey = "x-api-key"

// ContextKeyOperator is set to true once the key has been accepted.
const ContextKeyOperator = "operator"

// RequireAPIKey rejects requests whose x-api-key header does not match key.
// An empty key disables the guarded routes entirely.
func RequireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			apperr.Respond(c, apperr.Unauthorized("admin_disabled", "Admin API is disabled: API_KEY is not configured"))
			return
		}

		presented := c.GetHeader(HeaderAPIKey)
		if presented == "" {
			apperr.Respond(c, apperr.Unauthorized("unauthorized", "API key required. Include the 'x-api-key' header."))
			return
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			logging.L(c.Request.Context()).Warn("admin request with invalid api key",
				"path", c.FullPath(), "client_ip", c.ClientIP())
			apperr.Respond(c, apperr.Unauthorized("unauthorized", "Invalid API key"))
			return
		}

		c.Set(ContextKeyOperator, true)
		c.Next()
	}
}

// IsOperator reports whether RequireAPIKey accepted the request.
func IsOperator(c *gin.Context) bool {
	return c.GetBool(ContextKeyOperator)
}
