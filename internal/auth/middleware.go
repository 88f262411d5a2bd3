package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderKey carries the callback token when it is not in the query string.
//
//nolint:gosec // header name, not credential material
const HeaderKey = "X-Callback-Token"

// Middleware rejects requests that do not carry token as the "token" query
// parameter or the X-Callback-Token header. An empty token disables the
// check.
func Middleware(token string) gin.HandlerFunc {
	expected := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if expected == "" {
			c.Next()
			return
		}

		got := strings.TrimSpace(c.Query("token"))
		if got == "" {
			got = strings.TrimSpace(c.GetHeader(HeaderKey))
		}

		if subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{
					"message": "unauthorized",
					"code":    "invalid_callback_token",
				},
			})
			return
		}
		c.Next()
	}
}
