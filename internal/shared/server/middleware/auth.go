package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"leadscore-backend/internal/shared/server/respond"
)

const accountIDKey = "accountId"

// TokenVerifier validates a bearer token and returns the account it belongs
// to. Credential issuance and validation live outside this service.
type TokenVerifier interface {
	Verify(token string) (accountID string, err error)
}

// Auth resolves the caller's account from a bearer token and stores it in
// context. When no verifier is configured (dev/local), an X-Account-Id header
// is accepted instead.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer"))
			if token == "" || verifier == nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			accountID, err := verifier.Verify(token)
			if err != nil || accountID == "" {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			c.Set(accountIDKey, accountID)
			c.Next()
			return
		}

		if verifier == nil {
			if accountID := strings.TrimSpace(c.GetHeader("X-Account-Id")); accountID != "" {
				c.Set(accountIDKey, accountID)
				c.Next()
				return
			}
		}

		respond.Error(c, http.StatusUnauthorized, "unauthorized", "Missing identity", nil)
	}
}

// AccountIDFromContext fetches the account ID set by the auth middleware.
func AccountIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	val, _ := c.Get(accountIDKey)
	if id, ok := val.(string); ok {
		return id
	}
	return ""
}
