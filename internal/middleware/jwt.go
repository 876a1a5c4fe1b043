package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/stemsi/olpm-engine/internal/response"
)

const (
	// ContextKeyToken is the Gin context key for the caller's bearer token.
	ContextKeyToken = "bearer_token"
	// ContextKeySubject is the Gin context key for the token's sub claim.
	ContextKeySubject = "token_subject"
)

// BearerToken extracts the caller's token and stores it for the handlers,
// which forward it to the Assessment Repository. The signature is not checked
// here; that is the repository's job. Tokens that are JWTs are inspected so
// an expired one is refused before any upstream call. When required is false
// a request without a token falls back to the server's default token.
func BearerToken(required bool) gin.HandlerFunc {
	parser := jwt.NewParser()

	return func(c *gin.Context) {
		tokenStr, ok := extractToken(c)
		if !ok {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if tokenStr == "" {
			if required {
				response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
				return
			}
			c.Next()
			return
		}

		claims := &jwt.RegisteredClaims{}
		if _, _, err := parser.ParseUnverified(tokenStr, claims); err == nil {
			if claims.ExpiresAt != nil && claims.ExpiresAt.Before(time.Now()) {
				response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenExpired)
				return
			}
			c.Set(ContextKeySubject, claims.Subject)
		}

		c.Set(ContextKeyToken, tokenStr)
		c.Next()
	}
}

// GetToken retrieves the bearer token from the Gin context.
func GetToken(c *gin.Context) string {
	return c.GetString(ContextKeyToken)
}

// GetSubject retrieves the token subject, if the token was a JWT carrying one.
func GetSubject(c *gin.Context) string {
	return c.GetString(ContextKeySubject)
}

// RequireToken admits only requests carrying exactly token. It guards the
// proctor endpoints, which see every candidate of a test.
func RequireToken(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := extractToken(c)
		if !ok {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenInvalid)
			return
		}
		if got == "" {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrTokenRequired)
			return
		}
		if len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			response.AbortFail(c, http.StatusForbidden, response.ErrForbidden)
			return
		}
		c.Next()
	}
}

// extractToken returns the caller's token, or "" when none was sent. ok is
// false when an Authorization header is present but is not a bearer token.
func extractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return "", false
		}
		tok := strings.TrimSpace(parts[1])
		return tok, tok != ""
	}

	// Fallback for EventSource (SSE) and WebSocket clients which cannot send headers
	return c.Query("token"), true
}
