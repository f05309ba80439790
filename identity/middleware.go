package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) < 8 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

// RequireAuth rejects requests without a valid bearer token.
func (pr *Provider) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}
		p, err := pr.Authenticate(raw)
		if err != nil || p == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

// OptionalAuth attaches a principal when a valid token is present and
// otherwise lets the request through as anonymous.
func (pr *Provider) OptionalAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p, err := pr.Authenticate(bearerToken(c)); err == nil && p != nil {
			c.Set(principalKey, p)
		}
		c.Next()
	}
}

// PrincipalFrom returns the principal attached by RequireAuth or
// OptionalAuth, or nil for anonymous callers.
func PrincipalFrom(c *gin.Context) *Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}
