package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ServiceAuthConfig configures bearer-token authentication for the admin API.
type ServiceAuthConfig struct {
	// Secret is the HMAC key used to verify service tokens.
	Secret []byte
	// Audience, when set, must match the token aud claim.
	Audience string
}

// ServiceAuth returns a Gin middleware that verifies an HS256-signed bearer
// token on every request. Requests without a valid token are rejected with 401.
func ServiceAuth(cfg ServiceAuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name})}
		if cfg.Audience != "" {
			opts = append(opts, jwt.WithAudience(cfg.Audience))
		}

		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			return cfg.Secret, nil
		}, opts...)
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if sub, err := token.Claims.GetSubject(); err == nil && sub != "" {
			c.Set("actor", sub)
		}
		c.Next()
	}
}
