package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/chainpot/keeper/internal/config"
	"github.com/chainpot/keeper/internal/utils"
)

// Context keys set by Auth for downstream handlers.
const (
	ContextOperatorID    = "operatorID"
	ContextOperatorEmail = "operatorEmail"
	ContextOperatorRole  = "operatorRole"
)

// Auth creates a gin middleware that validates operator bearer tokens and
// puts the operator's identity into the request context.
func Auth(cfg *config.Config) gin.HandlerFunc {
	const bearerSchema = "Bearer "

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			return
		}
		if !strings.HasPrefix(authHeader, bearerSchema) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header must start with Bearer"})
			return
		}

		claims, err := utils.ValidateJWT(authHeader[len(bearerSchema):], cfg)
		if err != nil {
			if errors.Is(err, jwt.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token has expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		c.Set(ContextOperatorID, claims["sub"])
		c.Set(ContextOperatorEmail, claims["email"])
		c.Set(ContextOperatorRole, claims["role"])
		c.Next()
	}
}

// RequireRole guards mutating endpoints: the operator's role claim must match
// one of the allowed roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(ContextOperatorRole)
		roleStr, _ := role.(string)
		for _, allowed := range roles {
			if roleStr == allowed {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
	}
}
