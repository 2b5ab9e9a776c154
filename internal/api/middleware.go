package api

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pccr10001/gsmlink/internal/auth"
	"github.com/pccr10001/gsmlink/internal/model"
	"github.com/pccr10001/gsmlink/internal/repository"
	"github.com/pccr10001/gsmlink/pkg/logger"
	"gorm.io/gorm"
)

// AuthMiddleware accepts a bearer token, or a token query parameter for
// clients that cannot set headers such as browser WebSockets.
func AuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	users := repository.NewUserRepository(db)
	return func(c *gin.Context) {
		token := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Log.Warnf("Auth Middleware: Invalid header format: %s", authHeader)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
				return
			}
			token = parts[1]
		}
		if token == "" {
			logger.Log.Warn("Auth Middleware: Missing Authorization header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		claims, err := auth.ValidateToken(token)
		if err != nil {
			logger.Log.Warnf("Auth Middleware: Token validation failed: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			return
		}

		// Fetch the user so AllowedModems is current
		user, err := users.FindByID(claims.UserID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not found"})
			return
		}

		c.Set("user", user)
		c.Set("userID", claims.UserID)
		c.Set("role", claims.Role)

		c.Next()
	}
}

func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists || role != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) *model.User {
	if v, ok := c.Get("user"); ok {
		if u, ok := v.(*model.User); ok {
			return u
		}
	}
	return nil
}

// allowedModems returns the modem ids the user may see, or nil for all.
func allowedModems(u *model.User) []string {
	if u == nil {
		return []string{}
	}
	if u.Role == "admin" || u.AllowedModems == "*" {
		return nil
	}
	if u.AllowedModems == "" {
		return []string{}
	}
	var out []string
	for _, s := range strings.Split(u.AllowedModems, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func canAccess(u *model.User, modemID string) bool {
	allowed := allowedModems(u)
	return allowed == nil || slices.Contains(allowed, modemID)
}
