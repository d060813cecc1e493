package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ActorKey holds the acting user's id in the gin context.
	ActorKey = "actor_id"
	// RolesKey holds the acting user's roles in the gin context.
	RolesKey = "user_roles"
)

// Claims represents the JWT claims
type Claims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Roles  []string `json:"roles"`
	jwt.RegisteredClaims
}

// Actor identifies the caller. With an empty secret the X-User-ID header is trusted,
// otherwise a valid HS256 bearer token is required.
func Actor(jwtSecret string) gin.HandlerFunc {
	if jwtSecret == "" {
		return func(c *gin.Context) {
			if userID := c.GetHeader("X-User-ID"); userID != "" {
				c.Set(ActorKey, userID)
			}
			c.Next()
		}
	}
	return JWTAuth(jwtSecret)
}

// JWTAuth validates bearer tokens
func JWTAuth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, "missing_token", "Authorization header is required")
			return
		}

		tokenParts := strings.SplitN(authHeader, " ", 2)
		if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
			abortUnauthorized(c, "invalid_token_format", "Authorization header must be in format: Bearer <token>")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenParts[1], claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(jwtSecret), nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if err != nil || !token.Valid {
			abortUnauthorized(c, "invalid_token", "Invalid or expired token")
			return
		}

		userID := claims.UserID
		if userID == "" {
			userID, _ = claims.GetSubject()
		}
		if userID == "" {
			abortUnauthorized(c, "invalid_claims", "Token carries no user")
			return
		}

		c.Set(ActorKey, userID)
		c.Set(RolesKey, claims.Roles)
		c.Next()
	}
}

// RequireAnyRole rejects callers whose token carries none of roles.
// Without token roles in context (header mode) the check is skipped.
func RequireAnyRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get(RolesKey)
		if !exists {
			c.Next()
			return
		}

		userRoles, _ := value.([]string)
		for _, userRole := range userRoles {
			if userRole == "super_admin" {
				c.Next()
				return
			}
			for _, required := range roles {
				if userRole == required {
					c.Next()
					return
				}
			}
		}

		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": fmt.Sprintf("required one of roles: %v", roles),
			"code":  "insufficient_permissions",
		})
	}
}

func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
		"code":  code,
	})
}
