package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rugmania-backend/internal/models"
	"rugmania-backend/internal/services"
)

// ContextAddress is the gin context key holding the token subject.
const ContextAddress = "address"

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, models.NewErrorResponse(code, msg))
}

// AuthMiddleware accepts a bearer token, or a token query parameter for
// websocket clients that cannot set headers.
func AuthMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				abort(c, http.StatusUnauthorized, models.CodeUnauthorized, "Invalid authorization format")
				return
			}
			tokenString = parts[1]
		} else {
			tokenString = c.Query("token")
			if tokenString == "" {
				abort(c, http.StatusUnauthorized, models.CodeUnauthorized, "Authorization header required")
				return
			}
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			abort(c, http.StatusUnauthorized, models.CodeUnauthorized, "Invalid or expired token")
			return
		}

		c.Set(ContextAddress, claims.Address())
		c.Next()
	}
}

// AuthAddress returns the lowercase address the request was authenticated
// as, or "" when AuthMiddleware did not run.
func AuthAddress(c *gin.Context) string {
	return c.GetString(ContextAddress)
}

// OwnsAddress reports whether the authenticated subject is addr.
func OwnsAddress(c *gin.Context, addr string) bool {
	subject := AuthAddress(c)
	return subject != "" && strings.EqualFold(subject, addr)
}
