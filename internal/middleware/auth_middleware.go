package middleware

import (
	"context"
	"net/http"
	"strings"

	"crewdeck/internal/auth"
	"crewdeck/internal/transport/httpdto"
	"crewdeck/pkg/logger"

	"github.com/gin-gonic/gin"
)

const claimsKey = "authClaims"

func AuthMiddleware(a *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := a.Parse(extractBearer(c))
		if err != nil {
			c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		ctx := context.WithValue(c.Request.Context(), logger.UserIdKey, claims.UID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// ClaimsFrom returns the verified claims AuthMiddleware stored on the request.
func ClaimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

func extractBearer(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
