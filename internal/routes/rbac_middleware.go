package routes

import (
	"log/slog"

	"family-safety-control/internal/access"

	"github.com/gin-gonic/gin"
)

// RequirePermission creates middleware that checks for specific permission.
func RequirePermission(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := GetUser(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		rbac := c.MustGet("rbac").(*access.RBAC)
		if !rbac.Can(userID, resource, action) {
			slog.Warn("Permission denied",
				"userID", userID,
				"resource", resource,
				"action", action)

			AbortWithError(c, ErrInsufficientPermissions)
			return
		}

		slog.Debug("Permission granted",
			"userID", userID,
			"resource", resource,
			"action", action)

		c.Next()
	}
}
