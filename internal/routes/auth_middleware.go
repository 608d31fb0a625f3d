// Authentication middlware
// Checks for a valid dashboard token in the Authorization header or the
// auth cookie. If valid, sets the user information in the context.
// If invalid, returns 401 Unauthorized.
package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const AUTH_COOKIE_NAME = "auth_token"

var (
	ErrUserNotFound  = errors.New("user not found in context")
	ErrUserNotString = errors.New("user ID in context is not a string")
)

// Set authentication cookie
// The cookie is set to expire when the token expires
func setAuthCookie(c *gin.Context, token string) {
	ttl := services(c).Config.DashboardTokenTTL
	secure := c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https"

	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(
		AUTH_COOKIE_NAME,
		token,
		int(ttl.Seconds()),
		"/",
		"",
		secure, // Secure
		true,
	)
}

func GetUser(c *gin.Context) (string, error) {
	// Get user ID from context
	uid, exists := c.Get("userID")
	if !exists {
		return "", ErrUserNotFound
	}
	userIdStr, ok := uid.(string)
	if !ok {
		slog.Warn("GetUser: User ID in context is not a string")
		return "", ErrUserNotString
	}
	return userIdStr, nil
}

// NewAuth issues a dashboard token for userId and sets the cookie.
func NewAuth(c *gin.Context, userId string) (string, error) {
	svc := services(c)
	claim, err := svc.Signer.NewAuthClaims(userId, svc.Config.DashboardTokenTTL)
	if err != nil {
		return "", err
	}
	token, err := svc.Signer.GenerateJWT(claim)
	if err != nil {
		return "", err
	}
	setAuthCookie(c, token)
	return token, nil
}

// bearerToken extracts the token of an "Authorization: Bearer" header.
func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func verifyAuth(c *gin.Context) (string, error) {
	token := bearerToken(c)
	if token == "" {
		cookie, err := c.Cookie(AUTH_COOKIE_NAME)
		if err != nil || cookie == "" {
			return "", ErrUnauthorized
		}
		token = cookie
	}
	claims, err := services(c).Signer.DecodeAuthJWT(token)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := verifyAuth(c)
		if err != nil {
			slog.Warn("AuthMiddleware: Invalid or missing auth token", "error", err)
			AbortWithError(c, err)
			return
		}

		// Set user ID in context
		c.Set("userID", uid)
		c.Next()
	}
}

func AuthRoutes(r *gin.RouterGroup) {
	// Route to renew authentication token
	r.POST("/renew", AuthMiddleware(), func(c *gin.Context) {
		userID, err := GetUser(c)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		token, err := NewAuth(c, userID)
		if err != nil {
			slog.Error("AuthRoutes: Failed to renew auth token", "error", err)
			AbortWithError(c, ErrInternalServer)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token})
	})

	// Route to check authentication status
	r.GET("/status", AuthMiddleware(), func(c *gin.Context) {
		// If we reach here, the token is valid
		userID := c.GetString("userID")
		c.JSON(http.StatusOK, gin.H{
			"status": "authenticated",
			"userID": userID,
			"roles":  services(c).RBAC.GetUserRoles(userID),
		})
	})

	r.POST("/logout", func(c *gin.Context) {
		// Clear auth cookie by setting it to expire in the past
		c.SetCookie(AUTH_COOKIE_NAME, "", -1, "/", "", false, true)
		c.Status(http.StatusNoContent)
	})
}
