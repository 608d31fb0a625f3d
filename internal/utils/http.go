package utils

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

func requestScheme(c *gin.Context) string {
	if c.Request.TLS != nil || c.GetHeader("X-Forwarded-Proto") == "https" {
		return "https"
	}
	return "http"
}

// Helper function to generate a URL for a given path
func UrlFor(c *gin.Context, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", requestScheme(c), c.Request.Host, path)
}

// GetBaseURL returns the configured base URL when it is absolute, otherwise
// one derived from the request.
func GetBaseURL(c *gin.Context, configBaseURL string) string {
	if strings.HasPrefix(configBaseURL, "http://") || strings.HasPrefix(configBaseURL, "https://") {
		return strings.TrimRight(configBaseURL, "/")
	}
	base := fmt.Sprintf("%s://%s", requestScheme(c), c.Request.Host)
	return base + strings.TrimRight(configBaseURL, "/")
}
