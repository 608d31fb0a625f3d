package app

import (
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"

	"family-safety-control/internal/config"
	routes "family-safety-control/internal/routes"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"
)

func securityHeaders(c *gin.Context) {
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("X-Frame-Options", "DENY")
	c.Header("Referrer-Policy", "no-referrer")

	// Disable caching
	c.Header("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")
	c.Next()
}

// Middleware to check if the IP is allowed.
func IPAccessControl(allowedCIDRs []string) gin.HandlerFunc {
	// Parse allowed CIDRs
	var parsedCIDRs []*net.IPNet

	// Allow local networks in debug mode
	if os.Getenv("GIN_MODE") != "release" {
		localhostCIDRs := []string{"127.0.0.1/8", "::1/128"}
		allowedCIDRs = append(allowedCIDRs, localhostCIDRs...)
	}

	for _, cidr := range allowedCIDRs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			slog.Warn("Invalid CIDR", "cidr", cidr)
			continue
		}
		slog.Debug("Allowed CIDR", "cidr", cidr)
		parsedCIDRs = append(parsedCIDRs, network)
	}

	return func(c *gin.Context) {
		clientIP := net.ParseIP(c.ClientIP())
		if clientIP == nil {
			// Should not happen
			slog.Warn("Invalid client IP", "ip", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}

		for _, cidr := range parsedCIDRs {
			if cidr.Contains(clientIP) {
				c.Next()
				return
			}
		}
		slog.Warn("IP not allowed", "ip", clientIP)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	}
}

// supportQR serves a QR code of the support page, rendered once.
func supportQR(url string) gin.HandlerFunc {
	png, err := qrcode.Encode(url, qrcode.Medium, config.QR_IMAGE_SIZE)
	if err != nil {
		slog.Error("Error generating support QR code", "error", err)
	}
	return func(c *gin.Context) {
		if png == nil {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		c.Header("Cache-Control", "public, max-age=86400")
		c.Data(http.StatusOK, "image/png", png)
	}
}

// AllowedCIDRs splits the comma separated network list of the config.
func AllowedCIDRs(cfg *config.Config) []string {
	var allowedCIDRs []string
	for cidr := range strings.SplitSeq(cfg.AllowedNetworks, ",") {
		// Remove spaces and ignore empty sets
		if cidr := strings.TrimSpace(cidr); cidr != "" {
			allowedCIDRs = append(allowedCIDRs, cidr)
		}
	}
	return allowedCIDRs
}

// HTTPServer assembles the engine with middleware and every route group.
func HTTPServer(cfg *config.Config, svc *routes.Services) *gin.Engine {
	r := gin.Default()

	if cfg.AllowedNetworks != "" {
		slog.Debug("Enabling IP access control", "allowed_networks", cfg.AllowedNetworks)
		r.Use(IPAccessControl(AllowedCIDRs(cfg)))
	}
	r.Use(securityHeaders, routes.ErrorHandler())

	r.GET("/ping", func(c *gin.Context) {
		msg := c.Query("ping")
		if msg == "" {
			msg = "pong"
		}
		c.JSON(http.StatusOK, gin.H{"message": msg})
	})

	r.GET("/config.json", func(c *gin.Context) {
		// Public settings the dashboard needs before login
		c.JSON(http.StatusOK, gin.H{
			"SupportURL":        cfg.SupportURL,
			"PairingTTL":        cfg.PairingTTL.Seconds(),
			"DashboardTokenTTL": cfg.DashboardTokenTTL.Seconds(),
		})
	})

	if cfg.SupportURL != "" {
		r.GET("/support.png", supportQR(cfg.SupportURL))
	}

	routes.RegisterRoutes(r, svc)
	return r
}
