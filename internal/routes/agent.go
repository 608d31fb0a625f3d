package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"family-safety-control/internal/controlplane"
	"family-safety-control/internal/metrics"
	"family-safety-control/internal/model"
)

type pairRequest struct {
	Code         string `json:"code"`
	PairingToken string `json:"pairingToken"`
	DeviceName   string `json:"deviceName"`
	AgentVersion string `json:"agentVersion"`
}

type agentRequest struct {
	Type            model.RequestType `json:"type" binding:"required"`
	Target          string            `json:"target"`
	Reason          string            `json:"reason"`
	ExtraMinutes    int               `json:"extraMinutes"`
	DurationMinutes int               `json:"durationMinutes"`
}

// pairingCode takes the code from the body, or from a pairing token in the
// body or the query string.
func pairingCode(c *gin.Context, req pairRequest) (string, error) {
	if code := strings.TrimSpace(req.Code); code != "" {
		return code, nil
	}
	token := firstNonEmpty(req.PairingToken, c.Query("token"))
	if token == "" {
		return "", fmt.Errorf("%w: code or pairingToken", ErrMissingParameter)
	}
	claims, err := services(c).Signer.DecodePairingJWT(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", controlplane.ErrPairingNotFound, err)
	}
	return claims.Code, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// DeviceAuth authenticates an agent by its bearer device token against the
// child in the path.
func DeviceAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		child, err := model.ParseChildID(c.Param("childID"))
		if err != nil {
			AbortWithError(c, fmt.Errorf("%w: child id", ErrInvalidParameter))
			return
		}
		token := bearerToken(c)
		deviceID, ok := store(c).ValidateToken(c.Request.Context(), child, token)
		if token == "" || !ok {
			AbortWithError(c, controlplane.ErrUnauthorized)
			return
		}
		c.Set("childID", child)
		c.Set("deviceID", deviceID)
		c.Next()
	}
}

func agentChild(c *gin.Context) model.ChildID {
	return c.MustGet("childID").(model.ChildID)
}

// AgentRoutes mounts the endpoints called by child-side agents.
func AgentRoutes(r *gin.RouterGroup) {
	r.POST("/pair", func(c *gin.Context) {
		svc := services(c)
		client := c.ClientIP()
		if !svc.Attempts.Allow(client) {
			metrics.Pairings.WithLabelValues("throttled").Inc()
			AbortWithError(c, ErrTooManyAttempts)
			return
		}

		var req pairRequest
		if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
			return
		}
		code, err := pairingCode(c, req)
		if err == nil {
			var res controlplane.PairResult
			res, err = svc.Store.CompletePairing(c.Request.Context(), code, req.DeviceName, req.AgentVersion)
			if err == nil {
				svc.Attempts.Reset(client)
				slog.Info("Device paired", "deviceID", res.DeviceID, "childID", res.ChildID, "client", client)
				c.JSON(http.StatusCreated, res)
				return
			}
		}
		if errors.Is(err, controlplane.ErrPairingNotFound) || errors.Is(err, controlplane.ErrInvalidInput) {
			svc.Attempts.Fail(client)
		}
		AbortWithError(c, err)
	})

	r.GET("/children/:childID/policy", DeviceAuth(), func(c *gin.Context) {
		d, err := store(c).EffectivePolicy(c.Request.Context(), agentChild(c))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	r.POST("/children/:childID/heartbeat", DeviceAuth(), func(c *gin.Context) {
		var report model.HeartbeatReport
		if c.Request.ContentLength != 0 && !bindJSON(c, &report) {
			return
		}
		res, err := store(c).Heartbeat(c.Request.Context(), agentChild(c), bearerToken(c), report)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	r.POST("/children/:childID/requests", DeviceAuth(), func(c *gin.Context) {
		var body agentRequest
		if !bindJSON(c, &body) {
			return
		}
		req, created, err := store(c).CreateRequest(c.Request.Context(), controlplane.NewRequest{
			ChildID:         agentChild(c),
			DeviceID:        c.GetString("deviceID"),
			Type:            body.Type,
			Target:          body.Target,
			Reason:          body.Reason,
			ExtraMinutes:    body.ExtraMinutes,
			DurationMinutes: body.DurationMinutes,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}
		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		c.JSON(status, req)
	})

	r.GET("/children/:childID/requests/:requestID", DeviceAuth(), func(c *gin.Context) {
		req, ok := store(c).GetRequest(c.Request.Context(), c.Param("requestID"))
		if !ok || req.ChildID != agentChild(c) {
			AbortWithError(c, ErrRequestNotFound)
			return
		}
		c.JSON(http.StatusOK, req)
	})

	// Diagnostics bundle upload, raw zip body
	r.POST("/children/:childID/diagnostics", DeviceAuth(), func(c *gin.Context) {
		bundle, err := store(c).SaveDiagnostics(c.Request.Context(), agentChild(c), c.Request.Body)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, bundle)
	})
}
