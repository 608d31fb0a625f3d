package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"family-safety-control/internal/config"
	"family-safety-control/internal/model"
	"family-safety-control/internal/utils"
)

type pairingResponse struct {
	ChildID      model.ChildID `json:"childId"`
	Code         string        `json:"code"`
	ExpiresAt    time.Time     `json:"expiresAt"`
	PairingToken string        `json:"pairingToken"`
	PairURL      string        `json:"pairUrl"`
}

// genPairingJWT wraps the pending code into the token shown as a QR code.
func genPairingJWT(c *gin.Context, p model.PendingPairing) (string, error) {
	svc := services(c)
	claim, err := svc.Signer.NewPairingClaims(p, svc.Config.PairingQRTTL)
	if err != nil {
		return "", err
	}
	return svc.Signer.GenerateJWT(claim)
}

func pairingView(c *gin.Context, p model.PendingPairing) (pairingResponse, error) {
	token, err := genPairingJWT(c, p)
	if err != nil {
		return pairingResponse{}, err
	}
	base := utils.GetBaseURL(c, services(c).Config.BaseURL)
	return pairingResponse{
		ChildID:      p.ChildID,
		Code:         p.Code,
		ExpiresAt:    p.ExpiresAt,
		PairingToken: token,
		PairURL:      base + "/api/agent/pair?token=" + url.QueryEscape(token),
	}, nil
}

func pairingRoutes(r *gin.RouterGroup) {
	r.POST("/pairing", RequirePermission("pairing", "start"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		p, err := store(c).StartPairing(c.Request.Context(), child, c.GetString("userID"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		view, err := pairingView(c, p)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, view)
	})

	r.GET("/pairing", RequirePermission("devices", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		p, ok := store(c).PendingPairing(c.Request.Context(), child)
		if !ok {
			AbortWithError(c, ErrNoPendingPairing)
			return
		}
		view, err := pairingView(c, p)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	})

	// QR code of the pending pairing, for the agent's camera
	r.GET("/pairing/qr.png", RequirePermission("pairing", "start"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		p, ok := store(c).PendingPairing(c.Request.Context(), child)
		if !ok {
			AbortWithError(c, ErrNoPendingPairing)
			return
		}
		view, err := pairingView(c, p)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		png, err := qrcode.Encode(view.PairURL, qrcode.Medium, config.QR_IMAGE_SIZE)
		if err != nil {
			slog.Error("Error generating pairing QR code", "error", err)
			AbortWithError(c, ErrInternalServer)
			return
		}

		// Send cache expiration based on pairing TTL
		maxAge := int(time.Until(p.ExpiresAt).Seconds())
		c.Header("Cache-Control", fmt.Sprintf("private, max-age=%d", max(maxAge, 0)))
		c.Data(http.StatusOK, "image/png", png)
	})
}

// DeviceRoutes mounts token lifecycle endpoints addressed by device id.
func DeviceRoutes(api *gin.RouterGroup) {
	r := api.Group("/devices/:deviceID")

	r.GET("", RequirePermission("devices", "read"), func(c *gin.Context) {
		d, ok := store(c).GetDevice(c.Request.Context(), c.Param("deviceID"))
		if !ok {
			AbortWithError(c, ErrDeviceNotFound)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	r.POST("/revoke", RequirePermission("devices", "revoke"), func(c *gin.Context) {
		deviceID := c.Param("deviceID")
		child, found, err := store(c).RevokeToken(c.Request.Context(), deviceID, c.GetString("userID"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !found {
			AbortWithError(c, ErrDeviceNotFound)
			return
		}
		slog.Info("Device token revoked", "deviceID", deviceID, "childID", child, "by", c.GetString("userID"))
		d, _ := store(c).GetDevice(c.Request.Context(), deviceID)
		c.JSON(http.StatusOK, d)
	})

	r.POST("/rotate", RequirePermission("devices", "write"), func(c *gin.Context) {
		res, found, err := store(c).RotateToken(c.Request.Context(), c.Param("deviceID"), c.GetString("userID"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !found {
			AbortWithError(c, ErrDeviceNotFound)
			return
		}
		c.JSON(http.StatusOK, res)
	})
}
