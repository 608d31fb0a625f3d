package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"family-safety-control/internal/controlplane"
	"family-safety-control/internal/model"
)

type decisionResponse struct {
	Request model.AccessRequest `json:"request"`
	Grant   *model.Grant        `json:"grant,omitempty"`
}

// RequestRoutes mounts the parent side of access requests.
func RequestRoutes(api *gin.RouterGroup) {
	api.GET("/requests", RequirePermission("requests", "read"), func(c *gin.Context) {
		status := model.RequestStatus(c.Query("status"))
		c.JSON(http.StatusOK, store(c).ListRequests(c.Request.Context(), model.ChildID{}, status))
	})

	api.GET("/requests/:requestID", RequirePermission("requests", "read"), func(c *gin.Context) {
		req, ok := store(c).GetRequest(c.Request.Context(), c.Param("requestID"))
		if !ok {
			AbortWithError(c, ErrRequestNotFound)
			return
		}
		c.JSON(http.StatusOK, req)
	})

	// Deciding twice is harmless, the first decision stands.
	api.POST("/requests/:requestID/decision", RequirePermission("requests", "decide"), func(c *gin.Context) {
		var d controlplane.RequestDecision
		if !bindJSON(c, &d) {
			return
		}
		d.Actor = c.GetString("userID")

		req, grant, found, err := store(c).DecideRequest(c.Request.Context(), c.Param("requestID"), d)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		if !found {
			AbortWithError(c, ErrRequestNotFound)
			return
		}
		c.JSON(http.StatusOK, decisionResponse{Request: req, Grant: grant})
	})
}
