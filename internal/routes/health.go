package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"family-safety-control/internal/utils"
)

func Health(r *gin.RouterGroup) {

	// Liveness plus a probe of the persistence backend

	r.GET("/health", func(c *gin.Context) {
		s := store(c)
		status := http.StatusOK
		body := gin.H{
			"status":  "ok",
			"version": utils.GetVersion(),
			"storage": s.AdapterName(),
		}
		if err := s.Health(c.Request.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
			body["error"] = err.Error()
		}
		c.JSON(status, body)
	})
}
