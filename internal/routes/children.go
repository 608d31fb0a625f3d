package routes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"family-safety-control/internal/model"
	"family-safety-control/internal/profile"
	"family-safety-control/internal/utils"
)

type childRequest struct {
	Name string `json:"name" binding:"required"`
}

type auditNote struct {
	Action  string          `json:"action" binding:"required"`
	Scope   string          `json:"scope"`
	Payload json.RawMessage `json:"payload"`
}

type purgeRequest struct {
	OlderThan time.Time `json:"olderThan" binding:"required"`
}

// ChildRoutes mounts everything scoped to one child under /children.
func ChildRoutes(api *gin.RouterGroup) {
	api.GET("/children", RequirePermission("children", "read"), func(c *gin.Context) {
		includeArchived := c.Query("archived") == "true"
		c.JSON(http.StatusOK, store(c).ListChildren(c.Request.Context(), includeArchived))
	})

	api.POST("/children", RequirePermission("children", "write"), func(c *gin.Context) {
		var req childRequest
		if !bindJSON(c, &req) {
			return
		}
		child, err := store(c).CreateChild(c.Request.Context(), req.Name, c.GetString("userID"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.Header("Location", utils.UrlFor(c, "/api/children/"+child.ID.String()))
		c.JSON(http.StatusCreated, child)
	})

	r := api.Group("/children/:childID")

	r.GET("", RequirePermission("children", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		got, _ := store(c).GetChild(c.Request.Context(), child)
		c.JSON(http.StatusOK, got)
	})

	r.PATCH("", RequirePermission("children", "write"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		var req childRequest
		if !bindJSON(c, &req) {
			return
		}
		renamed, _, err := store(c).RenameChild(c.Request.Context(), child, req.Name, c.GetString("userID"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, renamed)
	})

	r.POST("/archive", RequirePermission("children", "write"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		archived, _, err := store(c).ArchiveChild(c.Request.Context(), child, c.GetString("userID"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, archived)
	})

	r.POST("/restore", RequirePermission("children", "write"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		restored, _, err := store(c).RestoreChild(c.Request.Context(), child, c.GetString("userID"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, restored)
	})

	policyRoutes(r)
	activityRoutes(r)
	auditRoutes(r)
	diagnosticsRoutes(r)
	pairingRoutes(r)
	childRequestRoutes(r)
}

func policyRoutes(r *gin.RouterGroup) {
	r.GET("/policy", RequirePermission("policy", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		p, err := store(c).GetPolicy(c.Request.Context(), child)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	r.PUT("/policy", RequirePermission("policy", "write"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		var patch model.PolicyPatch
		if !bindJSON(c, &patch) {
			return
		}
		p, err := store(c).UpsertPolicy(c.Request.Context(), child, patch, c.GetString("userID"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	})

	r.GET("/policy/effective", RequirePermission("policy", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		d, err := store(c).EffectivePolicy(c.Request.Context(), child)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	r.GET("/profile", RequirePermission("profile", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, store(c).GetProfile(c.Request.Context(), child))
	})

	r.PUT("/profile", RequirePermission("profile", "write"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		doc := &profile.Document{}
		if !bindJSON(c, doc) {
			return
		}
		saved, err := store(c).UpsertProfile(c.Request.Context(), child, doc, c.GetString("userID"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, saved)
	})

	r.POST("/profile/rollback", RequirePermission("profile", "rollback"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		doc, err := store(c).RollbackProfile(c.Request.Context(), child, c.GetString("userID"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	})
}

func activityRoutes(r *gin.RouterGroup) {
	r.GET("/activity", RequirePermission("activity", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, store(c).GetActivity(c.Request.Context(), child))
	})

	r.GET("/devices", RequirePermission("devices", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, store(c).GetDevices(c.Request.Context(), child))
	})
}

// parseTimeQuery reads an optional RFC 3339 query parameter.
func parseTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: %s must be RFC 3339", ErrInvalidParameter, name))
		return nil, false
	}
	return &t, true
}

func auditRoutes(r *gin.RouterGroup) {
	r.GET("/audit", RequirePermission("audit", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		q := model.AuditQuery{ChildID: child, Contains: strings.TrimSpace(c.Query("q"))}
		if q.From, ok = parseTimeQuery(c, "from"); !ok {
			return
		}
		if q.To, ok = parseTimeQuery(c, "to"); !ok {
			return
		}
		if q.Limit, ok = queryInt(c, "limit"); !ok {
			return
		}
		c.JSON(http.StatusOK, store(c).QueryAudit(c.Request.Context(), q))
	})

	r.POST("/audit", RequirePermission("audit", "write"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		var note auditNote
		if !bindJSON(c, &note) {
			return
		}
		var payload any
		if len(note.Payload) > 0 {
			payload = note.Payload
		}
		entry, err := store(c).AppendAudit(c.Request.Context(), child, c.GetString("userID"), note.Action, note.Scope, payload)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, entry)
	})

	r.GET("/audit/verify", RequirePermission("audit", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		v := store(c).VerifyAudit(c.Request.Context(), child)
		if !v.Valid {
			slog.Warn("Audit chain verification failed", "childID", child, "brokenAt", v.BrokenAt, "problem", v.Problem)
		}
		c.JSON(http.StatusOK, v)
	})

	r.POST("/audit/purge", RequirePermission("audit", "purge"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		var req purgeRequest
		if !bindJSON(c, &req) {
			return
		}
		removed, err := store(c).PurgeAudit(c.Request.Context(), child, req.OlderThan, c.GetString("userID"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"removed": removed})
	})
}

func diagnosticsRoutes(r *gin.RouterGroup) {
	r.GET("/diagnostics", RequirePermission("diagnostics", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		limit, ok := queryInt(c, "limit")
		if !ok {
			return
		}
		bundles, err := store(c).ListDiagnostics(c.Request.Context(), child, limit)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, bundles)
	})

	r.GET("/diagnostics/:name", RequirePermission("diagnostics", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		f, bundle, err := store(c).OpenDiagnostics(c.Request.Context(), child, c.Param("name"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		defer f.Close()
		c.DataFromReader(http.StatusOK, bundle.Size, "application/zip", f, map[string]string{
			"Content-Disposition": fmt.Sprintf(`attachment; filename="%s"`, bundle.Name),
		})
	})
}

func childRequestRoutes(r *gin.RouterGroup) {
	r.GET("/requests", RequirePermission("requests", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		status := model.RequestStatus(c.Query("status"))
		c.JSON(http.StatusOK, store(c).ListRequests(c.Request.Context(), child, status))
	})

	r.GET("/grants", RequirePermission("requests", "read"), func(c *gin.Context) {
		child, ok := childParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, store(c).ActiveGrants(c.Request.Context(), child))
	})
}
