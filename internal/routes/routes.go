package routes

import (
	"fmt"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"family-safety-control/internal/access"
	"family-safety-control/internal/config"
	"family-safety-control/internal/controlplane"
	"family-safety-control/internal/jwt"
	"family-safety-control/internal/model"
	"family-safety-control/internal/tokens"
)

// Services are the collaborators handlers reach through the gin context.
type Services struct {
	Store    *controlplane.Store
	RBAC     *access.RBAC
	Signer   *jwt.Signer
	Attempts *tokens.AttemptTracker
	Config   *config.Config
}

// Inject makes svc available to every handler.
func Inject(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("services", svc)
		c.Set("store", svc.Store)
		c.Set("rbac", svc.RBAC)
		c.Next()
	}
}

func services(c *gin.Context) *Services {
	return c.MustGet("services").(*Services)
}

func store(c *gin.Context) *controlplane.Store {
	return c.MustGet("store").(*controlplane.Store)
}

// RegisterRoutes mounts the dashboard, agent, auth and probe endpoints.
func RegisterRoutes(r *gin.Engine, svc *Services) {
	r.Use(Inject(svc))

	Health(r.Group("/"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	AuthRoutes(r.Group("/auth"))
	AgentRoutes(r.Group("/api/agent"))

	api := r.Group("/api", AuthMiddleware())
	ChildRoutes(api)
	DeviceRoutes(api)
	RequestRoutes(api)
}

// childParam resolves :childID to an existing child.
func childParam(c *gin.Context) (model.ChildID, bool) {
	id, err := model.ParseChildID(c.Param("childID"))
	if err != nil {
		AbortWithError(c, fmt.Errorf("%w: child id %q", ErrInvalidParameter, c.Param("childID")))
		return model.ChildID{}, false
	}
	if _, ok := store(c).GetChild(c.Request.Context(), id); !ok {
		AbortWithError(c, ErrChildNotFound)
		return model.ChildID{}, false
	}
	return id, true
}

// queryInt reads a non-negative integer query parameter.
func queryInt(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		AbortWithError(c, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidParameter, name))
		return 0, false
	}
	return n, true
}

// bindJSON decodes the body into v and aborts with a 400 on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		AbortWithError(c, fmt.Errorf("%w: %v", ErrInvalidRequest, err))
		return false
	}
	return true
}
