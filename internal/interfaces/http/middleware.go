package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danyuan/approvalflow/internal/application/workflow"
)

const actorContextKey = "actor"

// IdentityMiddleware extracts the acting identity from request headers. The
// real trust collaborator (authn/authz, rate limiting) sits in front of this
// service and is expected to have validated these values; the engine itself
// only ever checks the role against the current step.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		role := c.GetHeader("X-User-Role")

		if userID == "" || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, Response{
				Success: false,
				Error:   "missing X-User-ID or X-User-Role header",
			})
			return
		}

		c.Set(actorContextKey, workflow.Actor{UserID: userID, Role: role})
		c.Next()
	}
}

// actorFrom returns the acting identity stored by IdentityMiddleware
func actorFrom(c *gin.Context) workflow.Actor {
	if v, ok := c.Get(actorContextKey); ok {
		if actor, ok := v.(workflow.Actor); ok {
			return actor
		}
	}
	return workflow.Actor{}
}
