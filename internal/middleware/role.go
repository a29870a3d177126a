package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/dance-app/api-sub000/pkg/response"
)

// ContextWorkspaceRole holds the caller's role in the workspace addressed by
// the route. It is set by the workspace membership middleware.
const ContextWorkspaceRole = "workspace_role"

// RequireRole returns a middleware that allows only the given workspace roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		roleVal, ok := c.Get(ContextWorkspaceRole)
		if !ok {
			response.Forbidden(c, "not a member of this workspace")
			c.Abort()
			return
		}
		role, _ := roleVal.(string)
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}
