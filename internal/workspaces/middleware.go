package workspaces

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dance-app/api-sub000/internal/middleware"
	"github.com/dance-app/api-sub000/pkg/response"
)

// ContextWorkspaceID is the context key for the workspace addressed by the route.
const ContextWorkspaceID = "workspace_id"

// RoleLookup resolves a user's role in a workspace ("" when not a member).
type RoleLookup interface {
	MemberRole(ctx context.Context, workspaceID, userID uuid.UUID) (string, error)
}

// RequireMember validates that the user belongs to the :workspaceId workspace
// and stores the workspace id and role in the context. Call after JWT.
func RequireMember(roles RoleLookup) gin.HandlerFunc {
	return func(c *gin.Context) {
		workspaceID, err := uuid.Parse(c.Param("workspaceId"))
		if err != nil {
			response.BadRequest(c, "invalid workspace id")
			c.Abort()
			return
		}
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		role, err := roles.MemberRole(c.Request.Context(), workspaceID, userID)
		if err != nil {
			response.Internal(c, "failed to resolve membership")
			c.Abort()
			return
		}
		if role == "" {
			response.Forbidden(c, "not a member of this workspace")
			c.Abort()
			return
		}
		c.Set(ContextWorkspaceID, workspaceID)
		c.Set(middleware.ContextWorkspaceRole, role)
		c.Next()
	}
}
