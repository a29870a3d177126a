package workspaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/dance-app/api-sub000/internal/models"
)

// Access answers event-level authorization questions from organizer sets
// and workspace roles.
type Access struct {
	roles RoleLookup
}

// NewAccess creates an Access backed by roles.
func NewAccess(roles RoleLookup) *Access {
	return &Access{roles: roles}
}

// CanManage reports whether userID may edit, cancel or administer attendance
// of ev: its organizers and the workspace admins.
func (a *Access) CanManage(ctx context.Context, ev *models.Event, userID uuid.UUID) (bool, error) {
	if ev.IsOrganizer(userID) {
		return true, nil
	}
	role, err := a.roles.MemberRole(ctx, ev.WorkspaceID, userID)
	if err != nil {
		return false, err
	}
	return role == models.WorkspaceRoleAdmin, nil
}

// CanView reports whether the viewer (nil for anonymous) may see ev.
// Public events are open; the others need workspace membership or an
// organizer seat. Invitation-only events are also visible to invitees,
// which the caller checks from the attendee row.
func (a *Access) CanView(ctx context.Context, ev *models.Event, viewerID *uuid.UUID) (bool, error) {
	if ev.Visibility == models.VisibilityPublic {
		return true, nil
	}
	if viewerID == nil {
		return false, nil
	}
	if ev.IsOrganizer(*viewerID) {
		return true, nil
	}
	role, err := a.roles.MemberRole(ctx, ev.WorkspaceID, *viewerID)
	if err != nil {
		return false, err
	}
	return role != "", nil
}
