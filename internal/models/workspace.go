package models

import (
	"time"

	"github.com/google/uuid"
)

// Workspace is a tenant: one dance studio.
type Workspace struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Member roles inside a workspace.
const (
	WorkspaceRoleAdmin   = "ADMIN"
	WorkspaceRoleTeacher = "TEACHER"
	WorkspaceRoleStudent = "STUDENT"
)

// WorkspaceMember links a user to a workspace with a role.
type WorkspaceMember struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id"`
	UserID      uuid.UUID `json:"user_id"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}
