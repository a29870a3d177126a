package workspaces

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/database"
)

// Repository handles workspace and workspace_members persistence.
type Repository struct {
	db database.DB
}

// NewRepository creates a workspaces repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a workspace and makes owner its admin in one transaction.
func (r *Repository) Create(ctx context.Context, ws *models.Workspace, owner uuid.UUID) error {
	return database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		const q = `INSERT INTO workspaces (name, slug) VALUES ($1, $2) RETURNING id, created_at, updated_at`
		err := tx.QueryRow(ctx, q, ws.Name, ws.Slug).Scan(&ws.ID, &ws.CreatedAt, &ws.UpdatedAt)
		if database.IsUniqueViolation(err) {
			return &apperrors.ConflictError{Resource: "workspace", Message: "slug already taken", Err: database.ErrUniqueViolation}
		}
		if err != nil {
			return fmt.Errorf("insert workspace: %w", err)
		}
		return (&Repository{db: tx}).AddMember(ctx, ws.ID, owner, models.WorkspaceRoleAdmin)
	})
}

// GetBySlug returns a workspace by slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*models.Workspace, error) {
	const q = `SELECT id, name, slug, created_at, updated_at FROM workspaces WHERE slug = $1`
	var ws models.Workspace
	err := r.db.QueryRow(ctx, q, slug).Scan(&ws.ID, &ws.Name, &ws.Slug, &ws.CreatedAt, &ws.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("workspace", slug)
	}
	if err != nil {
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return &ws, nil
}

// AddMember adds a user with a role, or changes the role of an existing member.
func (r *Repository) AddMember(ctx context.Context, workspaceID, userID uuid.UUID, role string) error {
	const q = `INSERT INTO workspace_members (workspace_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, user_id) DO UPDATE SET role = EXCLUDED.role`
	if _, err := r.db.Exec(ctx, q, workspaceID, userID, role); err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// MemberRole returns the user's role in the workspace, or "" when not a member.
func (r *Repository) MemberRole(ctx context.Context, workspaceID, userID uuid.UUID) (string, error) {
	const q = `SELECT role FROM workspace_members WHERE workspace_id = $1 AND user_id = $2`
	var role string
	err := r.db.QueryRow(ctx, q, workspaceID, userID).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("member role: %w", err)
	}
	return role, nil
}

// ListForUser returns the workspaces the user belongs to.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Workspace, error) {
	const q = `SELECT w.id, w.name, w.slug, w.created_at, w.updated_at
		FROM workspaces w
		INNER JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.name`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()
	list := []models.Workspace{}
	for rows.Next() {
		var w models.Workspace
		if err := rows.Scan(&w.ID, &w.Name, &w.Slug, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}

// ListMembers returns the members of a workspace.
func (r *Repository) ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]models.WorkspaceMember, error) {
	const q = `SELECT id, workspace_id, user_id, role, created_at
		FROM workspace_members WHERE workspace_id = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, q, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()
	list := []models.WorkspaceMember{}
	for rows.Next() {
		var m models.WorkspaceMember
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}
