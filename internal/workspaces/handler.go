package workspaces

import (
	"context"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/middleware"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/response"
)

// Slug must be lowercase alphanumeric and hyphens only, 2-64 chars.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

// Store is the workspace persistence the handler needs.
type Store interface {
	Create(ctx context.Context, ws *models.Workspace, owner uuid.UUID) error
	AddMember(ctx context.Context, workspaceID, userID uuid.UUID, role string) error
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Workspace, error)
	ListMembers(ctx context.Context, workspaceID uuid.UUID) ([]models.WorkspaceMember, error)
}

// Handler handles workspace HTTP endpoints.
type Handler struct {
	store  Store
	logger *zap.Logger
}

// NewHandler creates a workspaces handler.
func NewHandler(store Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, logger: logger}
}

// CreateRequest is the body for POST /workspaces.
type CreateRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug" binding:"required"`
}

// AddMemberRequest is the body for POST /workspaces/:workspaceId/members.
type AddMemberRequest struct {
	UserID string `json:"user_id" binding:"required,uuid"`
	Role   string `json:"role" binding:"required"`
}

// Create handles POST /workspaces. The caller becomes admin.
func (h *Handler) Create(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var body CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name and slug required")
		return
	}
	body.Slug = strings.ToLower(strings.TrimSpace(body.Slug))
	if !slugRegex.MatchString(body.Slug) {
		response.BadRequest(c, "slug must be 2-64 chars, lowercase letters, numbers, hyphens only")
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if body.Name == "" || len(body.Name) > 255 {
		response.BadRequest(c, "name must be 1-255 characters")
		return
	}
	ws := &models.Workspace{Name: body.Name, Slug: body.Slug}
	if err := h.store.Create(c.Request.Context(), ws, userID); err != nil {
		if !apperrors.IsConflict(err) {
			h.logger.Error("create workspace", zap.Error(err))
		}
		response.Error(c, err)
		return
	}
	response.Created(c, ws)
}

// ListMine handles GET /workspaces.
func (h *Handler) ListMine(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.store.ListForUser(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to load workspaces")
		return
	}
	response.OK(c, list)
}

// ListMembers handles GET /workspaces/:workspaceId/members. Requires RequireMember.
func (h *Handler) ListMembers(c *gin.Context) {
	workspaceID := c.MustGet(ContextWorkspaceID).(uuid.UUID)
	members, err := h.store.ListMembers(c.Request.Context(), workspaceID)
	if err != nil {
		response.Internal(c, "failed to load members")
		return
	}
	response.OK(c, members)
}

// AddMember handles POST /workspaces/:workspaceId/members (admin only).
func (h *Handler) AddMember(c *gin.Context) {
	workspaceID := c.MustGet(ContextWorkspaceID).(uuid.UUID)
	var body AddMemberRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	role := strings.ToUpper(strings.TrimSpace(body.Role))
	switch role {
	case models.WorkspaceRoleAdmin, models.WorkspaceRoleTeacher, models.WorkspaceRoleStudent:
	default:
		response.BadRequest(c, "invalid role")
		return
	}
	userID, _ := uuid.Parse(body.UserID)
	if err := h.store.AddMember(c.Request.Context(), workspaceID, userID, role); err != nil {
		h.logger.Error("add member", zap.Error(err), zap.String("workspace_id", workspaceID.String()))
		response.Internal(c, "failed to add member")
		return
	}
	response.Created(c, gin.H{"workspace_id": workspaceID, "user_id": userID, "role": role})
}
