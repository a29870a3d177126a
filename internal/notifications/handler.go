package notifications

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/middleware"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/response"
)

// LogReader lists notification logs.
type LogReader interface {
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.NotificationLog, error)
}

// EventReader loads occurrences.
type EventReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Authorizer is satisfied by *workspaces.Access.
type Authorizer interface {
	CanManage(ctx context.Context, ev *models.Event, userID uuid.UUID) (bool, error)
}

// Handler handles notification log HTTP endpoints.
type Handler struct {
	logs   LogReader
	events EventReader
	access Authorizer
	logger *zap.Logger
}

// NewHandler creates a notification logs handler.
func NewHandler(logs LogReader, events EventReader, access Authorizer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logs: logs, events: events, access: access, logger: logger}
}

// ListByEvent handles GET /events/:id/notifications (organizer or admin).
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	ctx := c.Request.Context()
	ev, err := h.events.Get(ctx, eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ok, err := h.access.CanManage(ctx, ev, userID)
	if err != nil {
		response.Internal(c, "failed to check permissions")
		return
	}
	if !ok {
		response.Forbidden(c, "only organizers or workspace admins can read notifications")
		return
	}
	logs, err := h.logs.ListByEvent(ctx, eventID)
	if err != nil {
		h.logger.Error("list notification logs", zap.Error(err), zap.String("event_id", eventID.String()))
		response.Internal(c, "failed to load notification logs")
		return
	}
	response.OK(c, logs)
}
