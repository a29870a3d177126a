package reports

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/middleware"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/response"
)

// EventReader loads occurrences.
type EventReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Authorizer is satisfied by *workspaces.Access.
type Authorizer interface {
	CanManage(ctx context.Context, ev *models.Event, userID uuid.UUID) (bool, error)
}

// Handler serves report exports.
type Handler struct {
	exporter *Exporter
	events   EventReader
	access   Authorizer
	logger   *zap.Logger
}

// NewHandler creates a reports handler.
func NewHandler(exporter *Exporter, events EventReader, access Authorizer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{exporter: exporter, events: events, access: access, logger: logger}
}

// Export handles POST /events/:id/attendance/export (organizer or admin).
func (h *Handler) Export(c *gin.Context) {
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
		response.Forbidden(c, "only organizers or workspace admins can export attendance")
		return
	}
	out, err := h.exporter.Export(ctx, eventID)
	if err != nil {
		h.logger.Error("export attendance", zap.Error(err), zap.String("event_id", eventID.String()))
		response.Error(c, err)
		return
	}
	response.Created(c, out)
}
