package attendance

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/capacity"
	"github.com/dance-app/api-sub000/internal/middleware"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/response"
)

// Authorizer decides who sees and who manages an occurrence. Satisfied by *workspaces.Access.
type Authorizer interface {
	CanManage(ctx context.Context, ev *models.Event, userID uuid.UUID) (bool, error)
	CanView(ctx context.Context, ev *models.Event, viewerID *uuid.UUID) (bool, error)
}

// Handler handles attendance HTTP endpoints.
type Handler struct {
	svc    *Service
	access Authorizer
	logger *zap.Logger
}

// NewHandler creates an attendance handler.
func NewHandler(svc *Service, access Authorizer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, access: access, logger: logger}
}

// AttendRequest is the body for POST /events/:id/attend. Authenticated
// callers attend as themselves; anonymous callers must give guest_email.
type AttendRequest struct {
	Action     string         `json:"action"`
	Role       *string        `json:"role"`
	GuestEmail string         `json:"guest_email"`
	GuestName  string         `json:"guest_name"`
	Series     bool           `json:"series"`
	Notes      string         `json:"notes"`
	Metadata   map[string]any `json:"metadata"`
}

// InviteRequest is the body for POST /events/:id/invitations.
type InviteRequest struct {
	UserID     *string `json:"user_id"`
	GuestEmail string  `json:"guest_email"`
	GuestName  string  `json:"guest_name"`
	Role       *string `json:"role"`
	Series     bool    `json:"series"`
	Notes      string  `json:"notes"`
}

// ActRequest is the body for POST /events/:id/attendees/:attendeeId/actions.
type ActRequest struct {
	Action   string         `json:"action" binding:"required"`
	Role     *string        `json:"role"`
	Notes    string         `json:"notes"`
	Metadata map[string]any `json:"metadata"`
}

// AttendeesView is the attendee list of one occurrence with its capacity.
type AttendeesView struct {
	Attendees []models.Attendee `json:"attendees"`
	Capacity  capacity.Summary  `json:"capacity"`
}

func parseRole(s *string) *models.DanceRole {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	r := models.DanceRole(strings.ToUpper(strings.TrimSpace(*s)))
	return &r
}

func parseAction(s string, fallback models.AttendanceAction) models.AttendanceAction {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return models.AttendanceAction(strings.ToUpper(strings.TrimSpace(s)))
}

func eventID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return uuid.Nil, false
	}
	return id, true
}

// Attend handles POST /events/:id/attend. With series=true the action is
// applied to every occurrence and the per-occurrence report is returned.
func (h *Handler) Attend(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	var req AttendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in := AttendInput{
		GuestEmail: req.GuestEmail,
		GuestName:  req.GuestName,
		Action:     parseAction(req.Action, models.ActionRegistered),
		Role:       parseRole(req.Role),
		Notes:      req.Notes,
		Metadata:   req.Metadata,
	}
	var viewer *uuid.UUID
	if userID, ok := middleware.UserID(c); ok {
		in.UserID = &userID
		in.PerformedByID = &userID
		viewer = &userID
	}
	in.Admit = h.admission(viewer)
	h.run(c, id, in, req.Series)
}

// admission gates self-service attendance on the occurrence's visibility.
// Hidden occurrences read as missing. Invitation-only occurrences take
// invitees and managers; other viewers may only decline.
func (h *Handler) admission(viewer *uuid.UUID) AdmitFunc {
	return func(ctx context.Context, ev *models.Event, in AttendInput) error {
		visible, err := h.access.CanView(ctx, ev, viewer)
		if err != nil {
			return err
		}
		if ev.Visibility != models.VisibilityInvitationOnly {
			if !visible {
				return apperrors.NotFound("event", ev.ID.String())
			}
			return nil
		}

		att, err := h.svc.Lookup(ctx, ev.ID, in)
		switch {
		case err == nil && att.WasInvited:
			return nil
		case err != nil && !apperrors.IsNotFound(err):
			return err
		}
		if viewer != nil {
			ok, err := h.access.CanManage(ctx, ev, *viewer)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		if !visible {
			return apperrors.NotFound("event", ev.ID.String())
		}
		if in.Action == models.ActionDeclined {
			return nil
		}
		return &apperrors.ForbiddenError{Resource: "event", Message: "invitation required"}
	}
}

func (h *Handler) run(c *gin.Context, id uuid.UUID, in AttendInput, series bool) {
	if series {
		res, err := h.svc.AttendSeries(c.Request.Context(), id, in)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, res)
		return
	}
	res, err := h.svc.Attend(c.Request.Context(), id, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	if res.Created {
		response.Created(c, res)
		return
	}
	response.OK(c, res)
}

// managed loads the occurrence and checks that the caller may administer its attendance.
func (h *Handler) managed(c *gin.Context, id uuid.UUID) (*models.Event, uuid.UUID, bool) {
	ev, err := h.svc.events.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return nil, uuid.Nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ok, err := h.access.CanManage(c.Request.Context(), ev, userID)
	if err != nil {
		response.Internal(c, "failed to check permissions")
		return nil, uuid.Nil, false
	}
	if !ok {
		response.Forbidden(c, "only organizers or workspace admins can manage attendance")
		return nil, uuid.Nil, false
	}
	return ev, userID, true
}

// Invite handles POST /events/:id/invitations (organizer or admin).
func (h *Handler) Invite(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	_, organizerID, ok := h.managed(c, id)
	if !ok {
		return
	}
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in := AttendInput{
		GuestEmail:    req.GuestEmail,
		GuestName:     req.GuestName,
		Action:        models.ActionInvited,
		Role:          parseRole(req.Role),
		PerformedByID: &organizerID,
		Notes:         req.Notes,
	}
	if req.UserID != nil {
		invitee, err := uuid.Parse(*req.UserID)
		if err != nil {
			response.Error(c, &apperrors.ValidationError{Field: "user_id", Token: *req.UserID, Message: "not a uuid"})
			return
		}
		in.UserID = &invitee
	}
	h.run(c, id, in, req.Series)
}

// Act handles POST /events/:id/attendees/:attendeeId/actions (organizer or admin).
func (h *Handler) Act(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	attendeeID, err := uuid.Parse(c.Param("attendeeId"))
	if err != nil {
		response.BadRequest(c, "invalid attendee id")
		return
	}
	_, organizerID, ok := h.managed(c, id)
	if !ok {
		return
	}
	var req ActRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.Act(c.Request.Context(), id, attendeeID, ActInput{
		Action:        parseAction(req.Action, ""),
		Role:          parseRole(req.Role),
		PerformedByID: &organizerID,
		Notes:         req.Notes,
		Metadata:      req.Metadata,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// ListAttendees handles GET /events/:id/attendees (organizer or admin).
func (h *Handler) ListAttendees(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}
	ev, _, ok := h.managed(c, id)
	if !ok {
		return
	}
	list, err := h.svc.Attendees(c.Request.Context(), ev.ID)
	if err != nil {
		h.logger.Error("list attendees", zap.Error(err), zap.String("event_id", ev.ID.String()))
		response.Internal(c, "failed to load attendees")
		return
	}
	response.OK(c, AttendeesView{Attendees: list, Capacity: capacity.Compute(ev, list)})
}

// History handles GET /attendees/:id/history. The attendee's own user and
// the occurrence's managers may read it.
func (h *Handler) History(c *gin.Context) {
	attendeeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid attendee id")
		return
	}
	att, err := h.svc.GetAttendee(c.Request.Context(), attendeeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if att.UserID == nil || *att.UserID != userID {
		if _, _, ok := h.managed(c, att.EventID); !ok {
			return
		}
	}
	history, err := h.svc.History(c.Request.Context(), attendeeID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, history)
}
