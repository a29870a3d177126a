package events

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/attendance"
	"github.com/dance-app/api-sub000/internal/capacity"
	"github.com/dance-app/api-sub000/internal/middleware"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/response"
)

// Authorizer decides event-level access. Satisfied by *workspaces.Access.
type Authorizer interface {
	CanManage(ctx context.Context, ev *models.Event, userID uuid.UUID) (bool, error)
	CanView(ctx context.Context, ev *models.Event, viewerID *uuid.UUID) (bool, error)
}

// Viewer annotates an occurrence for one viewer. Satisfied by *attendance.Service.
type Viewer interface {
	Summary(ctx context.Context, ev *models.Event) (capacity.Summary, error)
	Permissions(ctx context.Context, ev *models.Event, viewerID *uuid.UUID) (attendance.Permissions, error)
}

// Handler handles event HTTP endpoints.
type Handler struct {
	svc    *Service
	access Authorizer
	viewer Viewer
	logger *zap.Logger
}

// NewHandler creates an events handler.
func NewHandler(svc *Service, access Authorizer, viewer Viewer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, access: access, viewer: viewer, logger: logger}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// CreateRequest is the body for POST /workspaces/:workspaceId/events.
type CreateRequest struct {
	Name         string   `json:"name" binding:"required"`
	Description  string   `json:"description"`
	DateStart    string   `json:"date_start" binding:"required"`
	DateEnd      *string  `json:"date_end"`
	Timezone     string   `json:"timezone"`
	Location     string   `json:"location"`
	CapacityMin  *int     `json:"capacity_min"`
	CapacityMax  *int     `json:"capacity_max"`
	LeaderOffset int      `json:"leader_offset"`
	Visibility   string   `json:"visibility"`
	RRule        *string  `json:"rrule"`
	OrganizerIDs []string `json:"organizer_ids"`
}

// UpdateRequest is the body for PATCH /events/:id. Omitted fields are unchanged.
type UpdateRequest struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	Location     *string  `json:"location"`
	CapacityMin  *int     `json:"capacity_min"`
	CapacityMax  *int     `json:"capacity_max"`
	LeaderOffset *int     `json:"leader_offset"`
	Visibility   *string  `json:"visibility"`
	DateStart    *string  `json:"date_start"`
	DateEnd      *string  `json:"date_end"`
	OrganizerIDs []string `json:"organizer_ids"`
}

// CancelRequest is the body for POST /events/:id/cancel.
type CancelRequest struct {
	Reason *string `json:"reason"`
	Series bool    `json:"series"`
}

// OrganizersRequest is the body for POST /events/:id/organizers.
type OrganizersRequest struct {
	UserIDs []string `json:"user_ids" binding:"required,min=1"`
}

// EventView is an occurrence annotated for the viewer.
type EventView struct {
	Event       models.Event           `json:"event"`
	Capacity    capacity.Summary       `json:"capacity"`
	Permissions attendance.Permissions `json:"permissions"`
}

func parseUUIDs(field string, in []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(in))
	for _, s := range in {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, &apperrors.ValidationError{Field: field, Token: s, Message: "not a uuid"}
		}
		out = append(out, id)
	}
	return out, nil
}

// Create handles POST /workspaces/:workspaceId/events (admin or teacher).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	workspaceID, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		response.BadRequest(c, "invalid workspace id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	dateStart, err := parseTime(req.DateStart)
	if err != nil {
		response.BadRequest(c, "invalid date_start")
		return
	}
	var dateEnd *time.Time
	if req.DateEnd != nil {
		t, err := parseTime(*req.DateEnd)
		if err != nil {
			response.BadRequest(c, "invalid date_end")
			return
		}
		dateEnd = &t
	}
	organizers, err := parseUUIDs("organizer_ids", req.OrganizerIDs)
	if err != nil {
		response.Error(c, err)
		return
	}

	series, err := h.svc.Create(c.Request.Context(), CreateInput{
		WorkspaceID:  workspaceID,
		CreatedByID:  userID,
		Name:         req.Name,
		Description:  req.Description,
		DateStart:    dateStart,
		DateEnd:      dateEnd,
		Timezone:     req.Timezone,
		Location:     req.Location,
		CapacityMin:  req.CapacityMin,
		CapacityMax:  req.CapacityMax,
		LeaderOffset: req.LeaderOffset,
		Visibility:   models.Visibility(strings.ToUpper(req.Visibility)),
		RRule:        req.RRule,
		OrganizerIDs: organizers,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, series)
}

// List handles GET /workspaces/:workspaceId/events.
// Query: from, to (RFC3339), organizer, series, visibility (comma list), include_cancelled, limit, offset.
func (h *Handler) List(c *gin.Context) {
	workspaceID, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		response.BadRequest(c, "invalid workspace id")
		return
	}
	f, err := filterFromQuery(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	f.WorkspaceID = &workspaceID
	list, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		if !apperrors.IsValidation(err) {
			h.logger.Error("list events", zap.Error(err))
		}
		response.Error(c, err)
		return
	}
	if list == nil {
		list = []models.Event{}
	}
	response.OK(c, list)
}

func filterFromQuery(c *gin.Context) (Filter, error) {
	var f Filter
	for _, p := range []struct {
		key string
		dst **time.Time
	}{{"from", &f.From}, {"to", &f.To}} {
		if v := c.Query(p.key); v != "" {
			t, err := parseTime(v)
			if err != nil {
				return f, &apperrors.ValidationError{Field: p.key, Token: v, Message: "expected RFC3339 time"}
			}
			*p.dst = &t
		}
	}
	for _, p := range []struct {
		key string
		dst **uuid.UUID
	}{{"organizer", &f.OrganizerID}, {"series", &f.SeriesID}} {
		if v := c.Query(p.key); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				return f, &apperrors.ValidationError{Field: p.key, Token: v, Message: "not a uuid"}
			}
			*p.dst = &id
		}
	}
	if v := c.Query("visibility"); v != "" {
		for _, part := range strings.Split(v, ",") {
			f.Visibility = append(f.Visibility, models.Visibility(strings.ToUpper(strings.TrimSpace(part))))
		}
	}
	f.IncludeCancelled = c.Query("include_cancelled") == "true" || c.Query("include_cancelled") == "1"
	for _, p := range []struct {
		key string
		dst *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		if v := c.Query(p.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return f, &apperrors.ValidationError{Field: p.key, Token: v, Message: "not an integer"}
			}
			*p.dst = n
		}
	}
	return f, nil
}

func viewerID(c *gin.Context) *uuid.UUID {
	if id, ok := middleware.UserID(c); ok {
		return &id
	}
	return nil
}

// visible loads the event and checks that the viewer may see it. Hidden
// events answer 404 so their existence is not leaked.
func (h *Handler) visible(c *gin.Context) (*models.Event, *attendance.Permissions, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return nil, nil, false
	}
	ev, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return nil, nil, false
	}
	viewer := viewerID(c)
	perms, err := h.viewer.Permissions(c.Request.Context(), ev, viewer)
	if err != nil {
		h.logger.Error("event permissions", zap.Error(err), zap.String("event_id", id.String()))
		response.Internal(c, "failed to load event")
		return nil, nil, false
	}
	ok, err := h.access.CanView(c.Request.Context(), ev, viewer)
	if err != nil {
		response.Internal(c, "failed to load event")
		return nil, nil, false
	}
	if !ok && perms.AttendeeID == nil {
		response.NotFound(c, "event not found")
		return nil, nil, false
	}
	if viewer != nil && !perms.CanEdit && !ev.IsCancelled {
		manage, err := h.access.CanManage(c.Request.Context(), ev, *viewer)
		if err == nil && manage {
			perms.CanEdit = true
		}
	}
	return ev, &perms, true
}

// Get handles GET /events/:id with live capacity and the viewer's permissions.
func (h *Handler) Get(c *gin.Context) {
	ev, perms, ok := h.visible(c)
	if !ok {
		return
	}
	summary, err := h.viewer.Summary(c.Request.Context(), ev)
	if err != nil {
		h.logger.Error("capacity summary", zap.Error(err), zap.String("event_id", ev.ID.String()))
		response.Internal(c, "failed to compute capacity")
		return
	}
	response.OK(c, EventView{Event: *ev, Capacity: summary, Permissions: *perms})
}

// Series handles GET /events/:id/series.
func (h *Handler) Series(c *gin.Context) {
	ev, _, ok := h.visible(c)
	if !ok {
		return
	}
	series, err := h.svc.GetSeries(c.Request.Context(), ev.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, series)
}

// managed loads the event and checks that the caller organizes it or administers its workspace.
func (h *Handler) managed(c *gin.Context) (*models.Event, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return nil, false
	}
	ev, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	ok, err := h.access.CanManage(c.Request.Context(), ev, userID)
	if err != nil {
		response.Internal(c, "failed to check permissions")
		return nil, false
	}
	if !ok {
		response.Forbidden(c, "only organizers or workspace admins can manage this event")
		return nil, false
	}
	return ev, true
}

// Update handles PATCH /events/:id. On a series parent the change cascades.
func (h *Handler) Update(c *gin.Context) {
	ev, ok := h.managed(c)
	if !ok {
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	in := UpdateInput{
		Name:         req.Name,
		Description:  req.Description,
		Location:     req.Location,
		CapacityMin:  req.CapacityMin,
		CapacityMax:  req.CapacityMax,
		LeaderOffset: req.LeaderOffset,
	}
	if req.Visibility != nil {
		v := models.Visibility(strings.ToUpper(*req.Visibility))
		in.Visibility = &v
	}
	for _, p := range []struct {
		key string
		src *string
		dst **time.Time
	}{{"date_start", req.DateStart, &in.DateStart}, {"date_end", req.DateEnd, &in.DateEnd}} {
		if p.src == nil {
			continue
		}
		t, err := parseTime(*p.src)
		if err != nil {
			response.BadRequest(c, "invalid "+p.key)
			return
		}
		*p.dst = &t
	}
	var err error
	if in.AddOrganizerIDs, err = parseUUIDs("organizer_ids", req.OrganizerIDs); err != nil {
		response.Error(c, err)
		return
	}

	res, err := h.svc.Update(c.Request.Context(), ev.ID, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// AddOrganizers handles POST /events/:id/organizers.
func (h *Handler) AddOrganizers(c *gin.Context) {
	ev, ok := h.managed(c)
	if !ok {
		return
	}
	var req OrganizersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ids, err := parseUUIDs("user_ids", req.UserIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.svc.Update(c.Request.Context(), ev.ID, UpdateInput{AddOrganizerIDs: ids})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Cancel handles POST /events/:id/cancel. Attendance is left untouched.
func (h *Handler) Cancel(c *gin.Context) {
	ev, ok := h.managed(c)
	if !ok {
		return
	}
	var req CancelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	res, err := h.svc.Cancel(c.Request.Context(), ev.ID, CancelInput{Reason: req.Reason, Series: req.Series})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}
