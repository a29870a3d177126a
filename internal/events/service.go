package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/internal/recurrence"
)

// ErrEventCancelled is wrapped by conflicts on occurrences that are already cancelled.
var ErrEventCancelled = errors.New("event is cancelled")

var tracer = otel.Tracer("github.com/dance-app/api-sub000/internal/events")

// Series is a parent (or standalone) event and its generated children.
type Series struct {
	Parent   models.Event   `json:"parent"`
	Children []models.Event `json:"children"`
}

// Occurrences returns parent and children in date order.
func (s *Series) Occurrences() []models.Event {
	out := make([]models.Event, 0, len(s.Children)+1)
	out = append(out, s.Parent)
	return append(out, s.Children...)
}

// Service owns the event lifecycle: creation with series expansion, cascading
// updates and cancellation.
type Service struct {
	store    Store
	expander *recurrence.Expander
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an event service.
func NewService(store Store, expander *recurrence.Expander, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if expander == nil {
		expander = recurrence.NewExpander(recurrence.DefaultHorizon)
	}
	s := &Service{store: store, expander: expander, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput is a new event, optionally recurring.
type CreateInput struct {
	WorkspaceID  uuid.UUID
	CreatedByID  uuid.UUID
	Name         string
	Description  string
	DateStart    time.Time
	DateEnd      *time.Time
	Timezone     string
	Location     string
	CapacityMin  *int
	CapacityMax  *int
	LeaderOffset int
	Visibility   models.Visibility
	RRule        *string
	OrganizerIDs []uuid.UUID
}

// Validate checks the input before any write.
func (in *CreateInput) Validate() error {
	if in.WorkspaceID == uuid.Nil {
		return apperrors.Validation("workspace_id", "required")
	}
	if in.CreatedByID == uuid.Nil {
		return apperrors.Validation("created_by_id", "required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return apperrors.Validation("name", "required")
	}
	if in.Visibility != "" && !in.Visibility.Valid() {
		return &apperrors.ValidationError{Field: "visibility", Token: string(in.Visibility), Message: "unknown visibility"}
	}
	if _, err := recurrence.LoadLocation(in.Timezone); err != nil {
		return err
	}
	return validateSchedule(in.DateStart, in.DateEnd, in.CapacityMin, in.CapacityMax)
}

func validateSchedule(start time.Time, end *time.Time, capMin, capMax *int) error {
	if start.IsZero() {
		return apperrors.Validation("date_start", "required")
	}
	if end != nil && !end.After(start) {
		return apperrors.Validation("date_end", "must be after date_start")
	}
	if capMin != nil && *capMin < 0 {
		return apperrors.Validation("capacity_min", "must not be negative")
	}
	if capMax != nil && *capMax < 0 {
		return apperrors.Validation("capacity_max", "must not be negative")
	}
	if capMin != nil && capMax != nil && *capMax < *capMin {
		return apperrors.Validation("capacity_max", "must be greater than or equal to capacity_min")
	}
	return nil
}

// Create stores the event and, when RRule is set, every expanded child in one
// transaction. A failing rule or store error leaves nothing behind.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Series, error) {
	ctx, span := tracer.Start(ctx, "events.Create")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	if in.Visibility == "" {
		in.Visibility = models.VisibilityWorkspaceOnly
	}
	if in.Timezone == "" {
		in.Timezone = models.DefaultTimezone
	}
	loc, _ := recurrence.LoadLocation(in.Timezone)

	parent := models.Event{
		WorkspaceID:  in.WorkspaceID,
		Name:         strings.TrimSpace(in.Name),
		Description:  in.Description,
		DateStart:    in.DateStart.UTC(),
		DateEnd:      utcPtr(in.DateEnd),
		Timezone:     in.Timezone,
		Location:     in.Location,
		CapacityMin:  in.CapacityMin,
		CapacityMax:  in.CapacityMax,
		LeaderOffset: in.LeaderOffset,
		Visibility:   in.Visibility,
		CreatedByID:  in.CreatedByID,
		OrganizerIDs: withCreator(in.CreatedByID, in.OrganizerIDs),
	}

	var occurrences []recurrence.Occurrence
	if in.RRule != nil && strings.TrimSpace(*in.RRule) != "" {
		rule := strings.TrimSpace(*in.RRule)
		parent.RRule = &rule
		var err error
		occurrences, err = s.expander.Expand(recurrence.Base{Start: parent.DateStart, End: parent.DateEnd, Location: loc}, rule)
		if err != nil {
			return nil, err
		}
	}
	span.SetAttributes(
		attribute.Int("events.children", len(occurrences)),
		attribute.Int("recurrence.horizon", s.expander.Horizon()),
	)

	series := &Series{}
	err := s.store.InTx(ctx, func(tx Store) error {
		if err := tx.Create(ctx, &parent); err != nil {
			return err
		}
		series.Parent = parent
		parentID := parent.ID
		series.Children = make([]models.Event, 0, len(occurrences))
		for _, occ := range occurrences {
			child := parent
			child.ID = uuid.Nil
			child.RRule = nil
			child.ParentEventID = &parentID
			child.DateStart = occ.Start
			child.DateEnd = occ.End
			child.OrganizerIDs = append([]uuid.UUID(nil), parent.OrganizerIDs...)
			if err := tx.Create(ctx, &child); err != nil {
				return fmt.Errorf("create occurrence %s: %w", occ.Start.Format(time.RFC3339), err)
			}
			series.Children = append(series.Children, child)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("create event failed", zap.Error(err), zap.String("workspace_id", in.WorkspaceID.String()))
		return nil, err
	}
	s.logger.Info("event created",
		zap.String("event_id", series.Parent.ID.String()),
		zap.Int("children", len(series.Children)))
	return series, nil
}

// Get returns one occurrence.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return s.store.GetByID(ctx, id)
}

// GetSeries resolves the series containing id. A standalone event is a series of one.
func (s *Service) GetSeries(ctx context.Context, id uuid.UUID) (*Series, error) {
	ev, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ev.IsSeriesParent() && !ev.IsSeriesChild() {
		return &Series{Parent: *ev, Children: []models.Event{}}, nil
	}
	list, err := s.store.ListSeries(ctx, ev.SeriesID())
	if err != nil {
		return nil, err
	}
	series := &Series{Children: []models.Event{}}
	for _, occ := range list {
		if occ.ID == ev.SeriesID() {
			series.Parent = occ
			continue
		}
		series.Children = append(series.Children, occ)
	}
	return series, nil
}

// Occurrences returns every occurrence of the series containing id, parent first.
func (s *Service) Occurrences(ctx context.Context, id uuid.UUID) ([]models.Event, error) {
	series, err := s.GetSeries(ctx, id)
	if err != nil {
		return nil, err
	}
	return series.Occurrences(), nil
}

// List returns events matching f.
func (s *Service) List(ctx context.Context, f Filter) ([]models.Event, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return s.store.List(ctx, f)
}

// UpdateInput carries optional field changes. Nil means unchanged.
type UpdateInput struct {
	Name            *string
	Description     *string
	Location        *string
	CapacityMin     *int
	CapacityMax     *int
	LeaderOffset    *int
	Visibility      *models.Visibility
	DateStart       *time.Time
	DateEnd         *time.Time
	AddOrganizerIDs []uuid.UUID
}

func (in *UpdateInput) applyFields(ev *models.Event) {
	if in.Name != nil {
		ev.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		ev.Description = *in.Description
	}
	if in.Location != nil {
		ev.Location = *in.Location
	}
	if in.CapacityMin != nil {
		ev.CapacityMin = in.CapacityMin
	}
	if in.CapacityMax != nil {
		ev.CapacityMax = in.CapacityMax
	}
	if in.LeaderOffset != nil {
		ev.LeaderOffset = *in.LeaderOffset
	}
	if in.Visibility != nil {
		ev.Visibility = *in.Visibility
	}
}

// UpdateResult reports the updated occurrence and how many children followed.
type UpdateResult struct {
	Event    models.Event `json:"event"`
	Cascaded int          `json:"cascaded"`
}

// Update mutates one occurrence. On a series parent the non-temporal fields
// and added organizers cascade to every non-cancelled child in the same
// transaction; date changes never move already generated children.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*UpdateResult, error) {
	ctx, span := tracer.Start(ctx, "events.Update")
	defer span.End()

	ev, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ev.IsCancelled {
		return nil, &apperrors.ConflictError{Resource: "event", Message: "cannot update a cancelled occurrence", Err: ErrEventCancelled}
	}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return nil, apperrors.Validation("name", "required")
	}
	if in.Visibility != nil && !in.Visibility.Valid() {
		return nil, &apperrors.ValidationError{Field: "visibility", Token: string(*in.Visibility), Message: "unknown visibility"}
	}

	in.applyFields(ev)
	if in.DateStart != nil {
		ev.DateStart = in.DateStart.UTC()
	}
	if in.DateEnd != nil {
		ev.DateEnd = utcPtr(in.DateEnd)
	}
	if err := validateSchedule(ev.DateStart, ev.DateEnd, ev.CapacityMin, ev.CapacityMax); err != nil {
		return nil, err
	}

	result := &UpdateResult{}
	err = s.store.InTx(ctx, func(tx Store) error {
		var cascade []*models.Event
		if ev.IsSeriesParent() {
			children, err := tx.ListSeries(ctx, ev.ID)
			if err != nil {
				return err
			}
			// Children may carry their own bounds; check them all before writing.
			for i := range children {
				child := &children[i]
				if child.ID == ev.ID || child.IsCancelled {
					continue
				}
				in.applyFields(child)
				if err := validateSchedule(child.DateStart, child.DateEnd, child.CapacityMin, child.CapacityMax); err != nil {
					var verr *apperrors.ValidationError
					if errors.As(err, &verr) {
						return &apperrors.ValidationError{Field: verr.Field, Token: child.ID.String(), Message: verr.Message + " on occurrence"}
					}
					return err
				}
				cascade = append(cascade, child)
			}
		}

		if err := tx.Update(ctx, ev); err != nil {
			return err
		}
		if err := tx.AddOrganizers(ctx, ev.ID, in.AddOrganizerIDs); err != nil {
			return err
		}
		for _, child := range cascade {
			if err := tx.Update(ctx, child); err != nil {
				return fmt.Errorf("cascade to %s: %w", child.ID, err)
			}
			if err := tx.AddOrganizers(ctx, child.ID, in.AddOrganizerIDs); err != nil {
				return err
			}
			result.Cascaded++
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("update event failed", zap.Error(err), zap.String("event_id", id.String()))
		return nil, err
	}

	updated, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	result.Event = *updated
	s.logger.Info("event updated", zap.String("event_id", id.String()), zap.Int("cascaded", result.Cascaded))
	return result, nil
}

// CancelInput selects the cancellation scope.
type CancelInput struct {
	Reason *string
	// Series cancels the parent and every non-cancelled child of the series containing the target.
	Series bool
}

// CancelResult lists the occurrences that were cancelled.
type CancelResult struct {
	CancelledIDs []uuid.UUID `json:"cancelled_ids"`
	CancelledAt  time.Time   `json:"cancelled_at"`
}

// Cancel moves occurrences to the terminal cancelled state. Attendance is
// untouched: registered attendees stay registered.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, in CancelInput) (*CancelResult, error) {
	ctx, span := tracer.Start(ctx, "events.Cancel")
	defer span.End()

	ev, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	targets := []models.Event{*ev}
	if in.Series && (ev.IsSeriesParent() || ev.IsSeriesChild()) {
		targets, err = s.store.ListSeries(ctx, ev.SeriesID())
		if err != nil {
			return nil, err
		}
	}
	var pending []uuid.UUID
	for _, t := range targets {
		if !t.IsCancelled {
			pending = append(pending, t.ID)
		}
	}
	if len(pending) == 0 {
		return nil, &apperrors.ConflictError{Resource: "event", Message: "already cancelled", Err: ErrEventCancelled}
	}

	var reason *string
	if in.Reason != nil && strings.TrimSpace(*in.Reason) != "" {
		r := strings.TrimSpace(*in.Reason)
		reason = &r
	}
	now := s.now().UTC()
	err = s.store.InTx(ctx, func(tx Store) error {
		for _, target := range pending {
			if err := tx.Cancel(ctx, target, now, reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("cancel event failed", zap.Error(err), zap.String("event_id", id.String()))
		return nil, err
	}
	s.logger.Info("event cancelled", zap.String("event_id", id.String()), zap.Int("occurrences", len(pending)))
	return &CancelResult{CancelledIDs: pending, CancelledAt: now}, nil
}

func withCreator(creator uuid.UUID, ids []uuid.UUID) []uuid.UUID {
	out := []uuid.UUID{creator}
	seen := map[uuid.UUID]struct{}{creator: {}}
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == uuid.Nil {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
