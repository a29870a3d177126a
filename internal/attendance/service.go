// Package attendance records who attends which occurrence. Every action is
// appended to an immutable history; an attendee's current status is the
// action of its newest history row.
package attendance

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/capacity"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/database"
	"github.com/dance-app/api-sub000/pkg/utils"
)

var tracer = otel.Tracer("github.com/dance-app/api-sub000/internal/attendance")

// EventReader resolves occurrences. Satisfied by *events.Service.
type EventReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Event, error)
	// Occurrences returns every occurrence of the series containing id.
	Occurrences(ctx context.Context, id uuid.UUID) ([]models.Event, error)
}

// Change describes one appended history row.
type Change struct {
	EventID       uuid.UUID               `json:"event_id"`
	AttendeeID    uuid.UUID               `json:"attendee_id"`
	HistoryID     int64                   `json:"history_id"`
	UserID        *uuid.UUID              `json:"user_id,omitempty"`
	GuestEmail    *string                 `json:"guest_email,omitempty"`
	Action        models.AttendanceAction `json:"action"`
	Role          *models.DanceRole       `json:"role,omitempty"`
	PerformedByID *uuid.UUID              `json:"performed_by_id,omitempty"`
	At            time.Time               `json:"at"`
}

// Notifier is told about every committed attendance change.
type Notifier interface {
	AttendanceChanged(ctx context.Context, change Change) error
}

// Service is the attendance state machine.
type Service struct {
	store     Store
	events    EventReader
	notifiers []Notifier
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifiers registers change listeners.
func WithNotifiers(n ...Notifier) Option {
	return func(s *Service) { s.notifiers = append(s.notifiers, n...) }
}

// NewService creates an attendance service.
func NewService(store Store, events EventReader, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{store: store, events: events, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AttendInput is one attendance action. Exactly one of UserID or GuestEmail
// identifies the attendee.
type AttendInput struct {
	UserID     *uuid.UUID
	GuestEmail string
	GuestName  string
	Action     models.AttendanceAction
	Role       *models.DanceRole
	// PerformedByID is the acting user; it differs from UserID for organizer-driven changes.
	PerformedByID *uuid.UUID
	Notes         string
	Metadata      map[string]any
	// Admit, when set, is asked before each occurrence is written.
	Admit AdmitFunc
}

// AdmitFunc decides whether in may be applied to ev. It runs after
// validation and normalisation.
type AdmitFunc func(ctx context.Context, ev *models.Event, in AttendInput) error

func (in *AttendInput) admit(ctx context.Context, ev *models.Event) error {
	if in.Admit == nil {
		return nil
	}
	return in.Admit(ctx, ev, *in)
}

// Validate checks identity exclusivity, action and role.
func (in *AttendInput) Validate() error {
	hasUser := in.UserID != nil && *in.UserID != uuid.Nil
	hasGuest := strings.TrimSpace(in.GuestEmail) != ""
	switch {
	case hasUser && hasGuest:
		return apperrors.Validation("identity", "provide either an authenticated user or a guest email, not both")
	case !hasUser && !hasGuest:
		return apperrors.Validation("identity", "an authenticated user or a guest email is required")
	}
	if hasGuest && !strings.Contains(in.GuestEmail, "@") {
		return &apperrors.ValidationError{Field: "guest_email", Token: in.GuestEmail, Message: "not an email address"}
	}
	if !in.Action.Valid() {
		return &apperrors.ValidationError{Field: "action", Token: string(in.Action), Message: "unknown action"}
	}
	if in.Role != nil && !in.Role.Valid() {
		return &apperrors.ValidationError{Field: "role", Token: string(*in.Role), Message: "unknown role"}
	}
	if in.Action == models.ActionRoleChanged && in.Role == nil {
		return apperrors.Validation("role", "required for ROLE_CHANGED")
	}
	return nil
}

func (in *AttendInput) normalize() {
	if in.GuestEmail != "" {
		in.GuestEmail = utils.NormalizeEmail(in.GuestEmail)
	}
	in.GuestName = strings.TrimSpace(in.GuestName)
	if in.UserID != nil && *in.UserID == uuid.Nil {
		in.UserID = nil
	}
}

// Result is the attendee after an action and the history row it produced.
type Result struct {
	Attendee models.Attendee          `json:"attendee"`
	Entry    models.AttendanceHistory `json:"entry"`
	Created  bool                     `json:"created"`
}

// Attend applies one action to the identity's attendee row of eventID,
// creating the row on first contact. Any action may come first. Repeating an
// action appends another history row.
func (s *Service) Attend(ctx context.Context, eventID uuid.UUID, in AttendInput) (*Result, error) {
	ctx, span := tracer.Start(ctx, "attendance.Attend")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	in.normalize()

	ev, err := s.events.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := in.admit(ctx, ev); err != nil {
		return nil, err
	}
	res, err := s.apply(ctx, ev, in)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("attendance.action", string(in.Action)))
	return res, nil
}

// apply writes the action for an already validated and normalised input.
func (s *Service) apply(ctx context.Context, ev *models.Event, in AttendInput) (*Result, error) {
	var res *Result
	err := s.store.InTx(ctx, func(tx Store) error {
		att, created, err := s.findOrCreate(ctx, tx, ev.ID, in)
		if err != nil {
			return err
		}
		res, err = s.record(ctx, tx, att, in)
		if err != nil {
			return err
		}
		res.Created = created
		return nil
	})
	if err != nil {
		s.logger.Error("attendance action failed", zap.Error(err),
			zap.String("event_id", ev.ID.String()), zap.String("action", string(in.Action)))
		return nil, err
	}
	s.notify(ctx, res)
	return res, nil
}

// Lookup returns the attendee row of the identity in in, if any.
func (s *Service) Lookup(ctx context.Context, eventID uuid.UUID, in AttendInput) (*models.Attendee, error) {
	in.normalize()
	return s.lookup(ctx, s.store, eventID, in)
}

func (s *Service) lookup(ctx context.Context, tx Store, eventID uuid.UUID, in AttendInput) (*models.Attendee, error) {
	if in.UserID != nil {
		return tx.FindByUser(ctx, eventID, *in.UserID)
	}
	return tx.FindByGuestEmail(ctx, eventID, in.GuestEmail)
}

// findOrCreate returns the identity's row. Losing a creation race to a
// concurrent request re-reads the winner's row once.
func (s *Service) findOrCreate(ctx context.Context, tx Store, eventID uuid.UUID, in AttendInput) (*models.Attendee, bool, error) {
	att, err := s.lookup(ctx, tx, eventID, in)
	if err == nil {
		return att, false, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, false, err
	}

	att = &models.Attendee{EventID: eventID, UserID: in.UserID, Role: in.Role}
	if in.UserID == nil {
		email := in.GuestEmail
		att.GuestEmail = &email
		if in.GuestName != "" {
			name := in.GuestName
			att.GuestName = &name
		}
	}
	err = tx.CreateAttendee(ctx, att)
	if err == nil {
		return att, true, nil
	}
	if !errors.Is(err, database.ErrUniqueViolation) {
		return nil, false, err
	}
	s.logger.Debug("attendee creation raced, appending to existing row", zap.String("event_id", eventID.String()))
	att, err = s.lookup(ctx, tx, eventID, in)
	if err != nil {
		return nil, false, err
	}
	return att, false, nil
}

// record updates the attendee's role and invitation flag and appends the history row.
func (s *Service) record(ctx context.Context, tx Store, att *models.Attendee, in AttendInput) (*Result, error) {
	entry := models.AttendanceHistory{
		AttendeeID:    att.ID,
		Action:        in.Action,
		PerformedByID: in.PerformedByID,
		Metadata:      in.Metadata,
	}
	if in.Notes != "" {
		notes := in.Notes
		entry.Notes = &notes
	}

	dirty := false
	if in.Action == models.ActionRoleChanged {
		entry.PreviousRole = att.Role
		newRole := *in.Role
		entry.NewRole = &newRole
	}
	if in.Role != nil && (att.Role == nil || *att.Role != *in.Role) {
		role := *in.Role
		att.Role = &role
		dirty = true
	}
	if in.Action == models.ActionInvited && !att.WasInvited {
		att.WasInvited = true
		dirty = true
	}
	if in.GuestName != "" && att.UserID == nil && (att.GuestName == nil || *att.GuestName != in.GuestName) {
		name := in.GuestName
		att.GuestName = &name
		dirty = true
	}
	if dirty {
		if err := tx.UpdateAttendee(ctx, att); err != nil {
			return nil, err
		}
	}
	if err := tx.AppendHistory(ctx, &entry); err != nil {
		return nil, err
	}
	action := entry.Action
	att.Status = &action
	return &Result{Attendee: *att, Entry: entry}, nil
}

func (s *Service) notify(ctx context.Context, res *Result) {
	if len(s.notifiers) == 0 {
		return
	}
	change := Change{
		EventID:       res.Attendee.EventID,
		AttendeeID:    res.Attendee.ID,
		HistoryID:     res.Entry.ID,
		UserID:        res.Attendee.UserID,
		GuestEmail:    res.Attendee.GuestEmail,
		Action:        res.Entry.Action,
		Role:          res.Attendee.Role,
		PerformedByID: res.Entry.PerformedByID,
		At:            res.Entry.CreatedAt,
	}
	if change.At.IsZero() {
		change.At = s.now().UTC()
	}
	for _, n := range s.notifiers {
		if err := n.AttendanceChanged(ctx, change); err != nil {
			s.logger.Warn("attendance notifier failed", zap.Error(err),
				zap.String("event_id", change.EventID.String()), zap.String("attendee_id", change.AttendeeID.String()))
		}
	}
}

// ActInput is an organizer action on an existing attendee.
type ActInput struct {
	Action        models.AttendanceAction
	Role          *models.DanceRole
	PerformedByID *uuid.UUID
	Notes         string
	Metadata      map[string]any
}

// Act applies an action to an existing attendee of eventID.
func (s *Service) Act(ctx context.Context, eventID, attendeeID uuid.UUID, in ActInput) (*Result, error) {
	ctx, span := tracer.Start(ctx, "attendance.Act")
	defer span.End()

	att, err := s.store.GetAttendee(ctx, attendeeID)
	if err != nil {
		return nil, err
	}
	if att.EventID != eventID {
		return nil, apperrors.NotFound("attendee", attendeeID.String())
	}
	attend := AttendInput{
		UserID:        att.UserID,
		Action:        in.Action,
		Role:          in.Role,
		PerformedByID: in.PerformedByID,
		Notes:         in.Notes,
		Metadata:      in.Metadata,
	}
	if att.GuestEmail != nil {
		attend.GuestEmail = *att.GuestEmail
	}
	return s.Attend(ctx, eventID, attend)
}

// History returns an attendee's audit trail oldest first.
func (s *Service) History(ctx context.Context, attendeeID uuid.UUID) ([]models.AttendanceHistory, error) {
	if _, err := s.store.GetAttendee(ctx, attendeeID); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, attendeeID)
}

// GetAttendee returns one attendee with its current status.
func (s *Service) GetAttendee(ctx context.Context, attendeeID uuid.UUID) (*models.Attendee, error) {
	return s.store.GetAttendee(ctx, attendeeID)
}

// Attendees lists every attendee row of an occurrence.
func (s *Service) Attendees(ctx context.Context, eventID uuid.UUID) ([]models.Attendee, error) {
	return s.store.ListByEvent(ctx, eventID)
}

// Summary computes live capacity for ev.
func (s *Service) Summary(ctx context.Context, ev *models.Event) (capacity.Summary, error) {
	list, err := s.store.ListByEvent(ctx, ev.ID)
	if err != nil {
		return capacity.Summary{}, err
	}
	return capacity.Compute(ev, list), nil
}

// Permissions is what a viewer may do with an occurrence.
type Permissions struct {
	IsOrganizer   bool                     `json:"is_organizer"`
	CanEdit       bool                     `json:"can_edit"`
	IsAttending   bool                     `json:"is_attending"`
	CurrentStatus *models.AttendanceAction `json:"current_status,omitempty"`
	Role          *models.DanceRole        `json:"role,omitempty"`
	AttendeeID    *uuid.UUID               `json:"attendee_id,omitempty"`
}

// Permissions reports the viewer's relation to ev. IsAttending ignores the
// event's cancellation: a registered user stays registered on a cancelled occurrence.
func (s *Service) Permissions(ctx context.Context, ev *models.Event, viewerID *uuid.UUID) (Permissions, error) {
	var p Permissions
	if viewerID == nil {
		return p, nil
	}
	p.IsOrganizer = ev.IsOrganizer(*viewerID)
	p.CanEdit = p.IsOrganizer && !ev.IsCancelled

	att, err := s.store.FindByUser(ctx, ev.ID, *viewerID)
	if apperrors.IsNotFound(err) {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	p.IsAttending = att.IsActive()
	p.CurrentStatus = att.Status
	p.Role = att.Role
	p.AttendeeID = &att.ID
	return p, nil
}
