package attendance

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

// Store is the persistence the attendance service needs.
type Store interface {
	// InTx runs fn with a Store bound to one transaction.
	InTx(ctx context.Context, fn func(Store) error) error
	GetAttendee(ctx context.Context, id uuid.UUID) (*models.Attendee, error)
	FindByUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Attendee, error)
	FindByGuestEmail(ctx context.Context, eventID uuid.UUID, email string) (*models.Attendee, error)
	// CreateAttendee returns a ConflictError wrapping database.ErrUniqueViolation
	// when the identity already has a row for the event.
	CreateAttendee(ctx context.Context, a *models.Attendee) error
	UpdateAttendee(ctx context.Context, a *models.Attendee) error
	AppendHistory(ctx context.Context, h *models.AttendanceHistory) error
	ListHistory(ctx context.Context, attendeeID uuid.UUID) ([]models.AttendanceHistory, error)
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Attendee, error)
}

// Repository handles attendee and attendance_history persistence.
type Repository struct {
	db database.DB
}

// NewRepository creates an attendance repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

// Status is the action of the newest history row; (created_at, id) breaks same-instant ties.
const attendeeSelect = `SELECT a.id, a.event_id, a.user_id, a.guest_email, a.guest_name, a.role, a.was_invited,
	a.created_at, a.updated_at, h.action
	FROM attendees a
	LEFT JOIN LATERAL (
		SELECT action FROM attendance_history
		WHERE attendee_id = a.id
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	) h ON TRUE`

func scanAttendee(row pgx.Row, a *models.Attendee) error {
	return row.Scan(&a.ID, &a.EventID, &a.UserID, &a.GuestEmail, &a.GuestName, &a.Role, &a.WasInvited,
		&a.CreatedAt, &a.UpdatedAt, &a.Status)
}

// InTx implements Store.
func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	return database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&Repository{db: tx})
	})
}

func (r *Repository) getOne(ctx context.Context, where string, args ...any) (*models.Attendee, error) {
	var a models.Attendee
	err := scanAttendee(r.db.QueryRow(ctx, attendeeSelect+" WHERE "+where, args...), &a)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("attendee", "")
	}
	if err != nil {
		return nil, fmt.Errorf("get attendee: %w", err)
	}
	return &a, nil
}

// GetAttendee returns an attendee with its derived status.
func (r *Repository) GetAttendee(ctx context.Context, id uuid.UUID) (*models.Attendee, error) {
	a, err := r.getOne(ctx, "a.id = $1", id)
	if apperrors.IsNotFound(err) {
		return nil, apperrors.NotFound("attendee", id.String())
	}
	return a, err
}

// FindByUser returns the user's attendee row for the event.
func (r *Repository) FindByUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Attendee, error) {
	return r.getOne(ctx, "a.event_id = $1 AND a.user_id = $2", eventID, userID)
}

// FindByGuestEmail returns the guest's attendee row for the event. email must be normalised.
func (r *Repository) FindByGuestEmail(ctx context.Context, eventID uuid.UUID, email string) (*models.Attendee, error) {
	return r.getOne(ctx, "a.event_id = $1 AND a.guest_email = $2", eventID, email)
}

// CreateAttendee inserts the row unless the identity already has one. The
// insert does not raise on conflict so the surrounding transaction stays usable
// for the retry.
func (r *Repository) CreateAttendee(ctx context.Context, a *models.Attendee) error {
	const q = `INSERT INTO attendees (event_id, user_id, guest_email, guest_name, role, was_invited)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, q, a.EventID, a.UserID, a.GuestEmail, a.GuestName, a.Role, a.WasInvited).
		Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) || database.IsUniqueViolation(err) {
		return &apperrors.ConflictError{Resource: "attendee", Message: "identity already registered for event", Err: database.ErrUniqueViolation}
	}
	if err != nil {
		return fmt.Errorf("insert attendee: %w", err)
	}
	return nil
}

// UpdateAttendee writes role, invitation flag and guest name.
func (r *Repository) UpdateAttendee(ctx context.Context, a *models.Attendee) error {
	const q = `UPDATE attendees SET role = $1, was_invited = $2, guest_name = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING updated_at`
	err := r.db.QueryRow(ctx, q, a.Role, a.WasInvited, a.GuestName, a.ID).Scan(&a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("attendee", a.ID.String())
	}
	if err != nil {
		return fmt.Errorf("update attendee: %w", err)
	}
	return nil
}

// AppendHistory inserts one audit row. Rows are never updated or deleted.
func (r *Repository) AppendHistory(ctx context.Context, h *models.AttendanceHistory) error {
	const q = `INSERT INTO attendance_history (attendee_id, action, previous_role, new_role, performed_by_id, notes, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`
	var metadata any
	if len(h.Metadata) > 0 {
		metadata = h.Metadata
	}
	err := r.db.QueryRow(ctx, q, h.AttendeeID, string(h.Action), h.PreviousRole, h.NewRole, h.PerformedByID, h.Notes, metadata).
		Scan(&h.ID, &h.CreatedAt)
	if err != nil {
		return fmt.Errorf("append attendance history: %w", err)
	}
	return nil
}

// ListHistory returns an attendee's history oldest first.
func (r *Repository) ListHistory(ctx context.Context, attendeeID uuid.UUID) ([]models.AttendanceHistory, error) {
	const q = `SELECT id, attendee_id, action, previous_role, new_role, performed_by_id, notes, metadata, created_at
		FROM attendance_history
		WHERE attendee_id = $1
		ORDER BY created_at ASC, id ASC`
	rows, err := r.db.Query(ctx, q, attendeeID)
	if err != nil {
		return nil, fmt.Errorf("list attendance history: %w", err)
	}
	defer rows.Close()
	list := []models.AttendanceHistory{}
	for rows.Next() {
		var h models.AttendanceHistory
		if err := rows.Scan(&h.ID, &h.AttendeeID, &h.Action, &h.PreviousRole, &h.NewRole, &h.PerformedByID,
			&h.Notes, &h.Metadata, &h.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, h)
	}
	return list, rows.Err()
}

// ListByEvent returns every attendee row of the occurrence, whatever its status.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Attendee, error) {
	rows, err := r.db.Query(ctx, attendeeSelect+` WHERE a.event_id = $1 ORDER BY a.created_at, a.id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	defer rows.Close()
	list := []models.Attendee{}
	for rows.Next() {
		var a models.Attendee
		if err := scanAttendee(rows, &a); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
