package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/database"
)

// Store is the persistence the event service needs.
type Store interface {
	// InTx runs fn with a Store bound to one transaction.
	InTx(ctx context.Context, fn func(Store) error) error
	Create(ctx context.Context, ev *models.Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
	// ListSeries returns the parent and its children ordered by date_start.
	ListSeries(ctx context.Context, parentID uuid.UUID) ([]models.Event, error)
	Update(ctx context.Context, ev *models.Event) error
	AddOrganizers(ctx context.Context, eventID uuid.UUID, userIDs []uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID, at time.Time, reason *string) error
	List(ctx context.Context, f Filter) ([]models.Event, error)
}

// Repository handles event and organizer persistence.
type Repository struct {
	db database.DB
}

// NewRepository creates an event repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

const eventColumns = `e.id, e.workspace_id, e.name, e.description, e.date_start, e.date_end, e.timezone, e.location,
	e.capacity_min, e.capacity_max, e.leader_offset, e.visibility, e.is_cancelled, e.cancelled_at,
	e.cancellation_reason, e.rrule, e.parent_event_id, e.created_by_id, e.created_at, e.updated_at`

func scanEvent(row pgx.Row, ev *models.Event) error {
	return row.Scan(&ev.ID, &ev.WorkspaceID, &ev.Name, &ev.Description, &ev.DateStart, &ev.DateEnd, &ev.Timezone, &ev.Location,
		&ev.CapacityMin, &ev.CapacityMax, &ev.LeaderOffset, &ev.Visibility, &ev.IsCancelled, &ev.CancelledAt,
		&ev.CancellationReason, &ev.RRule, &ev.ParentEventID, &ev.CreatedByID, &ev.CreatedAt, &ev.UpdatedAt)
}

// InTx implements Store.
func (r *Repository) InTx(ctx context.Context, fn func(Store) error) error {
	return database.InTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&Repository{db: tx})
	})
}

// Create inserts an event and its organizer rows. The creator is always an organizer.
func (r *Repository) Create(ctx context.Context, ev *models.Event) error {
	const q = `INSERT INTO events (workspace_id, name, description, date_start, date_end, timezone, location,
		capacity_min, capacity_max, leader_offset, visibility, rrule, parent_event_id, created_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(ctx, q, ev.WorkspaceID, ev.Name, ev.Description, ev.DateStart, ev.DateEnd, ev.Timezone, ev.Location,
		ev.CapacityMin, ev.CapacityMax, ev.LeaderOffset, string(ev.Visibility), ev.RRule, ev.ParentEventID, ev.CreatedByID).
		Scan(&ev.ID, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return r.AddOrganizers(ctx, ev.ID, ev.OrganizerIDs)
}

// GetByID returns an event with its organizer set.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var ev models.Event
	err := scanEvent(r.db.QueryRow(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.id = $1`, id), &ev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("event", id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	list := []*models.Event{&ev}
	if err := r.attachOrganizers(ctx, list); err != nil {
		return nil, err
	}
	return &ev, nil
}

// ListSeries implements Store.
func (r *Repository) ListSeries(ctx context.Context, parentID uuid.UUID) ([]models.Event, error) {
	return r.List(ctx, Filter{SeriesID: &parentID, IncludeCancelled: true, Limit: unlimited})
}

// List returns events matching f ordered by date_start.
func (r *Repository) List(ctx context.Context, f Filter) ([]models.Event, error) {
	where, args := f.where()
	q := `SELECT ` + eventColumns + ` FROM events e` + where + ` ORDER BY e.date_start ASC, e.id ASC`
	if f.Limit != unlimited {
		args = append(args, f.limit(), f.Offset)
		q += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var list []models.Event
	for rows.Next() {
		var ev models.Event
		if err := scanEvent(rows, &ev); err != nil {
			return nil, err
		}
		list = append(list, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ptrs := make([]*models.Event, len(list))
	for i := range list {
		ptrs[i] = &list[i]
	}
	if err := r.attachOrganizers(ctx, ptrs); err != nil {
		return nil, err
	}
	return list, nil
}

// Update writes the mutable fields of ev, dates included.
func (r *Repository) Update(ctx context.Context, ev *models.Event) error {
	const q = `UPDATE events SET name = $1, description = $2, date_start = $3, date_end = $4, location = $5,
		capacity_min = $6, capacity_max = $7, leader_offset = $8, visibility = $9, updated_at = NOW()
		WHERE id = $10
		RETURNING updated_at`
	err := r.db.QueryRow(ctx, q, ev.Name, ev.Description, ev.DateStart, ev.DateEnd, ev.Location,
		ev.CapacityMin, ev.CapacityMax, ev.LeaderOffset, string(ev.Visibility), ev.ID).Scan(&ev.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("event", ev.ID.String())
	}
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return nil
}

// AddOrganizers links users as organizers of an event.
func (r *Repository) AddOrganizers(ctx context.Context, eventID uuid.UUID, userIDs []uuid.UUID) error {
	const q = `INSERT INTO event_organizers (event_id, user_id) VALUES ($1, $2)
		ON CONFLICT (event_id, user_id) DO NOTHING`
	for _, uid := range userIDs {
		if _, err := r.db.Exec(ctx, q, eventID, uid); err != nil {
			return fmt.Errorf("add organizer: %w", err)
		}
	}
	return nil
}

// Cancel marks one occurrence cancelled. Attendee rows are left untouched.
func (r *Repository) Cancel(ctx context.Context, id uuid.UUID, at time.Time, reason *string) error {
	const q = `UPDATE events SET is_cancelled = TRUE, cancelled_at = $1, cancellation_reason = $2, updated_at = NOW()
		WHERE id = $3 AND NOT is_cancelled`
	tag, err := r.db.Exec(ctx, q, at, reason, id)
	if err != nil {
		return fmt.Errorf("cancel event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.ConflictError{Resource: "event", Message: "already cancelled or missing", Err: ErrEventCancelled}
	}
	return nil
}

func (r *Repository) attachOrganizers(ctx context.Context, list []*models.Event) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(list))
	byID := make(map[uuid.UUID]*models.Event, len(list))
	for i, ev := range list {
		ids[i] = ev.ID
		byID[ev.ID] = ev
		ev.OrganizerIDs = []uuid.UUID{}
	}
	rows, err := r.db.Query(ctx, `SELECT event_id, user_id FROM event_organizers WHERE event_id = ANY($1) ORDER BY added_at, user_id`, ids)
	if err != nil {
		return fmt.Errorf("list organizers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventID, userID uuid.UUID
		if err := rows.Scan(&eventID, &userID); err != nil {
			return err
		}
		if ev, ok := byID[eventID]; ok {
			ev.OrganizerIDs = append(ev.OrganizerIDs, userID)
		}
	}
	return rows.Err()
}
