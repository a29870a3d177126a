package notifications

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

// Repository handles notification_logs persistence.
type Repository struct {
	db database.DB
}

// NewRepository creates a notification logs repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

const logColumns = `id, job_id, event_id, attendee_id, type, recipient_email, subject, status, sent_at, error_message, created_at`

func scanLog(row pgx.Row, l *models.NotificationLog) error {
	var subject, errMsg *string
	if err := row.Scan(&l.ID, &l.JobID, &l.EventID, &l.AttendeeID, &l.Type, &l.RecipientEmail, &subject, &l.Status, &l.SentAt, &errMsg, &l.CreatedAt); err != nil {
		return err
	}
	if subject != nil {
		l.Subject = *subject
	}
	if errMsg != nil {
		l.ErrorMessage = *errMsg
	}
	return nil
}

// Begin records a pending delivery for a job. A retried job reuses its row
// and goes back to pending.
func (r *Repository) Begin(ctx context.Context, l *models.NotificationLog) error {
	const q = `INSERT INTO notification_logs (job_id, event_id, attendee_id, type, recipient_email, subject, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending')
		ON CONFLICT (job_id) DO UPDATE SET status = 'pending', error_message = NULL
		RETURNING ` + logColumns
	err := scanLog(r.db.QueryRow(ctx, q, l.JobID, l.EventID, l.AttendeeID, l.Type, l.RecipientEmail, l.Subject), l)
	if err != nil {
		return fmt.Errorf("begin notification log: %w", err)
	}
	return nil
}

// MarkSent sets a log to sent.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE notification_logs SET status = 'sent', sent_at = $2, error_message = NULL WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("notification log", id.String())
	}
	return nil
}

// MarkFailed sets a log to failed with the delivery error.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, msg string) error {
	tag, err := r.db.Exec(ctx, `UPDATE notification_logs SET status = 'failed', error_message = $2 WHERE id = $1`, id, msg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("notification log", id.String())
	}
	return nil
}

// GetByJob returns the log of a job.
func (r *Repository) GetByJob(ctx context.Context, jobID string) (*models.NotificationLog, error) {
	var l models.NotificationLog
	err := scanLog(r.db.QueryRow(ctx, `SELECT `+logColumns+` FROM notification_logs WHERE job_id = $1`, jobID), &l)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("notification log", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get notification log: %w", err)
	}
	return &l, nil
}

// ListByEvent returns notification logs for an occurrence, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.NotificationLog, error) {
	rows, err := r.db.Query(ctx, `SELECT `+logColumns+` FROM notification_logs
		WHERE event_id = $1
		ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list notification logs: %w", err)
	}
	defer rows.Close()
	list := []models.NotificationLog{}
	for rows.Next() {
		var l models.NotificationLog
		if err := scanLog(rows, &l); err != nil {
			return nil, err
		}
		list = append(list, l)
	}
	return list, rows.Err()
}
