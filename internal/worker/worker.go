package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/attendance"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/queue"
)

// dequeueTimeout bounds each blocking pop so shutdown is noticed promptly.
const dequeueTimeout = 5 * time.Second

// errPermanent marks jobs that no retry can fix.
var errPermanent = errors.New("permanent failure")

// Jobs is satisfied by *queue.Queue.
type Jobs interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) (dead bool, err error)
}

// Users resolves registered attendees' addresses. Satisfied by *auth.Repository.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Events loads occurrences.
type Events interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// Logs records deliveries. Satisfied by *notifications.Repository.
type Logs interface {
	Begin(ctx context.Context, l *models.NotificationLog) error
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, msg string) error
}

// NotificationProcessor delivers attendance_changed jobs: resolve the
// recipient, send through the Mailer, record the outcome.
type NotificationProcessor struct {
	jobs    Jobs
	users   Users
	events  Events
	logs    Logs
	mailer  Mailer
	from    string
	logger  *zap.Logger
	now     func() time.Time
	backoff time.Duration
}

// NewNotificationProcessor creates a notification processor.
func NewNotificationProcessor(jobs Jobs, users Users, events Events, logs Logs, mailer Mailer, from string, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{
		jobs:    jobs,
		users:   users,
		events:  events,
		logs:    logs,
		mailer:  mailer,
		from:    from,
		logger:  logger,
		now:     time.Now,
		backoff: queue.RetryBackoff,
	}
}

func (p *NotificationProcessor) recipient(ctx context.Context, ch attendance.Change) (string, error) {
	if ch.GuestEmail != nil && *ch.GuestEmail != "" {
		return *ch.GuestEmail, nil
	}
	if ch.UserID == nil {
		return "", fmt.Errorf("%w: change without identity", errPermanent)
	}
	u, err := p.users.GetByID(ctx, *ch.UserID)
	if err != nil {
		return "", fmt.Errorf("resolve user: %w", err)
	}
	return u.Email, nil
}

func subject(ev *models.Event, action models.AttendanceAction) string {
	verb := map[models.AttendanceAction]string{
		models.ActionInvited:     "You're invited",
		models.ActionRegistered:  "You're registered",
		models.ActionConfirmed:   "Attendance confirmed",
		models.ActionCancelled:   "Registration cancelled",
		models.ActionDeclined:    "Invitation declined",
		models.ActionRoleChanged: "Dance role updated",
	}[action]
	if verb == "" {
		verb = strings.ToLower(string(action))
	}
	return fmt.Sprintf("%s: %s on %s", verb, ev.Name, ev.DateStart.Format("Mon Jan 2 15:04 MST"))
}

// Process executes one notification job.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAttendanceChanged {
		return fmt.Errorf("%w: unknown job type %s", errPermanent, job.Type)
	}
	var ch attendance.Change
	if err := json.Unmarshal(job.Payload, &ch); err != nil {
		return fmt.Errorf("%w: unmarshal payload: %v", errPermanent, err)
	}

	ev, err := p.events.Get(ctx, ch.EventID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	to, err := p.recipient(ctx, ch)
	if err != nil {
		return err
	}
	attendeeID := ch.AttendeeID
	entry := &models.NotificationLog{
		JobID:          job.ID,
		EventID:        ev.ID,
		AttendeeID:     &attendeeID,
		Type:           models.NotificationAttendanceChanged,
		RecipientEmail: to,
		Subject:        subject(ev, ch.Action),
	}
	if err := p.logs.Begin(ctx, entry); err != nil {
		return err
	}

	msg := Message{
		From:    p.from,
		To:      to,
		Subject: entry.Subject,
		Body:    fmt.Sprintf("%s\n\nStatus: %s", entry.Subject, ch.Action),
	}
	if err := p.mailer.Send(ctx, msg); err != nil {
		if markErr := p.logs.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
			p.logger.Error("mark notification failed", zap.Error(markErr), zap.String("job_id", job.ID))
		}
		return fmt.Errorf("send: %w", err)
	}
	if err := p.logs.MarkSent(ctx, entry.ID, p.now().UTC()); err != nil {
		return err
	}
	p.logger.Info("notification sent",
		zap.String("job_id", job.ID),
		zap.String("event_id", ev.ID.String()),
		zap.String("attendee_id", attendeeID.String()),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error. Permanent
// failures are dropped. Returns when ctx is done.
func (p *NotificationProcessor) Run(ctx context.Context) {
	for {
		job, err := p.jobs.Dequeue(ctx, dequeueTimeout)
		if ctx.Err() != nil {
			p.logger.Info("notification worker stopping")
			return
		}
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		err = p.Process(ctx, job)
		if err == nil {
			continue
		}
		if errors.Is(err, errPermanent) {
			p.logger.Error("job dropped", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
		if _, reErr := p.jobs.Retry(ctx, job, err); reErr != nil {
			p.logger.Error("retry enqueue failed", zap.Error(reErr))
		}
		p.sleep(ctx)
	}
}

func (p *NotificationProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
