// Package notifications turns attendance changes into queued notification
// jobs and exposes their delivery log.
package notifications

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/attendance"
	"github.com/dance-app/api-sub000/pkg/queue"
)

// Enqueuer is satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType queue.JobType, payload any) (*queue.Job, error)
}

// QueuePublisher is an attendance.Notifier that hands each change to the
// notification worker.
type QueuePublisher struct {
	jobs   Enqueuer
	logger *zap.Logger
}

// NewQueuePublisher creates a queue-backed notifier.
func NewQueuePublisher(jobs Enqueuer, logger *zap.Logger) *QueuePublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueuePublisher{jobs: jobs, logger: logger}
}

// AttendanceChanged implements attendance.Notifier.
func (p *QueuePublisher) AttendanceChanged(ctx context.Context, ch attendance.Change) error {
	job, err := p.jobs.Enqueue(ctx, queue.JobTypeAttendanceChanged, ch)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	p.logger.Debug("notification queued",
		zap.String("job_id", job.ID),
		zap.String("event_id", ch.EventID.String()),
		zap.String("attendee_id", ch.AttendeeID.String()),
	)
	return nil
}
