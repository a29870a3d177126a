package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// QueueNotifications is the Redis list key for notification jobs.
	QueueNotifications = "worker:notifications"
	// QueueDLQ is the dead-letter queue for failed jobs after retries.
	QueueDLQ = "worker:dlq"
	// MaxRetries is the number of attempts before a job moves to the DLQ.
	MaxRetries = 3
	// RetryBackoff is the delay between retries.
	RetryBackoff = 10 * time.Second
)

// JobType identifies the job kind.
type JobType string

const (
	JobTypeAttendanceChanged JobType = "attendance_changed"
)

// Job is a generic job envelope.
type Job struct {
	ID        string          `json:"id"`
	Type      JobType         `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Attempt   int             `json:"attempt"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Queue enqueues and dequeues jobs via Redis lists.
type Queue struct {
	client redis.UniversalClient
	key    string
	dlq    string
	logger *zap.Logger
}

// NewQueue creates a Redis-backed job queue on QueueNotifications.
func NewQueue(client redis.UniversalClient, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{client: client, key: QueueNotifications, dlq: QueueDLQ, logger: logger}
}

// Enqueue wraps payload in a new job and pushes it.
func (q *Queue) Enqueue(ctx context.Context, jobType JobType, payload any) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.push(ctx, q.key, job); err != nil {
		return nil, err
	}
	q.logger.Debug("enqueued job", zap.String("job_id", job.ID), zap.String("type", string(jobType)))
	return job, nil
}

func (q *Queue) push(ctx context.Context, key string, job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.RPush(ctx, key, raw).Err(); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	return nil
}

// Dequeue blocks up to timeout for a job. It returns nil, nil when the
// timeout elapses and ctx.Err() once ctx is done.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	var job Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		q.logger.Warn("invalid job payload", zap.String("raw", result[1]), zap.Error(err))
		return nil, nil
	}
	return &job, nil
}

// Retry re-enqueues a failed job with an incremented attempt. Once the
// attempt reaches MaxRetries the job goes to the DLQ and dead is true.
func (q *Queue) Retry(ctx context.Context, job *Job, cause error) (dead bool, err error) {
	job.Attempt++
	if cause != nil {
		job.LastError = cause.Error()
	}
	if job.Attempt >= MaxRetries {
		if err := q.push(ctx, q.dlq, job); err != nil {
			q.logger.Error("dlq push failed", zap.Error(err), zap.String("job_id", job.ID))
			return false, err
		}
		q.logger.Warn("job moved to DLQ", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
		return true, nil
	}
	if err := q.push(ctx, q.key, job); err != nil {
		return false, err
	}
	q.logger.Info("job retried", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return false, nil
}

// DeadLetters returns up to limit jobs from the DLQ, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int64) ([]Job, error) {
	raws, err := q.client.LRange(ctx, q.dlq, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange dlq: %w", err)
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err != nil {
			q.logger.Warn("invalid dlq entry", zap.Error(err))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
