package attendance

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/models"
)

// Reasons an occurrence is skipped by AttendSeries.
const (
	SkipEventCancelled = "event_cancelled"
	SkipPast           = "past_occurrence"
	SkipNotAttending   = "not_attending"
	SkipNotAdmitted    = "not_admitted"
)

// OccurrenceResult is one occurrence written by AttendSeries.
type OccurrenceResult struct {
	EventID    uuid.UUID `json:"event_id"`
	DateStart  time.Time `json:"date_start"`
	AttendeeID uuid.UUID `json:"attendee_id"`
	HistoryID  int64     `json:"history_id"`
}

// SkippedOccurrence was deliberately left untouched.
type SkippedOccurrence struct {
	EventID uuid.UUID `json:"event_id"`
	Reason  string    `json:"reason"`
}

// FailedOccurrence could not be written. Callers retry the failed subset.
type FailedOccurrence struct {
	EventID uuid.UUID `json:"event_id"`
	Error   string    `json:"error"`
	err     error
}

// Err returns the underlying failure.
func (f FailedOccurrence) Err() error { return f.err }

// SeriesResult is the per-occurrence report of AttendSeries.
type SeriesResult struct {
	SeriesID  uuid.UUID           `json:"series_id"`
	Succeeded []OccurrenceResult  `json:"succeeded"`
	Skipped   []SkippedOccurrence `json:"skipped"`
	Failed    []FailedOccurrence  `json:"failed"`
}

// OK reports whether no occurrence failed.
func (r *SeriesResult) OK() bool { return len(r.Failed) == 0 }

// AttendSeries applies the same action to every non-cancelled occurrence of
// the series containing eventID. Each occurrence is written in its own
// transaction; a failure is recorded and the remaining occurrences still run.
//
// CANCELLED only touches occurrences that have not started yet and where the
// identity already has an attendee row.
func (s *Service) AttendSeries(ctx context.Context, eventID uuid.UUID, in AttendInput) (*SeriesResult, error) {
	ctx, span := tracer.Start(ctx, "attendance.AttendSeries")
	defer span.End()

	if err := in.Validate(); err != nil {
		return nil, err
	}
	in.normalize()

	occurrences, err := s.events.Occurrences(ctx, eventID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	result := &SeriesResult{
		Succeeded: []OccurrenceResult{},
		Skipped:   []SkippedOccurrence{},
		Failed:    []FailedOccurrence{},
	}
	if len(occurrences) > 0 {
		result.SeriesID = occurrences[0].SeriesID()
	}
	// The occurrence the caller addressed must admit the action outright.
	for i := range occurrences {
		if occurrences[i].ID == eventID {
			if err := in.admit(ctx, &occurrences[i]); err != nil {
				return nil, err
			}
			break
		}
	}

	for i := range occurrences {
		ev := &occurrences[i]
		if ev.IsCancelled {
			result.Skipped = append(result.Skipped, SkippedOccurrence{EventID: ev.ID, Reason: SkipEventCancelled})
			continue
		}
		if err := in.admit(ctx, ev); err != nil {
			if apperrors.IsForbidden(err) || apperrors.IsNotFound(err) {
				result.Skipped = append(result.Skipped, SkippedOccurrence{EventID: ev.ID, Reason: SkipNotAdmitted})
			} else {
				result.Failed = append(result.Failed, FailedOccurrence{EventID: ev.ID, Error: err.Error(), err: err})
			}
			continue
		}
		if in.Action == models.ActionCancelled {
			if ev.DateStart.Before(now) {
				result.Skipped = append(result.Skipped, SkippedOccurrence{EventID: ev.ID, Reason: SkipPast})
				continue
			}
			_, err := s.lookup(ctx, s.store, ev.ID, in)
			if apperrors.IsNotFound(err) {
				result.Skipped = append(result.Skipped, SkippedOccurrence{EventID: ev.ID, Reason: SkipNotAttending})
				continue
			}
			if err != nil {
				result.Failed = append(result.Failed, FailedOccurrence{EventID: ev.ID, Error: err.Error(), err: err})
				continue
			}
		}

		res, err := s.apply(ctx, ev, in)
		if err != nil {
			result.Failed = append(result.Failed, FailedOccurrence{EventID: ev.ID, Error: err.Error(), err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, OccurrenceResult{
			EventID:    ev.ID,
			DateStart:  ev.DateStart,
			AttendeeID: res.Attendee.ID,
			HistoryID:  res.Entry.ID,
		})
	}

	span.SetAttributes(
		attribute.Int("attendance.succeeded", len(result.Succeeded)),
		attribute.Int("attendance.failed", len(result.Failed)),
	)
	if !result.OK() {
		s.logger.Warn("series attendance partially failed",
			zap.String("series_id", result.SeriesID.String()),
			zap.Int("succeeded", len(result.Succeeded)),
			zap.Int("failed", len(result.Failed)))
	}
	return result, nil
}
