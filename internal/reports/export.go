// Package reports exports series attendance as CSV to object storage.
package reports

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/storage"
)

var tracer = otel.Tracer("github.com/dance-app/api-sub000/internal/reports")

// Header is the CSV header row.
var Header = []string{
	"occurrence_id", "date_start", "occurrence_cancelled",
	"attendee_id", "user_id", "guest_email", "guest_name",
	"role", "status", "was_invited", "history_count", "last_action_at",
}

// Events resolves a series from any of its occurrences.
type Events interface {
	Occurrences(ctx context.Context, id uuid.UUID) ([]models.Event, error)
}

// Attendance reads attendees and their history. Satisfied by *attendance.Service.
type Attendance interface {
	Attendees(ctx context.Context, eventID uuid.UUID) ([]models.Attendee, error)
	History(ctx context.Context, attendeeID uuid.UUID) ([]models.AttendanceHistory, error)
}

// ObjectStore is satisfied by *storage.S3.
type ObjectStore interface {
	Upload(ctx context.Context, bucket, key, contentType string, body io.Reader) error
	PresignedDownloadURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
	ReportsBucket() string
	PresignExpire() time.Duration
}

// Row is one attendee of one occurrence.
type Row struct {
	Occurrence   models.Event
	Attendee     models.Attendee
	HistoryCount int
	LastActionAt *time.Time
}

// Export describes an uploaded report.
type Export struct {
	SeriesID  uuid.UUID `json:"series_id"`
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Rows      int       `json:"rows"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Exporter builds and uploads series attendance reports.
type Exporter struct {
	events     Events
	attendance Attendance
	store      ObjectStore
	logger     *zap.Logger
	now        func() time.Time
}

// NewExporter creates an exporter.
func NewExporter(events Events, attendance Attendance, store ObjectStore, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{events: events, attendance: attendance, store: store, logger: logger, now: time.Now}
}

// Rows collects one row per attendee per occurrence, occurrences in date order.
func (e *Exporter) Rows(ctx context.Context, occurrences []models.Event) ([]Row, error) {
	var rows []Row
	for _, occ := range occurrences {
		attendees, err := e.attendance.Attendees(ctx, occ.ID)
		if err != nil {
			return nil, fmt.Errorf("attendees of %s: %w", occ.ID, err)
		}
		for _, a := range attendees {
			history, err := e.attendance.History(ctx, a.ID)
			if err != nil {
				return nil, fmt.Errorf("history of %s: %w", a.ID, err)
			}
			row := Row{Occurrence: occ, Attendee: a, HistoryCount: len(history)}
			if n := len(history); n > 0 {
				last := history[n-1].CreatedAt
				row.LastActionAt = &last
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func deref[T ~string](p *T) string {
	if p == nil {
		return ""
	}
	return string(*p)
}

// WriteCSV writes Header followed by rows. Times are RFC 3339 in UTC.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range rows {
		userID := ""
		if r.Attendee.UserID != nil {
			userID = r.Attendee.UserID.String()
		}
		lastAction := ""
		if r.LastActionAt != nil {
			lastAction = r.LastActionAt.UTC().Format(time.RFC3339)
		}
		record := []string{
			r.Occurrence.ID.String(),
			r.Occurrence.DateStart.UTC().Format(time.RFC3339),
			strconv.FormatBool(r.Occurrence.IsCancelled),
			r.Attendee.ID.String(),
			userID,
			deref(r.Attendee.GuestEmail),
			deref(r.Attendee.GuestName),
			deref(r.Attendee.Role),
			deref(r.Attendee.Status),
			strconv.FormatBool(r.Attendee.WasInvited),
			strconv.Itoa(r.HistoryCount),
			lastAction,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Export writes the series report of eventID to the reports bucket and
// returns a pre-signed download URL.
func (e *Exporter) Export(ctx context.Context, eventID uuid.UUID) (*Export, error) {
	ctx, span := tracer.Start(ctx, "reports.Export")
	defer span.End()

	occurrences, err := e.events.Occurrences(ctx, eventID)
	if err != nil {
		return nil, err
	}
	seriesID := eventID
	if len(occurrences) > 0 {
		seriesID = occurrences[0].SeriesID()
	}
	rows, err := e.Rows(ctx, occurrences)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, rows); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	now := e.now()
	key := storage.ReportKey(seriesID.String(), now)
	bucket := e.store.ReportsBucket()
	if err := e.store.Upload(ctx, bucket, key, storage.ContentTypeCSV, &buf); err != nil {
		span.RecordError(err)
		return nil, err
	}
	expires := e.store.PresignExpire()
	url, err := e.store.PresignedDownloadURL(ctx, bucket, key, expires)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("series.id", seriesID.String()), attribute.Int("report.rows", len(rows)))
	e.logger.Info("attendance report exported",
		zap.String("series_id", seriesID.String()),
		zap.String("key", key),
		zap.Int("rows", len(rows)),
	)
	return &Export{SeriesID: seriesID, Key: key, URL: url, Rows: len(rows), ExpiresAt: now.Add(expires).UTC()}, nil
}
