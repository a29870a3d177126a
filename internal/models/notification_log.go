package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType for attendance automation.
const (
	NotificationAttendanceChanged = "attendance_changed"
)

// NotificationLogStatus for delivery.
const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"
)

// NotificationLog records a delivered (or failed) attendance notification.
type NotificationLog struct {
	ID             uuid.UUID  `json:"id"`
	JobID          string     `json:"job_id"`
	EventID        uuid.UUID  `json:"event_id"`
	AttendeeID     *uuid.UUID `json:"attendee_id,omitempty"`
	Type           string     `json:"type"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject,omitempty"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
