package models

import (
	"time"

	"github.com/google/uuid"
)

// Visibility controls who can discover an event.
type Visibility string

const (
	VisibilityPublic         Visibility = "PUBLIC"
	VisibilityWorkspaceOnly  Visibility = "WORKSPACE_ONLY"
	VisibilityInvitationOnly Visibility = "INVITATION_ONLY"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityWorkspaceOnly, VisibilityInvitationOnly:
		return true
	}
	return false
}

// DefaultTimezone is used when an event is created without an explicit zone.
const DefaultTimezone = "UTC"

// Event is one occurrence: a standalone class, a series parent (RRule set)
// or a generated child (ParentEventID set).
type Event struct {
	ID                 uuid.UUID   `json:"id"`
	WorkspaceID        uuid.UUID   `json:"workspace_id"`
	Name               string      `json:"name"`
	Description        string      `json:"description"`
	DateStart          time.Time   `json:"date_start"`
	DateEnd            *time.Time  `json:"date_end,omitempty"`
	Timezone           string      `json:"timezone"`
	Location           string      `json:"location"`
	CapacityMin        *int        `json:"capacity_min,omitempty"`
	CapacityMax        *int        `json:"capacity_max,omitempty"`
	LeaderOffset       int         `json:"leader_offset"`
	Visibility         Visibility  `json:"visibility"`
	IsCancelled        bool        `json:"is_cancelled"`
	CancelledAt        *time.Time  `json:"cancelled_at,omitempty"`
	CancellationReason *string     `json:"cancellation_reason,omitempty"`
	RRule              *string     `json:"rrule,omitempty"`
	ParentEventID      *uuid.UUID  `json:"parent_event_id,omitempty"`
	CreatedByID        uuid.UUID   `json:"created_by_id"`
	OrganizerIDs       []uuid.UUID `json:"organizer_ids"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// IsSeriesParent reports whether the event carries the recurrence rule of a series.
func (e *Event) IsSeriesParent() bool { return e.RRule != nil }

// IsSeriesChild reports whether the event was generated from a parent's rule.
func (e *Event) IsSeriesChild() bool { return e.ParentEventID != nil }

// SeriesID returns the id of the series parent, or the event's own id
// when it is a parent or a standalone event.
func (e *Event) SeriesID() uuid.UUID {
	if e.ParentEventID != nil {
		return *e.ParentEventID
	}
	return e.ID
}

// Duration is DateEnd - DateStart, or zero when the event is open-ended.
func (e *Event) Duration() time.Duration {
	if e.DateEnd == nil {
		return 0
	}
	return e.DateEnd.Sub(e.DateStart)
}

// IsOrganizer reports whether userID is in the organizer set.
func (e *Event) IsOrganizer(userID uuid.UUID) bool {
	if e.CreatedByID == userID {
		return true
	}
	for _, id := range e.OrganizerIDs {
		if id == userID {
			return true
		}
	}
	return false
}
