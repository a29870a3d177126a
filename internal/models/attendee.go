package models

import (
	"time"

	"github.com/google/uuid"
)

// DanceRole is the partner role an attendee dances.
type DanceRole string

const (
	RoleLeader   DanceRole = "LEADER"
	RoleFollower DanceRole = "FOLLOWER"
)

// Valid reports whether r is a known dance role.
func (r DanceRole) Valid() bool {
	return r == RoleLeader || r == RoleFollower
}

// AttendanceAction is one entry kind of the attendance history.
type AttendanceAction string

const (
	ActionInvited     AttendanceAction = "INVITED"
	ActionRegistered  AttendanceAction = "REGISTERED"
	ActionConfirmed   AttendanceAction = "CONFIRMED"
	ActionCancelled   AttendanceAction = "CANCELLED"
	ActionDeclined    AttendanceAction = "DECLINED"
	ActionRoleChanged AttendanceAction = "ROLE_CHANGED"
)

// Valid reports whether a is a known action.
func (a AttendanceAction) Valid() bool {
	switch a {
	case ActionInvited, ActionRegistered, ActionConfirmed, ActionCancelled, ActionDeclined, ActionRoleChanged:
		return true
	}
	return false
}

// Active reports whether the action holds a seat (counted for capacity and isAttending).
func (a AttendanceAction) Active() bool {
	return a == ActionRegistered || a == ActionConfirmed
}

// Attendee is one identity's participation in one occurrence. Exactly one of
// UserID or GuestEmail is set for a registration; rows are never deleted.
type Attendee struct {
	ID         uuid.UUID  `json:"id"`
	EventID    uuid.UUID  `json:"event_id"`
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	GuestEmail *string    `json:"guest_email,omitempty"`
	GuestName  *string    `json:"guest_name,omitempty"`
	Role       *DanceRole `json:"role,omitempty"`
	WasInvited bool       `json:"was_invited"`
	// Status is the action of the most recent history row; nil before the first entry.
	Status    *AttendanceAction `json:"status,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// IsActive reports whether the attendee currently holds a seat.
func (a *Attendee) IsActive() bool {
	return a.Status != nil && a.Status.Active()
}

// AttendanceHistory is an immutable audit row. Rows are ordered by
// (CreatedAt, ID) per attendee.
type AttendanceHistory struct {
	ID            int64            `json:"id"`
	AttendeeID    uuid.UUID        `json:"attendee_id"`
	Action        AttendanceAction `json:"action"`
	PreviousRole  *DanceRole       `json:"previous_role,omitempty"`
	NewRole       *DanceRole       `json:"new_role,omitempty"`
	PerformedByID *uuid.UUID       `json:"performed_by_id,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
