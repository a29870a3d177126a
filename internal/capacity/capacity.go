// Package capacity derives attendee counts and leader/follower balance for
// one occurrence. Nothing here is persisted; summaries are recomputed on read.
package capacity

import (
	"github.com/dance-app/api-sub000/internal/models"
)

// Summary is the read-only capacity state of one occurrence.
type Summary struct {
	AttendeeCount          int     `json:"attendee_count"`
	ConfirmedAttendeeCount int     `json:"confirmed_attendee_count"`
	AvailableSpots         *int    `json:"available_spots,omitempty"`
	IsAtCapacity           bool    `json:"is_at_capacity"`
	Balance                Balance `json:"role_balance"`
}

// Balance reports confirmed attendees by dance role. LeadersWanted is
// FollowerCount + LeaderOffset; LeaderDelta > 0 means more leaders than wanted.
// It guides organizers and is never enforced.
type Balance struct {
	LeaderCount     int `json:"leader_count"`
	FollowerCount   int `json:"follower_count"`
	UnassignedCount int `json:"unassigned_count"`
	LeaderOffset    int `json:"leader_offset"`
	LeadersWanted   int `json:"leaders_wanted"`
	LeaderDelta     int `json:"leader_delta"`
	// NeedsRole is the role that would improve the balance, nil when balanced.
	NeedsRole *models.DanceRole `json:"needs_role"`
}

// Compute builds the summary of ev from its full attendee set.
func Compute(ev *models.Event, attendees []models.Attendee) Summary {
	s := Summary{AttendeeCount: len(attendees)}
	for i := range attendees {
		a := &attendees[i]
		if !a.IsActive() {
			continue
		}
		s.ConfirmedAttendeeCount++
		switch {
		case a.Role == nil:
			s.Balance.UnassignedCount++
		case *a.Role == models.RoleLeader:
			s.Balance.LeaderCount++
		case *a.Role == models.RoleFollower:
			s.Balance.FollowerCount++
		}
	}

	if ev.CapacityMax != nil {
		spots := *ev.CapacityMax - s.ConfirmedAttendeeCount
		s.AvailableSpots = &spots
		s.IsAtCapacity = s.ConfirmedAttendeeCount >= *ev.CapacityMax
	}

	s.Balance.LeaderOffset = ev.LeaderOffset
	s.Balance.LeadersWanted = s.Balance.FollowerCount + ev.LeaderOffset
	s.Balance.LeaderDelta = s.Balance.LeaderCount - s.Balance.LeadersWanted
	s.Balance.NeedsRole = neededRole(s.Balance.LeaderDelta)
	return s
}

func neededRole(leaderDelta int) *models.DanceRole {
	var r models.DanceRole
	switch {
	case leaderDelta < 0:
		r = models.RoleLeader
	case leaderDelta > 0:
		r = models.RoleFollower
	default:
		return nil
	}
	return &r
}
