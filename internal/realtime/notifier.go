package realtime

import (
	"context"
	"fmt"

	"github.com/dance-app/api-sub000/internal/attendance"
)

// CapacityNotifier pushes a fresh capacity snapshot to watchers of the
// occurrence whenever its attendance changes.
type CapacityNotifier struct {
	feed *Feed
}

// NewCapacityNotifier returns an attendance.Notifier backed by the feed.
func NewCapacityNotifier(feed *Feed) *CapacityNotifier {
	return &CapacityNotifier{feed: feed}
}

// AttendanceChanged implements attendance.Notifier.
func (n *CapacityNotifier) AttendanceChanged(ctx context.Context, ch attendance.Change) error {
	ev, err := n.feed.events.Get(ctx, ch.EventID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	// Without Redis this instance holds every watcher.
	if n.feed.hub.redis == nil && n.feed.hub.Watchers(ev.ID) == 0 {
		return nil
	}
	action := ch.Action
	update, err := n.feed.snapshot(ctx, ev, &action)
	if err != nil {
		return fmt.Errorf("capacity snapshot: %w", err)
	}
	if err := n.feed.hub.Publish(ev.ID, EventCapacityUpdated, update); err != nil {
		return fmt.Errorf("publish capacity: %w", err)
	}
	return nil
}
