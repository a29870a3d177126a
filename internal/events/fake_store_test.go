package events

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/models"
)

// memStore is an in-memory Store. InTx snapshots the table and restores it
// when fn fails.
type memStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]models.Event
	// failCreateAfter makes the n-th Create (1-based) fail; 0 disables.
	failCreateAfter int
	creates         int
	failUpdateOn    uuid.UUID
}

func newMemStore() *memStore {
	return &memStore{events: map[uuid.UUID]models.Event{}}
}

var errInjected = errors.New("injected store failure")

func (m *memStore) InTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	snapshot := make(map[uuid.UUID]models.Event, len(m.events))
	for k, v := range m.events {
		snapshot[k] = v
	}
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.events = snapshot
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) Create(_ context.Context, ev *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.failCreateAfter > 0 && m.creates >= m.failCreateAfter {
		return errInjected
	}
	ev.ID = uuid.New()
	ev.CreatedAt = time.Now().UTC()
	ev.UpdatedAt = ev.CreatedAt
	ev.OrganizerIDs = append([]uuid.UUID(nil), ev.OrganizerIDs...)
	m.events[ev.ID] = *ev
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok {
		return nil, apperrors.NotFound("event", id.String())
	}
	ev.OrganizerIDs = append([]uuid.UUID(nil), ev.OrganizerIDs...)
	return &ev, nil
}

func (m *memStore) ListSeries(ctx context.Context, parentID uuid.UUID) ([]models.Event, error) {
	return m.List(ctx, Filter{SeriesID: &parentID, IncludeCancelled: true})
}

func (m *memStore) Update(_ context.Context, ev *models.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.ID == m.failUpdateOn {
		return errInjected
	}
	cur, ok := m.events[ev.ID]
	if !ok {
		return apperrors.NotFound("event", ev.ID.String())
	}
	cur.Name, cur.Description, cur.Location = ev.Name, ev.Description, ev.Location
	cur.DateStart, cur.DateEnd = ev.DateStart, ev.DateEnd
	cur.CapacityMin, cur.CapacityMax = ev.CapacityMin, ev.CapacityMax
	cur.LeaderOffset, cur.Visibility = ev.LeaderOffset, ev.Visibility
	cur.UpdatedAt = time.Now().UTC()
	m.events[ev.ID] = cur
	return nil
}

func (m *memStore) AddOrganizers(_ context.Context, eventID uuid.UUID, userIDs []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := m.events[eventID]
	for _, id := range userIDs {
		if !ev.IsOrganizer(id) {
			ev.OrganizerIDs = append(ev.OrganizerIDs, id)
		}
	}
	m.events[eventID] = ev
	return nil
}

func (m *memStore) Cancel(_ context.Context, id uuid.UUID, at time.Time, reason *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.events[id]
	if !ok || ev.IsCancelled {
		return &apperrors.ConflictError{Resource: "event", Err: ErrEventCancelled}
	}
	ev.IsCancelled = true
	ev.CancelledAt = &at
	ev.CancellationReason = reason
	m.events[id] = ev
	return nil
}

func (m *memStore) List(_ context.Context, f Filter) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Event
	for _, ev := range m.events {
		if f.WorkspaceID != nil && ev.WorkspaceID != *f.WorkspaceID {
			continue
		}
		if f.SeriesID != nil && ev.ID != *f.SeriesID && (ev.ParentEventID == nil || *ev.ParentEventID != *f.SeriesID) {
			continue
		}
		if f.OrganizerID != nil && !ev.IsOrganizer(*f.OrganizerID) {
			continue
		}
		if f.From != nil && ev.DateStart.Before(*f.From) {
			continue
		}
		if f.To != nil && !ev.DateStart.Before(*f.To) {
			continue
		}
		if !f.IncludeCancelled && ev.IsCancelled {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateStart.Before(out[j].DateStart) })
	return out, nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
