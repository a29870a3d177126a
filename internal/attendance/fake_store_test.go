package attendance

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/database"
)

var errInjected = errors.New("injected store failure")

// memStore keeps attendees and history in memory with the same uniqueness
// rules as the schema. InTx restores a snapshot when fn fails.
type memStore struct {
	mu        sync.Mutex
	attendees map[uuid.UUID]models.Attendee
	history   []models.AttendanceHistory
	nextID    int64
	clock     time.Time

	// beforeCreate runs inside CreateAttendee before the uniqueness check,
	// letting a test slip in a concurrent winner.
	beforeCreate func(m *memStore, a *models.Attendee)
	// failAppendFor makes AppendHistory fail for attendees of these events.
	failAppendFor map[uuid.UUID]bool
}

func newMemStore() *memStore {
	return &memStore{
		attendees:     map[uuid.UUID]models.Attendee{},
		clock:         time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC),
		failAppendFor: map[uuid.UUID]bool{},
	}
}

func (m *memStore) InTx(_ context.Context, fn func(Store) error) error {
	m.mu.Lock()
	attendees := make(map[uuid.UUID]models.Attendee, len(m.attendees))
	for k, v := range m.attendees {
		attendees[k] = v
	}
	history := append([]models.AttendanceHistory(nil), m.history...)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.attendees, m.history = attendees, history
		m.mu.Unlock()
		return err
	}
	return nil
}

// status must be called with mu held.
func (m *memStore) status(id uuid.UUID) *models.AttendanceAction {
	var latest *models.AttendanceHistory
	for i := range m.history {
		h := &m.history[i]
		if h.AttendeeID != id {
			continue
		}
		if latest == nil || h.CreatedAt.After(latest.CreatedAt) ||
			(h.CreatedAt.Equal(latest.CreatedAt) && h.ID > latest.ID) {
			latest = h
		}
	}
	if latest == nil {
		return nil
	}
	a := latest.Action
	return &a
}

func (m *memStore) withStatus(a models.Attendee) *models.Attendee {
	a.Status = m.status(a.ID)
	return &a
}

func (m *memStore) GetAttendee(_ context.Context, id uuid.UUID) (*models.Attendee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attendees[id]
	if !ok {
		return nil, apperrors.NotFound("attendee", id.String())
	}
	return m.withStatus(a), nil
}

func (m *memStore) find(match func(models.Attendee) bool) (*models.Attendee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attendees {
		if match(a) {
			return m.withStatus(a), nil
		}
	}
	return nil, apperrors.NotFound("attendee", "")
}

func (m *memStore) FindByUser(_ context.Context, eventID, userID uuid.UUID) (*models.Attendee, error) {
	return m.find(func(a models.Attendee) bool {
		return a.EventID == eventID && a.UserID != nil && *a.UserID == userID
	})
}

func (m *memStore) FindByGuestEmail(_ context.Context, eventID uuid.UUID, email string) (*models.Attendee, error) {
	return m.find(func(a models.Attendee) bool {
		return a.EventID == eventID && a.GuestEmail != nil && *a.GuestEmail == email
	})
}

// insert must be called with mu held.
func (m *memStore) insert(a *models.Attendee) error {
	for _, cur := range m.attendees {
		if cur.EventID != a.EventID {
			continue
		}
		if a.UserID != nil && cur.UserID != nil && *cur.UserID == *a.UserID {
			return &apperrors.ConflictError{Resource: "attendee", Err: database.ErrUniqueViolation}
		}
		if a.GuestEmail != nil && cur.GuestEmail != nil && *cur.GuestEmail == *a.GuestEmail {
			return &apperrors.ConflictError{Resource: "attendee", Err: database.ErrUniqueViolation}
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = m.clock
	a.UpdatedAt = m.clock
	stored := *a
	stored.Status = nil
	m.attendees[a.ID] = stored
	return nil
}

func (m *memStore) CreateAttendee(_ context.Context, a *models.Attendee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.beforeCreate != nil {
		hook := m.beforeCreate
		m.beforeCreate = nil
		hook(m, a)
	}
	return m.insert(a)
}

func (m *memStore) UpdateAttendee(_ context.Context, a *models.Attendee) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.attendees[a.ID]
	if !ok {
		return apperrors.NotFound("attendee", a.ID.String())
	}
	cur.Role, cur.WasInvited, cur.GuestName = a.Role, a.WasInvited, a.GuestName
	m.attendees[a.ID] = cur
	return nil
}

func (m *memStore) AppendHistory(_ context.Context, h *models.AttendanceHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppendFor[m.attendees[h.AttendeeID].EventID] {
		return errInjected
	}
	m.nextID++
	h.ID = m.nextID
	// every other row shares its predecessor's timestamp to exercise the id tie-break
	if m.nextID%2 == 1 {
		m.clock = m.clock.Add(time.Second)
	}
	h.CreatedAt = m.clock
	m.history = append(m.history, *h)
	return nil
}

func (m *memStore) ListHistory(_ context.Context, attendeeID uuid.UUID) ([]models.AttendanceHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.AttendanceHistory{}
	for _, h := range m.history {
		if h.AttendeeID == attendeeID {
			out = append(out, h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memStore) ListByEvent(_ context.Context, eventID uuid.UUID) ([]models.Attendee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Attendee{}
	for _, a := range m.attendees {
		if a.EventID == eventID {
			out = append(out, *m.withStatus(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (m *memStore) countAttendees() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.attendees)
}

// memEvents is a fixed set of occurrences.
type memEvents struct {
	events map[uuid.UUID]models.Event
}

func (e *memEvents) Get(_ context.Context, id uuid.UUID) (*models.Event, error) {
	ev, ok := e.events[id]
	if !ok {
		return nil, apperrors.NotFound("event", id.String())
	}
	return &ev, nil
}

func (e *memEvents) Occurrences(ctx context.Context, id uuid.UUID) ([]models.Event, error) {
	ev, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	seriesID := ev.SeriesID()
	var out []models.Event
	for _, o := range e.events {
		if o.ID == seriesID || (o.ParentEventID != nil && *o.ParentEventID == seriesID) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateStart.Before(out[j].DateStart) })
	return out, nil
}

// weeklySeries builds a parent and n-1 weekly children starting at start.
func weeklySeries(start time.Time, n int) (*memEvents, []models.Event) {
	me := &memEvents{events: map[uuid.UUID]models.Event{}}
	organizer := uuid.New()
	rule := "FREQ=WEEKLY;COUNT=10"
	parent := models.Event{
		ID:           uuid.New(),
		Name:         "Bachata Basics",
		Visibility:   models.VisibilityPublic,
		DateStart:    start,
		RRule:        &rule,
		CreatedByID:  organizer,
		OrganizerIDs: []uuid.UUID{organizer},
	}
	list := []models.Event{parent}
	me.events[parent.ID] = parent
	for i := 1; i < n; i++ {
		pid := parent.ID
		child := parent
		child.ID = uuid.New()
		child.RRule = nil
		child.ParentEventID = &pid
		child.DateStart = start.AddDate(0, 0, 7*i)
		me.events[child.ID] = child
		list = append(list, child)
	}
	return me, list
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []Change
	err     error
}

func (n *recordingNotifier) AttendanceChanged(_ context.Context, c Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

func (e *memEvents) setVisibility(v models.Visibility) {
	for id, ev := range e.events {
		ev.Visibility = v
		e.events[id] = ev
	}
}
