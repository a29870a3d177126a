package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dance-app/api-sub000/internal/apperrors"
	"github.com/dance-app/api-sub000/internal/attendance"
	"github.com/dance-app/api-sub000/internal/auth"
	"github.com/dance-app/api-sub000/internal/capacity"
	"github.com/dance-app/api-sub000/internal/models"
)

func init() { gin.SetMode(gin.TestMode) }

func testClient(eventID uuid.UUID) *Client {
	return &Client{ID: uuid.NewString(), EventID: eventID, send: make(chan WSMessage, 4)}
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []string
}

func (p *recordingPublisher) PublishEventMessage(eventID uuid.UUID, event string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, eventID.String()+"/"+event)
	return nil
}

func TestHub_BroadcastIsScopedToEvent(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	a, b := uuid.New(), uuid.New()
	ca1, ca2, cb := testClient(a), testClient(a), testClient(b)
	for _, c := range []*Client{ca1, ca2, cb} {
		hub.Register(c)
	}
	assert.Equal(t, 2, hub.Watchers(a))

	hub.Broadcast(a, EventCapacityUpdated, map[string]int{"n": 1})
	for _, c := range []*Client{ca1, ca2} {
		msg := <-c.send
		assert.Equal(t, EventCapacityUpdated, msg.Event)
		assert.JSONEq(t, `{"n":1}`, string(msg.Data))
	}
	assert.Empty(t, cb.send)

	hub.Unregister(ca1)
	_, open := <-ca1.send
	assert.False(t, open, "unregister closes the send channel")
	hub.Unregister(ca1)
	assert.Equal(t, 1, hub.Watchers(a))
}

type fakeSubscriber struct {
	mu        sync.Mutex
	handlers  map[uuid.UUID]func(string, []byte)
	err       error
	cancelled int
}

func (s *fakeSubscriber) SubscribeEvent(eventID uuid.UUID, handler func(string, []byte)) (func(), error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		s.handlers = map[uuid.UUID]func(string, []byte){}
	}
	s.handlers[eventID] = handler
	return func() {
		s.mu.Lock()
		s.cancelled++
		s.mu.Unlock()
	}, nil
}

func TestHub_PublishGoesThroughRedisWhenSubscribed(t *testing.T) {
	pub, sub := &recordingPublisher{}, &fakeSubscriber{}
	hub := NewHub(nil, pub, sub)
	ev := uuid.New()
	c := testClient(ev)
	hub.Register(c)

	require.NoError(t, hub.Publish(ev, EventCapacityUpdated, CapacityUpdate{EventID: ev}))
	assert.Equal(t, []string{ev.String() + "/" + EventCapacityUpdated}, pub.sent)
	assert.Empty(t, c.send, "local delivery happens on the subscription callback")

	sub.handlers[ev](EventCapacityUpdated, []byte(`{"n":2}`))
	require.Len(t, c.send, 1)
	assert.JSONEq(t, `{"n":2}`, string((<-c.send).Data))

	hub.Unregister(c)
	assert.Equal(t, 1, sub.cancelled)

	local := NewHub(nil, nil, nil)
	c2 := testClient(ev)
	local.Register(c2)
	require.NoError(t, local.Publish(ev, EventCapacityUpdated, CapacityUpdate{EventID: ev}))
	assert.Len(t, c2.send, 1)
}

func TestHub_FailedSubscribeFallsBackToLocal(t *testing.T) {
	pub := &recordingPublisher{}
	hub := NewHub(nil, pub, &fakeSubscriber{err: errors.New("connection refused")})
	ev := uuid.New()
	c := testClient(ev)
	hub.Register(c)

	require.NoError(t, hub.Publish(ev, EventCapacityUpdated, CapacityUpdate{EventID: ev}))
	assert.Len(t, c.send, 1, "local watchers still get the update")
	assert.Len(t, pub.sent, 1, "other instances still get the update")
}

type fakeEvents map[uuid.UUID]models.Event

func (f fakeEvents) Get(_ context.Context, id uuid.UUID) (*models.Event, error) {
	ev, ok := f[id]
	if !ok {
		return nil, apperrors.NotFound("event", id.String())
	}
	return &ev, nil
}

type countingSummaries struct {
	mu    sync.Mutex
	count int
	calls int
}

func (s *countingSummaries) Summary(_ context.Context, ev *models.Event) (capacity.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	role := models.RoleLeader
	attendees := make([]models.Attendee, s.count)
	for i := range attendees {
		st := models.ActionRegistered
		attendees[i] = models.Attendee{Role: &role, Status: &st}
	}
	return capacity.Compute(ev, attendees), nil
}

func (s *countingSummaries) add() {
	s.mu.Lock()
	s.count++
	s.mu.Unlock()
}

type publicOnly struct{}

func (publicOnly) CanView(_ context.Context, ev *models.Event, _ *uuid.UUID) (bool, error) {
	return ev.Visibility == models.VisibilityPublic, nil
}

type staticTokens map[string]uuid.UUID

func (s staticTokens) Validate(token string) (*auth.Claims, error) {
	id, ok := s[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{UserID: id}, nil
}

func readUpdate(t *testing.T, conn *websocket.Conn) CapacityUpdate {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, EventCapacityUpdated, msg.Event)
	var u CapacityUpdate
	require.NoError(t, json.Unmarshal(msg.Data, &u))
	return u
}

func TestFeed_StreamsCapacityUpdates(t *testing.T) {
	capMax := 2
	public := models.Event{ID: uuid.New(), Visibility: models.VisibilityPublic, CapacityMax: &capMax}
	hidden := models.Event{ID: uuid.New(), Visibility: models.VisibilityWorkspaceOnly}
	events := fakeEvents{public.ID: public, hidden.ID: hidden}
	summaries := &countingSummaries{}
	hub := NewHub(nil, nil, nil)
	feed := NewFeed(hub, events, summaries, publicOnly{}, staticTokens{"good": uuid.New()}, nil)

	r := gin.New()
	r.GET("/ws/events/:id", feed.ServeWs)
	srv := httptest.NewServer(r)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events/"

	_, resp, err := websocket.DefaultDialer.Dial(base+hidden.ID.String(), nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_, resp, err = websocket.DefaultDialer.Dial(base+public.ID.String()+"?token=bad", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(base+public.ID.String()+"?token=good", nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readUpdate(t, conn)
	assert.Equal(t, public.ID, first.EventID)
	assert.Nil(t, first.Action)
	assert.Equal(t, 2, *first.Capacity.AvailableSpots)

	summaries.add()
	notifier := NewCapacityNotifier(feed)
	require.NoError(t, notifier.AttendanceChanged(context.Background(), attendance.Change{
		EventID: public.ID,
		Action:  models.ActionRegistered,
	}))
	next := readUpdate(t, conn)
	require.NotNil(t, next.Action)
	assert.Equal(t, models.ActionRegistered, *next.Action)
	assert.Equal(t, 1, *next.Capacity.AvailableSpots)
	assert.Equal(t, 1, next.Capacity.Balance.LeaderCount)

	summaries.add()
	require.NoError(t, conn.WriteJSON(WSMessage{Event: EventRefresh}))
	refreshed := readUpdate(t, conn)
	assert.True(t, refreshed.Capacity.IsAtCapacity)

	err = notifier.AttendanceChanged(context.Background(), attendance.Change{EventID: uuid.New()})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCapacityNotifier_SkipsUnwatchedEvents(t *testing.T) {
	ev := models.Event{ID: uuid.New(), Visibility: models.VisibilityPublic}
	summaries := &countingSummaries{}
	feed := NewFeed(NewHub(nil, nil, nil), fakeEvents{ev.ID: ev}, summaries, publicOnly{}, staticTokens{}, nil)

	err := NewCapacityNotifier(feed).AttendanceChanged(context.Background(), attendance.Change{EventID: ev.ID, Action: models.ActionRegistered})
	require.NoError(t, err)
	assert.Zero(t, summaries.calls)
}
