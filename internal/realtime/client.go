package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dance-app/api-sub000/internal/auth"
	"github.com/dance-app/api-sub000/internal/capacity"
	"github.com/dance-app/api-sub000/internal/models"
	"github.com/dance-app/api-sub000/pkg/response"
)

const (
	// EventCapacityUpdated carries a CapacityUpdate.
	EventCapacityUpdated = "capacity_updated"
	// EventRefresh asks the server to resend the current snapshot.
	EventRefresh = "refresh"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the feed carries no credentials beyond the token query
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CapacityUpdate is the payload of capacity_updated.
type CapacityUpdate struct {
	EventID  uuid.UUID                `json:"event_id"`
	SeriesID uuid.UUID                `json:"series_id"`
	Action   *models.AttendanceAction `json:"action,omitempty"`
	Capacity capacity.Summary         `json:"capacity"`
	At       time.Time                `json:"at"`
}

// EventSource loads occurrences.
type EventSource interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// SummarySource computes an occurrence's capacity summary.
type SummarySource interface {
	Summary(ctx context.Context, ev *models.Event) (capacity.Summary, error)
}

// ViewChecker decides whether a viewer (nil for anonymous) may see an event.
type ViewChecker interface {
	CanView(ctx context.Context, ev *models.Event, viewerID *uuid.UUID) (bool, error)
}

// TokenValidator is satisfied by *auth.JWTService.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Client represents a single WebSocket connection watching one event.
type Client struct {
	ID      string
	EventID uuid.UUID
	UserID  *uuid.UUID
	hub     *Hub
	feed    *Feed
	conn    *websocket.Conn
	send    chan WSMessage
	logger  *zap.Logger
}

// Feed serves the live capacity websocket.
type Feed struct {
	hub       *Hub
	events    EventSource
	summaries SummarySource
	access    ViewChecker
	tokens    TokenValidator
	logger    *zap.Logger
	now       func() time.Time
}

// NewFeed creates the capacity feed handler.
func NewFeed(hub *Hub, events EventSource, summaries SummarySource, access ViewChecker, tokens TokenValidator, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{hub: hub, events: events, summaries: summaries, access: access, tokens: tokens, logger: logger, now: time.Now}
}

func (f *Feed) snapshot(ctx context.Context, ev *models.Event, action *models.AttendanceAction) (CapacityUpdate, error) {
	sum, err := f.summaries.Summary(ctx, ev)
	if err != nil {
		return CapacityUpdate{}, err
	}
	return CapacityUpdate{
		EventID:  ev.ID,
		SeriesID: ev.SeriesID(),
		Action:   action,
		Capacity: sum,
		At:       f.now().UTC(),
	}, nil
}

// ServeWs handles GET /ws/events/:id?token=. The token is optional; without
// it only public events can be watched. The first message is the current
// capacity snapshot.
func (f *Feed) ServeWs(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var viewer *uuid.UUID
	if token := c.Query("token"); token != "" {
		claims, err := f.tokens.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		viewer = &claims.UserID
	}

	ctx := c.Request.Context()
	ev, err := f.events.Get(ctx, eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	ok, err := f.access.CanView(ctx, ev, viewer)
	if err != nil {
		response.Internal(c, "failed to check permissions")
		return
	}
	if !ok {
		response.NotFound(c, "event not found")
		return
	}
	first, err := f.snapshot(ctx, ev, nil)
	if err != nil {
		f.logger.Error("capacity snapshot", zap.Error(err), zap.String("event_id", ev.ID.String()))
		response.Internal(c, "failed to load capacity")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{
		ID:      uuid.NewString(),
		EventID: eventID,
		UserID:  viewer,
		hub:     f.hub,
		feed:    f,
		conn:    conn,
		send:    make(chan WSMessage, 64),
		logger:  f.logger,
	}
	f.hub.Register(client)
	f.hub.SendToClient(eventID, client.ID, EventCapacityUpdated, first)
	go client.writePump()
	client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if msg.Event == EventRefresh {
			c.refresh()
		}
	}
}

func (c *Client) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := c.feed.events.Get(ctx, c.EventID)
	if err != nil {
		c.logger.Warn("refresh event", zap.Error(err), zap.String("event_id", c.EventID.String()))
		return
	}
	update, err := c.feed.snapshot(ctx, ev, nil)
	if err != nil {
		c.logger.Warn("refresh capacity", zap.Error(err), zap.String("event_id", c.EventID.String()))
		return
	}
	c.hub.SendToClient(c.EventID, c.ID, EventCapacityUpdated, update)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
