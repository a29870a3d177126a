package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains event_id -> set of connections and broadcasts messages.
// Uses Redis pub/sub for horizontal scaling: publish to Redis, every
// instance (including this one) delivers to its local sockets.
type Hub struct {
	// eventID -> map[clientID]*Client
	rooms    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per event
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishEventMessage(eventID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to event channels and invokes handler for incoming messages.
type RedisSubscriber interface {
	SubscribeEvent(eventID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to an event room. The first client of a room
// starts its Redis subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	first := h.rooms[c.EventID] == nil
	if first {
		h.rooms[c.EventID] = make(map[string]*Client)
	}
	h.rooms[c.EventID][c.ID] = c
	h.mu.Unlock()

	if first && h.redisSub != nil {
		h.subscribe(c.EventID)
	}
	h.logger.Debug("client joined event feed", zap.String("client_id", c.ID), zap.String("event_id", c.EventID.String()))
}

// subscribe runs the SUBSCRIBE round-trip without holding the lock. A room
// without a subscription is served by local broadcast in Publish.
func (h *Hub) subscribe(eventID uuid.UUID) {
	cancel, err := h.redisSub.SubscribeEvent(eventID, func(event string, payload []byte) {
		h.Broadcast(eventID, event, json.RawMessage(payload))
	})
	if err != nil {
		h.logger.Warn("redis subscribe failed, delivering locally", zap.Error(err), zap.String("event_id", eventID.String()))
		return
	}

	h.mu.Lock()
	_, open := h.rooms[eventID]
	_, dup := h.subs[eventID]
	if open && !dup {
		h.subs[eventID] = cancel
		cancel = nil
	}
	h.mu.Unlock()
	// room emptied, or a concurrent subscribe won
	if cancel != nil {
		cancel()
	}
}

// Unregister removes a client from an event room and closes its send
// channel. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	var cancel func()
	h.mu.Lock()
	if m, ok := h.rooms[c.EventID]; ok {
		if _, registered := m[c.ID]; registered {
			delete(m, c.ID)
			close(c.send)
		}
		if len(m) == 0 {
			delete(h.rooms, c.EventID)
			cancel = h.subs[c.EventID]
			delete(h.subs, c.EventID)
		}
	}
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.logger.Debug("client left event feed", zap.String("client_id", c.ID), zap.String("event_id", c.EventID.String()))
}

func encode(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(payload)
	}
}

// Broadcast sends a message to all clients of an event (local only).
func (h *Hub) Broadcast(eventID uuid.UUID, event string, payload any) {
	data, err := encode(payload)
	if err != nil {
		h.logger.Warn("encode broadcast", zap.Error(err), zap.String("event", event))
		return
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[eventID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// Publish delivers a message to every instance. With Redis the subscriber
// callback performs the local broadcast, so local clients get it once;
// local rooms without a subscription are broadcast to directly.
func (h *Hub) Publish(eventID uuid.UUID, event string, payload any) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	h.mu.RLock()
	_, local := h.rooms[eventID]
	_, subscribed := h.subs[eventID]
	h.mu.RUnlock()
	if local && !subscribed {
		h.Broadcast(eventID, event, json.RawMessage(data))
	}
	if h.redis == nil {
		return nil
	}
	return h.redis.PublishEventMessage(eventID, event, data)
}

// Watchers returns the number of connected clients for an event.
func (h *Hub) Watchers(eventID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[eventID])
}

// SendToClient sends a message to a single client.
func (h *Hub) SendToClient(eventID uuid.UUID, clientID string, event string, payload any) {
	data, err := encode(payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.rooms[eventID][clientID]
	if !ok {
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
	}
}
