package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/RuBiCK/viberetro-sub000/internal/metrics"
	"github.com/RuBiCK/viberetro-sub000/internal/session"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	clientSendBuffer = 32
	pingInterval     = 15 * time.Second
	writeDeadline    = 10 * time.Second
)

// client is one websocket connection and its per-connection state. The
// mutex covers the fields broadcasts touch from other goroutines: the
// userID bound after a successful join:session, and the closed flag
// that fences the send channel during teardown.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	sessionID string

	mu     sync.Mutex
	userID string
	closed bool
}

// bindUser attaches the joined identity to the connection.
func (c *client) bindUser(id string) {
	c.mu.Lock()
	c.userID = id
	c.mu.Unlock()
}

// user returns the bound user id; empty until join:session succeeds.
func (c *client) user() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// deliver hands one frame to the connection's writer without blocking.
// Returns false when the client has shut down or its buffer is full.
func (c *client) deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once. Every send goes
// through deliver, which checks closed under the same lock, so a
// broadcast that snapshotted this client before it left a room can
// never hit the channel after the close.
func (c *client) shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// enqueue frames an event for this connection only. Slow connections
// drop frames rather than block the publisher.
func (c *client) enqueue(event session.Event) bool {
	frame, err := json.Marshal(event)
	if err != nil {
		return false
	}
	return c.deliver(frame)
}

// writePump drains the send channel onto the wire and keeps the
// connection alive with pings. Runs as one goroutine per connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Hub owns room membership: the set of live connections per session.
// It implements session.Publisher; Publish never blocks, so the
// coordinator can emit while holding the session lock and broadcast
// order matches application order.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*client]bool
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewHub constructs an empty hub. The metrics collector may be nil.
func NewHub(logger *zap.Logger, collector *metrics.Collector) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:   make(map[string]map[*client]bool),
		logger:  logger,
		metrics: collector,
	}
}

func (h *Hub) join(cl *client) {
	h.mu.Lock()
	room, ok := h.rooms[cl.sessionID]
	if !ok {
		room = make(map[*client]bool)
		h.rooms[cl.sessionID] = room
	}
	room[cl] = true
	h.mu.Unlock()
}

// leave drops the connection from its room. The User row stays; the
// same browser is expected to reconnect with the same userId, so no
// user:left is emitted on ordinary disconnect.
func (h *Hub) leave(cl *client) {
	h.mu.Lock()
	room, ok := h.rooms[cl.sessionID]
	if ok {
		delete(room, cl)
		if len(room) == 0 {
			delete(h.rooms, cl.sessionID)
		}
	}
	h.mu.Unlock()
}

// RoomSize reports how many connections a session room holds.
func (h *Hub) RoomSize(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Publish fans an event out to every connection in the session room,
// skipping the originator for peer-facing events.
func (h *Hub) Publish(sessionID string, event session.Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("event marshal failed", zap.String("event", event.Name), zap.Error(err))
		return
	}

	h.mu.RLock()
	room := h.rooms[sessionID]
	members := make([]*client, 0, len(room))
	for cl := range room {
		members = append(members, cl)
	}
	h.mu.RUnlock()

	for _, cl := range members {
		if event.ExcludeUserID != "" && cl.user() == event.ExcludeUserID {
			continue
		}
		if cl.deliver(frame) {
			if h.metrics != nil {
				h.metrics.EventBroadcast()
			}
		} else {
			if h.metrics != nil {
				h.metrics.BroadcastDropped()
			}
		}
	}
}
