package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saficlean/marketplace/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBuffer     = 16
	maxMessageSize = 4096
)

// Envelope is the wire format for every pushed event.
type Envelope struct {
	Timestamp string      `json:"timestamp"`
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
}

// Hub fans tracking events out to WebSocket subscribers grouped by job. It
// implements Broadcaster and the system.Service lifecycle.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[*client]struct{}
	closed bool
	log    *logger.Logger
}

type client struct {
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.NewDefault("tracking-hub")
	}
	return &Hub{groups: make(map[string]map[*client]struct{}), log: log}
}

func (h *Hub) Name() string { return "tracking-hub" }

func (h *Hub) Start(ctx context.Context) error { return nil }

// Stop disconnects all subscribers.
func (h *Hub) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for jobID, group := range h.groups {
		for c := range group {
			close(c.send)
		}
		delete(h.groups, jobID)
	}
	return nil
}

// Broadcast sends an event to every subscriber of the job's group. Slow
// subscribers are dropped rather than blocking the sender.
func (h *Hub) Broadcast(jobID, event string, data interface{}) {
	h.deliver(jobID, "", "", event, data)
}

// BroadcastExcept sends to the job's group, skipping one user's connections.
// Reporters use it so they do not echo their own updates back.
func (h *Hub) BroadcastExcept(jobID, excludeUserID, event string, data interface{}) {
	h.deliver(jobID, "", excludeUserID, event, data)
}

// Send delivers an event only to one user's connections in the job's group.
func (h *Hub) Send(jobID, userID, event string, data interface{}) {
	h.deliver(jobID, userID, "", event, data)
}

func (h *Hub) deliver(jobID, onlyUserID, excludeUserID, event string, data interface{}) {
	payload, err := json.Marshal(Envelope{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Type:      event,
		Data:      data,
	})
	if err != nil {
		h.log.WithError(err).Error("failed to encode broadcast")
		return
	}

	h.mu.RLock()
	group := h.groups[jobID]
	var stale []*client
	for c := range group {
		if onlyUserID != "" && c.userID != onlyUserID {
			continue
		}
		if excludeUserID != "" && c.userID == excludeUserID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.drop(jobID, c)
	}
}

// Subscribers returns the current group size for a job.
func (h *Hub) Subscribers(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[jobID])
}

// Attach registers an upgraded connection with a job group and services it
// until the peer disconnects or the hub stops.
func (h *Hub) Attach(jobID, userID string, conn *websocket.Conn) {
	c := &client{conn: conn, userID: userID, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	group, ok := h.groups[jobID]
	if !ok {
		group = make(map[*client]struct{})
		h.groups[jobID] = group
	}
	group[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(jobID, c)
	go h.readLoop(jobID, c)
}

func (h *Hub) drop(jobID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	group, ok := h.groups[jobID]
	if !ok {
		return
	}
	if _, member := group[c]; !member {
		return
	}
	delete(group, c)
	if len(group) == 0 {
		delete(h.groups, jobID)
	}
	close(c.send)
}

func (h *Hub) writeLoop(jobID string, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.drop(jobID, c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(jobID, c)
				return
			}
		}
	}
}

// readLoop drains the connection so pings/pongs and close frames are
// processed; inbound data messages are ignored.
func (h *Hub) readLoop(jobID string, c *client) {
	defer h.drop(jobID, c)
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
