package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/jobportal/internal/logger"
	"github.com/jobportal/internal/storage"
)

// RoomsChannel is the pub/sub channel room deliveries travel on between instances.
const RoomsChannel = "ws:rooms"

// RoomFor returns the private room of a user. Every socket of the user joins it.
func RoomFor(userID string) string {
	return "u-" + userID
}

type Option func(*Hub)

// WithBroadcaster routes room deliveries through b so that sockets held by other
// instances receive them too. Listen must be called for deliveries to arrive.
func WithBroadcaster(b storage.Broadcaster) Option {
	return func(h *Hub) { h.broadcaster = b }
}

type Hub struct {
	mu          sync.RWMutex
	rooms       map[string]map[*Client]struct{}
	total       int
	maxConns    int
	broadcaster storage.Broadcaster
	register    chan *Client
	unregister  chan *Client
	done        chan struct{}
	stopped     chan struct{}
}

func NewHub(maxConns int, opts ...Option) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	h := &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.shutdown()
			close(h.stopped)
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(c)
		}
	}
}

// Listen subscribes to RoomsChannel. It returns once the subscription is active;
// deliveries stop when ctx is cancelled. Without a broadcaster it is a no-op.
func (h *Hub) Listen(ctx context.Context) error {
	if h.broadcaster == nil {
		return nil
	}
	return h.broadcaster.Subscribe(ctx, RoomsChannel, func(payload []byte) {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logger.Warnf("ws drop malformed envelope: %v", err)
			return
		}
		h.deliver(env)
	})
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for _, clients := range h.rooms {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	room := RoomFor(c.userID)
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Warnf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, logger.MaskID(c.userID))
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "too many connections"})
		c.closeAfterFlush()
		return
	}
	if _, ok := h.rooms[room]; !ok {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	logger.Debugf("ws join room=%s", logger.MaskID(room))
	h.sendToClient(c, OutgoingMessage{Type: EventConnected, Payload: ConnectedPayload{UserID: c.userID, Room: room}})
}

func (h *Hub) removeClient(c *Client) {
	room := RoomFor(c.userID)
	h.mu.Lock()
	clients, ok := h.rooms[room]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.rooms, room)
	}
	h.mu.Unlock()

	c.Close()
}

// HandleMessage answers client events. Only ping is understood.
func (h *Hub) HandleMessage(c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventPing:
		h.sendToClient(c, OutgoingMessage{Type: EventPong})
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: fmt.Sprintf("unknown event %q", msg.Type)})
	}
}

// SendToUser delivers msg to every socket of the user on every instance.
func (h *Hub) SendToUser(ctx context.Context, userID string, msg OutgoingMessage) {
	h.publish(ctx, envelope{Room: RoomFor(userID), Message: msg})
}

// DisconnectUser sends a final event to every socket of the user and closes them.
func (h *Hub) DisconnectUser(ctx context.Context, userID string, event EventType, reason string) {
	h.publish(ctx, envelope{
		Room:    RoomFor(userID),
		Message: OutgoingMessage{Type: event, Payload: RevokedPayload{UserID: userID, Reason: reason}},
		Close:   true,
	})
}

// Connections reports how many local sockets the user holds.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomFor(userID)])
}

func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

func (h *Hub) publish(ctx context.Context, env envelope) {
	if h.broadcaster == nil {
		h.deliver(env)
		return
	}
	payload, err := json.Marshal(env)
	if err != nil {
		logger.Errorf("ws marshal envelope room=%s: %v", logger.MaskID(env.Room), err)
		return
	}
	if err := h.broadcaster.Publish(ctx, RoomsChannel, payload); err != nil {
		logger.Errorf("ws publish room=%s, delivering locally: %v", logger.MaskID(env.Room), err)
		h.deliver(env)
	}
}

func (h *Hub) deliver(env envelope) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[env.Room]))
	for c := range h.rooms[env.Room] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, env.Message)
		if env.Close {
			c.closeAfterFlush()
		}
	}
}

// sendToClient never blocks; a client that cannot keep up is dropped.
func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- msg:
	default:
		logger.Warnf("ws send buffer full user=%s, closing", logger.MaskID(c.userID))
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
