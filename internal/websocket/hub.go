// Package websocket provides WebSocket connection management, calendar
// rooms, and room-scoped event broadcasting.
package websocket

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/room-booking/backend/internal/metrics"
)

// ErrClientClosed is returned when a client the hub has already dropped
// tries to join a room.
var ErrClientClosed = errors.New("client connection closed")

// roomMessage is a message addressed to one calendar room.
type roomMessage struct {
	room string
	data []byte
}

// Hub maintains the set of active WebSocket clients and their calendar
// rooms, and delivers room messages.
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Room members, keyed by calendar id
	rooms map[string]map[*Client]struct{}

	// Outbound room messages
	broadcast chan roomMessage

	// Register requests from clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	// Mutex for thread-safe client and room access
	mu sync.RWMutex

	logger *slog.Logger
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]struct{}),
		broadcast:  make(chan roomMessage, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger.With("component", "hub"),
	}
}

// Run starts the hub's main event loop.
// This should be called in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if !client.closed {
				h.clients[client] = true
			}
			total := len(h.clients)
			h.mu.Unlock()
			metrics.SetConnectedClients(total)
			h.logger.Info("client connected", "client_id", client.ID(), "total", total)

		case client := <-h.unregister:
			h.mu.Lock()
			h.dropLocked(client)
			total := len(h.clients)
			h.mu.Unlock()
			metrics.SetConnectedClients(total)
			h.logger.Info("client disconnected", "client_id", client.ID(), "total", total)

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.rooms[msg.room] {
				select {
				case client.send <- msg.data:
				default:
					// Client send buffer full, close connection
					h.logger.Warn("client send buffer full, dropping client", "client_id", client.ID())
					h.dropLocked(client)
				}
			}
			h.mu.Unlock()

		case <-h.done:
			return
		}
	}
}

// Stop ends the event loop.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// BroadcastToRoom sends a message to every member of a calendar room.
// It never blocks; when the outbound queue is full the message is dropped.
func (h *Hub) BroadcastToRoom(calendarID string, message []byte) {
	select {
	case h.broadcast <- roomMessage{room: calendarID, data: message}:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "calendar_id", calendarID)
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub and from all of its rooms.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// JoinRoom adds a client to a calendar room. It reports whether the client
// is the room's first member. A dropped client cannot join anything: its
// send channel is closed and the read side may still be dispatching.
func (h *Hub) JoinRoom(calendarID string, client *Client) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client.closed {
		return false, ErrClientClosed
	}

	members, ok := h.rooms[calendarID]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[calendarID] = members
	}
	members[client] = struct{}{}
	client.rooms[calendarID] = struct{}{}

	return len(members) == 1, nil
}

// LeaveRoom removes a client from a calendar room. It reports whether the
// client was a member. Emptying a room does not tear anything down; that
// is left to the next subscription sweep.
func (h *Hub) LeaveRoom(calendarID string, client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.leaveLocked(calendarID, client)
}

// MemberCount returns the number of clients in a calendar room.
func (h *Hub) MemberCount(calendarID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[calendarID])
}

// RoomCount returns the number of non-empty rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) leaveLocked(calendarID string, client *Client) bool {
	members, ok := h.rooms[calendarID]
	if !ok {
		return false
	}
	if _, member := members[client]; !member {
		return false
	}

	delete(members, client)
	delete(client.rooms, calendarID)
	if len(members) == 0 {
		delete(h.rooms, calendarID)
	}
	return true
}

// dropLocked removes a client from all rooms and closes its send channel.
func (h *Hub) dropLocked(client *Client) {
	for calendarID := range client.rooms {
		h.leaveLocked(calendarID, client)
	}
	delete(h.clients, client)
	if !client.closed {
		client.closed = true
		close(client.send)
	}
}

// Client represents a WebSocket client connection.
type Client struct {
	id   string
	hub  *Hub
	send chan []byte

	// rooms and closed are guarded by hub.mu
	rooms  map[string]struct{}
	closed bool
}

// NewClient creates a new WebSocket client.
func NewClient(hub *Hub) *Client {
	return &Client{
		id:    uuid.NewString(),
		hub:   hub,
		send:  make(chan []byte, 256),
		rooms: make(map[string]struct{}),
	}
}

// ID returns the client's unique id.
func (c *Client) ID() string {
	return c.id
}

// Send returns the send channel for the client.
func (c *Client) Send() chan []byte {
	return c.send
}

// Reply queues a message for this client only. It reports false when the
// client's buffer is full or the client has been dropped.
func (c *Client) Reply(msg Message) (ok bool) {
	data, err := msg.JSON()
	if err != nil {
		return false
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}
