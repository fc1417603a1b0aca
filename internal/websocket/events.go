package websocket

import (
	"log/slog"

	"github.com/room-booking/backend/internal/metrics"
)

// RoomBroadcaster delivers raw messages to a calendar room.
type RoomBroadcaster interface {
	BroadcastToRoom(calendarID string, message []byte)
}

// EventBroadcaster handles broadcasting calendar item events to rooms.
type EventBroadcaster struct {
	rooms  RoomBroadcaster
	logger *slog.Logger
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(rooms RoomBroadcaster, logger *slog.Logger) *EventBroadcaster {
	return &EventBroadcaster{rooms: rooms, logger: logger}
}

// BroadcastEventAdded sends an add_event to the calendar's room.
func (b *EventBroadcaster) BroadcastEventAdded(calendarID string, event CalendarEventPayload) {
	b.broadcast(calendarID, NewMessage(TypeAddEvent, event))
}

// BroadcastEventUpdated sends an update_event to the calendar's room.
func (b *EventBroadcaster) BroadcastEventUpdated(calendarID string, event CalendarEventPayload) {
	b.broadcast(calendarID, NewMessage(TypeUpdateEvent, event))
}

// BroadcastEventDeleted sends a delete_event carrying the bare item id.
func (b *EventBroadcaster) BroadcastEventDeleted(calendarID, eventID string) {
	b.broadcast(calendarID, NewMessage(TypeDeleteEvent, eventID))
}

// broadcast sends a message to the members of one room.
func (b *EventBroadcaster) broadcast(calendarID string, msg Message) {
	data, err := msg.JSON()
	if err != nil {
		b.logger.Error("error encoding WebSocket message", "type", msg.Type, "error", err)
		return
	}

	b.rooms.BroadcastToRoom(calendarID, data)
	metrics.RecordEventBroadcast(string(msg.Type))
}
