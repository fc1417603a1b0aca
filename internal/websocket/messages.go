package websocket

import (
	"encoding/json"
)

// MessageType identifies the type of WebSocket message.
type MessageType string

const (
	// Server -> Client room events
	TypeAddEvent    MessageType = "add_event"
	TypeUpdateEvent MessageType = "update_event"
	TypeDeleteEvent MessageType = "delete_event"

	// Client -> Server commands
	TypeJoinCalendarRoom  MessageType = "join_calendar_room"
	TypeLeaveCalendarRoom MessageType = "leave_calendar_room"
	TypePing              MessageType = "ping"

	// Server -> Client responses
	TypeJoinAck  MessageType = "join_calendar_room.ack"
	TypeLeaveAck MessageType = "leave_calendar_room.ack"
	TypePong     MessageType = "pong"
	TypeError    MessageType = "error"
)

// Message represents a WebSocket message envelope.
type Message struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload,omitempty"`
}

// NewMessage creates a new message.
func NewMessage(msgType MessageType, payload any) Message {
	return Message{
		Type:    msgType,
		Payload: payload,
	}
}

// JSON serializes the message to JSON bytes.
func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// inbound is the envelope of a client command with its payload undecoded.
type inbound struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// CalendarEventPayload is the payload for add_event and update_event.
type CalendarEventPayload struct {
	ID            string `json:"id"`
	Subject       string `json:"subject"`
	Start         string `json:"start"`
	End           string `json:"end"`
	OrganizerName string `json:"organizerName"`
}

// JoinRoomPayload is the payload for join_calendar_room.
type JoinRoomPayload struct {
	CalendarID string `json:"calendar_id"`
	UserID     string `json:"user_id,omitempty"`
}

// UnmarshalJSON accepts either an object or a bare calendar id string.
func (p *JoinRoomPayload) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*p = JoinRoomPayload{CalendarID: id}
		return nil
	}

	type plain JoinRoomPayload
	return json.Unmarshal(data, (*plain)(p))
}

// LeaveRoomPayload is the payload for leave_calendar_room.
type LeaveRoomPayload struct {
	CalendarID string `json:"calendar_id"`
}

// UnmarshalJSON accepts either an object or a bare calendar id string.
func (p *LeaveRoomPayload) UnmarshalJSON(data []byte) error {
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		*p = LeaveRoomPayload{CalendarID: id}
		return nil
	}

	type plain LeaveRoomPayload
	return json.Unmarshal(data, (*plain)(p))
}

// RoomAckPayload acknowledges a join or leave.
type RoomAckPayload struct {
	CalendarID string `json:"calendar_id"`
	Members    int    `json:"members"`
}

// ErrorPayload is the payload for error messages.
type ErrorPayload struct {
	Code         string      `json:"code"`
	Message      string      `json:"message"`
	OriginalType MessageType `json:"original_type,omitempty"`
}
