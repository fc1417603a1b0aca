package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/room-booking/backend/internal/logging"
	"github.com/room-booking/backend/internal/subscription"
	ws "github.com/room-booking/backend/internal/websocket"
)

var errMissingCalendarID = errors.New("calendar_id is required")

// RoomMembership is the hub's room bookkeeping.
type RoomMembership interface {
	JoinRoom(calendarID string, client *ws.Client) (bool, error)
	LeaveRoom(calendarID string, client *ws.Client) bool
	MemberCount(calendarID string) int
}

// Ensurer starts a calendar's subscription when none is held.
type Ensurer interface {
	Ensure(ctx context.Context, calendarID, userID string) bool
}

// RegisterRoomCommands wires the client room commands into a dispatcher.
func RegisterRoomCommands(d *ws.Dispatcher, rooms RoomMembership, subs Ensurer) {
	d.Handle(ws.TypeJoinCalendarRoom, joinCalendarRoom(rooms, subs))
	d.Handle(ws.TypeLeaveCalendarRoom, leaveCalendarRoom(rooms))
	d.Handle(ws.TypePing, ping)
}

// joinCalendarRoom adds the client to a room and makes sure the calendar
// has a subscription.
func joinCalendarRoom(rooms RoomMembership, subs Ensurer) ws.HandlerFunc {
	return func(ctx context.Context, client *ws.Client, payload json.RawMessage) error {
		var req ws.JoinRoomPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("invalid join payload: %w", err)
		}
		if req.CalendarID == "" {
			return errMissingCalendarID
		}

		first, err := rooms.JoinRoom(req.CalendarID, client)
		if err != nil {
			return err
		}
		userID := subscription.NormalizeUserID(req.UserID)
		creating := subs.Ensure(ctx, req.CalendarID, userID)

		logging.FromContext(ctx).Info("client joined calendar room",
			"calendar_id", req.CalendarID,
			"first_member", first,
			"subscription_requested", creating)

		client.Reply(ws.NewMessage(ws.TypeJoinAck, ws.RoomAckPayload{
			CalendarID: req.CalendarID,
			Members:    rooms.MemberCount(req.CalendarID),
		}))
		return nil
	}
}

// leaveCalendarRoom removes the client from a room. The subscription is
// left for the next sweep to reconcile.
func leaveCalendarRoom(rooms RoomMembership) ws.HandlerFunc {
	return func(ctx context.Context, client *ws.Client, payload json.RawMessage) error {
		var req ws.LeaveRoomPayload
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("invalid leave payload: %w", err)
		}
		if req.CalendarID == "" {
			return errMissingCalendarID
		}

		if rooms.LeaveRoom(req.CalendarID, client) {
			logging.FromContext(ctx).Info("client left calendar room", "calendar_id", req.CalendarID)
		}

		client.Reply(ws.NewMessage(ws.TypeLeaveAck, ws.RoomAckPayload{
			CalendarID: req.CalendarID,
			Members:    rooms.MemberCount(req.CalendarID),
		}))
		return nil
	}
}

func ping(_ context.Context, client *ws.Client, _ json.RawMessage) error {
	client.Reply(ws.NewMessage(ws.TypePong, nil))
	return nil
}
