package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_RoutesByType(t *testing.T) {
	hub := startHub(t)
	client := connect(t, hub)

	var got JoinRoomPayload
	d := NewDispatcher()
	d.Handle(TypeJoinCalendarRoom, func(_ context.Context, c *Client, payload json.RawMessage) error {
		assert.Same(t, client, c)
		return json.Unmarshal(payload, &got)
	})

	err := d.Dispatch(context.Background(), client, []byte(`{"type":"join_calendar_room","payload":{"calendar_id":"C1","user_id":"u1"}}`))
	require.NoError(t, err)
	assert.Equal(t, JoinRoomPayload{CalendarID: "C1", UserID: "u1"}, got)
	assertSilent(t, client)
}

func TestDispatcher_Errors(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantErr  error
		wantCode string
	}{
		{name: "unknown type", raw: `{"type":"subscribe"}`, wantErr: ErrUnknownMessageType, wantCode: "unknown_type"},
		{name: "malformed envelope", raw: `not json`, wantCode: "bad_request"},
		{name: "handler failure", raw: `{"type":"ping"}`, wantCode: "handler_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub := startHub(t)
			client := connect(t, hub)

			d := NewDispatcher()
			d.Handle(TypePing, func(context.Context, *Client, json.RawMessage) error {
				return errors.New("nope")
			})

			err := d.Dispatch(context.Background(), client, []byte(tt.raw))
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			var reply struct {
				Type    MessageType  `json:"type"`
				Payload ErrorPayload `json:"payload"`
			}
			require.NoError(t, json.Unmarshal(receive(t, client), &reply))
			assert.Equal(t, TypeError, reply.Type)
			assert.Equal(t, tt.wantCode, reply.Payload.Code)
		})
	}
}

func TestRoomPayloads_AcceptBareCalendarID(t *testing.T) {
	var join JoinRoomPayload
	require.NoError(t, json.Unmarshal([]byte(`"C1"`), &join))
	assert.Equal(t, JoinRoomPayload{CalendarID: "C1"}, join)

	require.NoError(t, json.Unmarshal([]byte(`{"calendar_id":"C2","user_id":"u1"}`), &join))
	assert.Equal(t, JoinRoomPayload{CalendarID: "C2", UserID: "u1"}, join)

	var leave LeaveRoomPayload
	require.NoError(t, json.Unmarshal([]byte(`"C3"`), &leave))
	assert.Equal(t, "C3", leave.CalendarID)

	assert.Error(t, json.Unmarshal([]byte(`42`), &leave))
}
