package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room-booking/backend/internal/logging"
	ws "github.com/room-booking/backend/internal/websocket"
)

type fakeEnsurer struct {
	mu    sync.Mutex
	calls [][2]string
}

func (f *fakeEnsurer) Ensure(_ context.Context, calendarID, userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{calendarID, userID})
	return len(f.calls) == 1
}

type roomsFixture struct {
	hub        *ws.Hub
	dispatcher *ws.Dispatcher
	ensurer    *fakeEnsurer
}

func newRoomsFixture(t *testing.T) *roomsFixture {
	t.Helper()

	hub := ws.NewHub(logging.Discard())
	go hub.Run()
	t.Cleanup(hub.Stop)

	f := &roomsFixture{hub: hub, dispatcher: ws.NewDispatcher(), ensurer: &fakeEnsurer{}}
	RegisterRoomCommands(f.dispatcher, hub, f.ensurer)
	return f
}

func (f *roomsFixture) connect(t *testing.T) *ws.Client {
	t.Helper()
	client := ws.NewClient(f.hub)
	want := f.hub.ClientCount() + 1
	f.hub.Register(client)
	require.Eventually(t, func() bool { return f.hub.ClientCount() == want }, time.Second, 5*time.Millisecond)
	return client
}

type reply struct {
	Type    ws.MessageType  `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func nextReply(t *testing.T, client *ws.Client) reply {
	t.Helper()
	select {
	case data := <-client.Send():
		var r reply
		require.NoError(t, json.Unmarshal(data, &r))
		return r
	case <-time.After(time.Second):
		t.Fatal("no reply")
		return reply{}
	}
}

func TestJoinCalendarRoom(t *testing.T) {
	f := newRoomsFixture(t)
	a := f.connect(t)
	b := f.connect(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Dispatch(ctx, a, []byte(`{"type":"join_calendar_room","payload":{"calendar_id":"C1","user_id":"A1B2C3D4-E5F6-0718-293A-4B5C6D7E8F90"}}`)))
	r := nextReply(t, a)
	assert.Equal(t, ws.TypeJoinAck, r.Type)
	assert.JSONEq(t, `{"calendar_id":"C1","members":1}`, string(r.Payload))

	require.NoError(t, f.dispatcher.Dispatch(ctx, b, []byte(`{"type":"join_calendar_room","payload":"C1"}`)))
	r = nextReply(t, b)
	assert.JSONEq(t, `{"calendar_id":"C1","members":2}`, string(r.Payload))

	assert.Equal(t, 2, f.hub.MemberCount("C1"))
	assert.Equal(t, [][2]string{
		{"C1", "a1b2c3d4e5f60718293a4b5c6d7e8f90"},
		{"C1", ""},
	}, f.ensurer.calls)
}

func TestJoinCalendarRoom_RequiresCalendar(t *testing.T) {
	f := newRoomsFixture(t)
	client := f.connect(t)

	err := f.dispatcher.Dispatch(context.Background(), client, []byte(`{"type":"join_calendar_room","payload":{}}`))
	require.ErrorIs(t, err, errMissingCalendarID)
	assert.Equal(t, ws.TypeError, nextReply(t, client).Type)
	assert.Empty(t, f.ensurer.calls)
	assert.Zero(t, f.hub.RoomCount())
}

func TestLeaveCalendarRoom(t *testing.T) {
	f := newRoomsFixture(t)
	client := f.connect(t)
	ctx := context.Background()

	require.NoError(t, f.dispatcher.Dispatch(ctx, client, []byte(`{"type":"join_calendar_room","payload":{"calendar_id":"C1"}}`)))
	nextReply(t, client)

	require.NoError(t, f.dispatcher.Dispatch(ctx, client, []byte(`{"type":"leave_calendar_room","payload":{"calendar_id":"C1"}}`)))
	r := nextReply(t, client)
	assert.Equal(t, ws.TypeLeaveAck, r.Type)
	assert.JSONEq(t, `{"calendar_id":"C1","members":0}`, string(r.Payload))
	assert.Zero(t, f.hub.MemberCount("C1"))

	// Leaving never asks for anything beyond the original join.
	assert.Len(t, f.ensurer.calls, 1)
}

func TestPing(t *testing.T) {
	f := newRoomsFixture(t)
	client := f.connect(t)

	require.NoError(t, f.dispatcher.Dispatch(context.Background(), client, []byte(`{"type":"ping"}`)))
	assert.Equal(t, ws.TypePong, nextReply(t, client).Type)
}

func TestJoinCalendarRoom_ClosedClient(t *testing.T) {
	f := newRoomsFixture(t)
	client := f.connect(t)

	f.hub.Unregister(client)
	require.Eventually(t, func() bool { return f.hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	err := f.dispatcher.Dispatch(context.Background(), client, []byte(`{"type":"join_calendar_room","payload":"C1"}`))
	require.ErrorIs(t, err, ws.ErrClientClosed)
	assert.Empty(t, f.ensurer.calls)
	assert.Zero(t, f.hub.MemberCount("C1"))
}
