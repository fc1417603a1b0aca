package websocket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/room-booking/backend/internal/logging"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(logging.Discard())
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func connect(t *testing.T, hub *Hub) *Client {
	t.Helper()
	client := NewClient(hub)
	want := hub.ClientCount() + 1
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == want }, time.Second, 5*time.Millisecond)
	return client
}

func join(t *testing.T, hub *Hub, calendarID string, client *Client) bool {
	t.Helper()
	first, err := hub.JoinRoom(calendarID, client)
	require.NoError(t, err)
	return first
}

func receive(t *testing.T, client *Client) []byte {
	t.Helper()
	select {
	case msg := <-client.Send():
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func assertSilent(t *testing.T, client *Client) {
	t.Helper()
	select {
	case msg := <-client.Send():
		t.Fatalf("unexpected message %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_JoinAndLeave(t *testing.T) {
	hub := startHub(t)
	a := connect(t, hub)
	b := connect(t, hub)

	assert.True(t, join(t, hub, "C1", a))
	assert.False(t, join(t, hub, "C1", b))
	assert.False(t, join(t, hub, "C1", a), "rejoining is not a first join")
	assert.Equal(t, 2, hub.MemberCount("C1"))
	assert.Equal(t, 1, hub.RoomCount())

	assert.True(t, hub.LeaveRoom("C1", a))
	assert.False(t, hub.LeaveRoom("C1", a))
	assert.False(t, hub.LeaveRoom("C2", a))
	assert.Equal(t, 1, hub.MemberCount("C1"))

	assert.True(t, hub.LeaveRoom("C1", b))
	assert.Zero(t, hub.MemberCount("C1"))
	assert.Zero(t, hub.RoomCount())
}

func TestHub_BroadcastIsRoomScoped(t *testing.T) {
	hub := startHub(t)
	inside := connect(t, hub)
	outside := connect(t, hub)

	join(t, hub, "C1", inside)
	join(t, hub, "C2", outside)

	hub.BroadcastToRoom("C1", []byte(`{"type":"delete_event","payload":"E1"}`))

	assert.JSONEq(t, `{"type":"delete_event","payload":"E1"}`, string(receive(t, inside)))
	assertSilent(t, outside)
}

func TestHub_UnregisterLeavesAllRooms(t *testing.T) {
	hub := startHub(t)
	client := connect(t, hub)

	join(t, hub, "C1", client)
	join(t, hub, "C2", client)

	hub.Unregister(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	assert.Zero(t, hub.MemberCount("C1"))
	assert.Zero(t, hub.MemberCount("C2"))

	_, open := <-client.Send()
	assert.False(t, open)
	assert.False(t, client.Reply(NewMessage(TypePong, nil)))
}

func TestClient_Reply(t *testing.T) {
	hub := startHub(t)
	client := connect(t, hub)

	require.True(t, client.Reply(NewMessage(TypePong, nil)))
	assert.JSONEq(t, `{"type":"pong"}`, string(receive(t, client)))
	assert.NotEmpty(t, client.ID())
	assert.NotEqual(t, client.ID(), NewClient(hub).ID())
}

func TestHub_DroppedClientCannotRejoin(t *testing.T) {
	hub := startHub(t)
	slow := connect(t, hub)
	join(t, hub, "C1", slow)

	// Nobody drains slow's buffer, so broadcasting past its capacity drops it.
	require.Eventually(t, func() bool {
		hub.BroadcastToRoom("C1", []byte(`{"type":"delete_event","payload":"E1"}`))
		return hub.ClientCount() == 0
	}, 5*time.Second, time.Millisecond)
	assert.Zero(t, hub.MemberCount("C1"))

	first, err := hub.JoinRoom("C1", slow)
	require.ErrorIs(t, err, ErrClientClosed)
	assert.False(t, first)
	assert.Zero(t, hub.MemberCount("C1"))

	// The hub loop must survive a broadcast to the room the client tried
	// to rejoin.
	hub.BroadcastToRoom("C1", []byte(`{"type":"delete_event","payload":"E2"}`))
	other := connect(t, hub)
	join(t, hub, "C1", other)
	hub.BroadcastToRoom("C1", []byte(`{"type":"delete_event","payload":"E3"}`))
	assert.JSONEq(t, `{"type":"delete_event","payload":"E3"}`, string(receive(t, other)))
}

func TestHub_UnregisterBeforeRegister(t *testing.T) {
	hub := startHub(t)
	client := NewClient(hub)

	hub.Unregister(client)
	hub.Register(client)

	// Register is processed after Unregister; a closed client stays out.
	other := connect(t, hub)
	assert.Equal(t, 1, hub.ClientCount())
	_, err := hub.JoinRoom("C1", client)
	assert.ErrorIs(t, err, ErrClientClosed)
	assert.NotEqual(t, client.ID(), other.ID())
}
