package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownMessageType is returned for commands with no registered handler.
var ErrUnknownMessageType = errors.New("unknown message type")

// HandlerFunc handles one client command. payload is the undecoded
// "payload" member of the envelope.
type HandlerFunc func(ctx context.Context, client *Client, payload json.RawMessage) error

// Dispatcher routes client commands to handlers registered by type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[MessageType]HandlerFunc
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[MessageType]HandlerFunc)}
}

// Handle registers the handler for a message type, replacing any previous one.
func (d *Dispatcher) Handle(msgType MessageType, handler HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgType] = handler
}

// Dispatch decodes a raw client message and invokes its handler. Errors are
// reported back to the client as an error message and returned.
func (d *Dispatcher) Dispatch(ctx context.Context, client *Client, raw []byte) error {
	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		client.Reply(NewMessage(TypeError, ErrorPayload{Code: "bad_request", Message: "invalid message envelope"}))
		return fmt.Errorf("decoding message: %w", err)
	}

	d.mu.RLock()
	handler, ok := d.handlers[msg.Type]
	d.mu.RUnlock()

	if !ok {
		client.Reply(NewMessage(TypeError, ErrorPayload{
			Code:         "unknown_type",
			Message:      "unsupported message type",
			OriginalType: msg.Type,
		}))
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, msg.Type)
	}

	if err := handler(ctx, client, msg.Payload); err != nil {
		client.Reply(NewMessage(TypeError, ErrorPayload{
			Code:         "handler_error",
			Message:      err.Error(),
			OriginalType: msg.Type,
		}))
		return fmt.Errorf("handling %s: %w", msg.Type, err)
	}
	return nil
}
