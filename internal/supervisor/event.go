package supervisor

import (
	"context"
	"time"
)

// EventKind enumerates what the transport reports to the supervisor.
type EventKind int

const (
	// EventConnected: the session is established.
	EventConnected EventKind = iota
	// EventMessage: an inbound publish with Topic and Payload.
	EventMessage
	// EventDisconnected: the session was lost; Err holds the cause.
	EventDisconnected
	// EventSubscribeAck: the broker granted the subscription at GrantedQoS.
	EventSubscribeAck
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	case EventDisconnected:
		return "disconnected"
	case EventSubscribeAck:
		return "subscribe_ack"
	default:
		return "unknown"
	}
}

// Event is a single transport notification.
type Event struct {
	Kind       EventKind
	Topic      string
	Payload    []byte
	GrantedQoS byte
	Err        error
	Received   time.Time
}

// Transport is the broker session owned by the supervisor. Implementations
// deliver EventMessage and EventDisconnected through the handler installed
// with SetHandler; message events must be delivered in arrival order from a
// single goroutine.
type Transport interface {
	// SetHandler installs the event callback. Called once, before Connect.
	SetHandler(func(Event))
	// Connect establishes the session.
	Connect(ctx context.Context) error
	// Subscribe subscribes to topic and returns the granted QoS.
	Subscribe(ctx context.Context, topic string, qos byte) (byte, error)
	// Disconnect ends the session cleanly, waiting up to quiesce for
	// pending work.
	Disconnect(quiesce time.Duration)
}

// MessageHandler consumes inbound messages. HandleMessage must not panic
// or block indefinitely; it runs on the supervisor's delivery goroutine.
type MessageHandler interface {
	HandleMessage(ctx context.Context, ev Event)
}

// MessageHandlerFunc adapts a function to MessageHandler.
type MessageHandlerFunc func(ctx context.Context, ev Event)

func (f MessageHandlerFunc) HandleMessage(ctx context.Context, ev Event) { f(ctx, ev) }
