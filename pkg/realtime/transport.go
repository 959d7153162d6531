package realtime

import (
	"context"
	"encoding/json"
)

// Event is a named JSON frame on the realtime channel.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Named events spoken over the channel.
const (
	EvAuth      = "auth"
	EvAuthAck   = "auth_ack"
	EvAuthError = "auth_error"

	EvBookingNotification = "booking_notification"
	EvJoinChat            = "join_chat"
	EvChatJoined          = "chat_joined"
	EvChatError           = "chat_error"
	EvChatMessage         = "chat_message"
	EvTyping              = "typing"
	EvReadReceipt         = "read_receipt"
)

// Conn is a live, bidirectional event connection.
type Conn interface {
	ReadEvent() (Event, error)
	WriteEvent(Event) error
	Close() error
}

// Transport dials connections. The channel prefers the websocket
// transport and substitutes the polling transport once per connect
// sequence when the websocket handshake fails for transport reasons.
type Transport interface {
	Name() string
	Dial(ctx context.Context, url string) (Conn, error)
}
