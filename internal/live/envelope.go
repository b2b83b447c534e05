package live

import (
	"time"

	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
)

// EventNewMessage is the only event the channel carries.
const EventNewMessage = "newMessage"

// Envelope is the frame written to a connection.
type Envelope struct {
	Type      string        `json:"type"`
	Data      *chat.Message `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// NewMessageEnvelope wraps m as a newMessage event.
func NewMessageEnvelope(m chat.Message) Envelope {
	return Envelope{Type: EventNewMessage, Data: &m, Timestamp: time.Now().UnixMilli()}
}

// Delivery addresses a message to one participant; it is what relays carry
// between instances.
type Delivery struct {
	To      string       `json:"to"`
	Message chat.Message `json:"message"`
}
