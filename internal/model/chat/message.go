package chat

import (
	"strings"
	"time"
)

// Message is one immutable entry of a two-party conversation.
type Message struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	Image      *string   `json:"image"`
	CreatedAt  time.Time `json:"createdAt"`
}

// HasContent reports whether the message carries text or an image.
func (m Message) HasContent() bool {
	return strings.TrimSpace(m.Text) != "" || (m.Image != nil && *m.Image != "")
}

// Pair returns the unordered participant pair the message belongs to.
func (m Message) Pair() Pair {
	return NewPair(m.SenderID, m.ReceiverID)
}

// Involves reports whether id is the sender or the receiver.
func (m Message) Involves(id string) bool {
	return m.SenderID == id || m.ReceiverID == id
}

// Draft is a message before the store assigns its identity and timestamp.
type Draft struct {
	SenderID   string
	ReceiverID string
	Text       string
	Image      *string
}
