package websocket

import (
	"encoding/json"
	"time"
)

// Message types for the feed
const (
	TypeCheckout  = "checkout"
	TypeQueue     = "queue"
	TypeHealth    = "health"
	TypeHeartbeat = "heartbeat"
)

// Message is the feed envelope.
type Message struct {
	Type      string    `json:"type"`
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewMessage(msgType, event string, data any) *Message {
	return &Message{
		Type:      msgType,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

type HeartbeatData struct {
	ServerTime  time.Time `json:"server_time"`
	ClientCount int       `json:"client_count"`
}
