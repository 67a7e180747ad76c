package transport

import (
	"encoding/json"
	"time"
)

// Client frame operations understood by the relay.
const (
	OpPublish = "publish"
	OpLast    = "last"
)

// Server frame types sent by the relay.
const (
	FrameMessage = "message"
	FrameLast    = "last"
	FrameError   = "error"
)

// ClientFrame is a request sent from a client to the relay.
type ClientFrame struct {
	Op    string          `json:"op"`
	ID    string          `json:"id,omitempty"`
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerFrame is a delivery or reply sent from the relay to a client.
type ServerFrame struct {
	Type        string          `json:"type"`
	ID          string          `json:"id,omitempty"`
	Topic       string          `json:"topic,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
	Found       bool            `json:"found,omitempty"`
	Error       string          `json:"error,omitempty"`
}
