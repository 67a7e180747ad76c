package transport

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Topics carried on every channel namespace.
const (
	TopicState        = "state"
	TopicNotes        = "notes"
	TopicNotesControl = "notes-control"
)

var (
	// ErrMissingConfig is returned by Connect when the adapter has nothing to dial.
	ErrMissingConfig = errors.New("transport: missing configuration")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("transport: closed")
	// ErrNotConnected is returned when publishing before Connect succeeded.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrNoMessage is returned by LastMessage when the relay retained nothing.
	ErrNoMessage = errors.New("transport: no retained message")
)

// Status is the connectivity of an adapter.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// StatusFunc receives connectivity transitions.
type StatusFunc func(Status)

// Message is a single payload delivered on a topic.
type Message struct {
	Topic       string
	Data        []byte
	PublishedAt time.Time
}

// Handler receives messages for a subscribed topic. Handlers for one
// adapter are invoked sequentially in relay delivery order.
type Handler func(Message)

// Adapter wraps a broadcast pub/sub relay scoped to one channel.
// Publish is fire-and-forget; Subscribe delivers every message published
// after the call; LastMessage returns the single message the relay retained
// for a topic so late joiners can bootstrap.
type Adapter interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, h Handler) (cancel func(), err error)
	LastMessage(ctx context.Context, topic string) (Message, error)
	Close() error
}

// statusOnce forwards the first disconnect of an adapter and drops repeats
// until a successful connection resets it.
type statusOnce struct {
	mu           sync.Mutex
	fn           StatusFunc
	disconnected bool
}

func (s *statusOnce) report(st Status) {
	if s.fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == StatusDisconnected {
		if s.disconnected {
			return
		}
		s.disconnected = true
	} else if st == StatusConnected {
		s.disconnected = false
	}
	s.fn(st)
}
