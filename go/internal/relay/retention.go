package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Retained is the last message the relay kept for a channel topic.
type Retained struct {
	Data        json.RawMessage `json:"data"`
	PublishedAt time.Time       `json:"published_at"`
}

// Retention keeps the most recent message per (channel, topic) so late
// joiners can bootstrap without a live publisher.
type Retention interface {
	Store(ctx context.Context, channel, topic string, msg Retained) error
	Last(ctx context.Context, channel, topic string) (Retained, bool, error)
}

type retentionKey struct {
	channel string
	topic   string
}

// MemoryRetention is a process-local Retention.
type MemoryRetention struct {
	mu   sync.RWMutex
	last map[retentionKey]Retained
}

// NewMemoryRetention creates an empty in-memory retention.
func NewMemoryRetention() *MemoryRetention {
	return &MemoryRetention{last: make(map[retentionKey]Retained)}
}

func (m *MemoryRetention) Store(_ context.Context, channel, topic string, msg Retained) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[retentionKey{channel, topic}] = msg
	return nil
}

func (m *MemoryRetention) Last(_ context.Context, channel, topic string) (Retained, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.last[retentionKey{channel, topic}]
	return msg, ok, nil
}
