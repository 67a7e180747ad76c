package transport

import (
	"context"
	"slices"
	"sync"

	"github.com/jonboulle/clockwork"
)

// MemoryRelay is an in-process broadcast relay retaining the last message
// per topic. Delivery is synchronous and globally ordered, so handlers must
// not publish from inside a delivery.
type MemoryRelay struct {
	clock clockwork.Clock

	mu       sync.Mutex
	subs     map[string]map[int]Handler
	retained map[string]Message
	history  map[string][]Message
	nextID   int

	deliverMu sync.Mutex
}

// NewMemoryRelay creates an empty relay.
func NewMemoryRelay(clock clockwork.Clock) *MemoryRelay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryRelay{
		clock:    clock,
		subs:     make(map[string]map[int]Handler),
		retained: make(map[string]Message),
		history:  make(map[string][]Message),
	}
}

// Adapter returns a new client of the relay.
func (r *MemoryRelay) Adapter(status StatusFunc) *MemoryAdapter {
	return &MemoryAdapter{relay: r, status: &statusOnce{fn: status}}
}

// History returns every message published on topic, oldest first.
func (r *MemoryRelay) History(topic string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.history[topic]))
	copy(out, r.history[topic])
	return out
}

func (r *MemoryRelay) publish(topic string, payload []byte) {
	msg := Message{
		Topic:       topic,
		Data:        append([]byte(nil), payload...),
		PublishedAt: r.clock.Now(),
	}

	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	r.retained[topic] = msg
	r.history[topic] = append(r.history[topic], msg)
	ids := make([]int, 0, len(r.subs[topic]))
	for id := range r.subs[topic] {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	// Subscription order is delivery order.
	slices.Sort(ids)
	for _, id := range ids {
		r.mu.Lock()
		h, ok := r.subs[topic][id]
		r.mu.Unlock()
		if ok {
			h(msg)
		}
	}
}

func (r *MemoryRelay) subscribe(topic string, h Handler) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[topic] == nil {
		r.subs[topic] = make(map[int]Handler)
	}
	r.nextID++
	r.subs[topic][r.nextID] = h
	return r.nextID
}

func (r *MemoryRelay) unsubscribe(topic string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.subs[topic]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(r.subs, topic)
		}
	}
}

func (r *MemoryRelay) last(topic string) (Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msg, ok := r.retained[topic]
	return msg, ok
}

// MemoryAdapter is one client connection to a MemoryRelay.
type MemoryAdapter struct {
	relay  *MemoryRelay
	status *statusOnce

	mu        sync.Mutex
	connected bool
	closed    bool
	subs      map[int]string
}

var _ Adapter = (*MemoryAdapter)(nil)

// Connect marks the adapter connected, or reports a disconnect when it has
// no relay.
func (a *MemoryAdapter) Connect(ctx context.Context) error {
	if a.relay == nil {
		a.status.report(StatusDisconnected)
		return ErrMissingConfig
	}
	a.status.report(StatusConnecting)
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.connected = true
	a.mu.Unlock()
	a.status.report(StatusConnected)
	return nil
}

// Publish fans payload out to every subscriber of topic.
func (a *MemoryAdapter) Publish(ctx context.Context, topic string, payload []byte) error {
	a.mu.Lock()
	connected, closed := a.connected, a.closed
	a.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case !connected:
		return ErrNotConnected
	}
	a.relay.publish(topic, payload)
	return nil
}

// Subscribe registers h for messages on topic.
func (a *MemoryAdapter) Subscribe(topic string, h Handler) (func(), error) {
	if a.relay == nil {
		return nil, ErrMissingConfig
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	id := a.relay.subscribe(topic, func(msg Message) {
		a.mu.Lock()
		live := a.connected && !a.closed
		a.mu.Unlock()
		if live {
			h(msg)
		}
	})
	if a.subs == nil {
		a.subs = make(map[int]string)
	}
	a.subs[id] = topic

	var once sync.Once
	return func() {
		once.Do(func() {
			a.relay.unsubscribe(topic, id)
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
		})
	}, nil
}

// LastMessage returns the message the relay retained for topic.
func (a *MemoryAdapter) LastMessage(ctx context.Context, topic string) (Message, error) {
	if a.relay == nil {
		return Message{}, ErrMissingConfig
	}
	msg, ok := a.relay.last(topic)
	if !ok {
		return Message{}, ErrNoMessage
	}
	return msg, nil
}

// Drop simulates a lost connection.
func (a *MemoryAdapter) Drop() {
	a.mu.Lock()
	a.connected = false
	a.mu.Unlock()
	a.status.report(StatusDisconnected)
}

// Close releases every subscription.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.connected = false
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()

	for id, topic := range subs {
		a.relay.unsubscribe(topic, id)
	}
	return nil
}
