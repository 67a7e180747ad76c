package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// WebSocketConfig configures a client of the relay server.
type WebSocketConfig struct {
	// URL is the relay WebSocket endpoint, e.g. ws://localhost:8090/ws.
	URL          string
	Channel      string
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

// DefaultWebSocketConfig returns the client defaults for url and channel.
func DefaultWebSocketConfig(url, channel string) WebSocketConfig {
	return WebSocketConfig{
		URL:          url,
		Channel:      channel,
		WriteTimeout: 10 * time.Second,
		Dialer:       websocket.DefaultDialer,
	}
}

// WebSocketAdapter speaks the relay's JSON frame protocol over one
// connection. Handlers run on the read goroutine in relay order.
type WebSocketAdapter struct {
	cfg    WebSocketConfig
	status *statusOnce

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	writeMu sync.Mutex

	subsMu  sync.Mutex
	subs    map[string]map[int]Handler
	nextSub int

	pendingMu sync.Mutex
	pending   map[string]chan ServerFrame
}

var _ Adapter = (*WebSocketAdapter)(nil)

// NewWebSocketAdapter creates an adapter; nothing is dialled until Connect.
func NewWebSocketAdapter(cfg WebSocketConfig, status StatusFunc) *WebSocketAdapter {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &WebSocketAdapter{
		cfg:     cfg,
		status:  &statusOnce{fn: status},
		subs:    make(map[string]map[int]Handler),
		pending: make(map[string]chan ServerFrame),
	}
}

// Connect dials the relay and joins the configured channel.
func (a *WebSocketAdapter) Connect(ctx context.Context) error {
	if a.cfg.URL == "" || a.cfg.Channel == "" {
		a.status.report(StatusDisconnected)
		return ErrMissingConfig
	}
	u, err := url.Parse(a.cfg.URL)
	if err != nil {
		a.status.report(StatusDisconnected)
		return fmt.Errorf("%w: relay url: %v", ErrMissingConfig, err)
	}
	q := u.Query()
	q.Set("channel", a.cfg.Channel)
	u.RawQuery = q.Encode()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	a.mu.Unlock()

	a.status.report(StatusConnecting)
	conn, _, err := a.cfg.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		a.status.report(StatusDisconnected)
		return fmt.Errorf("dial relay: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	a.conn = conn
	a.mu.Unlock()

	go a.readLoop(conn)

	log.Info().Str("url", a.cfg.URL).Str("channel", a.cfg.Channel).Msg("connected to relay")
	a.status.report(StatusConnected)
	return nil
}

// Publish sends payload, which must be a JSON document, on topic.
func (a *WebSocketAdapter) Publish(ctx context.Context, topic string, payload []byte) error {
	if !json.Valid(payload) {
		return fmt.Errorf("publish %s: payload is not JSON", topic)
	}
	return a.write(ctx, ClientFrame{Op: OpPublish, Topic: topic, Data: payload})
}

// Subscribe registers h for messages on topic. Subscriptions survive until
// cancelled and may be made before Connect.
func (a *WebSocketAdapter) Subscribe(topic string, h Handler) (func(), error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	a.subsMu.Lock()
	a.nextSub++
	id := a.nextSub
	if a.subs[topic] == nil {
		a.subs[topic] = make(map[int]Handler)
	}
	a.subs[topic][id] = h
	a.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.subsMu.Lock()
			delete(a.subs[topic], id)
			if len(a.subs[topic]) == 0 {
				delete(a.subs, topic)
			}
			a.subsMu.Unlock()
		})
	}, nil
}

// LastMessage asks the relay for the message it retained on topic.
func (a *WebSocketAdapter) LastMessage(ctx context.Context, topic string) (Message, error) {
	id := uuid.NewString()
	reply := make(chan ServerFrame, 1)
	a.pendingMu.Lock()
	a.pending[id] = reply
	a.pendingMu.Unlock()
	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
	}()

	if err := a.write(ctx, ClientFrame{Op: OpLast, ID: id, Topic: topic}); err != nil {
		return Message{}, err
	}

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case frame, ok := <-reply:
		if !ok {
			return Message{}, ErrNotConnected
		}
		switch {
		case frame.Type == FrameError:
			return Message{}, fmt.Errorf("relay: %s", frame.Error)
		case !frame.Found:
			return Message{}, ErrNoMessage
		}
		msg := Message{Topic: topic, Data: frame.Data}
		if frame.PublishedAt != nil {
			msg.PublishedAt = *frame.PublishedAt
		}
		return msg, nil
	}
}

// Close leaves the channel and drops every subscription.
func (a *WebSocketAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()

	a.subsMu.Lock()
	a.subs = make(map[string]map[int]Handler)
	a.subsMu.Unlock()

	if conn == nil {
		return nil
	}
	a.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	a.writeMu.Unlock()
	return conn.Close()
}

func (a *WebSocketAdapter) write(ctx context.Context, frame ClientFrame) error {
	a.mu.Lock()
	conn, closed := a.conn, a.closed
	a.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case conn == nil:
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	deadline := time.Now().Add(a.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", frame.Op, err)
	}
	return nil
}

func (a *WebSocketAdapter) readLoop(conn *websocket.Conn) {
	defer a.lost(conn)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("channel", a.cfg.Channel).Msg("relay connection lost")
			}
			return
		}

		var frame ServerFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Debug().Err(err).Msg("dropped malformed relay frame")
			continue
		}
		switch frame.Type {
		case FrameMessage:
			a.dispatch(frame)
		case FrameLast, FrameError:
			if frame.ID == "" {
				log.Warn().Str("error", frame.Error).Msg("relay reported an error")
				continue
			}
			a.pendingMu.Lock()
			reply, ok := a.pending[frame.ID]
			a.pendingMu.Unlock()
			if ok {
				reply <- frame
			}
		}
	}
}

func (a *WebSocketAdapter) dispatch(frame ServerFrame) {
	msg := Message{Topic: frame.Topic, Data: frame.Data}
	if frame.PublishedAt != nil {
		msg.PublishedAt = *frame.PublishedAt
	}

	a.subsMu.Lock()
	ids := make([]int, 0, len(a.subs[frame.Topic]))
	for id := range a.subs[frame.Topic] {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, a.subs[frame.Topic][id])
	}
	a.subsMu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}

// lost tears down after the read side fails.
func (a *WebSocketAdapter) lost(conn *websocket.Conn) {
	a.mu.Lock()
	current := a.conn == conn
	if current {
		a.conn = nil
	}
	closed := a.closed
	a.mu.Unlock()
	conn.Close()

	a.pendingMu.Lock()
	for id, reply := range a.pending {
		close(reply)
		delete(a.pending, id)
	}
	a.pendingMu.Unlock()

	if current && !closed {
		a.status.report(StatusDisconnected)
	}
}
