package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ladder/go/internal/transport"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages WebSocket connections grouped by channel
type ConnectionManager struct {
	// Connection pools organized by channel name
	channels map[string]map[*Connection]bool
	mu       sync.RWMutex

	upgrader  websocket.Upgrader
	config    ConnectionConfig
	clock     clockwork.Clock
	retention Retention

	// publishMu keeps retention order equal to broadcast order
	publishMu   sync.Mutex
	broadcastCh chan broadcastMessage

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID      string
	Channel string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	ConnectedAt time.Time
	lastPing    atomic.Int64
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

type broadcastMessage struct {
	Channel string
	Frame   []byte
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  256 * 1024, // full session documents and notes markup
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		SendBuffer:      256,
		BroadcastBuffer: 1000,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, retention Retention, clock clockwork.Clock) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if retention == nil {
		retention = NewMemoryRetention()
	}
	return &ConnectionManager{
		channels: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		clock:       clock,
		retention:   retention,
		broadcastCh: make(chan broadcastMessage, config.BroadcastBuffer),
	}
}

// Start processes broadcasts until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and joins channel
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, channel string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.NewString(),
		Channel:     channel,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBuffer),
		Manager:     cm,
		ConnectedAt: cm.clock.Now(),
	}
	connection.lastPing.Store(cm.clock.Now().UnixMilli())

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("channel", channel).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.channels[conn.Channel] == nil {
		cm.channels[conn.Channel] = make(map[*Connection]bool)
	}
	cm.channels[conn.Channel][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("channel", conn.Channel).
		Int("total_connections", len(cm.channels[conn.Channel])).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.channels[conn.Channel]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}
	delete(connections, conn)
	close(conn.Send)
	if len(connections) == 0 {
		delete(cm.channels, conn.Channel)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("channel", conn.Channel).
		Msg("connection unregistered")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, connections := range cm.channels {
		for conn := range connections {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// Publish retains payload as the latest message for the channel topic and
// fans it out to every connection on the channel, the sender included.
func (cm *ConnectionManager) Publish(ctx context.Context, channel, topic string, payload json.RawMessage) error {
	if topic == "" {
		return ErrMissingTopic
	}
	if !json.Valid(payload) {
		return ErrInvalidPayload
	}

	cm.publishMu.Lock()
	defer cm.publishMu.Unlock()

	now := cm.clock.Now().UTC()
	if err := cm.retention.Store(ctx, channel, topic, Retained{Data: payload, PublishedAt: now}); err != nil {
		// Live delivery still goes out; only late joiners lose this message.
		log.Error().Err(err).Str("channel", channel).Str("topic", topic).Msg("failed to retain message")
	}

	frame, err := json.Marshal(transport.ServerFrame{
		Type:        transport.FrameMessage,
		Topic:       topic,
		Data:        payload,
		PublishedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message frame: %w", err)
	}

	select {
	case cm.broadcastCh <- broadcastMessage{Channel: channel, Frame: frame}:
		cm.published.Add(1)
	default:
		cm.dropped.Add(1)
		log.Warn().Str("channel", channel).Msg("broadcast channel full, dropping message")
	}
	return nil
}

// Last returns the retained message for a channel topic.
func (cm *ConnectionManager) Last(ctx context.Context, channel, topic string) (Retained, bool, error) {
	return cm.retention.Last(ctx, channel, topic)
}

func (cm *ConnectionManager) handleBroadcast(message broadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.channels[message.Channel]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		if !conn.enqueue(message.Frame) {
			log.Warn().
				Str("connection_id", conn.ID).
				Str("channel", conn.Channel).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("channel", message.Channel).
		Int("connections", len(targets)).
		Msg("message broadcasted")
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveChannels     int            `json:"active_channels"`
	ChannelConnections map[string]int `json:"channel_connections"`
	Published          uint64         `json:"published"`
	Dropped            uint64         `json:"dropped"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{
		ActiveChannels:     len(cm.channels),
		ChannelConnections: make(map[string]int, len(cm.channels)),
		Published:          cm.published.Load(),
		Dropped:            cm.dropped.Load(),
	}
	for channel, connections := range cm.channels {
		stats.TotalConnections += len(connections)
		stats.ChannelConnections[channel] = len(connections)
	}
	return stats
}

// enqueue hands a frame to the write pump. It reports false when the
// connection is too slow to keep up; frames for unregistered connections are
// discarded.
func (c *Connection) enqueue(frame []byte) bool {
	cm := c.Manager
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if !cm.channels[c.Channel][c] {
		return true
	}
	select {
	case c.Send <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) reply(frame transport.ServerFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal reply")
		return
	}
	if !c.enqueue(data) {
		log.Warn().Str("connection_id", c.ID).Msg("dropping reply, send buffer full")
	}
}

// writePump is the only writer of the connection.
func (c *Connection) writePump() {
	cfg := c.Manager.config
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
		}
	}
}

func (c *Connection) readPump() {
	cfg := c.Manager.config
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(cfg.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		c.lastPing.Store(c.Manager.clock.Now().UnixMilli())
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	}
}

// handleClientMessage dispatches one client frame.
func (c *Connection) handleClientMessage(message []byte) {
	var frame transport.ClientFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		c.reply(transport.ServerFrame{Type: transport.FrameError, Error: "malformed frame"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.Manager.config.WriteTimeout)
	defer cancel()

	switch frame.Op {
	case transport.OpPublish:
		if err := c.Manager.Publish(ctx, c.Channel, frame.Topic, frame.Data); err != nil {
			c.reply(transport.ServerFrame{Type: transport.FrameError, ID: frame.ID, Topic: frame.Topic, Error: err.Error()})
		}
	case transport.OpLast:
		msg, found, err := c.Manager.Last(ctx, c.Channel, frame.Topic)
		if err != nil {
			log.Error().Err(err).Str("channel", c.Channel).Str("topic", frame.Topic).Msg("failed to load retained message")
			c.reply(transport.ServerFrame{Type: transport.FrameError, ID: frame.ID, Topic: frame.Topic, Error: "retention unavailable"})
			return
		}
		reply := transport.ServerFrame{Type: transport.FrameLast, ID: frame.ID, Topic: frame.Topic, Found: found}
		if found {
			published := msg.PublishedAt
			reply.Data = msg.Data
			reply.PublishedAt = &published
		}
		c.reply(reply)
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("op", frame.Op).
			Msg("ignoring unknown client op")
		c.reply(transport.ServerFrame{Type: transport.FrameError, ID: frame.ID, Error: "unknown op"})
	}
}
