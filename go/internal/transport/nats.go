package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

// NATSConfig configures the JetStream-backed adapter.
type NATSConfig struct {
	URL           string
	Channel       string
	StreamPrefix  string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
	MaxAge        time.Duration // How long retained messages live
	Replicas      int
}

// DefaultNATSConfig returns adapter defaults for url and channel.
func DefaultNATSConfig(url, channel string) NATSConfig {
	return NATSConfig{
		URL:           url,
		Channel:       channel,
		StreamPrefix:  "LADDER",
		SubjectPrefix: "ladder",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
		MaxAge:        7 * 24 * time.Hour,
		Replicas:      1,
	}
}

// StreamName is the per-channel stream holding the last message of each topic.
func (c NATSConfig) StreamName() string {
	return c.StreamPrefix + "_" + strings.ReplaceAll(c.Channel, ".", "_")
}

// Subject maps a topic onto the channel's subject space.
func (c NATSConfig) Subject(topic string) string {
	return fmt.Sprintf("%s.%s.%s", c.SubjectPrefix, c.Channel, topic)
}

// NATSAdapter publishes through JetStream so the stream keeps one message per
// subject, and receives live messages through core subscriptions.
type NATSAdapter struct {
	cfg    NATSConfig
	status *statusOnce

	mu     sync.Mutex
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
	closed bool
	subs   map[*nats.Subscription]struct{}
}

var _ Adapter = (*NATSAdapter)(nil)

// NewNATSAdapter creates an adapter; nothing is dialled until Connect.
func NewNATSAdapter(cfg NATSConfig, status StatusFunc) *NATSAdapter {
	return &NATSAdapter{
		cfg:    cfg,
		status: &statusOnce{fn: status},
		subs:   make(map[*nats.Subscription]struct{}),
	}
}

// Connect dials NATS and ensures the channel stream exists.
func (a *NATSAdapter) Connect(ctx context.Context) error {
	if a.cfg.URL == "" || a.cfg.Channel == "" {
		a.status.report(StatusDisconnected)
		return ErrMissingConfig
	}
	a.status.report(StatusConnecting)

	opts := []nats.Option{
		nats.Name("ladder-" + a.cfg.Channel),
		nats.MaxReconnects(a.cfg.MaxReconnects),
		nats.ReconnectWait(a.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
			if !a.isClosed() {
				a.status.report(StatusDisconnected)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			a.status.report(StatusConnected)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if !a.isClosed() {
				a.status.report(StatusDisconnected)
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(a.cfg.URL, opts...)
	if err != nil {
		a.status.report(StatusDisconnected)
		return fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		a.status.report(StatusDisconnected)
		return fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := a.ensureStream(ctx, js)
	if err != nil {
		nc.Close()
		a.status.report(StatusDisconnected)
		return fmt.Errorf("ensure stream: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		nc.Close()
		return ErrClosed
	}
	a.nc, a.js, a.stream = nc, js, stream
	a.mu.Unlock()

	a.status.report(StatusConnected)
	return nil
}

func (a *NATSAdapter) ensureStream(ctx context.Context, js jetstream.JetStream) (jetstream.Stream, error) {
	sc := jetstream.StreamConfig{
		Name:              a.cfg.StreamName(),
		Description:       "Last message per topic for ladder channel " + a.cfg.Channel,
		Subjects:          []string{fmt.Sprintf("%s.%s.>", a.cfg.SubjectPrefix, a.cfg.Channel)},
		Retention:         jetstream.LimitsPolicy,
		MaxMsgsPerSubject: 1,
		MaxAge:            a.cfg.MaxAge,
		Storage:           jetstream.FileStorage,
		Replicas:          a.cfg.Replicas,
		Discard:           jetstream.DiscardOld,
	}

	stream, err := js.Stream(ctx, sc.Name)
	if err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			return nil, fmt.Errorf("get stream: %w", err)
		}
		stream, err = js.CreateStream(ctx, sc)
		if err != nil {
			return nil, fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", sc.Name).Msg("created JetStream stream")
		return stream, nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("get stream info: %w", err)
	}
	if !isStreamConfigEqual(info.Config, sc) {
		if stream, err = js.UpdateStream(ctx, sc); err != nil {
			return nil, fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", sc.Name).Msg("updated JetStream stream")
	}
	return stream, nil
}

func isStreamConfigEqual(a, b jetstream.StreamConfig) bool {
	return a.Name == b.Name &&
		a.MaxAge == b.MaxAge &&
		a.MaxMsgsPerSubject == b.MaxMsgsPerSubject &&
		a.Replicas == b.Replicas
}

// Publish stores payload as the topic's last message and fans it out.
func (a *NATSAdapter) Publish(ctx context.Context, topic string, payload []byte) error {
	a.mu.Lock()
	js, closed := a.js, a.closed
	a.mu.Unlock()
	switch {
	case closed:
		return ErrClosed
	case js == nil:
		return ErrNotConnected
	}

	subject := a.cfg.Subject(topic)
	ack, err := js.Publish(ctx, subject, payload, jetstream.WithExpectStream(a.cfg.StreamName()))
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}
	log.Debug().
		Str("subject", subject).
		Uint64("sequence", ack.Sequence).
		Msg("published to JetStream")
	return nil
}

// Subscribe registers h for live messages on topic. The adapter must be
// connected.
func (a *NATSAdapter) Subscribe(topic string, h Handler) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch {
	case a.closed:
		return nil, ErrClosed
	case a.nc == nil:
		return nil, ErrNotConnected
	}

	sub, err := a.nc.Subscribe(a.cfg.Subject(topic), func(m *nats.Msg) {
		h(Message{Topic: topic, Data: m.Data, PublishedAt: time.Now()})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	a.subs[sub] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, sub)
			a.mu.Unlock()
			if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
				log.Debug().Err(err).Str("topic", topic).Msg("failed to unsubscribe")
			}
		})
	}, nil
}

// LastMessage reads the retained message for topic from the stream.
func (a *NATSAdapter) LastMessage(ctx context.Context, topic string) (Message, error) {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return Message{}, ErrNotConnected
	}

	raw, err := stream.GetLastMsgForSubject(ctx, a.cfg.Subject(topic))
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return Message{}, ErrNoMessage
	}
	if err != nil {
		return Message{}, fmt.Errorf("get last message: %w", err)
	}
	return Message{Topic: topic, Data: raw.Data, PublishedAt: raw.Time}, nil
}

// Close unsubscribes everything and closes the connection.
func (a *NATSAdapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	nc := a.nc
	subs := a.subs
	a.subs = nil
	a.nc, a.js, a.stream = nil, nil, nil
	a.mu.Unlock()

	for sub := range subs {
		_ = sub.Unsubscribe()
	}
	if nc != nil {
		nc.Close()
	}
	return nil
}

func (a *NATSAdapter) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}
