package ladder

import (
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ladder/go/internal/config"
	"github.com/mcdev12/ladder/go/internal/transport"
)

// MemoryNetwork hands out one in-process relay per channel, so sessions
// sharing a network see each other and channels never cross.
type MemoryNetwork struct {
	clock clockwork.Clock

	mu     sync.Mutex
	relays map[string]*transport.MemoryRelay
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork(clock clockwork.Clock) *MemoryNetwork {
	return &MemoryNetwork{clock: clock, relays: make(map[string]*transport.MemoryRelay)}
}

// Relay returns the relay of ch, creating it on first use.
func (n *MemoryNetwork) Relay(ch string) *transport.MemoryRelay {
	n.mu.Lock()
	defer n.mu.Unlock()
	r, ok := n.relays[ch]
	if !ok {
		r = transport.NewMemoryRelay(n.clock)
		n.relays[ch] = r
	}
	return r
}

// Dial is a Dialer over the network.
func (n *MemoryNetwork) Dial(ch string, status transport.StatusFunc) transport.Adapter {
	return n.Relay(ch).Adapter(status)
}

// DialerFor returns the dialer selected by cfg.Transport. network backs the
// memory transport and may be nil for the others.
func DialerFor(cfg config.Config, network *MemoryNetwork) (Dialer, error) {
	switch cfg.Transport {
	case config.TransportWebSocket:
		return func(ch string, status transport.StatusFunc) transport.Adapter {
			return transport.NewWebSocketAdapter(transport.DefaultWebSocketConfig(cfg.RelayURL, ch), status)
		}, nil
	case config.TransportNATS:
		return func(ch string, status transport.StatusFunc) transport.Adapter {
			return transport.NewNATSAdapter(transport.DefaultNATSConfig(cfg.NATSURL, ch), status)
		}, nil
	case config.TransportMemory:
		if network == nil {
			network = NewMemoryNetwork(nil)
		}
		return network.Dial, nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// Apply overlays the client configuration's tuning onto c.
func (c Config) Apply(cfg config.Config) Config {
	c.ReadyFallback = cfg.Timings.ReadyFallback
	c.Session.PublishDelay = cfg.Timings.StatePublishDelay
	c.Session.AutoAdvance = cfg.AutoAdvance
	c.Notes.PublishDelay = cfg.Timings.NotesPublishDelay
	c.Notes.EchoGuard = cfg.Timings.EchoGuard
	return c
}
