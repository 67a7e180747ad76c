package ladder

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ladder/go/internal/channel"
	"github.com/mcdev12/ladder/go/internal/config"
	"github.com/mcdev12/ladder/go/internal/session"
	"github.com/mcdev12/ladder/go/internal/supervisor"
	"github.com/mcdev12/ladder/go/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func testNames(t *testing.T) channel.Names {
	t.Helper()
	names, err := channel.ForDeployment("https://talks.example.com/fri")
	require.NoError(t, err)
	return names
}

func testConfig(t *testing.T, clock clockwork.Clock) Config {
	cfg := DefaultConfig(testNames(t))
	cfg.Clock = clock
	return cfg
}

func openSession(t *testing.T, cfg Config, dial Dialer) *Session {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := Open(ctx, cfg, dial)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func names(s session.State) []string {
	out := make([]string, len(s.Speakers))
	for i, sp := range s.Speakers {
		out[i] = sp.Name
	}
	return out
}

func TestOpen_PeersConverge(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	network := NewMemoryNetwork(clock)
	cfg := testConfig(t, clock)

	a := openSession(t, cfg, network.Dial)
	b := openSession(t, cfg, network.Dial)
	assert.True(t, a.Supervisor().Ready())
	assert.True(t, b.Supervisor().Ready())

	_, err := a.Engine().Join("Ada")
	require.NoError(t, err)
	_, err = a.Engine().Join("Grace")
	require.NoError(t, err)
	a.Engine().Flush()

	assert.Equal(t, []string{"Ada", "Grace"}, names(b.Engine().Snapshot()))

	require.NoError(t, b.Engine().StartNextWaiting())
	b.Engine().Flush()
	active, ok := a.Engine().Snapshot().Active()
	require.True(t, ok)
	assert.Equal(t, "Ada", active.Name)
}

func TestOpen_LateJoinerBootstraps(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	network := NewMemoryNetwork(clock)
	cfg := testConfig(t, clock)

	a := openSession(t, cfg, network.Dial)
	_, err := a.Engine().Join("Ada")
	require.NoError(t, err)
	a.Engine().Flush()
	require.NoError(t, a.Notes().Edit("<p>agenda</p>"))
	a.Notes().Flush()

	late := openSession(t, cfg, network.Dial)
	assert.Equal(t, []string{"Ada"}, names(late.Engine().Snapshot()))
	assert.Equal(t, "<p>agenda</p>", late.Notes().Snapshot().Document)
}

func TestOpen_NotesUseTheirOwnChannel(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	network := NewMemoryNetwork(clock)
	cfg := testConfig(t, clock)

	a := openSession(t, cfg, network.Dial)
	b := openSession(t, cfg, network.Dial)

	require.NoError(t, a.Notes().Edit("<p>hello</p>"))
	a.Notes().Flush()

	assert.Equal(t, "<p>hello</p>", b.Notes().Snapshot().Document)
	assert.Len(t, network.Relay(cfg.Channels.Notes).History(transport.TopicNotes), 1)
	assert.Empty(t, network.Relay(cfg.Channels.State).History(transport.TopicNotes))
}

func TestOpen_MissingConfigRunsLocally(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	clock := clockwork.NewFakeClockAt(testEpoch)

	client := config.Default()
	client.RelayURL = ""
	dial, err := DialerFor(client, nil)
	require.NoError(t, err)

	s := openSession(t, testConfig(t, clock), dial)
	got := s.Supervisor().Snapshot()
	assert.False(t, got.Ready)
	assert.Equal(t, transport.StatusDisconnected, got.Status)

	// Fallback timer plus the countdown ticker.
	require.NoError(t, clock.BlockUntilContext(ctx, 2))
	clock.Advance(supervisor.DefaultFallback)
	require.NoError(t, s.Supervisor().WaitReady(ctx))
	assert.True(t, s.Supervisor().Snapshot().FailedOpen)

	_, err = s.Engine().Join("Ada")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ada"}, names(s.Engine().Snapshot()))
}

func TestSession_ExpiryFlagsBreakout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	clock := clockwork.NewFakeClockAt(testEpoch)
	network := NewMemoryNetwork(clock)

	s := openSession(t, testConfig(t, clock), network.Dial)
	_, err := s.Engine().Join("Ada")
	require.NoError(t, err)
	require.NoError(t, s.Engine().StartNextWaiting())
	require.NoError(t, s.Engine().StartTimer())
	s.Engine().Flush()

	require.NoError(t, clock.BlockUntilContext(ctx, 1), "countdown ticker never registered")
	assert.Equal(t, "05:00", s.View().Display)

	clock.Advance(5 * time.Minute)
	require.Eventually(t, func() bool {
		active, ok := s.Engine().Snapshot().Active()
		return ok && active.Breakout
	}, time.Second, time.Millisecond)
	assert.True(t, s.View().Expired)
}

func TestSession_CloseFlushesAndReleases(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	network := NewMemoryNetwork(clock)
	cfg := testConfig(t, clock)

	a := openSession(t, cfg, network.Dial)
	b := openSession(t, cfg, network.Dial)

	_, err := a.Engine().Join("Ada")
	require.NoError(t, err)
	require.NoError(t, a.Notes().Edit("<p>last words</p>"))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.Equal(t, []string{"Ada"}, names(b.Engine().Snapshot()))
	assert.Equal(t, "<p>last words</p>", b.Notes().Snapshot().Document)

	_, err = a.Engine().Join("Grace")
	assert.ErrorIs(t, err, session.ErrClosed)

	_, err = b.Engine().Join("Grace")
	require.NoError(t, err)
	b.Engine().Flush()
	assert.Equal(t, []string{"Ada"}, names(a.Engine().Snapshot()), "closed session stops reconciling")
}

func TestDialerFor(t *testing.T) {
	cfg := config.Default()

	dial, err := DialerFor(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &transport.WebSocketAdapter{}, dial("room", nil))

	cfg.Transport = config.TransportNATS
	dial, err = DialerFor(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &transport.NATSAdapter{}, dial("room", nil))

	cfg.Transport = config.TransportMemory
	dial, err = DialerFor(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &transport.MemoryAdapter{}, dial("room", nil))

	cfg.Transport = "smoke-signals"
	_, err = DialerFor(cfg, nil)
	assert.Error(t, err)
}

func TestConfig_Apply(t *testing.T) {
	client := config.Default()
	client.AutoAdvance = false
	client.Timings.EchoGuard = time.Second

	cfg := DefaultConfig(testNames(t)).Apply(client)
	assert.False(t, cfg.Session.AutoAdvance)
	assert.Equal(t, time.Second, cfg.Notes.EchoGuard)
	assert.Equal(t, client.Timings.StatePublishDelay, cfg.Session.PublishDelay)
	assert.Equal(t, client.Timings.ReadyFallback, cfg.ReadyFallback)
}
