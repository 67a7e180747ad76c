package ladder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ladder/go/internal/channel"
	"github.com/mcdev12/ladder/go/internal/notes"
	"github.com/mcdev12/ladder/go/internal/session"
	"github.com/mcdev12/ladder/go/internal/supervisor"
	"github.com/mcdev12/ladder/go/internal/timer"
	"github.com/mcdev12/ladder/go/internal/transport"
	"github.com/rs/zerolog/log"
)

// Dialer builds an adapter scoped to one channel. Adapters are connected by
// the session, not by the dialer.
type Dialer func(channel string, status transport.StatusFunc) transport.Adapter

// Config wires one session handle.
type Config struct {
	Channels      channel.Names
	Clock         clockwork.Clock
	ReadyFallback time.Duration
	Session       session.Options
	Notes         notes.Options
	// OnView receives every countdown evaluation. It runs on the timer
	// goroutine and must not block.
	OnView func(timer.View)
}

// DefaultConfig returns production settings for the given channels.
func DefaultConfig(names channel.Names) Config {
	return Config{
		Channels:      names,
		Clock:         clockwork.NewRealClock(),
		ReadyFallback: supervisor.DefaultFallback,
		Session:       session.DefaultOptions(),
		Notes:         notes.DefaultOptions(),
	}
}

// Session is an open handle on one replicated ladder: the queue engine,
// the notes engine, the countdown runner and the connection supervisor,
// bound to one pair of channels. Close releases all of it.
type Session struct {
	supervisor   *supervisor.Supervisor
	stateAdapter transport.Adapter
	notesAdapter transport.Adapter
	engine       *session.Engine
	notes        *notes.Engine
	clock        clockwork.Clock

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Open connects to the session's channels and starts the countdown. A
// transport that cannot connect is not an error: the session runs locally
// and becomes ready through the supervisor's fallback.
func Open(ctx context.Context, cfg Config, dial Dialer) (*Session, error) {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	cfg.Session.Clock = cfg.Clock
	cfg.Notes.Clock = cfg.Clock

	sup := supervisor.New(cfg.Clock, cfg.ReadyFallback)
	s := &Session{
		supervisor:   sup,
		stateAdapter: dial(cfg.Channels.State, sup.Report),
		notesAdapter: dial(cfg.Channels.Notes, nil),
		clock:        cfg.Clock,
		done:         make(chan struct{}),
	}
	s.engine = session.NewEngine(s.stateAdapter, cfg.Session)
	s.notes = notes.NewEngine(s.notesAdapter, cfg.Notes)

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	runner := timer.NewRunner(s.engine, cfg.Clock, cfg.OnView)
	go func() {
		defer close(s.done)
		if err := runner.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("timer runner stopped")
		}
	}()

	if err := s.attach(ctx); err != nil {
		s.Close()
		return nil, err
	}

	log.Info().
		Str("channel", cfg.Channels.State).
		Bool("ready", sup.Ready()).
		Msg("ladder session opened")
	return s, nil
}

func (s *Session) attach(ctx context.Context) error {
	if err := s.supervisor.Connect(ctx, s.stateAdapter); err != nil {
		log.Warn().Err(err).Msg("state channel unavailable, running locally")
	} else if err := s.engine.Attach(ctx); err != nil {
		return fmt.Errorf("attach session engine: %w", err)
	}

	if err := s.notesAdapter.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("notes channel unavailable, notes stay local")
		return nil
	}
	if err := s.notes.Attach(ctx); err != nil {
		return fmt.Errorf("attach notes engine: %w", err)
	}
	return nil
}

// Engine returns the queue and timer state engine.
func (s *Session) Engine() *session.Engine {
	return s.engine
}

// Notes returns the shared notes engine.
func (s *Session) Notes() *notes.Engine {
	return s.notes
}

// Supervisor returns the connection supervisor.
func (s *Session) Supervisor() *supervisor.Supervisor {
	return s.supervisor
}

// View evaluates the countdown now.
func (s *Session) View() timer.View {
	return timer.Evaluate(s.engine.Snapshot(), s.clock.Now())
}

// Close publishes pending local changes, then stops the countdown, the
// debouncers, every subscription and both adapters. It is safe to call more
// than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.engine.Flush()
		s.notes.Flush()

		s.cancel()
		<-s.done

		s.engine.Close()
		s.notes.Close()
		s.supervisor.Close()

		s.closeErr = errors.Join(
			closeAdapter("state", s.stateAdapter),
			closeAdapter("notes", s.notesAdapter),
		)
		log.Info().Msg("ladder session closed")
	})
	return s.closeErr
}

func closeAdapter(name string, a transport.Adapter) error {
	if err := a.Close(); err != nil {
		return fmt.Errorf("close %s adapter: %w", name, err)
	}
	return nil
}
