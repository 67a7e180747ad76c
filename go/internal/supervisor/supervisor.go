package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ladder/go/internal/transport"
	"github.com/rs/zerolog/log"
)

// DefaultFallback is how long the session waits for a connection before it
// becomes usable locally.
const DefaultFallback = 4 * time.Second

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("supervisor: closed")

// State is what the supervisor exposes to observers.
type State struct {
	Status transport.Status
	Ready  bool
	// FailedOpen is set when readiness came from the fallback timeout.
	FailedOpen bool
}

// Supervisor drives one adapter's lifecycle and a monotonic ready gate.
// Ready flips on the first successful connection or when the fallback
// elapses, and never flips back.
type Supervisor struct {
	clock    clockwork.Clock
	fallback time.Duration

	mu        sync.Mutex
	state     State
	readyCh   chan struct{}
	timer     clockwork.Timer
	listeners map[int]func(State)
	nextID    int
	closed    bool
}

// New creates a supervisor in the connecting state.
func New(clock clockwork.Clock, fallback time.Duration) *Supervisor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if fallback <= 0 {
		fallback = DefaultFallback
	}
	return &Supervisor{
		clock:     clock,
		fallback:  fallback,
		state:     State{Status: transport.StatusConnecting},
		readyCh:   make(chan struct{}),
		listeners: make(map[int]func(State)),
	}
}

// Connect arms the fallback timer and connects adapter. A connection
// failure is returned for the caller to log; readiness still arrives through
// the fallback.
func (s *Supervisor) Connect(ctx context.Context, adapter transport.Adapter) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.timer == nil && !s.state.Ready {
		s.timer = s.clock.AfterFunc(s.fallback, s.failOpen)
	}
	s.mu.Unlock()

	if err := adapter.Connect(ctx); err != nil {
		return fmt.Errorf("connect transport: %w", err)
	}
	return nil
}

// Report is the adapter's StatusFunc.
func (s *Supervisor) Report(status transport.Status) {
	s.update(func(st *State) bool {
		changed := st.Status != status
		st.Status = status
		if status == transport.StatusConnected && !st.Ready {
			st.Ready = true
			changed = true
		}
		return changed
	})
	log.Debug().Str("status", string(status)).Msg("transport status changed")
}

func (s *Supervisor) failOpen() {
	opened := s.update(func(st *State) bool {
		if st.Ready {
			return false
		}
		st.Ready = true
		st.FailedOpen = true
		return true
	})
	if opened {
		log.Warn().Dur("fallback", s.fallback).Msg("no relay connection, continuing locally")
	}
}

// update applies fn and notifies listeners when it reports a change.
func (s *Supervisor) update(fn func(*State) bool) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	wasReady := s.state.Ready
	if !fn(&s.state) {
		s.mu.Unlock()
		return false
	}
	if s.state.Ready && !wasReady {
		close(s.readyCh)
		if s.timer != nil {
			s.timer.Stop()
		}
	}
	state := s.state
	listeners := make([]func(State), 0, len(s.listeners))
	for id := 0; id <= s.nextID; id++ {
		if l, ok := s.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(state)
	}
	return true
}

// Snapshot returns the current status and readiness.
func (s *Supervisor) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether the session is usable.
func (s *Supervisor) Ready() bool {
	return s.Snapshot().Ready
}

// WaitReady blocks until ready or ctx is done.
func (s *Supervisor) WaitReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnChange registers fn for every status or readiness change.
func (s *Supervisor) OnChange(fn func(State)) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Close stops the fallback timer and drops every listener.
func (s *Supervisor) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.listeners = make(map[int]func(State))
}
