package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ladder/go/internal/schedule"
	"github.com/mcdev12/ladder/go/internal/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/cases"
)

// Options configures an Engine.
type Options struct {
	Clock          clockwork.Clock
	PublishDelay   time.Duration
	PublishTimeout time.Duration
	// AutoAdvance activates the next waiting speaker when the active one is
	// marked done.
	AutoAdvance bool
	NewID       func() string
}

// DefaultOptions returns the production engine settings.
func DefaultOptions() Options {
	return Options{
		Clock:          clockwork.NewRealClock(),
		PublishDelay:   50 * time.Millisecond,
		PublishTimeout: 5 * time.Second,
		AutoAdvance:    true,
		NewID:          uuid.NewString,
	}
}

// Engine owns the canonical in-memory session state. Local mutations are
// applied immediately and broadcast after a short debounce; remote
// snapshots replace the state wholesale in arrival order.
type Engine struct {
	adapter transport.Adapter
	clock   clockwork.Clock
	opts    Options
	fold    cases.Caser

	mu      sync.Mutex
	state   State
	version uint64
	pending *State
	remotes uint64
	closed  bool

	// notifyMu serializes observer delivery; observers must not call back
	// into the engine synchronously.
	notifyMu  sync.Mutex
	delivered uint64
	observers map[int]func(State)
	nextObs   int

	publisher *schedule.Debouncer
	cancelSub func()
}

// NewEngine creates an engine that broadcasts through adapter. A nil
// adapter keeps the session local.
func NewEngine(adapter transport.Adapter, opts Options) *Engine {
	defaults := DefaultOptions()
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaults.PublishTimeout
	}
	if opts.NewID == nil {
		opts.NewID = defaults.NewID
	}

	e := &Engine{
		adapter:   adapter,
		clock:     opts.Clock,
		opts:      opts,
		fold:      cases.Fold(),
		state:     InitialState(),
		observers: make(map[int]func(State)),
	}
	e.publisher = schedule.NewDebouncer(opts.Clock, opts.PublishDelay, e.publishPending)
	return e
}

// Attach subscribes to the state topic and bootstraps from the relay's
// retained snapshot. A live message that arrives first wins over the
// bootstrap.
func (e *Engine) Attach(ctx context.Context) error {
	if e.adapter == nil {
		return nil
	}
	cancel, err := e.adapter.Subscribe(transport.TopicState, func(msg transport.Message) {
		if err := e.ReconcileRemote(msg.Data); err != nil {
			log.Debug().Err(err).Msg("dropped remote state")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe state: %w", err)
	}

	e.mu.Lock()
	e.cancelSub = cancel
	seen := e.remotes
	e.mu.Unlock()

	msg, err := e.adapter.LastMessage(ctx, transport.TopicState)
	switch {
	case errors.Is(err, transport.ErrNoMessage):
		return nil
	case err != nil:
		log.Warn().Err(err).Msg("failed to fetch retained state")
		return nil
	}

	applied, err := e.reconcile(msg.Data, &seen)
	switch {
	case err != nil:
		log.Debug().Err(err).Msg("dropped retained state")
	case !applied:
		log.Debug().Msg("skipping retained state, live update already applied")
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// Summary derives the queue view model from the current state.
func (e *Engine) Summary() Summary {
	return Summarize(e.Snapshot())
}

// Subscribe registers fn for every state change and returns its cancel.
func (e *Engine) Subscribe(fn func(State)) func() {
	e.notifyMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.notifyMu.Unlock()

	return func() {
		e.notifyMu.Lock()
		delete(e.observers, id)
		e.notifyMu.Unlock()
	}
}

// Flush publishes any pending local mutation immediately.
func (e *Engine) Flush() {
	e.publisher.Flush()
}

// Close cancels the pending publish and the state subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancel := e.cancelSub
	e.cancelSub = nil
	e.mu.Unlock()

	e.publisher.Stop()
	if cancel != nil {
		cancel()
	}
}

// Join appends a waiting speaker unless the name is already queued.
func (e *Engine) Join(name string) (Speaker, error) {
	name = strings.TrimSpace(name)
	var joined Speaker
	err := e.mutate("join", func(s *State) error {
		if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
			return ErrInvalidName
		}
		key := e.fold.String(name)
		for _, sp := range s.Speakers {
			if e.fold.String(sp.Name) == key {
				return ErrDuplicateName
			}
		}
		joined = Speaker{ID: e.opts.NewID(), Name: name, Status: StatusWaiting}
		s.Speakers = append(s.Speakers, joined)
		return nil
	})
	if err != nil {
		return Speaker{}, err
	}
	return joined, nil
}

// Activate puts the waiting speaker at index on the floor.
func (e *Engine) Activate(index int) error {
	return e.mutate("activate", func(s *State) error {
		return activate(s, index)
	})
}

// StartNextWaiting activates the first waiting speaker in queue order.
func (e *Engine) StartNextWaiting() error {
	return e.mutate("start_next", func(s *State) error {
		idx := firstWaiting(s)
		if idx < 0 {
			return ErrNoWaitingSpeaker
		}
		return activate(s, idx)
	})
}

// StartTimer starts or resumes the countdown for the current phase.
func (e *Engine) StartTimer() error {
	return e.mutate("start_timer", func(s *State) error {
		if s.ActiveIndex() < 0 {
			return ErrNoActiveSpeaker
		}
		if s.TimerRunning {
			return errNoChange
		}
		anchor := e.clock.Now().UnixMilli() - s.PausedElapsed*1000
		s.TimerRunning = true
		s.ActiveStartedAt = &anchor
		s.PausedElapsed = 0
		return nil
	})
}

// PauseTimer freezes the elapsed seconds so StartTimer can resume them.
func (e *Engine) PauseTimer() error {
	return e.mutate("pause_timer", func(s *State) error {
		if !s.TimerRunning || s.ActiveStartedAt == nil {
			return errNoChange
		}
		elapsed := (e.clock.Now().UnixMilli() - *s.ActiveStartedAt) / 1000
		if elapsed < 0 {
			elapsed = 0
		}
		s.PausedElapsed = elapsed
		s.TimerRunning = false
		s.ActiveStartedAt = nil
		return nil
	})
}

// AdvancePhase moves the presenting speaker into Q&A with an idle timer.
func (e *Engine) AdvancePhase() error {
	return e.mutate("advance_phase", func(s *State) error {
		idx := s.ActiveIndex()
		if idx < 0 {
			return ErrNoActiveSpeaker
		}
		if s.Speakers[idx].Status != StatusPresent {
			return errNoChange
		}
		s.Speakers[idx].Status = StatusQA
		s.Speakers[idx].Breakout = false
		s.Phase = PhaseQA
		resetTimer(s)
		return nil
	})
}

// MarkDone finishes the active speaker and, with AutoAdvance, puts the
// next waiting speaker on the floor.
func (e *Engine) MarkDone() error {
	return e.mutate("mark_done", func(s *State) error {
		idx := s.ActiveIndex()
		if idx < 0 {
			return ErrNoActiveSpeaker
		}
		s.Speakers[idx].Status = StatusDone
		s.Phase = PhasePresent
		resetTimer(s)
		if !e.opts.AutoAdvance {
			return nil
		}
		if next := firstWaiting(s); next >= 0 {
			return activate(s, next)
		}
		return nil
	})
}

// HandleExpiry flags the active speaker for a breakout. The timer keeps
// running at zero.
func (e *Engine) HandleExpiry() error {
	return e.mutate("handle_expiry", func(s *State) error {
		idx := s.ActiveIndex()
		if idx < 0 || s.Speakers[idx].Breakout {
			return errNoChange
		}
		s.Speakers[idx].Breakout = true
		return nil
	})
}

// DeleteSpeaker removes a speaker that is not on the floor.
func (e *Engine) DeleteSpeaker(id string) error {
	return e.mutate("delete", func(s *State) error {
		idx := s.IndexOf(id)
		if idx < 0 {
			return ErrSpeakerNotFound
		}
		if s.Speakers[idx].IsActive() {
			return ErrSpeakerActive
		}
		s.Speakers = append(s.Speakers[:idx], s.Speakers[idx+1:]...)
		return nil
	})
}

// Direction is a one-step move in the queue.
type Direction int

const (
	// Up moves towards the front of the queue.
	Up Direction = -1
	// Down moves towards the back of the queue.
	Down Direction = 1
)

// MoveSpeaker swaps the speaker with its neighbour in dir.
func (e *Engine) MoveSpeaker(id string, dir Direction) error {
	return e.mutate("move", func(s *State) error {
		i := s.IndexOf(id)
		if i < 0 {
			return ErrSpeakerNotFound
		}
		j := i + int(dir)
		if (dir != Up && dir != Down) || j < 0 || j >= len(s.Speakers) {
			return ErrIndexOutOfRange
		}
		s.Speakers[i], s.Speakers[j] = s.Speakers[j], s.Speakers[i]
		return nil
	})
}

// Reorder relocates speaker id to the queue position held by targetID.
func (e *Engine) Reorder(id, targetID string) error {
	return e.mutate("reorder", func(s *State) error {
		from, to := s.IndexOf(id), s.IndexOf(targetID)
		if from < 0 || to < 0 {
			return ErrSpeakerNotFound
		}
		if from == to {
			return errNoChange
		}
		moved := s.Speakers[from]
		rest := append(s.Speakers[:from:from], s.Speakers[from+1:]...)
		out := make([]Speaker, 0, len(s.Speakers))
		out = append(out, rest[:to]...)
		out = append(out, moved)
		out = append(out, rest[to:]...)
		s.Speakers = out
		return nil
	})
}

// RenameSpeaker replaces a speaker's display name. Uniqueness is only
// enforced at join time.
func (e *Engine) RenameSpeaker(id, name string) error {
	name = strings.TrimSpace(name)
	return e.mutate("rename", func(s *State) error {
		if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
			return ErrInvalidName
		}
		idx := s.IndexOf(id)
		if idx < 0 {
			return ErrSpeakerNotFound
		}
		if s.Speakers[idx].Name == name {
			return errNoChange
		}
		s.Speakers[idx].Name = name
		return nil
	})
}

// SetPresentMins updates the present leg length, clamped to [1,30].
func (e *Engine) SetPresentMins(n int) error {
	return e.mutate("set_present_mins", func(s *State) error {
		n = clampMinutes(n)
		if s.PresentMins == n {
			return errNoChange
		}
		s.PresentMins = n
		return nil
	})
}

// SetQAMins updates the Q&A leg length, clamped to [1,30].
func (e *Engine) SetQAMins(n int) error {
	return e.mutate("set_qa_mins", func(s *State) error {
		n = clampMinutes(n)
		if s.QAMins == n {
			return errNoChange
		}
		s.QAMins = n
		return nil
	})
}

// ResetSession clears the session, keeping only the minute settings.
func (e *Engine) ResetSession() error {
	return e.mutate("reset", func(s *State) error {
		next := InitialState()
		next.PresentMins = s.PresentMins
		next.QAMins = s.QAMins
		*s = next
		return nil
	})
}

// ReconcileRemote replaces the local state with a remote snapshot. The
// latest arrival wins; malformed payloads are dropped.
func (e *Engine) ReconcileRemote(data []byte) error {
	_, err := e.reconcile(data, nil)
	return err
}

// reconcile installs a remote snapshot. When since is set the snapshot is
// only installed if no other remote snapshot was applied after *since was
// read; the check and the swap happen under one lock.
func (e *Engine) reconcile(data []byte, since *uint64) (bool, error) {
	snapshot, err := decodeSnapshot(data)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false, ErrClosed
	}
	if since != nil && e.remotes != *since {
		e.mu.Unlock()
		return false, nil
	}
	e.state = snapshot
	e.version++
	e.remotes++
	version := e.version
	out := snapshot.Clone()
	e.mu.Unlock()

	log.Debug().Int("speakers", len(out.Speakers)).Msg("applied remote state")
	e.notify(version, out)
	return true, nil
}

func decodeSnapshot(data []byte) (State, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	raw, ok := fields["speakers"]
	if !ok || len(raw) == 0 || raw[0] != '[' {
		return State{}, ErrMalformedSnapshot
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if s.Speakers == nil {
		s.Speakers = []Speaker{}
	}
	return s, nil
}

// mutate applies fn to a copy of the state and commits it on success.
func (e *Engine) mutate(op string, fn func(s *State) error) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	next := e.state.Clone()
	if err := fn(&next); err != nil {
		e.mu.Unlock()
		if errors.Is(err, errNoChange) {
			return nil
		}
		log.Debug().Str("op", op).Err(err).Msg("mutation rejected")
		return err
	}
	e.state = next
	e.version++
	version := e.version
	pending := next.Clone()
	e.pending = &pending
	out := next.Clone()
	e.mu.Unlock()

	e.notify(version, out)
	if e.adapter != nil {
		e.publisher.Trigger()
	}
	return nil
}

func (e *Engine) notify(version uint64, s State) {
	e.notifyMu.Lock()
	defer e.notifyMu.Unlock()
	// A slower goroutine carrying an older version must not rewind observers.
	if version <= e.delivered {
		return
	}
	e.delivered = version
	for _, fn := range e.observers {
		fn(s)
	}
}

// publishPending broadcasts the result of the latest local mutation.
func (e *Engine) publishPending() {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	if pending == nil || e.adapter == nil {
		return
	}

	data, err := json.Marshal(pending)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal state")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.opts.PublishTimeout)
	defer cancel()
	if err := e.adapter.Publish(ctx, transport.TopicState, data); err != nil {
		log.Warn().Err(err).Msg("failed to publish state")
	}
}

func activate(s *State, idx int) error {
	if idx < 0 || idx >= len(s.Speakers) {
		return ErrIndexOutOfRange
	}
	if cur := s.ActiveIndex(); cur >= 0 {
		return ErrSpeakerActive
	}
	if s.Speakers[idx].Status != StatusWaiting {
		return ErrSpeakerNotWaiting
	}
	s.Speakers[idx].Status = StatusPresent
	s.Phase = PhasePresent
	resetTimer(s)
	return nil
}

func resetTimer(s *State) {
	s.TimerRunning = false
	s.ActiveStartedAt = nil
	s.PausedElapsed = 0
}

func firstWaiting(s *State) int {
	for i, sp := range s.Speakers {
		if sp.Status == StatusWaiting {
			return i
		}
	}
	return -1
}
