package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ladder/go/internal/schedule"
	"github.com/mcdev12/ladder/go/internal/transport"
	"github.com/rs/zerolog/log"
)

var (
	// ErrMalformedPayload is returned for a remote document or control message that does not decode.
	ErrMalformedPayload = errors.New("malformed notes payload")
	// ErrInvalidURL is returned by SetExternalURL for anything but an absolute http(s) URL.
	ErrInvalidURL = errors.New("external notes url must be absolute http(s)")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("notes engine closed")
)

// Mode selects which notes surface clients use.
type Mode string

const (
	// ModeBuiltin edits the shared document.
	ModeBuiltin Mode = "builtin"
	// ModeExternal points at an externally hosted page.
	ModeExternal Mode = "external"
)

// Options configures an Engine.
type Options struct {
	Clock          clockwork.Clock
	PublishDelay   time.Duration
	EchoGuard      time.Duration
	PublishTimeout time.Duration
}

// DefaultOptions returns the production notes settings.
func DefaultOptions() Options {
	return Options{
		Clock:          clockwork.NewRealClock(),
		PublishDelay:   300 * time.Millisecond,
		EchoGuard:      600 * time.Millisecond,
		PublishTimeout: 5 * time.Second,
	}
}

// Snapshot is the notes view at one instant.
type Snapshot struct {
	Document    string
	ExternalURL string
}

// Mode reports the surface implied by the snapshot.
func (s Snapshot) Mode() Mode {
	if s.ExternalURL != "" {
		return ModeExternal
	}
	return ModeBuiltin
}

type control struct {
	URL *string `json:"url"`
}

// Engine replicates a single markup document plus the external-notes pointer.
// Remote documents replace the local one wholesale unless a local edit
// happened within the echo guard window.
type Engine struct {
	adapter transport.Adapter
	clock   clockwork.Clock
	opts    Options

	mu        sync.Mutex
	doc       string
	external  string
	lastEdit  time.Time
	pending   *string
	closed    bool
	cancelers []func()

	obsMu     sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int

	publisher *schedule.Debouncer
}

// NewEngine creates a notes engine. A nil adapter keeps notes local.
func NewEngine(adapter transport.Adapter, opts Options) *Engine {
	defaults := DefaultOptions()
	if opts.Clock == nil {
		opts.Clock = defaults.Clock
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaults.PublishTimeout
	}
	e := &Engine{
		adapter:   adapter,
		clock:     opts.Clock,
		opts:      opts,
		observers: make(map[int]func(Snapshot)),
	}
	e.publisher = schedule.NewDebouncer(opts.Clock, opts.PublishDelay, e.publishPending)
	return e
}

// Attach subscribes to the notes topics and bootstraps from the retained
// messages.
func (e *Engine) Attach(ctx context.Context) error {
	if e.adapter == nil {
		return nil
	}
	topics := []struct {
		name  string
		apply func([]byte) error
	}{
		{transport.TopicNotes, e.ApplyRemote},
		{transport.TopicNotesControl, e.ApplyControl},
	}
	for _, tp := range topics {
		apply, name := tp.apply, tp.name
		cancel, err := e.adapter.Subscribe(name, func(msg transport.Message) {
			if err := apply(msg.Data); err != nil {
				log.Debug().Err(err).Str("topic", name).Msg("dropped remote notes")
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		e.mu.Lock()
		e.cancelers = append(e.cancelers, cancel)
		e.mu.Unlock()
	}

	for _, tp := range topics {
		msg, err := e.adapter.LastMessage(ctx, tp.name)
		if err != nil {
			if !errors.Is(err, transport.ErrNoMessage) {
				log.Warn().Err(err).Str("topic", tp.name).Msg("failed to fetch retained notes")
			}
			continue
		}
		if err := tp.apply(msg.Data); err != nil {
			log.Debug().Err(err).Str("topic", tp.name).Msg("dropped retained notes")
		}
	}
	return nil
}

// Snapshot returns the current document and external pointer.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Document: e.doc, ExternalURL: e.external}
}

// Mode reports whether clients should use the built-in document.
func (e *Engine) Mode() Mode {
	return e.Snapshot().Mode()
}

// Subscribe registers fn for every document or pointer change.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	e.obsMu.Lock()
	id := e.nextObs
	e.nextObs++
	e.observers[id] = fn
	e.obsMu.Unlock()
	return func() {
		e.obsMu.Lock()
		delete(e.observers, id)
		e.obsMu.Unlock()
	}
}

// Edit records a local keystroke: the document is replaced now and
// broadcast once typing goes quiet.
func (e *Engine) Edit(doc string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.doc = doc
	e.lastEdit = e.clock.Now()
	e.pending = &doc
	snap := Snapshot{Document: e.doc, ExternalURL: e.external}
	e.mu.Unlock()

	e.notify(snap)
	if e.adapter != nil {
		e.publisher.Trigger()
	}
	return nil
}

// Clear empties the document for every client immediately.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.doc = ""
	e.pending = nil
	snap := Snapshot{ExternalURL: e.external}
	e.mu.Unlock()

	e.notify(snap)
	return e.publish(ctx, transport.TopicNotes, "")
}

// SetExternalURL points every client at an externally hosted notes page.
// An empty url reverts to the built-in document.
func (e *Engine) SetExternalURL(ctx context.Context, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return ErrInvalidURL
		}
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.external = raw
	snap := Snapshot{Document: e.doc, ExternalURL: raw}
	e.mu.Unlock()

	e.notify(snap)
	return e.publish(ctx, transport.TopicNotesControl, control{URL: &raw})
}

// ClearExternalURL reverts every client to the built-in document.
func (e *Engine) ClearExternalURL(ctx context.Context) error {
	return e.SetExternalURL(ctx, "")
}

// ApplyRemote installs a document received from the relay.
func (e *Engine) ApplyRemote(data []byte) error {
	var doc *string
	if err := json.Unmarshal(data, &doc); err != nil || doc == nil {
		return ErrMalformedPayload
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if !e.lastEdit.IsZero() && e.clock.Since(e.lastEdit) < e.opts.EchoGuard {
		e.mu.Unlock()
		log.Debug().Msg("remote notes suppressed during local edit")
		return nil
	}
	if e.doc == *doc {
		e.mu.Unlock()
		return nil
	}
	e.doc = *doc
	snap := Snapshot{Document: e.doc, ExternalURL: e.external}
	e.mu.Unlock()

	e.notify(snap)
	return nil
}

// ApplyControl installs an external pointer received from the relay.
func (e *Engine) ApplyControl(data []byte) error {
	var c control
	if err := json.Unmarshal(data, &c); err != nil || c.URL == nil {
		return ErrMalformedPayload
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	if e.external == *c.URL {
		e.mu.Unlock()
		return nil
	}
	e.external = *c.URL
	snap := Snapshot{Document: e.doc, ExternalURL: e.external}
	e.mu.Unlock()

	e.notify(snap)
	return nil
}

// Flush publishes a pending edit immediately.
func (e *Engine) Flush() {
	e.publisher.Flush()
}

// Close drops any pending edit and releases the subscriptions.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	cancelers := e.cancelers
	e.cancelers = nil
	e.mu.Unlock()

	if e.publisher.Pending() {
		log.Debug().Msg("dropping unsent notes edit")
	}
	e.publisher.Stop()
	for _, cancel := range cancelers {
		cancel()
	}
}

func (e *Engine) notify(s Snapshot) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	for _, fn := range e.observers {
		fn(s)
	}
}

func (e *Engine) publishPending() {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.mu.Unlock()
	if pending == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.PublishTimeout)
	defer cancel()
	if err := e.publish(ctx, transport.TopicNotes, *pending); err != nil {
		log.Warn().Err(err).Msg("failed to publish notes")
	}
}

func (e *Engine) publish(ctx context.Context, topic string, v any) error {
	if e.adapter == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	if err := e.adapter.Publish(ctx, topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
