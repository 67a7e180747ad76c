package timer

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/ladder/go/internal/session"
	"github.com/rs/zerolog/log"
)

// TickInterval is how often a running countdown is recomputed.
const TickInterval = time.Second

// Store is the slice of the session engine the runner drives.
type Store interface {
	Snapshot() session.State
	Subscribe(fn func(session.State)) (cancel func())
	HandleExpiry() error
}

// Runner recomputes the countdown on every state change and every tick,
// and reports the expiry edge back to the store.
type Runner struct {
	store    Store
	clock    clockwork.Clock
	detector ExpiryDetector
	onView   func(View)
}

// NewRunner creates a runner. onView may be nil.
func NewRunner(store Store, clock clockwork.Clock, onView func(View)) *Runner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Runner{store: store, clock: clock, onView: onView}
}

// Run blocks until ctx is cancelled. The ticker and store subscription are
// released on return.
func (r *Runner) Run(ctx context.Context) error {
	changed := make(chan struct{}, 1)
	cancel := r.store.Subscribe(func(session.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer cancel()

	ticker := r.clock.NewTicker(TickInterval)
	defer ticker.Stop()

	r.evaluate()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
			r.evaluate()
		case <-ticker.Chan():
			r.evaluate()
		}
	}
}

func (r *Runner) evaluate() {
	v := Evaluate(r.store.Snapshot(), r.clock.Now())
	if r.detector.Observe(v) {
		log.Info().
			Str("speaker_id", v.ActiveID).
			Str("phase", string(v.Phase)).
			Msg("speaker time expired")
		if err := r.store.HandleExpiry(); err != nil {
			log.Warn().Err(err).Msg("failed to flag expiry")
		}
	}
	if r.onView != nil {
		r.onView(v)
	}
}
