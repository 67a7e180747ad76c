package session

import (
	"time"
)

// Status is the lifecycle position of a speaker in the queue.
type Status string

// Speaker statuses, in lifecycle order.
const (
	// StatusWaiting is queued and not yet called.
	StatusWaiting Status = "waiting"
	// StatusPresent holds the floor for the present leg.
	StatusPresent Status = "present"
	// StatusQA holds the floor for the Q&A leg.
	StatusQA Status = "qa"
	// StatusDone has finished.
	StatusDone Status = "done"
)

// Phase is the leg of the active speaker's slot.
type Phase string

// Phases of a slot.
const (
	// PhasePresent times the talk itself.
	PhasePresent Phase = "present"
	// PhaseQA times the questions after it.
	PhaseQA Phase = "qa"
)

// Minute settings bounds and defaults.
const (
	// MinMinutes is the shortest leg a minute setting clamps to.
	MinMinutes = 1
	// MaxMinutes is the longest leg a minute setting clamps to.
	MaxMinutes = 30
	// DefaultMinutes is the length of both legs in a fresh session.
	DefaultMinutes = 5
	// MaxNameLength is the longest speaker name, in runes.
	MaxNameLength = 32
)

// Speaker is one entry in the queue.
type Speaker struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   Status `json:"status"`
	Breakout bool   `json:"breakout"`
}

// IsActive reports whether the speaker currently holds the floor.
func (s Speaker) IsActive() bool {
	return s.Status == StatusPresent || s.Status == StatusQA
}

// State is the replicated session document. It travels wholesale on the
// state topic; ActiveStartedAt is epoch milliseconds so every client can
// anchor its countdown on the same instant.
type State struct {
	Speakers        []Speaker `json:"speakers"`
	PresentMins     int       `json:"presentMins"`
	QAMins          int       `json:"qaMins"`
	Phase           Phase     `json:"phase"`
	TimerRunning    bool      `json:"timerRunning"`
	ActiveStartedAt *int64    `json:"activeStartedAt"`
	PausedElapsed   int64     `json:"pausedElapsed"`
}

// InitialState returns the state a fresh session starts with.
func InitialState() State {
	return State{
		Speakers:    []Speaker{},
		PresentMins: DefaultMinutes,
		QAMins:      DefaultMinutes,
		Phase:       PhasePresent,
	}
}

// Clone returns a deep copy safe to hand to observers.
func (s State) Clone() State {
	out := s
	out.Speakers = make([]Speaker, len(s.Speakers))
	copy(out.Speakers, s.Speakers)
	if s.ActiveStartedAt != nil {
		v := *s.ActiveStartedAt
		out.ActiveStartedAt = &v
	}
	return out
}

// ActiveIndex returns the index of the active speaker or -1.
func (s State) ActiveIndex() int {
	for i, sp := range s.Speakers {
		if sp.IsActive() {
			return i
		}
	}
	return -1
}

// Active returns the active speaker, if any.
func (s State) Active() (Speaker, bool) {
	if i := s.ActiveIndex(); i >= 0 {
		return s.Speakers[i], true
	}
	return Speaker{}, false
}

// IndexOf returns the queue position of the speaker with id, or -1.
func (s State) IndexOf(id string) int {
	for i, sp := range s.Speakers {
		if sp.ID == id {
			return i
		}
	}
	return -1
}

// StartedAt converts the wire anchor into a time value.
func (s State) StartedAt() (time.Time, bool) {
	if s.ActiveStartedAt == nil {
		return time.Time{}, false
	}
	return time.UnixMilli(*s.ActiveStartedAt), true
}

// PhaseMinutes returns the configured minutes for the current phase.
func (s State) PhaseMinutes() int {
	mins := s.PresentMins
	if s.Phase == PhaseQA {
		mins = s.QAMins
	}
	if mins <= 0 {
		mins = DefaultMinutes
	}
	return mins
}

// Summary is the derived view the render layer reads.
type Summary struct {
	Active    *Speaker `json:"active,omitempty"`
	Total     int      `json:"total"`
	Waiting   int      `json:"waiting"`
	Done      int      `json:"done"`
	Remaining int      `json:"remaining"`
	Position  int      `json:"position"`
	Started   bool     `json:"started"`
	AllDone   bool     `json:"all_done"`
}

// Summarize derives queue counters from a state.
func Summarize(s State) Summary {
	sum := Summary{Total: len(s.Speakers)}
	for i := range s.Speakers {
		sp := s.Speakers[i]
		switch sp.Status {
		case StatusWaiting:
			sum.Waiting++
		case StatusDone:
			sum.Done++
		default:
			active := sp
			sum.Active = &active
		}
	}
	sum.Started = sum.Waiting < sum.Total
	sum.Remaining = sum.Waiting
	if sum.Active != nil {
		sum.Remaining++
		sum.Position = sum.Done + 1
	}
	sum.AllDone = sum.Total > 0 && sum.Waiting == 0 && sum.Active == nil
	return sum
}

func clampMinutes(n int) int {
	if n < MinMinutes {
		return MinMinutes
	}
	if n > MaxMinutes {
		return MaxMinutes
	}
	return n
}
