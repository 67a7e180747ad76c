package timer

import (
	"fmt"
	"time"

	"github.com/mcdev12/ladder/go/internal/session"
)

// Color is the urgency bucket of the countdown.
type Color string

const (
	ColorPresent Color = "present"
	ColorQA      Color = "qa"
	ColorWarning Color = "warning"
	ColorDanger  Color = "danger"
)

// warningRatio is the remaining fraction at which the countdown turns amber.
const warningRatio = 0.25

// View is the countdown derived from a state at one instant.
type View struct {
	ActiveID  string
	Phase     session.Phase
	Running   bool
	Total     int
	Remaining int
	Percent   float64
	Display   string
	Color     Color
	Expired   bool
}

// Evaluate computes the countdown for s at now. An idle or paused timer
// shows the full phase duration; the frozen remainder only matters on resume.
func Evaluate(s session.State, now time.Time) View {
	total := s.PhaseMinutes() * 60
	v := View{
		Phase:     s.Phase,
		Total:     total,
		Remaining: total,
	}
	if s.Phase == "" {
		v.Phase = session.PhasePresent
	}

	active, ok := s.Active()
	if ok {
		v.ActiveID = active.ID
	}
	started, anchored := s.StartedAt()
	if ok && s.TimerRunning && anchored {
		v.Running = true
		elapsed := int(now.Sub(started) / time.Second)
		if elapsed < 0 {
			elapsed = 0
		}
		v.Remaining = max(0, total-elapsed)
	}

	v.Percent = float64(v.Remaining) / float64(total) * 100
	v.Display = formatClock(v.Remaining)
	v.Color = colorFor(v.Remaining, total, v.Phase)
	v.Expired = v.Running && v.Remaining == 0
	return v
}

func formatClock(secs int) string {
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func colorFor(remaining, total int, phase session.Phase) Color {
	ratio := float64(remaining) / float64(total)
	switch {
	case ratio <= 0:
		return ColorDanger
	case ratio <= warningRatio:
		return ColorWarning
	case phase == session.PhaseQA:
		return ColorQA
	default:
		return ColorPresent
	}
}

// ExpiryDetector fires once per (active speaker, phase) when the countdown
// reaches zero while running.
type ExpiryDetector struct {
	fired string
}

// Observe reports whether v is a fresh expiry edge.
func (d *ExpiryDetector) Observe(v View) bool {
	if !v.Expired || v.ActiveID == "" {
		return false
	}
	key := v.ActiveID + "/" + string(v.Phase)
	if key == d.fired {
		return false
	}
	d.fired = key
	return true
}
