package watch

import (
	"strings"
	"time"
)

// Ticker rotates through frames to show the screen is alive.
// Stops rotating if no ticks arrive (indicates freeze).
type Ticker struct {
	frames   []string
	index    int
	lastTick time.Time
}

func NewTicker() Ticker {
	return Ticker{
		frames:   []string{"⟲", "⟳"},
		lastTick: time.Now(),
	}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
	t.lastTick = time.Now()
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

const (
	spinnerDots     = 5
	spinnerDotDecay = 2 * time.Second // one dot fades per interval of silence
)

// Spinner shows dispatch activity as a row of dots that light up on events
// and fade one by one while the stream is quiet.
type Spinner struct {
	lit       int
	lastEvent time.Time
}

func NewSpinner() Spinner {
	return Spinner{}
}

func (s *Spinner) OnEvent() {
	s.lit = spinnerDots
	s.lastEvent = time.Now()
}

// Decay recomputes the lit dot count from the time since the last event.
func (s *Spinner) Decay() {
	if s.lit == 0 {
		return
	}
	lit := spinnerDots - int(time.Since(s.lastEvent)/spinnerDotDecay)
	if lit < 0 {
		lit = 0
	}
	if lit < s.lit {
		s.lit = lit
	}
}

func (s Spinner) Render(theme Theme) string {
	var result strings.Builder
	for i := range spinnerDots {
		if i < s.lit {
			result.WriteString(theme.TickerActive.Render("●"))
		} else {
			result.WriteString(theme.TickerInactive.Render("○"))
		}
	}
	return result.String()
}

func (s Spinner) LastEvent() time.Time {
	return s.lastEvent
}
