// Session clock: day counter, period of the day, the countdown that runs
// while the floor is open, and the health drain applied while it runs.
package engine

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/talgya/conclave/internal/agents"
	"github.com/talgya/conclave/internal/config"
)

// Period is the part of the day a session belongs to.
type Period uint8

const (
	PeriodDawn Period = iota
	PeriodMorning
	PeriodAfternoon
	PeriodEvening
)

var periodNames = [...]string{"dawn", "morning", "afternoon", "evening"}

// String returns the lower-case period name.
func (p Period) String() string {
	if int(p) < len(periodNames) {
		return periodNames[p]
	}
	return "unknown"
}

// ParsePeriod is the inverse of String.
func ParsePeriod(name string) (Period, bool) {
	for i, n := range periodNames {
		if n == name {
			return Period(i), true
		}
	}
	return 0, false
}

// Session tracks the current day and period and counts down the time left
// in it.
type Session struct {
	ID        uuid.UUID     `json:"id"`
	Day       int           `json:"day"`
	Period    Period        `json:"-"`
	Remaining time.Duration `json:"-"`

	max     time.Duration
	drain   float64 // health points per second
	running bool
	carry   float64 // fractional drain not yet applied

	// OnExpire runs once when the countdown reaches zero.
	OnExpire func()
}

// NewSession starts on day 1 at dawn with a full clock.
func NewSession(b config.Balance) *Session {
	return &Session{
		ID:        uuid.New(),
		Day:       1,
		Period:    PeriodDawn,
		Remaining: b.MaxSessionTime,
		max:       b.MaxSessionTime,
		drain:     b.HealthDrainPerSecond,
	}
}

// Restore sets the day and period, for example from a saved game. The clock
// is refilled.
func (s *Session) Restore(day int, p Period) {
	if day < 1 {
		day = 1
	}
	s.Day = day
	s.Period = p
	s.Remaining = s.max
}

// Advance moves to the next period, rolling evening over into the next
// day's dawn, and refills the clock.
func (s *Session) Advance() {
	if s.Period == PeriodEvening {
		s.Period = PeriodDawn
		s.Day++
	} else {
		s.Period++
	}
	s.Remaining = s.max
	s.ID = uuid.New()
	slog.Info("session started", "day", s.Day, "period", s.Period, "session", s.ID)
}

// StartTimer lets the clock run. A session whose time already ran out is
// replaced by the next period first.
func (s *Session) StartTimer() {
	if s.Remaining <= 0 {
		s.Advance()
	}
	s.running = true
}

// StopTimer freezes the clock.
func (s *Session) StopTimer() { s.running = false }

// Running reports whether the clock is counting down.
func (s *Session) Running() bool { return s.running }

// Tick counts down dt and drains health from the active agents in pool.
func (s *Session) Tick(dt time.Duration, pool []*agents.Agent) {
	if !s.running {
		return
	}

	s.carry += s.drain * dt.Seconds()
	if whole := math.Floor(s.carry); whole >= 1 {
		s.carry -= whole
		for _, a := range pool {
			if a.Active {
				a.Stats.ChangeHealth(-int(whole))
			}
		}
	}

	s.Remaining -= dt
	if s.Remaining > 0 {
		return
	}
	s.Remaining = 0
	s.running = false
	slog.Info("session time expired", "day", s.Day, "period", s.Period)
	if s.OnExpire != nil {
		s.OnExpire()
	}
}

// Clock renders the session position, e.g. "Day 2 morning 1:05 left".
func (s *Session) Clock() string {
	secs := int(s.Remaining.Round(time.Second) / time.Second)
	return fmt.Sprintf("Day %d %s %d:%02d left", s.Day, s.Period, secs/60, secs%60)
}

// Progress scores the run so far from the day count and the pool's total
// health and influence.
func (s *Session) Progress(healthSum, influenceSum int) int {
	day := (s.Day - 1) * 10
	hp := math.Round(clamp((400-float64(healthSum))*0.025, 0, 10))
	pol := math.Round(clamp(float64(influenceSum)*0.075, 0, 30))
	return day + int(hp) + int(pol)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
