// Package conversation runs the conversation sequence an initiator hosts:
// open a detection zone, let nearby agents register, draft a few of them as
// listeners, hold, then release everyone.
package conversation

import (
	"log/slog"
	"time"

	"github.com/talgya/conclave/internal/agents"
	"github.com/talgya/conclave/internal/config"
	"github.com/talgya/conclave/internal/entropy"
	"github.com/talgya/conclave/internal/task"
	"github.com/talgya/conclave/internal/world"
)

// Event reports the start or end of a conversation.
type Event struct {
	Kind      string           `json:"kind"` // "conversation_started" or "conversation_ended"
	Initiator agents.AgentID   `json:"initiator"`
	Listeners []agents.AgentID `json:"listeners"`
	Scheme    bool             `json:"scheme"`
}

// Coordinator builds conversation sequences. It implements
// agents.Conversations.
type Coordinator struct {
	cfg             config.Conversation
	space           *world.Space[*agents.Agent]
	rng             *entropy.Rand
	schemeInfluence int

	// OnEvent observes conversations; may be nil.
	OnEvent func(Event)
}

// New creates a coordinator whose transient zones live in space.
func New(cfg config.Conversation, space *world.Space[*agents.Agent], rng *entropy.Rand, schemeInfluence int) *Coordinator {
	return &Coordinator{cfg: cfg, space: space, rng: rng, schemeInfluence: schemeInfluence}
}

// Begin returns the sequence for initiator. In scheme mode fewer listeners
// are drafted into StateSchemeConversation and the initiator gains influence.
func (c *Coordinator) Begin(initiator *agents.Agent, scheme bool) task.Task {
	return &sequence{c: c, host: initiator, scheme: scheme}
}

type phase uint8

const (
	phaseOpen phase = iota
	phaseSettle
	phaseHold
)

type sequence struct {
	c      *Coordinator
	host   *agents.Agent
	scheme bool

	phase      phase
	timer      task.Timer
	zone       *world.Zone[*agents.Agent]
	candidates []*agents.Agent
	listeners  []*agents.Agent
}

func (s *sequence) Step(now time.Duration) bool {
	switch s.phase {
	case phaseOpen:
		s.host.Nav.Halt()
		s.openZone()
		s.timer.Set(now, s.c.cfg.Settle)
		s.phase = phaseSettle
		return false

	case phaseSettle:
		if !s.timer.Done(now) {
			return false
		}
		s.draft()
		s.timer.Set(now, s.c.cfg.Duration)
		s.phase = phaseHold
		s.emit("conversation_started")
		return false

	case phaseHold:
		if !s.timer.Done(now) {
			return false
		}
		s.release()
		if s.scheme {
			s.host.Stats.ChangeInfluence(s.c.schemeInfluence)
		}
		s.emit("conversation_ended")
		return true
	}
	return true
}

// Stop tears the sequence down when the host is pulled away early.
func (s *sequence) Stop() {
	s.release()
	slog.Debug("conversation cut short", "initiator", s.host.ID, "listeners", len(s.listeners))
}

func (s *sequence) openZone() {
	if s.c.space == nil {
		return
	}
	s.zone = &world.Zone[*agents.Agent]{
		Name:   "conversation",
		Center: s.host.Pos(),
		Radius: s.c.cfg.Radius,
		Filter: world.TagNPC,
		OnEnter: func(a *agents.Agent) {
			if a != s.host {
				s.candidates = append(s.candidates, a)
			}
		},
		OnExit: func(a *agents.Agent) {
			for i, x := range s.candidates {
				if x == a {
					s.candidates = append(s.candidates[:i], s.candidates[i+1:]...)
					return
				}
			}
		},
	}
	s.c.space.Add(s.zone)
}

// draft samples up to the listener limit from registered candidates and
// forces each into the listening state. Candidates that refuse still use up
// their draw.
func (s *sequence) draft() {
	limit := s.c.cfg.MaxListeners
	if s.scheme {
		limit = s.c.cfg.SchemeListeners
	}
	pool := make([]*agents.Agent, 0, len(s.candidates))
	for _, a := range s.candidates {
		if a.Active {
			pool = append(pool, a)
		}
	}
	for _, i := range s.c.rng.Sample(len(pool), limit) {
		if a := pool[i]; a.Listen(s.host, s.scheme) {
			s.listeners = append(s.listeners, a)
		}
	}
}

// release frees listeners still held and destroys the zone.
func (s *sequence) release() {
	for _, a := range s.listeners {
		a.Release()
	}
	if s.zone != nil {
		s.c.space.Remove(s.zone)
		s.zone = nil
	}
}

func (s *sequence) emit(kind string) {
	if s.c.OnEvent == nil {
		return
	}
	ids := make([]agents.AgentID, 0, len(s.listeners))
	for _, a := range s.listeners {
		ids = append(ids, a.ID)
	}
	s.c.OnEvent(Event{Kind: kind, Initiator: s.host.ID, Listeners: ids, Scheme: s.scheme})
}
