package engine

import (
	"time"

	"github.com/talgya/conclave/internal/agents"
	"github.com/talgya/conclave/internal/station"
	"github.com/talgya/conclave/internal/world"
)

// AgentView is the read-only shape of an agent handed to the API and the
// store.
type AgentView struct {
	ID            agents.AgentID `json:"id"`
	Name          string         `json:"name"`
	Kind          string         `json:"kind"`
	State         string         `json:"state"`
	Position      world.Vec2     `json:"position"`
	Facing        world.Vec2     `json:"facing"`
	Stats         agents.Stats   `json:"stats"`
	Active        bool           `json:"active"`
	Schemer       bool           `json:"schemer"`
	Choreographed bool           `json:"choreographed"`
	Moving        bool           `json:"moving"`
}

// Status summarises the floor.
type Status struct {
	Tick         uint64  `json:"tick"`
	Elapsed      string  `json:"elapsed"`
	SessionID    string  `json:"session_id"`
	Day          int     `json:"day"`
	Period       string  `json:"period"`
	Remaining    float64 `json:"remaining_seconds"`
	Clock        string  `json:"clock"`
	TimerRunning bool    `json:"timer_running"`
	Sequence     string  `json:"sequence,omitempty"`
	Agents       int     `json:"agents"`
	Active       int     `json:"active"`
	Initiators   int     `json:"conversation_initiators"`
	HealthSum    int     `json:"health_sum"`
	InfluenceSum int     `json:"influence_sum"`
	Progress     int     `json:"progress"`
}

// Snapshot is everything the store persists in one save.
type Snapshot struct {
	Tick      uint64
	SessionID string
	Day       int
	Period    string
	Agents    []AgentView
	Events    []Event // recorded since the previous snapshot
}

func viewOf(a *agents.Agent) AgentView {
	return AgentView{
		ID:            a.ID,
		Name:          a.Name,
		Kind:          a.Kind.String(),
		State:         a.State().String(),
		Position:      a.Pos(),
		Facing:        a.Facing,
		Stats:         a.Stats,
		Active:        a.Active,
		Schemer:       a.Schemer,
		Choreographed: a.Choreographed,
		Moving:        a.IsMoving(),
	}
}

// Status returns the floor summary.
func (s *Simulation) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := 0
	for _, a := range s.Agents {
		if a.Active {
			active++
		}
	}
	o := s.Orchestrator
	health, influence := o.HealthSum(), o.InfluenceSum()
	return Status{
		Tick:         s.LastTick,
		Elapsed:      s.Sched.Now().Round(time.Second).String(),
		SessionID:    s.Session.ID.String(),
		Day:          s.Session.Day,
		Period:       s.Session.Period.String(),
		Remaining:    s.Session.Remaining.Seconds(),
		Clock:        s.Session.Clock(),
		TimerRunning: s.Session.Running(),
		Sequence:     o.Sequence(),
		Agents:       len(s.Agents),
		Active:       active,
		Initiators:   o.ActiveInitiators(),
		HealthSum:    health,
		InfluenceSum: influence,
		Progress:     s.Session.Progress(health, influence),
	}
}

// AgentViews returns every agent, pool first.
func (s *Simulation) AgentViews() []AgentView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AgentView, 0, len(s.Agents))
	for _, a := range s.Agents {
		out = append(out, viewOf(a))
	}
	return out
}

// AgentView returns one agent.
func (s *Simulation) AgentView(id agents.AgentID) (AgentView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.AgentIndex[id]
	if !ok {
		return AgentView{}, false
	}
	return viewOf(a), true
}

// StationStatuses returns the line at every station.
func (s *Simulation) StationStatuses() []station.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]station.Status, 0, len(s.Stations))
	for _, st := range s.Stations {
		out = append(out, st.Status())
	}
	return out
}

// Checkpoint captures the state to persist and marks the events it carries
// as saved.
func (s *Simulation) Checkpoint() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Tick:      s.LastTick,
		SessionID: s.Session.ID.String(),
		Day:       s.Session.Day,
		Period:    s.Session.Period.String(),
	}
	for _, a := range s.Agents {
		snap.Agents = append(snap.Agents, viewOf(a))
	}
	for _, e := range s.Events {
		if e.Seq > s.savedSeq {
			snap.Events = append(snap.Events, e)
		}
	}
	s.savedSeq = s.seq
	return snap
}

// Restore applies saved names, stats and schemer flags to agents with
// matching IDs, and the saved day and period to the session. Positions and
// states are not restored: the floor always opens with an entry sequence.
func (s *Simulation) Restore(saved []AgentView, day int, period string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, v := range saved {
		a, ok := s.AgentIndex[v.ID]
		if !ok || a.Kind.String() != v.Kind {
			continue
		}
		a.Name = v.Name
		a.Stats = v.Stats
		a.Schemer = v.Schemer
		n++
	}
	if p, ok := ParsePeriod(period); ok {
		s.Session.Restore(day, p)
	}
	return n
}
