package station

import (
	"log/slog"
	"slices"
	"time"

	"github.com/talgya/conclave/internal/agents"
	"github.com/talgya/conclave/internal/config"
	"github.com/talgya/conclave/internal/task"
	"github.com/talgya/conclave/internal/world"
)

const defaultArrivalRadius = 0.5

// EventKind names a station decision.
type EventKind string

const (
	EventSummoned     EventKind = "summoned"
	EventOverflow     EventKind = "overflow"
	EventPromoted     EventKind = "promoted"
	EventDispatched   EventKind = "dispatched"
	EventServiceStart EventKind = "service_started"
	EventServiceDone  EventKind = "service_done"
	EventSlotFreed    EventKind = "slot_freed"
	EventJoined       EventKind = "joined"
	EventCancelled    EventKind = "cancelled"
)

// Event reports a station decision about one agent.
type Event struct {
	Station string         `json:"station"`
	Kind    EventKind      `json:"kind"`
	Agent   agents.AgentID `json:"agent"`
}

// Station is the scheduler for one service station. All methods must be
// called from the simulation tick.
type Station struct {
	cfg       config.Station
	env       *agents.Env
	cooldowns *CooldownRegistry

	zone     *world.Zone[*agents.Agent]
	joinZone *world.Zone[*agents.Agent]

	candidates []*agents.Agent // registration order
	queue      []*agents.Agent
	overflow   *agents.Agent
	current    *agents.Agent
	reserved   int

	service    task.Timer
	dispatched time.Duration
	callTimer  time.Duration
	lastTick   time.Duration
	ticked     bool

	// OnEvent observes decisions; may be nil.
	OnEvent func(Event)
}

// New creates a station from cfg. Actions draw randomness and balance from
// env.
func New(cfg config.Station, env *agents.Env) *Station {
	s := &Station{
		cfg:       cfg,
		env:       env,
		cooldowns: NewCooldownRegistry(cfg.Cooldown),
	}
	if cfg.DetectionRadius > 0 {
		s.zone = &world.Zone[*agents.Agent]{
			Name:    cfg.Name + "/detect",
			Center:  cfg.Position,
			Radius:  cfg.DetectionRadius,
			Filter:  world.TagNPC,
			OnEnter: s.AddCandidate,
			OnExit:  s.RemoveCandidate,
		}
	}
	if cfg.JoinRadius > 0 {
		s.joinZone = &world.Zone[*agents.Agent]{
			Name:    cfg.Name + "/join",
			Center:  cfg.WaitingPoint,
			Radius:  cfg.JoinRadius,
			Filter:  world.TagPlayer,
			OnEnter: func(a *agents.Agent) { s.Join(a) },
		}
	}
	return s
}

// Name returns the configured name.
func (s *Station) Name() string { return s.cfg.Name }

// Config returns the station's configuration.
func (s *Station) Config() config.Station { return s.cfg }

// Cooldowns exposes the registry.
func (s *Station) Cooldowns() *CooldownRegistry { return s.cooldowns }

// Zones returns the proximity zones to register with the world space.
func (s *Station) Zones() []*world.Zone[*agents.Agent] {
	var zs []*world.Zone[*agents.Agent]
	if s.zone != nil {
		zs = append(zs, s.zone)
	}
	if s.joinZone != nil {
		zs = append(zs, s.joinZone)
	}
	return zs
}

// AddCandidate registers a for selection. The player is never a candidate.
func (s *Station) AddCandidate(a *agents.Agent) {
	if a.IsPlayer() || slices.Contains(s.candidates, a) {
		return
	}
	s.candidates = append(s.candidates, a)
}

// RemoveCandidate drops a from the candidate set.
func (s *Station) RemoveCandidate(a *agents.Agent) {
	if i := slices.Index(s.candidates, a); i >= 0 {
		s.candidates = slices.Delete(s.candidates, i, i+1)
	}
}

// Tick runs one scheduling pass: service progress, occupancy re-validation,
// queue promotion, then the summon cadence.
func (s *Station) Tick(now time.Duration) {
	var dt time.Duration
	if s.ticked {
		dt = now - s.lastTick
	}
	s.lastTick, s.ticked = now, true

	s.purge()
	s.advanceService(now)
	s.checkOccupancy()
	s.promote(now)

	if len(s.queue) == 0 && s.overflow == nil {
		s.callTimer += dt
		if s.callTimer >= s.cfg.CallInterval {
			s.callTimer = 0
			s.Summon(now)
		}
	}
}

// purge lazily drops deactivated agents and queued agents that were pulled
// out of ReadyForService by something else.
func (s *Station) purge() {
	s.candidates = slices.DeleteFunc(s.candidates, func(a *agents.Agent) bool { return !a.Active })
	s.queue = slices.DeleteFunc(s.queue, func(a *agents.Agent) bool {
		return !a.Active || a.State() != agents.StateReadyForService
	})
	if o := s.overflow; o != nil && (!o.Active || o.State() != agents.StateReadyForService) {
		s.overflow = nil
	}
}

func (s *Station) advanceService(now time.Duration) {
	a := s.current
	if a == nil || !a.Active {
		return
	}
	switch a.State() {
	case agents.StateReadyForService:
		if a.Arrived() && world.Distance(a.Pos(), s.cfg.ActionPoint) <= s.arrivalRadius() {
			a.BeginService()
			s.service.Set(now, s.cfg.ServiceDuration)
			s.emit(EventServiceStart, a)
			return
		}
		// An unreachable action point would block the station forever.
		if st := s.env.Movement.StallTimeout; st > 0 && a.Nav.HasPendingPath() && now-s.dispatched >= st {
			slog.Debug("service order stalled", "station", s.cfg.Name, "agent", a.ID)
			a.RequestTransition(agents.StateIdle)
		}
	case agents.StateInService:
		if !s.service.Armed() {
			s.service.Set(now, s.cfg.ServiceDuration)
		}
		if !s.service.Done(now) {
			return
		}
		s.service.Reset()
		res := agents.Perform(s.cfg.Action, &a.Stats, s.env.Balance, s.env.Rand)
		if s.env.OnAction != nil {
			s.env.OnAction(a, s.cfg.Action, res)
		}
		s.emit(EventServiceDone, a)
		a.RequestTransition(agents.StateIdle)
	}
}

// checkOccupancy clears the assignment when the served agent is no longer
// heading to or using the station.
func (s *Station) checkOccupancy() {
	a := s.current
	if a == nil {
		return
	}
	if a.Active {
		switch a.State() {
		case agents.StateReadyForService, agents.StateInService:
			return
		}
	}
	slog.Debug("service slot freed", "station", s.cfg.Name, "agent", a.ID, "state", a.State())
	s.current = nil
	s.service.Reset()
	s.emit(EventSlotFreed, a)
}

func (s *Station) promote(now time.Duration) {
	s.promoteOverflow()
	if s.current == nil && len(s.queue) > 0 {
		head := s.queue[0]
		s.queue = slices.Delete(s.queue, 0, 1)
		s.current = head
		s.dispatched = now
		head.OrderToService(s.cfg.ActionPoint)
		s.emit(EventDispatched, head)
		s.promoteOverflow()
	}
}

// promoteOverflow moves the overflow occupant to the back of the queue once
// the queue has an unreserved slot for it.
func (s *Station) promoteOverflow() {
	if s.overflow == nil || s.freeSlots() <= 0 {
		return
	}
	o := s.overflow
	s.overflow = nil
	s.queue = append(s.queue, o)
	o.OrderToService(s.cfg.WaitingPoint)
	s.emit(EventPromoted, o)
}

// Summon selects the nearest eligible candidate and admits it to the queue,
// or to the overflow holder when the queue is full. It reports whether an
// agent was admitted.
func (s *Station) Summon(now time.Duration) bool {
	toQueue := s.freeSlots() > 0
	toOverflow := !toQueue && s.cfg.OverflowPoint != nil && s.overflow == nil
	if !toQueue && !toOverflow {
		return false
	}
	a := s.selectCandidate(now)
	if a == nil {
		return false
	}
	if toQueue {
		s.queue = append(s.queue, a)
		a.OrderToService(s.cfg.WaitingPoint)
		s.emit(EventSummoned, a)
	} else {
		s.overflow = a
		a.OrderToService(*s.cfg.OverflowPoint)
		s.emit(EventOverflow, a)
	}
	s.cooldowns.Record(a.ID, now)
	slog.Debug("agent summoned", "station", s.cfg.Name, "agent", a.ID, "overflow", toOverflow)
	return true
}

// selectCandidate returns the eligible candidate nearest the station; ties
// go to the earliest registered.
func (s *Station) selectCandidate(now time.Duration) *agents.Agent {
	var best *agents.Agent
	bestDist := 0.0
	for _, a := range s.candidates {
		if !s.eligible(a, now) {
			continue
		}
		d := world.Distance(a.Pos(), s.cfg.Position)
		if best == nil || d < bestDist {
			best, bestDist = a, d
		}
	}
	return best
}

func (s *Station) eligible(a *agents.Agent, now time.Duration) bool {
	return a.Active &&
		!a.IsPlayer() &&
		!a.Schemer &&
		!a.Busy() &&
		s.cooldowns.Ready(a.ID, now) &&
		!s.Holds(a)
}

// Holds reports whether a is queued, in overflow or being served.
func (s *Station) Holds(a *agents.Agent) bool {
	return a == s.current || a == s.overflow || slices.Contains(s.queue, a)
}

func (s *Station) freeSlots() int {
	return s.cfg.Slots - len(s.queue) - s.reserved
}

// TryReserveSpot reserves a queue slot for a player join. It fails when the
// queue, counting earlier reservations, is full.
func (s *Station) TryReserveSpot() bool {
	if s.freeSlots() <= 0 {
		return false
	}
	s.reserved++
	return true
}

// Join puts a player-controlled agent in line: into a reserved or free queue
// slot, else into the overflow holder. Only idle agents can join. It reports
// whether a was admitted.
func (s *Station) Join(a *agents.Agent) bool {
	if !a.Active || a.Busy() || s.Holds(a) {
		return false
	}
	switch {
	case s.reserved > 0 && len(s.queue) < s.cfg.Slots:
		s.reserved--
	case s.freeSlots() > 0:
	case s.cfg.OverflowPoint != nil && s.overflow == nil:
		s.overflow = a
		a.OrderToService(*s.cfg.OverflowPoint)
		s.emit(EventJoined, a)
		return true
	default:
		return false
	}
	s.queue = append(s.queue, a)
	a.OrderToService(s.cfg.WaitingPoint)
	s.emit(EventJoined, a)
	return true
}

// CancelReservation takes a out of the line (queue, overflow, or the service
// slot) and returns it to Idle. For an agent not yet in line it releases one
// outstanding reservation instead.
func (s *Station) CancelReservation(a *agents.Agent) bool {
	found := a != nil
	switch {
	case !found:
	case a == s.overflow:
		s.overflow = nil
	case a == s.current:
		s.current = nil
		s.service.Reset()
	default:
		i := slices.Index(s.queue, a)
		if i < 0 {
			found = false
			break
		}
		s.queue = slices.Delete(s.queue, i, i+1)
	}
	if !found {
		if s.reserved > 0 {
			s.reserved--
		}
		return false
	}
	a.RequestTransition(agents.StateIdle)
	s.emit(EventCancelled, a)
	return true
}

// Reset empties the line and forgets cooldowns, for a new session.
func (s *Station) Reset() {
	s.queue = nil
	s.overflow = nil
	s.current = nil
	s.reserved = 0
	s.callTimer = 0
	s.service.Reset()
	s.cooldowns = NewCooldownRegistry(s.cfg.Cooldown)
}

func (s *Station) arrivalRadius() float64 {
	if s.cfg.ArrivalRadius > 0 {
		return s.cfg.ArrivalRadius
	}
	return defaultArrivalRadius
}

func (s *Station) emit(kind EventKind, a *agents.Agent) {
	if s.OnEvent != nil {
		s.OnEvent(Event{Station: s.cfg.Name, Kind: kind, Agent: a.ID})
	}
}

// Status is a read-only view of the station.
type Status struct {
	Name       string           `json:"name"`
	Action     config.Action    `json:"action"`
	Slots      int              `json:"slots"`
	Current    *agents.AgentID  `json:"current,omitempty"`
	Queue      []agents.AgentID `json:"queue"`
	Overflow   *agents.AgentID  `json:"overflow,omitempty"`
	Reserved   int              `json:"reserved"`
	Candidates int              `json:"candidates"`
}

// Status snapshots the station.
func (s *Station) Status() Status {
	st := Status{
		Name:       s.cfg.Name,
		Action:     s.cfg.Action,
		Slots:      s.cfg.Slots,
		Queue:      make([]agents.AgentID, 0, len(s.queue)),
		Reserved:   s.reserved,
		Candidates: len(s.candidates),
	}
	for _, a := range s.queue {
		st.Queue = append(st.Queue, a.ID)
	}
	if s.current != nil {
		id := s.current.ID
		st.Current = &id
	}
	if s.overflow != nil {
		id := s.overflow.ID
		st.Overflow = &id
	}
	return st
}

// Current returns the agent holding the service slot, or nil.
func (s *Station) Current() *agents.Agent { return s.current }

// Queue returns a copy of the main queue.
func (s *Station) Queue() []*agents.Agent { return slices.Clone(s.queue) }

// Overflow returns the overflow occupant, or nil.
func (s *Station) Overflow() *agents.Agent { return s.overflow }
