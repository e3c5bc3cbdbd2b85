// Simulation ties together the pool, stations, conversations and the
// session clock, and runs them each tick.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talgya/conclave/internal/agents"
	"github.com/talgya/conclave/internal/config"
	"github.com/talgya/conclave/internal/conversation"
	"github.com/talgya/conclave/internal/entropy"
	"github.com/talgya/conclave/internal/station"
	"github.com/talgya/conclave/internal/task"
	"github.com/talgya/conclave/internal/world"
)

// maxEvents bounds the in-memory event ring.
const maxEvents = 1000

// Errors returned by player and session commands.
var (
	ErrNoPlayer       = errors.New("player is not on the floor")
	ErrUnknownStation = errors.New("unknown station")
	ErrRejected       = errors.New("request rejected in current state")
)

// Event is a notable occurrence on the floor.
type Event struct {
	Seq         uint64         `json:"seq"`
	Tick        uint64         `json:"tick"`
	Time        string         `json:"time"`     // sim time since start
	Category    string         `json:"category"` // "agent", "station", "conversation", "action", "choreography", "session"
	Description string         `json:"description"`
	Agent       agents.AgentID `json:"agent,omitempty"`
}

// Simulation is the process-wide context: every component reads and
// mutates state through it, under its lock.
type Simulation struct {
	mu sync.RWMutex

	Config        config.Config
	Rand          *entropy.Rand
	Sched         *task.Scheduler
	Field         *world.NavField
	Space         *world.Space[*agents.Agent]
	Env           *agents.Env
	Spawner       *agents.Spawner
	Agents        []*agents.Agent // pool then player
	AgentIndex    map[agents.AgentID]*agents.Agent
	Player        *agents.Agent
	Stations      []*station.Station
	StationIndex  map[string]*station.Station
	Conversations *conversation.Coordinator
	Orchestrator  *Orchestrator
	Session       *Session

	Events   []Event // recent events, oldest first
	LastTick uint64

	seq        uint64
	savedSeq   uint64
	checkpoint bool
	subs       map[uint64]chan Event
	nextSub    uint64

	// OnEvent sees every recorded event, under the simulation lock.
	OnEvent func(Event)
}

type stepper interface {
	Step(dt time.Duration)
}

// NewSimulation builds the floor described by cfg: the navigation field,
// the pool and the player at their spawn points (inactive), the stations
// and the conversation coordinator.
func NewSimulation(cfg config.Config, rng *entropy.Rand) *Simulation {
	fieldCfg := cfg.Navigation
	fieldCfg.Clear = cfg.Anchors()
	if fieldCfg.Seed == 0 {
		fieldCfg.Seed = int64(rng.Seed())
	}

	s := &Simulation{
		Config:       cfg,
		Rand:         rng,
		Sched:        task.NewScheduler(),
		Field:        world.NewNavField(fieldCfg),
		Space:        world.NewSpace[*agents.Agent](),
		AgentIndex:   make(map[agents.AgentID]*agents.Agent),
		StationIndex: make(map[string]*station.Station),
		subs:         make(map[uint64]chan Event),
	}

	s.Env = &agents.Env{
		Sched:        s.Sched,
		Rand:         rng,
		Field:        s.Field,
		Balance:      cfg.Balance,
		Wander:       cfg.Wander,
		Movement:     cfg.Movement,
		OnTransition: s.onTransition,
		OnAction:     s.onAction,
	}
	s.Conversations = conversation.New(cfg.Conversation, s.Space, rng, cfg.Balance.SchemeInfluence)
	s.Conversations.OnEvent = s.onConversation
	s.Env.Conversations = s.Conversations

	s.Spawner = agents.NewSpawner(s.Env)
	pool := s.Spawner.SpawnPool(cfg.Orchestrator.NPCCount, cfg.Orchestrator.Left.Spawn)
	s.Player = s.Spawner.SpawnPlayer("", cfg.Orchestrator.Player.Spawn)
	s.Agents = append(append([]*agents.Agent(nil), pool...), s.Player)
	for _, a := range s.Agents {
		s.AgentIndex[a.ID] = a
	}

	for _, sc := range cfg.Stations {
		st := station.New(sc, s.Env)
		st.OnEvent = s.onStation
		for _, z := range st.Zones() {
			s.Space.Add(z)
		}
		s.Stations = append(s.Stations, st)
		s.StationIndex[sc.Name] = st
	}

	s.Orchestrator = NewOrchestrator(cfg.Orchestrator, s.Sched, rng, pool, s.Player)
	s.Orchestrator.OnEvent = s.record
	s.Orchestrator.OnEntryDone = func() {
		s.Session.StartTimer()
		s.record(Event{Category: "session", Description: "session clock started: " + s.Session.Clock()})
		s.checkpoint = true
	}
	s.Orchestrator.OnExitDone = func() {
		s.Session.StopTimer()
		s.checkpoint = true
	}

	s.Session = NewSession(cfg.Balance)
	s.Session.OnExpire = func() {
		s.record(Event{Category: "session", Description: fmt.Sprintf("day %d %s is over", s.Session.Day, s.Session.Period)})
		if s.Config.AutoExit {
			s.Orchestrator.StartExit()
		}
	}
	return s
}

// Step advances the floor by dt: navigation, proximity zones, cooperative
// tasks, stations, then the session clock. It reports whether a checkpoint
// (entry or exit completed) is due.
func (s *Simulation) Step(tick uint64, dt time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastTick = tick
	s.Sched.Advance(dt)
	now := s.Sched.Now()

	for _, a := range s.Agents {
		if n, ok := a.Nav.(stepper); ok {
			n.Step(dt)
		}
	}
	s.Space.Update(s.Agents)
	s.Sched.Run()
	for _, st := range s.Stations {
		st.Tick(now)
	}
	s.Session.Tick(dt, s.Agents)

	due := s.checkpoint
	s.checkpoint = false
	return due
}

// Elapsed returns the sim time since start.
func (s *Simulation) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Sched.Now()
}

// CurrentTick returns the most recently processed tick number.
func (s *Simulation) CurrentTick() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastTick
}

// --- Commands ---

// StartSession clears the stations and begins the entry sequence.
func (s *Simulation) StartSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.Stations {
		st.Reset()
	}
	s.Orchestrator.StartEntry()
	s.record(Event{Category: "session", Description: "entry called"})
}

// EndSession stops the clock and begins the exit sequence.
func (s *Simulation) EndSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Session.StopTimer()
	s.Orchestrator.StartExit()
	s.record(Event{Category: "session", Description: "exit called"})
}

// PlayerMove queues a direction and/or target for the player's next tick.
func (s *Simulation) PlayerMove(dir, target *world.Vec2) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Player == nil || !s.Player.Active {
		return ErrNoPlayer
	}
	if dir != nil {
		s.Player.Input.SetDirection(*dir)
	}
	if target != nil {
		s.Player.Input.SetTarget(*target)
	}
	return nil
}

// PlayerSpeech starts a speech if the player is idle.
func (s *Simulation) PlayerSpeech() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Player == nil || !s.Player.Active {
		return ErrNoPlayer
	}
	if !s.Player.StartSpeech() {
		return ErrRejected
	}
	return nil
}

// JoinStation reserves a place for the player in the named station's line.
func (s *Simulation) JoinStation(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.StationIndex[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStation, name)
	}
	if s.Player == nil || !s.Player.Active {
		return ErrNoPlayer
	}
	reserved := st.TryReserveSpot()
	if !st.Join(s.Player) {
		if reserved {
			st.CancelReservation(nil)
		}
		return ErrRejected
	}
	return nil
}

// CancelStation takes the player out of the named station's line.
func (s *Simulation) CancelStation(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.StationIndex[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStation, name)
	}
	if s.Player == nil {
		return ErrNoPlayer
	}
	if !st.CancelReservation(s.Player) {
		return ErrRejected
	}
	return nil
}

// --- Events ---

// record stamps e and appends it to the ring, then fans it out. Callers
// hold the lock.
func (s *Simulation) record(e Event) {
	s.seq++
	e.Seq = s.seq
	e.Tick = s.LastTick
	e.Time = s.Sched.Now().String()
	s.Events = append(s.Events, e)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}
	if s.OnEvent != nil {
		s.OnEvent(e)
	}
	for id, ch := range s.subs {
		select {
		case ch <- e:
		default:
			slog.Debug("event dropped for slow subscriber", "subscriber", id, "seq", e.Seq)
		}
	}
}

// Subscribe returns a channel receiving every event recorded from now on.
// Events are dropped for subscribers that fall more than buf behind.
func (s *Simulation) Subscribe(buf int) (uint64, <-chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	ch := make(chan Event, buf)
	s.subs[s.nextSub] = ch
	return s.nextSub, ch
}

// Unsubscribe closes and removes a subscription.
func (s *Simulation) Unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs[id]; ok {
		close(ch)
		delete(s.subs, id)
	}
}

// RecentEvents returns up to limit of the newest events, oldest first.
func (s *Simulation) RecentEvents(limit int) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.Events) {
		limit = len(s.Events)
	}
	return append(make([]Event, 0, limit), s.Events[len(s.Events)-limit:]...)
}

func (s *Simulation) onTransition(a *agents.Agent, from, to agents.State) {
	s.record(Event{Category: "agent", Description: fmt.Sprintf("%s: %s -> %s", a.Name, from, to), Agent: a.ID})
}

func (s *Simulation) onAction(a *agents.Agent, action config.Action, res agents.ActionResult) {
	outcome := "failed"
	if res.Success {
		outcome = "succeeded"
	}
	s.record(Event{
		Category:    "action",
		Description: fmt.Sprintf("%s %s %s (health %d, influence %d, piety %d)", a.Name, action, outcome, res.After.Health, res.After.Influence, res.After.Piety),
		Agent:       a.ID,
	})
}

func (s *Simulation) onStation(e station.Event) {
	name := fmt.Sprint(e.Agent)
	if a := s.AgentIndex[e.Agent]; a != nil {
		name = a.Name
	}
	s.record(Event{Category: "station", Description: fmt.Sprintf("%s: %s %s", e.Station, name, e.Kind), Agent: e.Agent})
}

func (s *Simulation) onConversation(e conversation.Event) {
	kind := "conversation"
	if e.Scheme {
		kind = "scheme"
	}
	verb := "started"
	if e.Kind == "conversation_ended" {
		verb = "ended"
	}
	s.record(Event{
		Category:    "conversation",
		Description: fmt.Sprintf("%s %s by %d with %d listeners", kind, verb, e.Initiator, len(e.Listeners)),
		Agent:       e.Initiator,
	})
}
