// Population choreography: the staggered entry of the pool onto the floor
// and the line-up exit that takes everyone off it again.
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/conclave/internal/agents"
	"github.com/talgya/conclave/internal/config"
	"github.com/talgya/conclave/internal/entropy"
	"github.com/talgya/conclave/internal/task"
	"github.com/talgya/conclave/internal/world"
)

// Sequence names reported by Orchestrator.Sequence.
const (
	SequenceEntry = "entry"
	SequenceExit  = "exit"
)

// Orchestrator owns the agent pool and runs the entry and exit sequences
// as cooperative tasks. At most one sequence runs at a time.
type Orchestrator struct {
	cfg    config.Orchestrator
	sched  *task.Scheduler
	rng    *entropy.Rand
	pool   []*agents.Agent // autonomous agents, in spawn order
	player *agents.Agent   // may be nil

	running *task.Handle
	current string

	OnEvent     func(Event) // Category "choreography"
	OnEntryDone func()
	OnExitDone  func()
}

// NewOrchestrator creates an orchestrator for pool and player.
func NewOrchestrator(cfg config.Orchestrator, sched *task.Scheduler, rng *entropy.Rand, pool []*agents.Agent, player *agents.Agent) *Orchestrator {
	return &Orchestrator{cfg: cfg, sched: sched, rng: rng, pool: pool, player: player}
}

// Pool returns the autonomous agents.
func (o *Orchestrator) Pool() []*agents.Agent { return o.pool }

// Player returns the player agent, or nil.
func (o *Orchestrator) Player() *agents.Agent { return o.player }

// All returns the pool followed by the player.
func (o *Orchestrator) All() []*agents.Agent {
	all := make([]*agents.Agent, 0, len(o.pool)+1)
	all = append(all, o.pool...)
	if o.player != nil {
		all = append(all, o.player)
	}
	return all
}

// Sequence returns the name of the running sequence, or "".
func (o *Orchestrator) Sequence() string {
	if !o.running.Running() {
		return ""
	}
	return o.current
}

// StartEntry begins the entry sequence, replacing any running sequence.
func (o *Orchestrator) StartEntry() {
	o.launch(SequenceEntry, &entrySequence{o: o})
}

// StartExit begins the exit sequence, replacing any running sequence.
func (o *Orchestrator) StartExit() {
	o.launch(SequenceExit, &exitSequence{o: o})
}

func (o *Orchestrator) launch(name string, t task.Task) {
	o.running.Cancel()
	o.current = name
	o.running = o.sched.Start("orchestrator:"+name, t)
	slog.Info("choreography started", "sequence", name, "agents", len(o.All()))
}

func (o *Orchestrator) emit(a *agents.Agent, format string, args ...any) {
	if o.OnEvent == nil {
		return
	}
	e := Event{Category: "choreography", Description: fmt.Sprintf(format, args...)}
	if a != nil {
		e.Agent = a.ID
	}
	o.OnEvent(e)
}

// ActiveInitiators counts agents currently hosting a conversation.
func (o *Orchestrator) ActiveInitiators() int {
	n := 0
	for _, a := range o.All() {
		if a.Active && a.State() == agents.StateConversationInitiator {
			n++
		}
	}
	return n
}

// HealthSum totals health across the pool and the player.
func (o *Orchestrator) HealthSum() int {
	sum := 0
	for _, a := range o.All() {
		sum += a.Stats.Health
	}
	return sum
}

// InfluenceSum totals influence across the pool and the player.
func (o *Orchestrator) InfluenceSum() int {
	sum := 0
	for _, a := range o.All() {
		sum += a.Stats.Influence
	}
	return sum
}

// enter resets a onto spawn and walks it along path.
func enter(a *agents.Agent, path config.Path) *task.Handle {
	a.Reset(path.Spawn)
	return a.MoveAlongWaypoints(path.Waypoints, true)
}

// --- Entry ---

type entryPhase uint8

const (
	entryPairs entryPhase = iota
	entrySettle
	entryArrive
)

type entrySequence struct {
	o      *Orchestrator
	phase  entryPhase
	pair   int
	timer  task.Timer
	moves  []*task.Handle
	player *task.Handle
}

func (e *entrySequence) Step(now time.Duration) bool {
	o := e.o
	switch e.phase {
	case entryPairs:
		if e.timer.Armed() && !e.timer.Done(now) {
			return false
		}
		if i := e.pair * 2; i < len(o.pool) {
			left := o.pool[i]
			e.moves = append(e.moves, enter(left, o.cfg.Left))
			if i+1 < len(o.pool) {
				right := o.pool[i+1]
				e.moves = append(e.moves, enter(right, o.cfg.Right))
			}
			o.emit(left, "pair %d released", e.pair+1)
			e.pair++
			e.timer.Set(now, o.cfg.Stagger)
			return false
		}
		e.timer.Set(now, o.cfg.EntrySettle)
		e.phase = entrySettle
		return false

	case entrySettle:
		if !e.timer.Done(now) {
			return false
		}
		if o.player != nil {
			e.player = enter(o.player, o.cfg.Player)
			o.emit(o.player, "player released")
		}
		e.phase = entryArrive
		return false

	case entryArrive:
		if e.player.Running() {
			return false
		}
		for _, h := range e.moves {
			if h.Running() {
				return false
			}
		}
		e.finish()
		return true
	}
	return true
}

func (e *entrySequence) finish() {
	o := e.o
	for _, a := range o.All() {
		if a.Active {
			a.Free()
		}
	}
	for _, i := range o.rng.Sample(len(o.pool), o.cfg.SchemerCount) {
		o.pool[i].Schemer = true
		slog.Debug("schemer assigned", "agent", o.pool[i].ID)
	}
	slog.Info("entry complete", "agents", len(o.All()), "schemers", min(o.cfg.SchemerCount, len(o.pool)))
	o.emit(nil, "entry complete")
	if o.OnEntryDone != nil {
		o.OnEntryDone()
	}
}

// --- Exit ---

type exitPhase uint8

const (
	exitSettle exitPhase = iota
	exitPop
	exitShift
	exitWait
	exitDrain
)

type leaver struct {
	a *agents.Agent
	h *task.Handle
}

type exitLine struct {
	anchor  config.Lineup
	form    world.Formation
	members []*agents.Agent
}

type exitSequence struct {
	o       *Orchestrator
	started bool
	phase   exitPhase
	timer   task.Timer
	lines   [2]*exitLine
	leavers []leaver
}

func (x *exitSequence) Step(now time.Duration) bool {
	if !x.started {
		x.lineUp(now)
		x.started = true
		return false
	}
	x.reap()

	switch x.phase {
	case exitSettle:
		if !x.timer.Done(now) {
			return false
		}
		x.phase = exitPop
		fallthrough

	case exitPop:
		for _, l := range x.lines {
			if len(l.members) == 0 {
				continue
			}
			head := l.members[0]
			l.members = l.members[1:]
			x.leavers = append(x.leavers, leaver{a: head, h: head.MoveAlongWaypoints([]world.Vec2{l.anchor.Exit}, false)})
		}
		x.timer.Set(now, x.o.cfg.ExitStep)
		x.phase = exitShift
		return false

	case exitShift:
		if !x.timer.Done(now) {
			return false
		}
		for _, l := range x.lines {
			for i, a := range l.members {
				a.MoveAlongWaypoints([]world.Vec2{l.form.Slot(i)}, false)
			}
		}
		x.timer.Set(now, x.o.cfg.ShiftWait)
		x.phase = exitWait
		return false

	case exitWait:
		if !x.timer.Done(now) {
			return false
		}
		if len(x.lines[0].members) > 0 || len(x.lines[1].members) > 0 {
			x.phase = exitPop
			return false
		}
		x.phase = exitDrain
		fallthrough

	case exitDrain:
		if len(x.leavers) > 0 {
			return false
		}
		slog.Info("exit complete")
		x.o.emit(nil, "exit complete")
		if x.o.OnExitDone != nil {
			x.o.OnExitDone()
		}
		return true
	}
	return true
}

// lineUp splits the active agents into two halves and walks each half into
// its line. The formations are laid out once here; later shifts reuse them.
func (x *exitSequence) lineUp(now time.Duration) {
	o := x.o
	var active []*agents.Agent
	for _, a := range o.All() {
		if a.Active {
			active = append(active, a)
		}
	}
	half := len(active) / 2
	groups := [2][]*agents.Agent{active[:half], active[half:]}
	anchors := [2]config.Lineup{o.cfg.LineupLeft, o.cfg.LineupRight}

	for side := range x.lines {
		l := &exitLine{
			anchor:  anchors[side],
			form:    world.NewFormation(anchors[side].Start, anchors[side].End, len(groups[side])),
			members: groups[side],
		}
		for i, a := range l.members {
			a.Choreographed = true
			a.MoveAlongWaypoints([]world.Vec2{l.form.Slot(i)}, false)
		}
		x.lines[side] = l
	}
	x.timer.Set(now, o.cfg.ExitSettle)
	x.phase = exitSettle
}

// reap deactivates leavers whose walk to the exit has finished.
func (x *exitSequence) reap() {
	kept := x.leavers[:0]
	for _, l := range x.leavers {
		if l.h.Running() {
			kept = append(kept, l)
			continue
		}
		l.a.Deactivate()
		x.o.emit(l.a, "%s left the floor", l.a.Name)
	}
	x.leavers = kept
}
