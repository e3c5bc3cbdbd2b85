package agents

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/talgya/conclave/internal/config"
	"github.com/talgya/conclave/internal/entropy"
	"github.com/talgya/conclave/internal/task"
	"github.com/talgya/conclave/internal/world"
)

// Conversations runs the conversation sequence hosted by an initiator.
type Conversations interface {
	Begin(initiator *Agent, scheme bool) task.Task
}

// Env holds the collaborators shared by every agent's state machine.
type Env struct {
	Sched    *task.Scheduler
	Rand     *entropy.Rand
	Field    *world.NavField
	Balance  config.Balance
	Wander   config.Wander
	Movement config.Movement

	Conversations Conversations

	OnTransition func(a *Agent, from, to State)
	OnAction     func(a *Agent, action config.Action, res ActionResult)
}

// RequestTransition moves the agent to s: the exit routine of the current
// state runs, the state is committed, then the enter routine of s runs.
// Requesting the current state does nothing and reports false.
func (a *Agent) RequestTransition(s State) bool {
	if s == a.state {
		return false
	}
	from := a.state
	a.exit(from)
	a.state = s
	slog.Debug("agent transition", "agent", a.ID, "from", from, "to", s)
	if a.env.OnTransition != nil {
		a.env.OnTransition(a, from, s)
	}
	a.enter(s)
	return true
}

func (a *Agent) exit(s State) {
	switch s {
	case StateIdle:
		a.cancel(catWander)
		a.Nav.Halt()
	case StateReadyForService:
		a.Nav.Halt()
	case StateInSpeech:
		a.cancel(catAction)
	case StateConversationInitiator, StateScheming:
		a.cancel(catConversation)
	case StateConversationListener, StateSchemeConversation:
		a.Nav.SetStopped(false)
	case StateChoreographed:
		a.cancel(catMovement)
		a.restorePriority()
	}
}

func (a *Agent) enter(s State) {
	switch s {
	case StateIdle:
		if !a.Active || a.Choreographed {
			return
		}
		if a.IsPlayer() {
			a.start(catWander, "input", &inputTask{a: a})
		} else {
			a.start(catWander, "wander", newWanderTask(a))
		}
	case StateInService:
		a.Nav.Halt()
	case StateInSpeech:
		a.Nav.Halt()
		h := a.start(catAction, "speech", task.Delay(a.env.Balance.SpeechDuration, func() {
			res := PerformSpeech(&a.Stats, a.env.Balance, a.env.Rand)
			if a.env.OnAction != nil {
				a.env.OnAction(a, config.ActionSpeech, res)
			}
		}))
		a.returnToIdleAfter(h, StateInSpeech)
	case StateConversationInitiator, StateScheming:
		a.Nav.Halt()
		var t task.Task = task.Func(func(time.Duration) bool { return true })
		if a.env.Conversations != nil {
			t = a.env.Conversations.Begin(a, s == StateScheming)
		}
		a.returnToIdleAfter(a.start(catConversation, "conversation", t), s)
	case StateConversationListener, StateSchemeConversation:
		a.Nav.Halt()
		a.Nav.SetStopped(true)
	case StateChoreographed:
		a.Nav.ResetPath()
	}
}

func (a *Agent) returnToIdleAfter(h *task.Handle, s State) {
	if h == nil {
		return
	}
	h.OnDone(func() {
		if a.state == s {
			a.RequestTransition(StateIdle)
		}
	})
}

// start launches t in category c, cancelling whatever the agent was running
// there first.
func (a *Agent) start(c category, name string, t task.Task) *task.Handle {
	a.cancel(c)
	if a.env.Sched == nil {
		return nil
	}
	h := a.env.Sched.Start(fmt.Sprintf("%s:%d", name, a.ID), t)
	a.tasks[c] = h
	return h
}

func (a *Agent) cancel(c category) {
	a.tasks[c].Cancel()
	a.tasks[c] = nil
}

// CancelAll cancels every cooperative task the agent owns.
func (a *Agent) CancelAll() {
	for c := category(0); c < numCategories; c++ {
		a.cancel(c)
	}
}

func (a *Agent) restorePriority() {
	if a.IsPlayer() {
		a.Nav.SetAvoidancePriority(a.env.Movement.PriorityPlayer)
	} else {
		a.Nav.SetAvoidancePriority(a.env.Movement.PriorityNPC)
	}
}

// Arrived reports whether the navigator has no pending path, is within its
// stopping distance and has come to rest.
func (a *Agent) Arrived() bool {
	n := a.Nav
	return !n.HasPendingPath() &&
		n.RemainingDistance() <= n.StoppingDistance() &&
		n.Velocity().Len() <= a.env.Movement.ArrivalSpeed
}

// MoveAlongWaypoints switches the agent to StateChoreographed and starts a
// single movement task visiting path in order. A formal entry perturbs the
// final waypoint so arrivals do not pile onto one point.
func (a *Agent) MoveAlongWaypoints(path []world.Vec2, formalEntry bool) *task.Handle {
	a.RequestTransition(StateChoreographed)
	a.Nav.ResetPath()
	return a.start(catMovement, "move", newMoveTask(a, path, formalEntry))
}

// OrderToService sends the agent toward a station point in
// StateReadyForService. Re-ordering an agent already en route only changes
// its destination.
func (a *Agent) OrderToService(dest world.Vec2) {
	a.RequestTransition(StateReadyForService)
	a.Nav.SetDestination(dest)
}

// BeginService marks the agent as performing a station's action.
func (a *Agent) BeginService() {
	a.RequestTransition(StateInService)
}

// Listen holds the agent in a conversation hosted by initiator, facing it.
// Choreographed agents, schemers, other hosts and agents already held by a
// conversation refuse.
func (a *Agent) Listen(initiator *Agent, scheme bool) bool {
	if !a.Active || a.Schemer || a.Choreographed || a == initiator || a.Listening() {
		return false
	}
	switch a.state {
	case StateChoreographed, StateConversationInitiator, StateScheming:
		return false
	}
	a.Facing = initiator.Pos().Sub(a.Pos()).Normalized()
	if scheme {
		a.RequestTransition(StateSchemeConversation)
	} else {
		a.RequestTransition(StateConversationListener)
	}
	return true
}

// Listening reports whether the agent is held by a conversation.
func (a *Agent) Listening() bool {
	return a.state == StateConversationListener || a.state == StateSchemeConversation
}

// Release returns a listener to Idle. Agents that already moved on are left
// alone.
func (a *Agent) Release() {
	if a.Listening() {
		a.RequestTransition(StateIdle)
	}
}

// StartSpeech begins a speech if the agent is idle.
func (a *Agent) StartSpeech() bool {
	if !a.Active || a.Choreographed || a.state != StateIdle {
		return false
	}
	return a.RequestTransition(StateInSpeech)
}

// Deactivate removes the agent from the floor. Its state is left as is.
func (a *Agent) Deactivate() {
	a.Active = false
	a.CancelAll()
	a.Nav.Halt()
}

// Reset prepares the agent for a fresh entry walk from spawn: active,
// choreographed, no tasks, no schemer flag, teleported without inducing a
// path.
func (a *Agent) Reset(spawn world.Vec2) {
	a.Active = true
	a.Schemer = false
	a.Choreographed = true
	a.CancelAll()
	a.Nav.SetEnabled(false)
	a.Nav.Warp(spawn)
	a.Nav.SetEnabled(true)
	a.Nav.ResetPath()
}

// Free ends choreography and hands the agent back to autonomous behaviour
// in StateIdle.
func (a *Agent) Free() {
	a.Choreographed = false
	if !a.RequestTransition(StateIdle) {
		a.enter(StateIdle)
	}
}
