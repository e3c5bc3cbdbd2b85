// Package agents provides the agent data model and the per-agent behaviour
// state machine: wander loops, waypoint movement, conversation roles and
// station service states.
package agents

import (
	"github.com/talgya/conclave/internal/task"
	"github.com/talgya/conclave/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Kind tells player-controlled agents apart from autonomous ones. It is set
// at creation and never inferred afterwards.
type Kind uint8

const (
	KindNPC    Kind = 0
	KindPlayer Kind = 1
)

func (k Kind) String() string {
	if k == KindPlayer {
		return "player"
	}
	return "npc"
}

// State is the agent's current behaviour. Exactly one holds at a time.
type State uint8

const (
	StateIdle                  State = iota // Wandering or awaiting input
	StateReadyForService                    // En route to a station
	StateInService                          // Performing the station's action
	StateInSpeech                           // Delivering a player-commanded speech
	StateConversationInitiator              // Hosting a conversation
	StateConversationListener               // Held by someone else's conversation
	StateScheming                           // Hosting a scheme
	StateSchemeConversation                 // Held by someone else's scheme
	StateChoreographed                      // Forced movement, no autonomy
)

var stateNames = [...]string{
	StateIdle:                  "idle",
	StateReadyForService:       "ready_for_service",
	StateInService:             "in_service",
	StateInSpeech:              "in_speech",
	StateConversationInitiator: "conversation_initiator",
	StateConversationListener:  "conversation_listener",
	StateScheming:              "scheming",
	StateSchemeConversation:    "scheme_conversation",
	StateChoreographed:         "choreographed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseState is the inverse of State.String.
func ParseState(name string) (State, bool) {
	for i, n := range stateNames {
		if n == name {
			return State(i), true
		}
	}
	return StateIdle, false
}

// Navigator is the pathfinding capability an agent drives. world.NavAgent
// is the in-process implementation.
type Navigator interface {
	Position() world.Vec2
	SetDestination(p world.Vec2) bool
	ResetPath()
	HasPendingPath() bool
	RemainingDistance() float64
	StoppingDistance() float64
	Velocity() world.Vec2
	SetVelocity(v world.Vec2)
	Halt()
	SetAvoidancePriority(p int)
	SetEnabled(on bool)
	SetStopped(stopped bool)
	Warp(p world.Vec2)
}

type category uint8

const (
	catMovement category = iota
	catWander
	catConversation
	catAction
	numCategories
)

// Agent is a simulated cardinal. Its State is only changed through
// RequestTransition.
type Agent struct {
	ID    AgentID `json:"id"`
	Name  string  `json:"name"`
	Kind  Kind    `json:"kind"`
	Stats Stats   `json:"stats"`

	Active        bool       `json:"active"`        // in the pool and on the floor
	Schemer       bool       `json:"schemer"`       // excluded from stations and listening
	Choreographed bool       `json:"choreographed"` // suppresses autonomous behaviour
	Facing        world.Vec2 `json:"facing"`

	Nav   Navigator   `json:"-"`
	Input *InputQueue `json:"-"` // player only

	env   *Env
	state State
	tasks [numCategories]*task.Handle
}

// New creates an inactive, choreographed agent in StateIdle. No enter
// routine runs until the first transition.
func New(id AgentID, name string, kind Kind, nav Navigator, env *Env) *Agent {
	a := &Agent{
		ID:            id,
		Name:          name,
		Kind:          kind,
		Nav:           nav,
		Choreographed: true,
		env:           env,
	}
	if env != nil {
		a.Stats = InitialStats(env.Balance)
	}
	if kind == KindPlayer {
		a.Input = &InputQueue{}
	}
	return a
}

// IsPlayer reports whether the agent is player-controlled.
func (a *Agent) IsPlayer() bool { return a.Kind == KindPlayer }

// State returns the current behaviour state.
func (a *Agent) State() State { return a.state }

// Pos returns the agent's position.
func (a *Agent) Pos() world.Vec2 { return a.Nav.Position() }

// BodyID implements world.Body.
func (a *Agent) BodyID() uint64 { return uint64(a.ID) }

// BodyTag implements world.Body.
func (a *Agent) BodyTag() world.Tag {
	if a.IsPlayer() {
		return world.TagPlayer
	}
	return world.TagNPC
}

// BodyActive implements world.Body.
func (a *Agent) BodyActive() bool { return a.Active }

// IsMoving reports whether the agent owns a live waypoint-movement task.
func (a *Agent) IsMoving() bool { return a.tasks[catMovement].Running() }

// Busy reports whether the agent is in a state other autonomous systems must
// leave alone.
func (a *Agent) Busy() bool {
	return a.Choreographed || a.state != StateIdle
}
