package world

import (
	"math"
	"time"
)

// NavAgent is the in-process pathfinding host for one body: straight-line
// movement at constant speed over a NavField. A path is computed one tick
// after SetDestination; a destination that is not walkable stays pending
// forever, which is how unreachable targets surface to callers.
type NavAgent struct {
	field *NavField

	pos      Vec2
	dest     Vec2
	velocity Vec2
	manual   Vec2 // direct velocity from input, bypasses path following

	speed    float64
	stopping float64
	priority int

	pending bool
	hasPath bool
	enabled bool
	stopped bool
}

// NewNavAgent places a new agent at pos.
func NewNavAgent(field *NavField, pos Vec2, speed, stopping float64) *NavAgent {
	return &NavAgent{
		field:    field,
		pos:      pos,
		speed:    speed,
		stopping: stopping,
		enabled:  true,
	}
}

// Position returns the current location.
func (n *NavAgent) Position() Vec2 { return n.pos }

// SetDestination queues a path request. It reports false when the agent is
// disabled.
func (n *NavAgent) SetDestination(p Vec2) bool {
	if !n.enabled {
		return false
	}
	n.dest = p
	n.pending = true
	n.hasPath = false
	n.manual = Vec2{}
	return true
}

// ResetPath drops any pending or active path.
func (n *NavAgent) ResetPath() {
	n.pending = false
	n.hasPath = false
	n.velocity = Vec2{}
}

// HasPendingPath reports whether a path request has not resolved yet.
func (n *NavAgent) HasPendingPath() bool { return n.pending }

// HasPath reports whether the agent is following a resolved path.
func (n *NavAgent) HasPath() bool { return n.hasPath }

// RemainingDistance is the distance left on the active path, or zero.
func (n *NavAgent) RemainingDistance() float64 {
	if n.pending {
		return math.Inf(1)
	}
	if !n.hasPath {
		return 0
	}
	return Distance(n.pos, n.dest)
}

// StoppingDistance is the arrival tolerance.
func (n *NavAgent) StoppingDistance() float64 { return n.stopping }

// Velocity is the displacement per second applied on the last step.
func (n *NavAgent) Velocity() Vec2 { return n.velocity }

// SetVelocity drives the agent directly (keyboard-style input), cancelling
// any path.
func (n *NavAgent) SetVelocity(v Vec2) {
	n.pending = false
	n.hasPath = false
	n.manual = v
	n.velocity = v
}

// Halt clears any path and direct velocity.
func (n *NavAgent) Halt() {
	n.ResetPath()
	n.manual = Vec2{}
}

// SetAvoidancePriority records the steering priority; lower values win.
func (n *NavAgent) SetAvoidancePriority(p int) { n.priority = p }

// AvoidancePriority returns the last priority set.
func (n *NavAgent) AvoidancePriority() int { return n.priority }

// SetEnabled turns the agent on or off. Disabling drops the path.
func (n *NavAgent) SetEnabled(on bool) {
	if !on {
		n.Halt()
	}
	n.enabled = on
}

// Enabled reports whether the agent participates in movement.
func (n *NavAgent) Enabled() bool { return n.enabled }

// SetStopped freezes movement without dropping the path.
func (n *NavAgent) SetStopped(stopped bool) {
	n.stopped = stopped
	if stopped {
		n.velocity = Vec2{}
	}
}

// Warp teleports the agent without inducing a path.
func (n *NavAgent) Warp(p Vec2) {
	n.pos = p
	n.Halt()
}

// Step integrates movement over dt.
func (n *NavAgent) Step(dt time.Duration) {
	if !n.enabled || n.stopped {
		return
	}
	secs := dt.Seconds()

	if !n.manual.IsZero() {
		next := n.pos.Add(n.manual.Scale(secs))
		if n.field.Walkable(next) {
			n.pos = next
			n.velocity = n.manual
		} else {
			n.velocity = Vec2{}
		}
		return
	}

	if n.pending {
		if !n.field.Walkable(n.dest) {
			return
		}
		n.pending = false
		n.hasPath = true
		return
	}
	if !n.hasPath {
		n.velocity = Vec2{}
		return
	}

	to := n.dest.Sub(n.pos)
	dist := to.Len()
	stepLen := n.speed * secs
	if dist <= n.stopping || dist <= stepLen {
		n.pos = n.dest
		n.velocity = Vec2{}
		n.hasPath = false
		return
	}
	dir := to.Scale(1 / dist)
	n.pos = n.pos.Add(dir.Scale(stepLen))
	n.velocity = dir.Scale(n.speed)
}
