package agents

import (
	"time"

	"github.com/talgya/conclave/internal/task"
	"github.com/talgya/conclave/internal/world"
)

// wanderTask is the idle loop of an autonomous agent: wait a random while,
// maybe start a conversation, otherwise stroll to a nearby walkable point.
type wanderTask struct {
	a      *Agent
	wait   task.Timer
	moving bool
	watch  stallWatch
}

func newWanderTask(a *Agent) *wanderTask {
	return &wanderTask{a: a, watch: stallWatch{timeout: a.env.Movement.StallTimeout}}
}

func (w *wanderTask) Step(now time.Duration) bool {
	a := w.a
	cfg := a.env.Wander
	rng := a.env.Rand

	if w.moving {
		if !a.Arrived() {
			if !w.watch.stalled(now, a.Nav.RemainingDistance()) {
				return false
			}
			a.Nav.ResetPath()
		}
		w.moving = false
	}

	if !w.wait.Armed() {
		w.wait.Set(now, rng.Duration(cfg.MinWait, cfg.MaxWait))
	}
	if !w.wait.Done(now) {
		return false
	}
	w.wait.Reset()

	if rng.Chance(cfg.ConverseChance) {
		next := StateConversationInitiator
		if a.Schemer {
			next = StateScheming
		}
		// Leaving Idle cancels this task.
		a.RequestTransition(next)
		return true
	}

	offset := world.V(rng.Range(-cfg.Radius, cfg.Radius), rng.Range(-cfg.Radius, cfg.Radius))
	dest, ok := a.env.Field.SamplePosition(a.Pos().Add(offset), cfg.SampleRadius)
	if !ok {
		return false
	}
	a.Nav.SetDestination(dest)
	w.moving = true
	w.watch.reset(now)
	return false
}
