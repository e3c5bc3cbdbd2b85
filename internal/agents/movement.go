package agents

import (
	"log/slog"
	"math"
	"time"

	"github.com/talgya/conclave/internal/world"
)

// progressEpsilon is the minimum improvement in remaining distance that
// counts as progress toward a waypoint.
const progressEpsilon = 0.01

// stallWatch abandons a destination after timeout without progress. A zero
// timeout never stalls.
type stallWatch struct {
	timeout time.Duration
	best    float64
	since   time.Duration
}

func (w *stallWatch) reset(now time.Duration) {
	w.best = math.Inf(1)
	w.since = now
}

func (w *stallWatch) stalled(now time.Duration, remaining float64) bool {
	if remaining < w.best-progressEpsilon {
		w.best = remaining
		w.since = now
		return false
	}
	return w.timeout > 0 && now-w.since >= w.timeout
}

// moveTask visits a waypoint queue one destination at a time, waiting for
// arrival before issuing the next.
type moveTask struct {
	a      *Agent
	queue  []world.Vec2
	formal bool

	target  world.Vec2
	issued  bool
	watch   stallWatch
	stalled int
}

func newMoveTask(a *Agent, path []world.Vec2, formalEntry bool) *moveTask {
	return &moveTask{
		a:      a,
		queue:  append([]world.Vec2(nil), path...),
		formal: formalEntry,
		watch:  stallWatch{timeout: a.env.Movement.StallTimeout},
	}
}

func (m *moveTask) Step(now time.Duration) bool {
	a := m.a
	if m.issued {
		if !a.Arrived() {
			if !m.watch.stalled(now, a.Nav.RemainingDistance()) {
				return false
			}
			m.stalled++
			slog.Debug("waypoint abandoned", "agent", a.ID, "target", m.target)
			a.Nav.ResetPath()
		}
		m.issued = false
	}

	if len(m.queue) == 0 {
		a.restorePriority()
		return true
	}
	wp := m.queue[0]
	m.queue = m.queue[1:]
	if m.formal && len(m.queue) == 0 {
		wp = a.jitter(wp)
	}

	a.Nav.SetAvoidancePriority(a.env.Movement.PriorityMoving)
	a.Nav.SetDestination(wp)
	m.target = wp
	m.issued = true
	m.watch.reset(now)
	return false
}

// Stop restores the resting avoidance priority when the move is cut short.
func (m *moveTask) Stop() {
	m.a.restorePriority()
}

// jitter perturbs a final entry waypoint: the player shifts by a fixed
// offset, autonomous agents by a random one. The result is snapped back onto
// walkable ground, or discarded when none is near.
func (a *Agent) jitter(p world.Vec2) world.Vec2 {
	mv := a.env.Movement
	var q world.Vec2
	if a.IsPlayer() {
		q = p.Add(mv.PlayerOffset)
	} else {
		q = p.Add(world.V(
			a.env.Rand.Range(-mv.JitterX, mv.JitterX),
			a.env.Rand.Range(mv.JitterYMin, mv.JitterYMax),
		))
	}
	if s, ok := a.env.Field.SamplePosition(q, a.env.Wander.SampleRadius); ok {
		return s
	}
	return p
}
