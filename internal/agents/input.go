package agents

import (
	"sync"
	"time"

	"github.com/talgya/conclave/internal/world"
)

// InputQueue is the player's edge-triggered input: the latest direction
// and/or target, cleared when read. Producers may run on other goroutines.
type InputQueue struct {
	mu        sync.Mutex
	dir       world.Vec2
	hasDir    bool
	target    world.Vec2
	hasTarget bool
}

// SetDirection records a movement direction. The zero vector stops.
func (q *InputQueue) SetDirection(d world.Vec2) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dir, q.hasDir = d, true
}

// SetTarget records a point to walk to.
func (q *InputQueue) SetTarget(p world.Vec2) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.target, q.hasTarget = p, true
}

// Input is one read of the queue.
type Input struct {
	Dir       world.Vec2
	HasDir    bool
	Target    world.Vec2
	HasTarget bool
}

// Take returns pending input and clears it.
func (q *InputQueue) Take() Input {
	q.mu.Lock()
	defer q.mu.Unlock()
	in := Input{Dir: q.dir, HasDir: q.hasDir, Target: q.target, HasTarget: q.hasTarget}
	q.dir, q.hasDir = world.Vec2{}, false
	q.target, q.hasTarget = world.Vec2{}, false
	return in
}

// inputTask applies player input while the player is idle. A direction
// drives the navigator directly and holds until a new input arrives.
type inputTask struct {
	a *Agent
}

func (t *inputTask) Step(time.Duration) bool {
	a := t.a
	if a.Input == nil {
		return false
	}
	in := a.Input.Take()
	switch {
	case in.HasDir && !in.Dir.IsZero():
		a.Nav.ResetPath()
		a.Nav.SetVelocity(in.Dir.Normalized().Scale(a.env.Balance.MoveSpeed))
	case in.HasTarget:
		a.Nav.SetDestination(in.Target)
	case in.HasDir:
		a.Nav.Halt()
	}
	return false
}
