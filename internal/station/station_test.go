package station

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/conclave/internal/agents"
	"github.com/talgya/conclave/internal/config"
	"github.com/talgya/conclave/internal/entropy"
	"github.com/talgya/conclave/internal/task"
	"github.com/talgya/conclave/internal/world"
)

const tick = 100 * time.Millisecond

type rig struct {
	env    *agents.Env
	navs   []*world.NavAgent
	all    []*agents.Agent
	nextID agents.AgentID
}

func newRig() *rig {
	cfg := config.Default()
	return &rig{env: &agents.Env{
		Sched:    task.NewScheduler(),
		Rand:     entropy.New(7),
		Balance:  cfg.Balance,
		Wander:   cfg.Wander,
		Movement: cfg.Movement,
	}}
}

func (r *rig) spawn(kind agents.Kind, pos world.Vec2) *agents.Agent {
	r.nextID++
	nav := world.NewNavAgent(nil, pos, r.env.Balance.MoveSpeed, r.env.Movement.StoppingDistance)
	a := agents.New(r.nextID, "test", kind, nav, r.env)
	a.Active = true
	a.Choreographed = false
	r.navs = append(r.navs, nav)
	r.all = append(r.all, a)
	return a
}

func (r *rig) tick(stations ...*Station) {
	r.env.Sched.Advance(tick)
	for _, n := range r.navs {
		n.Step(tick)
	}
	r.env.Sched.Run()
	for _, s := range stations {
		s.Tick(r.env.Sched.Now())
	}
}

func stationConfig() config.Station {
	overflow := world.V(3, 0)
	return config.Station{
		Name:            "altar",
		Action:          config.ActionPray,
		Position:        world.V(0, 0),
		ActionPoint:     world.V(0, 1),
		WaitingPoint:    world.V(2, 0),
		OverflowPoint:   &overflow,
		DetectionRadius: 10,
		Slots:           2,
		CallInterval:    3 * time.Second,
		Cooldown:        30 * time.Second,
		ServiceDuration: time.Second,
	}
}

func TestCooldownRegistry(t *testing.T) {
	c := NewCooldownRegistry(10 * time.Second)
	assert.True(t, c.Ready(1, 0))
	c.Record(1, 2*time.Second)
	assert.False(t, c.Ready(1, 11*time.Second))
	assert.Equal(t, time.Second, c.Remaining(1, 11*time.Second))
	assert.True(t, c.Ready(1, 12*time.Second))
	assert.Zero(t, c.Remaining(1, 20*time.Second))

	c.Record(1, 20*time.Second)
	assert.False(t, c.Ready(1, 21*time.Second), "recording overwrites")
	c.Forget(1)
	assert.True(t, c.Ready(1, 21*time.Second))
	assert.Zero(t, c.Len())
}

// Queue capacity 2, four idle candidates: two summons fill the queue with
// the nearest pair, the third lands in overflow, the fourth is not admitted.
func TestSummonFillsQueueThenOverflow(t *testing.T) {
	r := newRig()
	s := New(stationConfig(), r.env)
	c1 := r.spawn(agents.KindNPC, world.V(0, -1))
	c2 := r.spawn(agents.KindNPC, world.V(0, -2))
	c3 := r.spawn(agents.KindNPC, world.V(0, -3))
	c4 := r.spawn(agents.KindNPC, world.V(0, -4))
	for _, a := range []*agents.Agent{c3, c1, c4, c2} {
		s.AddCandidate(a)
	}

	require.True(t, s.Summon(0))
	require.True(t, s.Summon(0))
	assert.Equal(t, []*agents.Agent{c1, c2}, s.Queue())
	assert.Nil(t, s.Overflow())

	require.True(t, s.Summon(0))
	assert.Equal(t, c3, s.Overflow())
	assert.Len(t, s.Queue(), 2)

	assert.False(t, s.Summon(0))
	assert.Equal(t, agents.StateIdle, c4.State())
	for _, a := range []*agents.Agent{c1, c2, c3} {
		assert.Equal(t, agents.StateReadyForService, a.State())
	}
	assert.Equal(t, 3, s.Cooldowns().Len())
}

func TestSummonTieGoesToFirstRegistered(t *testing.T) {
	r := newRig()
	s := New(stationConfig(), r.env)
	left := r.spawn(agents.KindNPC, world.V(-1, 0))
	right := r.spawn(agents.KindNPC, world.V(1, 0))
	s.AddCandidate(right)
	s.AddCandidate(left)

	require.True(t, s.Summon(0))
	assert.Equal(t, []*agents.Agent{right}, s.Queue())
}

func TestSummonSkipsIneligible(t *testing.T) {
	r := newRig()
	s := New(stationConfig(), r.env)
	schemer := r.spawn(agents.KindNPC, world.V(0, -1))
	schemer.Schemer = true
	busy := r.spawn(agents.KindNPC, world.V(0, -1))
	busy.RequestTransition(agents.StateConversationListener)
	gone := r.spawn(agents.KindNPC, world.V(0, -1))
	gone.Active = false
	player := r.spawn(agents.KindPlayer, world.V(0, -1))
	for _, a := range []*agents.Agent{schemer, busy, gone, player} {
		s.AddCandidate(a)
	}

	assert.False(t, s.Summon(0))
	assert.Empty(t, s.Queue())
}

// A served agent forced into a conversation frees the slot on the next tick,
// and the queue head is dispatched in the same tick.
func TestOccupancyRevalidatedEveryTick(t *testing.T) {
	r := newRig()
	s := New(stationConfig(), r.env)
	c1 := r.spawn(agents.KindNPC, world.V(0, -1))
	c2 := r.spawn(agents.KindNPC, world.V(0, -2))
	c3 := r.spawn(agents.KindNPC, world.V(0, -3))
	for _, a := range []*agents.Agent{c1, c2, c3} {
		s.AddCandidate(a)
	}
	s.Summon(0)
	s.Summon(0)
	s.Summon(0)

	s.Tick(0)
	require.Equal(t, c1, s.Current())
	assert.Equal(t, []*agents.Agent{c2, c3}, s.Queue(), "overflow promoted with the dequeue")
	assert.Nil(t, s.Overflow())

	c1.RequestTransition(agents.StateConversationListener)
	s.Tick(tick)
	assert.Equal(t, c2, s.Current())
	assert.False(t, s.Holds(c1))
	assert.Equal(t, []*agents.Agent{c3}, s.Queue())
}

func TestOverflowPromotedBeforeNewSummon(t *testing.T) {
	r := newRig()
	cfg := stationConfig()
	cfg.Slots = 1
	cfg.CallInterval = tick
	s := New(cfg, r.env)
	c1 := r.spawn(agents.KindNPC, world.V(0, -1))
	c2 := r.spawn(agents.KindNPC, world.V(0, -2))
	c3 := r.spawn(agents.KindNPC, world.V(0, -3))
	for _, a := range []*agents.Agent{c1, c2, c3} {
		s.AddCandidate(a)
	}
	s.Summon(0)
	s.Summon(0)
	require.Equal(t, c2, s.Overflow())

	// c1 leaves the queue before being served.
	c1.RequestTransition(agents.StateIdle)
	s.Tick(0)
	s.Tick(tick)

	assert.Equal(t, c2, s.Current())
	assert.Nil(t, s.Overflow())
	assert.Equal(t, []*agents.Agent{c3}, s.Queue(), "new summons only after the overflow moved up")
}

func TestCooldownBlocksReselection(t *testing.T) {
	r := newRig()
	cfg := stationConfig()
	cfg.Slots = 1
	cfg.OverflowPoint = nil
	s := New(cfg, r.env)
	near := r.spawn(agents.KindNPC, world.V(0, -1))
	far := r.spawn(agents.KindNPC, world.V(0, -5))
	s.AddCandidate(near)
	s.AddCandidate(far)

	require.True(t, s.Summon(0))
	require.True(t, s.CancelReservation(near))
	assert.Equal(t, agents.StateIdle, near.State())

	require.True(t, s.Summon(10*time.Second))
	assert.Equal(t, []*agents.Agent{far}, s.Queue())
	require.True(t, s.CancelReservation(far))

	assert.False(t, s.Summon(20*time.Second), "both candidates cooling down")
	assert.Equal(t, 10*time.Second, s.Cooldowns().Remaining(near.ID, 20*time.Second))
	require.True(t, s.Summon(30*time.Second))
	assert.Equal(t, []*agents.Agent{near}, s.Queue())
}

func TestServiceRunsToCompletion(t *testing.T) {
	r := newRig()
	cfg := stationConfig()
	cfg.CallInterval = tick
	r.env.Balance.PraySuccessChance = 1
	var results []agents.ActionResult
	r.env.OnAction = func(_ *agents.Agent, action config.Action, res agents.ActionResult) {
		assert.Equal(t, config.ActionPray, action)
		results = append(results, res)
	}
	s := New(cfg, r.env)
	var events []EventKind
	s.OnEvent = func(ev Event) { events = append(events, ev.Kind) }

	c1 := r.spawn(agents.KindNPC, world.V(0, -1))
	s.AddCandidate(c1)
	piety := c1.Stats.Piety

	sawService := false
	for i := 0; i < 200 && len(results) == 0; i++ {
		r.tick(s)
		if c1.State() == agents.StateInService {
			sawService = true
			assert.Equal(t, c1, s.Current())
		}
	}
	require.Len(t, results, 1)
	assert.True(t, sawService)
	assert.Equal(t, agents.StateIdle, c1.State())
	assert.Equal(t, piety+r.env.Balance.PraySuccessPiety, c1.Stats.Piety)
	assert.Equal(t, []EventKind{EventSummoned, EventDispatched, EventServiceStart, EventServiceDone, EventSlotFreed}, events)
	assert.Nil(t, s.Current(), "the slot frees in the tick the service ends")
}

func TestReservationAndPlayerJoin(t *testing.T) {
	r := newRig()
	s := New(stationConfig(), r.env)
	c1 := r.spawn(agents.KindNPC, world.V(0, -1))
	p := r.spawn(agents.KindPlayer, world.V(5, 5))
	s.AddCandidate(c1)
	s.AddCandidate(p)

	require.True(t, s.TryReserveSpot())
	require.True(t, s.TryReserveSpot())
	assert.False(t, s.TryReserveSpot())

	require.True(t, s.Summon(0), "reserved slots push summons into overflow")
	assert.Equal(t, c1, s.Overflow())
	assert.Empty(t, s.Queue())

	require.True(t, s.Join(p))
	assert.Equal(t, []*agents.Agent{p}, s.Queue())
	assert.Equal(t, agents.StateReadyForService, p.State())
	assert.Equal(t, 1, s.Status().Reserved)
	assert.False(t, s.Join(p))

	require.True(t, s.CancelReservation(p))
	assert.Equal(t, agents.StateIdle, p.State())
	assert.Empty(t, s.Queue())

	assert.False(t, s.CancelReservation(p), "not in line; releases the leftover reservation")
	assert.Zero(t, s.Status().Reserved)
}

func TestReservedSlotNotTakenByOverflow(t *testing.T) {
	r := newRig()
	cfg := stationConfig()
	cfg.Slots = 1
	s := New(cfg, r.env)
	c0 := r.spawn(agents.KindNPC, world.V(0, -1))
	c1 := r.spawn(agents.KindNPC, world.V(0, -3))
	p := r.spawn(agents.KindPlayer, world.V(5, 5))
	s.AddCandidate(c0)
	s.AddCandidate(c1)

	require.True(t, s.Summon(r.env.Sched.Now()))
	r.tick(s)
	require.Equal(t, c0, s.Current(), "head dispatched to the action point")
	require.Empty(t, s.Queue())

	require.True(t, s.TryReserveSpot())
	require.True(t, s.Summon(r.env.Sched.Now()))
	require.Equal(t, c1, s.Overflow())

	r.tick(s)
	assert.Empty(t, s.Queue(), "the reserved slot stays free")
	assert.Equal(t, c1, s.Overflow())
	assert.Equal(t, 1, s.Status().Reserved)

	require.True(t, s.Join(p))
	assert.Equal(t, []*agents.Agent{p}, s.Queue())
	assert.Equal(t, c1, s.Overflow())
	assert.Zero(t, s.Status().Reserved)

	r.tick(s)
	assert.Equal(t, []*agents.Agent{p}, s.Queue())
	assert.Equal(t, c1, s.Overflow())
}

func TestJoinFallsBackToOverflow(t *testing.T) {
	r := newRig()
	cfg := stationConfig()
	cfg.Slots = 1
	s := New(cfg, r.env)
	c1 := r.spawn(agents.KindNPC, world.V(0, -1))
	p := r.spawn(agents.KindPlayer, world.V(5, 5))
	s.AddCandidate(c1)
	s.Summon(0)

	require.True(t, s.Join(p))
	assert.Equal(t, p, s.Overflow())

	other := r.spawn(agents.KindPlayer, world.V(6, 6))
	assert.False(t, s.Join(other), "overflow holds at most one")
}

func TestPlayerJoinZone(t *testing.T) {
	r := newRig()
	cfg := stationConfig()
	cfg.JoinRadius = 1
	s := New(cfg, r.env)
	space := world.NewSpace[*agents.Agent]()
	for _, z := range s.Zones() {
		space.Add(z)
	}
	p := r.spawn(agents.KindPlayer, world.V(2.5, 0))
	npc := r.spawn(agents.KindNPC, world.V(2, 0.5))

	space.Update(r.all)
	assert.Equal(t, []*agents.Agent{p}, s.Queue())
	assert.Equal(t, 1, s.Status().Candidates, "only the npc is a candidate")
	assert.False(t, s.Holds(npc))
}

func TestQueueInvariantsUnderLoad(t *testing.T) {
	r := newRig()
	r.env.Wander.ConverseChance = 0.2
	cfg := stationConfig()
	cfg.CallInterval = 500 * time.Millisecond
	cfg.Cooldown = 5 * time.Second
	cfg.ServiceDuration = 500 * time.Millisecond
	s := New(cfg, r.env)
	served := 0
	s.OnEvent = func(ev Event) {
		if ev.Kind == EventServiceDone {
			served++
		}
	}

	space := world.NewSpace[*agents.Agent]()
	for _, z := range s.Zones() {
		space.Add(z)
	}
	for i := 0; i < 8; i++ {
		a := r.spawn(agents.KindNPC, world.V(float64(i-4), -3))
		a.Free()
	}

	for i := 0; i < 1500; i++ {
		r.tick(s)
		space.Update(r.all)

		q := s.Queue()
		require.LessOrEqual(t, len(q), cfg.Slots)
		seen := map[agents.AgentID]bool{}
		for _, a := range q {
			require.False(t, seen[a.ID])
			seen[a.ID] = true
			require.Equal(t, agents.StateReadyForService, a.State())
		}
		if o := s.Overflow(); o != nil {
			require.False(t, seen[o.ID])
			seen[o.ID] = true
		}
		if c := s.Current(); c != nil {
			require.False(t, seen[c.ID])
			st := c.State()
			require.True(t, st == agents.StateReadyForService || st == agents.StateInService)
		}
	}
	assert.Positive(t, served)
}
