package agents

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/conclave/internal/config"
	"github.com/talgya/conclave/internal/entropy"
	"github.com/talgya/conclave/internal/task"
	"github.com/talgya/conclave/internal/world"
)

const tick = 100 * time.Millisecond

type rig struct {
	env    *Env
	navs   []*world.NavAgent
	nextID AgentID
	moves  []State
}

func newRig(t *testing.T) *rig {
	t.Helper()
	cfg := config.Default()
	r := &rig{}
	r.env = &Env{
		Sched:    task.NewScheduler(),
		Rand:     entropy.New(1),
		Balance:  cfg.Balance,
		Wander:   cfg.Wander,
		Movement: cfg.Movement,
		OnTransition: func(a *Agent, from, to State) {
			r.moves = append(r.moves, to)
		},
	}
	return r
}

func (r *rig) spawn(kind Kind, pos world.Vec2) *Agent {
	return r.spawnOn(nil, kind, pos)
}

func (r *rig) spawnOn(field *world.NavField, kind Kind, pos world.Vec2) *Agent {
	r.nextID++
	nav := world.NewNavAgent(field, pos, r.env.Balance.MoveSpeed, r.env.Movement.StoppingDistance)
	r.navs = append(r.navs, nav)
	a := New(r.nextID, "test", kind, nav, r.env)
	a.Active = true
	a.Choreographed = false
	return a
}

func (r *rig) tick(n int) {
	for i := 0; i < n; i++ {
		r.env.Sched.Advance(tick)
		for _, nav := range r.navs {
			nav.Step(tick)
		}
		r.env.Sched.Run()
	}
}

func (r *rig) hasTask(prefix string) bool {
	for _, n := range r.env.Sched.Names() {
		if len(n) >= len(prefix) && n[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

type fakeConversations struct {
	hold   time.Duration
	begun  int
	scheme bool
}

func (f *fakeConversations) Begin(_ *Agent, scheme bool) task.Task {
	f.begun++
	f.scheme = scheme
	return task.Delay(f.hold, nil)
}

func TestRequestTransitionIsIdempotent(t *testing.T) {
	r := newRig(t)
	a := r.spawn(KindNPC, world.V(0, 0))

	require.True(t, a.RequestTransition(StateInService))
	assert.False(t, a.RequestTransition(StateInService))
	assert.Equal(t, []State{StateInService}, r.moves)
	assert.Equal(t, StateInService, a.State())
}

func TestIdleStartsWanderOnlyForAutonomousAgents(t *testing.T) {
	r := newRig(t)
	npc := r.spawn(KindNPC, world.V(0, 0))
	player := r.spawn(KindPlayer, world.V(3, 0))

	npc.RequestTransition(StateInService)
	npc.RequestTransition(StateIdle)
	player.RequestTransition(StateInService)
	player.RequestTransition(StateIdle)

	assert.True(t, r.hasTask("wander:1"))
	assert.False(t, r.hasTask("wander:2"))
	assert.True(t, r.hasTask("input:2"))

	npc.RequestTransition(StateReadyForService)
	assert.False(t, r.hasTask("wander:1"), "leaving Idle cancels the wander loop")
}

func TestIdleDoesNothingWhileChoreographed(t *testing.T) {
	r := newRig(t)
	a := r.spawn(KindNPC, world.V(0, 0))
	a.Choreographed = true
	a.RequestTransition(StateInService)
	a.RequestTransition(StateIdle)
	assert.Zero(t, r.env.Sched.Len())

	a.Free()
	assert.False(t, a.Choreographed)
	assert.True(t, r.hasTask("wander:1"))
}

func TestMoveAlongWaypointsVisitsInOrder(t *testing.T) {
	r := newRig(t)
	a := r.spawn(KindNPC, world.V(0, 0))
	nav := r.navs[0]

	h := a.MoveAlongWaypoints([]world.Vec2{world.V(1, 0), world.V(1, 1)}, false)
	require.NotNil(t, h)
	assert.Equal(t, StateChoreographed, a.State())

	r.tick(1)
	assert.Equal(t, r.env.Movement.PriorityMoving, nav.AvoidancePriority())

	var visitedFirst bool
	for i := 0; i < 40 && h.Running(); i++ {
		r.tick(1)
		if a.Pos() == world.V(1, 0) {
			visitedFirst = true
		}
	}
	assert.True(t, visitedFirst)
	assert.False(t, h.Running())
	assert.Equal(t, world.V(1, 1), a.Pos())
	assert.Equal(t, r.env.Movement.PriorityNPC, nav.AvoidancePriority())
	assert.Equal(t, StateChoreographed, a.State(), "the orchestrator decides when choreography ends")
}

func TestFormalEntryOffsetsPlayerFinalWaypoint(t *testing.T) {
	r := newRig(t)
	p := r.spawn(KindPlayer, world.V(0, 0))
	h := p.MoveAlongWaypoints([]world.Vec2{world.V(0, 2)}, true)
	for i := 0; i < 40 && h.Running(); i++ {
		r.tick(1)
	}
	assert.Equal(t, world.V(0, 2).Add(r.env.Movement.PlayerOffset), p.Pos())
	assert.Equal(t, r.env.Movement.PriorityPlayer, r.navs[0].AvoidancePriority())
}

func TestNewMoveReplacesRunningMove(t *testing.T) {
	r := newRig(t)
	a := r.spawn(KindNPC, world.V(0, 0))
	first := a.MoveAlongWaypoints([]world.Vec2{world.V(10, 0)}, false)
	r.tick(2)
	second := a.MoveAlongWaypoints([]world.Vec2{world.V(0, 1)}, false)

	assert.True(t, first.Cancelled())
	assert.True(t, second.Running())
	assert.Equal(t, 1, r.env.Sched.Len())
}

func TestStalledWaypointIsAbandoned(t *testing.T) {
	r := newRig(t)
	r.env.Movement.StallTimeout = time.Second
	field := world.NewNavField(world.FieldConfig{Min: world.V(-5, -5), Max: world.V(5, 5)})
	a := r.spawnOn(field, KindNPC, world.V(0, 0))

	h := a.MoveAlongWaypoints([]world.Vec2{world.V(50, 0), world.V(1, 0)}, false)
	for i := 0; i < 60 && h.Running(); i++ {
		r.tick(1)
	}
	assert.False(t, h.Running())
	assert.Equal(t, world.V(1, 0), a.Pos())
}

func TestStallTimeoutZeroWaitsForever(t *testing.T) {
	r := newRig(t)
	r.env.Movement.StallTimeout = 0
	field := world.NewNavField(world.FieldConfig{Min: world.V(-5, -5), Max: world.V(5, 5)})
	a := r.spawnOn(field, KindNPC, world.V(0, 0))

	h := a.MoveAlongWaypoints([]world.Vec2{world.V(50, 0)}, false)
	r.tick(200)
	assert.True(t, h.Running())
}

func TestListenGuards(t *testing.T) {
	r := newRig(t)
	host := r.spawn(KindNPC, world.V(0, 0))
	listener := r.spawn(KindNPC, world.V(2, 0))
	busy := r.spawn(KindNPC, world.V(0, 2))
	schemer := r.spawn(KindNPC, world.V(-2, 0))
	schemer.Schemer = true

	busy.MoveAlongWaypoints([]world.Vec2{world.V(0, 3)}, false)
	assert.False(t, busy.Listen(host, false))
	assert.False(t, schemer.Listen(host, false))
	assert.False(t, host.Listen(host, false))

	require.True(t, listener.Listen(host, false))
	assert.Equal(t, StateConversationListener, listener.State())
	assert.Equal(t, world.V(-1, 0), listener.Facing)

	host.RequestTransition(StateConversationInitiator)
	other := r.spawn(KindNPC, world.V(4, 0))
	assert.False(t, host.Listen(other, false), "hosts cannot be drafted")

	assert.False(t, listener.Listen(other, false), "already held by host")
	assert.False(t, listener.Listen(other, true))
	assert.Equal(t, StateConversationListener, listener.State())
	assert.Equal(t, world.V(-1, 0), listener.Facing, "still facing the first host")

	listener.Release()
	assert.Equal(t, StateIdle, listener.State())
}

func TestInitiatorReturnsToIdleWhenConversationEnds(t *testing.T) {
	r := newRig(t)
	conv := &fakeConversations{hold: time.Second}
	r.env.Conversations = conv
	a := r.spawn(KindNPC, world.V(0, 0))

	a.RequestTransition(StateConversationInitiator)
	assert.Equal(t, 1, conv.begun)
	r.tick(5)
	assert.Equal(t, StateConversationInitiator, a.State())
	r.tick(6)
	assert.Equal(t, StateIdle, a.State())
}

func TestInitiatorWithoutCoordinatorFallsBackToIdle(t *testing.T) {
	r := newRig(t)
	a := r.spawn(KindNPC, world.V(0, 0))
	a.RequestTransition(StateConversationInitiator)
	r.tick(1)
	assert.Equal(t, StateIdle, a.State())
}

func TestWanderRollsIntoConversation(t *testing.T) {
	r := newRig(t)
	conv := &fakeConversations{hold: time.Hour}
	r.env.Conversations = conv
	r.env.Wander.MinWait, r.env.Wander.MaxWait = 0, 0
	r.env.Wander.ConverseChance = 1

	a := r.spawn(KindNPC, world.V(0, 0))
	s := r.spawn(KindNPC, world.V(5, 0))
	s.Schemer = true
	a.Free()
	s.Free()
	r.tick(1)

	assert.Equal(t, StateConversationInitiator, a.State())
	assert.Equal(t, StateScheming, s.State())
	assert.True(t, conv.scheme)
	assert.False(t, r.hasTask("wander:"))
}

func TestWanderStrollsNearby(t *testing.T) {
	r := newRig(t)
	r.env.Wander.ConverseChance = 0
	a := r.spawn(KindNPC, world.V(0, 0))
	a.Free()
	r.tick(60)
	assert.NotEqual(t, world.V(0, 0), a.Pos(), "at least one stroll within six seconds")
	assert.Equal(t, StateIdle, a.State())
	assert.True(t, r.hasTask("wander:1"))
}

func TestSpeechAppliesAfterDuration(t *testing.T) {
	r := newRig(t)
	r.env.Balance.SpeechSuccessChance = 1
	r.env.Balance.SpeechInfluenceMin, r.env.Balance.SpeechInfluenceMax = 4, 4
	var got []ActionResult
	r.env.OnAction = func(_ *Agent, action config.Action, res ActionResult) {
		assert.Equal(t, config.ActionSpeech, action)
		got = append(got, res)
	}

	p := r.spawn(KindPlayer, world.V(0, 0))
	p.Free()
	require.True(t, p.StartSpeech())
	assert.False(t, p.StartSpeech())

	r.tick(int(r.env.Balance.SpeechDuration/tick) + 1)
	require.Len(t, got, 1)
	assert.True(t, got[0].Success)
	assert.Equal(t, 4, p.Stats.Influence)
	assert.Equal(t, StateIdle, p.State())
}

func TestPlayerInputDrivesNavigator(t *testing.T) {
	r := newRig(t)
	p := r.spawn(KindPlayer, world.V(0, 0))
	p.Free()

	p.Input.SetDirection(world.V(2, 0))
	r.tick(1)
	r.tick(1)
	assert.Greater(t, p.Pos().X, 0.0)
	assert.InDelta(t, r.env.Balance.MoveSpeed, r.navs[0].Velocity().Len(), 1e-9)

	p.Input.SetDirection(world.Vec2{})
	r.tick(1)
	assert.True(t, r.navs[0].Velocity().IsZero())

	p.Input.SetTarget(world.V(0, 1))
	r.tick(20)
	assert.Equal(t, world.V(0, 1), p.Pos())
}

func TestStatsClampAndActions(t *testing.T) {
	s := Stats{Health: 95, Influence: 3, Piety: 50}
	s.ChangeHealth(20)
	s.ChangeInfluence(-10)
	assert.Equal(t, Stats{Health: 100, Influence: 0, Piety: 50}, s)

	b := config.Default().Balance
	b.PraySuccessChance = 1
	res := PerformPrayer(&s, b, entropy.New(1))
	assert.True(t, res.Success)
	assert.Equal(t, 50+b.PraySuccessPiety, s.Piety)

	b.PraySuccessChance = 0
	res = Perform(config.ActionPray, &s, b, entropy.New(1))
	assert.False(t, res.Success)
	assert.Equal(t, res.Before.Piety+b.PrayFailPiety, s.Piety)
}

func TestSpawnerCreatesInactivePool(t *testing.T) {
	r := newRig(t)
	sp := NewSpawner(r.env)
	pool := sp.SpawnPool(5, world.V(1, 1))
	player := sp.SpawnPlayer("", world.V(0, 0))

	names := map[string]bool{}
	for i, a := range pool {
		assert.Equal(t, AgentID(i+1), a.ID)
		assert.False(t, a.Active)
		assert.True(t, a.Choreographed)
		assert.False(t, a.IsPlayer())
		assert.Equal(t, world.V(1, 1), a.Pos())
		names[a.Name] = true
		assert.True(t, strings.HasPrefix(a.Name, "Cardinal "), a.Name)
		assert.True(t, slices.ContainsFunc(lastNames, func(n string) bool {
			return strings.HasSuffix(a.Name, " "+n)
		}), a.Name)
	}
	assert.Len(t, names, 5)
	assert.True(t, player.IsPlayer())
	assert.NotNil(t, player.Input)
	assert.Equal(t, AgentID(6), player.ID)
}

func TestStateNamesRoundTrip(t *testing.T) {
	for s := StateIdle; s <= StateChoreographed; s++ {
		got, ok := ParseState(s.String())
		require.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := ParseState("dancing")
	assert.False(t, ok)
}
