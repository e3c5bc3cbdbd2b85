// Agent spawning: creates the cardinal pool and the player, each with its
// own navigator on the shared field.
package agents

import (
	"github.com/talgya/conclave/internal/world"
)

// Spawner creates agents for the simulation.
type Spawner struct {
	env    *Env
	nextID AgentID
	used   map[string]bool
}

// NewSpawner creates a spawner drawing names and stat variance from env.Rand.
func NewSpawner(env *Env) *Spawner {
	return &Spawner{env: env, nextID: 1, used: make(map[string]bool)}
}

// SetNextID sets the next agent ID to be issued (used when restoring from DB).
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// SpawnPool creates count autonomous cardinals at spawn. They start inactive
// and choreographed; the entry sequence brings them onto the floor.
func (s *Spawner) SpawnPool(count int, spawn world.Vec2) []*Agent {
	pool := make([]*Agent, 0, count)
	for i := 0; i < count; i++ {
		pool = append(pool, s.spawnOne(KindNPC, s.generateName(), spawn))
	}
	return pool
}

// SpawnPlayer creates the player-controlled cardinal.
func (s *Spawner) SpawnPlayer(name string, spawn world.Vec2) *Agent {
	if name == "" {
		name = s.generateName()
	}
	return s.spawnOne(KindPlayer, name, spawn)
}

func (s *Spawner) spawnOne(kind Kind, name string, pos world.Vec2) *Agent {
	id := s.nextID
	s.nextID++

	nav := world.NewNavAgent(s.env.Field, pos, s.env.Balance.MoveSpeed, s.env.Movement.StoppingDistance)
	a := New(id, name, kind, nav, s.env)

	// Piety varies a little between cardinals; the player starts at the baseline.
	if kind == KindNPC {
		a.Stats.ChangePiety(s.env.Rand.IntRange(-10, 10))
	}
	a.restorePriority()
	return a
}

func (s *Spawner) generateName() string {
	var name string
	for tries := 0; tries < 8; tries++ {
		first := firstNames[s.env.Rand.Intn(len(firstNames))]
		last := lastNames[s.env.Rand.Intn(len(lastNames))]
		name = "Cardinal " + first + " " + last
		if !s.used[name] {
			break
		}
	}
	s.used[name] = true
	return name
}

// Given names as styled in the curia.
var firstNames = []string{
	"Agostino", "Ambrogio", "Anselmo", "Benedetto", "Bonifacio",
	"Celestino", "Clemente", "Damiano", "Eusebio", "Fabrizio",
	"Gregorio", "Ignazio", "Innocenzo", "Leone", "Lorenzo", "Marcello",
	"Onorio", "Pasquale", "Raimondo", "Sisto", "Tommaso", "Urbano",
	"Vittorio", "Alonso", "Esteban", "Anselme", "Mathieu", "Piotr",
}

var lastNames = []string{
	"Aldobrandini", "Barberini", "Borghese", "Caetani", "Chigi",
	"Colonna", "Corsini", "Farnese", "Gonzaga", "Ludovisi", "Medici",
	"Odescalchi", "Orsini", "Pamphili", "Piccolomini", "Ruspoli",
	"Sforza", "Spinola", "Torlonia", "Visconti", "Albornoz", "Carrillo",
	"Mendoza", "de Retz", "Richelieu", "Oleśnicki",
}
