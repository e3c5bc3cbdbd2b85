package world

// Tag classifies bodies for zone filtering.
type Tag uint8

const (
	TagNPC    Tag = 1 << iota // Autonomous agents
	TagPlayer                 // The player-controlled agent
	TagAny    = TagNPC | TagPlayer
)

// Body is anything a zone can detect.
type Body interface {
	BodyID() uint64
	Pos() Vec2
	BodyTag() Tag
	BodyActive() bool
}

// Zone is a circular detection area emitting enter/exit events for bodies
// whose tag matches Filter.
type Zone[T Body] struct {
	Name    string
	Center  Vec2
	Radius  float64
	Filter  Tag
	OnEnter func(T)
	OnExit  func(T)

	inside map[uint64]T
}

// Contains reports whether a body with the given id is currently inside.
func (z *Zone[T]) Contains(id uint64) bool {
	_, ok := z.inside[id]
	return ok
}

// Count returns the number of bodies inside.
func (z *Zone[T]) Count() int { return len(z.inside) }

func (z *Zone[T]) matches(b T) bool {
	return b.BodyActive() && b.BodyTag()&z.Filter != 0 && Distance(b.Pos(), z.Center) <= z.Radius
}

// Space holds the live zones and diffs body membership once per tick.
type Space[T Body] struct {
	zones []*Zone[T]
}

// NewSpace creates an empty space.
func NewSpace[T Body]() *Space[T] {
	return &Space[T]{}
}

// Add registers z. Bodies already inside fire OnEnter on the next Update.
func (s *Space[T]) Add(z *Zone[T]) {
	if z.inside == nil {
		z.inside = make(map[uint64]T)
	}
	s.zones = append(s.zones, z)
}

// Remove destroys z without emitting exit events.
func (s *Space[T]) Remove(z *Zone[T]) {
	for i, other := range s.zones {
		if other == z {
			s.zones = append(s.zones[:i], s.zones[i+1:]...)
			return
		}
	}
}

// Len returns the number of live zones.
func (s *Space[T]) Len() int { return len(s.zones) }

// Update emits enter events in body order, then exit events for bodies that
// left or vanished from the list.
func (s *Space[T]) Update(bodies []T) {
	// Zones may be added or removed by event handlers; iterate a copy.
	zones := append([]*Zone[T](nil), s.zones...)
	seen := make(map[uint64]bool, len(bodies))
	for _, z := range zones {
		clear(seen)
		for _, b := range bodies {
			id := b.BodyID()
			seen[id] = true
			_, was := z.inside[id]
			now := z.matches(b)
			switch {
			case now && !was:
				z.inside[id] = b
				if z.OnEnter != nil {
					z.OnEnter(b)
				}
			case !now && was:
				delete(z.inside, id)
				if z.OnExit != nil {
					z.OnExit(b)
				}
			}
		}
		for id, b := range z.inside {
			if seen[id] {
				continue
			}
			delete(z.inside, id)
			if z.OnExit != nil {
				z.OnExit(b)
			}
		}
	}
}
