package world

// Formation is an ordered line of target slots between two anchors, one slot
// per participant at the time it was laid out.
type Formation struct {
	Start Vec2
	End   Vec2
	Slots []Vec2
}

// NewFormation lays out n evenly spaced slots from start to end. A single
// participant stands at the midpoint.
func NewFormation(start, end Vec2, n int) Formation {
	f := Formation{Start: start, End: end}
	if n <= 0 {
		return f
	}
	f.Slots = make([]Vec2, n)
	for i := 0; i < n; i++ {
		t := 0.5
		if n > 1 {
			t = float64(i) / float64(n-1)
		}
		f.Slots[i] = Lerp(start, end, t)
	}
	return f
}

// Slot returns the i-th slot, clamped to the last one when the line has
// shrunk below the requested index.
func (f Formation) Slot(i int) Vec2 {
	if len(f.Slots) == 0 {
		return Lerp(f.Start, f.End, 0.5)
	}
	if i < 0 {
		i = 0
	}
	if i >= len(f.Slots) {
		i = len(f.Slots) - 1
	}
	return f.Slots[i]
}

// Len returns the number of slots.
func (f Formation) Len() int { return len(f.Slots) }
