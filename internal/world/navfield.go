package world

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// FieldConfig describes the walkable floor: a rectangle with noise-generated
// obstacles (pillars, pews) and guaranteed-clear discs around anchor points.
type FieldConfig struct {
	Min         Vec2    `json:"min" yaml:"min" toml:"min"`
	Max         Vec2    `json:"max" yaml:"max" toml:"max"`
	Seed        int64   `json:"seed" yaml:"seed" toml:"seed"`
	Threshold   float64 `json:"obstacle_threshold" yaml:"obstacle_threshold" toml:"obstacle_threshold"` // 0 disables obstacles
	Frequency   float64 `json:"frequency" yaml:"frequency" toml:"frequency"`
	ClearRadius float64 `json:"clear_radius" yaml:"clear_radius" toml:"clear_radius"`
	Clear       []Vec2  `json:"-" yaml:"-" toml:"-"` // filled from configured anchors
}

// NavField answers walkability queries for the pathfinding host.
type NavField struct {
	cfg   FieldConfig
	noise opensimplex.Noise
}

// NewNavField builds a field from cfg.
func NewNavField(cfg FieldConfig) *NavField {
	if cfg.Frequency <= 0 {
		cfg.Frequency = 0.15
	}
	return &NavField{
		cfg:   cfg,
		noise: opensimplex.NewNormalized(cfg.Seed),
	}
}

// InBounds reports whether p lies inside the floor rectangle.
func (f *NavField) InBounds(p Vec2) bool {
	return p.X >= f.cfg.Min.X && p.X <= f.cfg.Max.X &&
		p.Y >= f.cfg.Min.Y && p.Y <= f.cfg.Max.Y
}

// Walkable reports whether an agent may stand at p. A nil field is
// everywhere walkable.
func (f *NavField) Walkable(p Vec2) bool {
	if f == nil {
		return true
	}
	if !f.InBounds(p) {
		return false
	}
	for _, c := range f.cfg.Clear {
		if Distance(p, c) <= f.cfg.ClearRadius {
			return true
		}
	}
	if f.cfg.Threshold <= 0 {
		return true
	}
	return f.density(p) <= f.cfg.Threshold
}

// SamplePosition returns the walkable point nearest to p within maxDist,
// searching outward in rings.
func (f *NavField) SamplePosition(p Vec2, maxDist float64) (Vec2, bool) {
	if f.Walkable(p) {
		return p, true
	}
	if maxDist <= 0 {
		return Vec2{}, false
	}
	const rings, spokes = 4, 16
	for ring := 1; ring <= rings; ring++ {
		r := maxDist * float64(ring) / rings
		for k := 0; k < spokes; k++ {
			a := 2 * math.Pi * float64(k) / spokes
			q := Vec2{X: p.X + r*math.Cos(a), Y: p.Y + r*math.Sin(a)}
			if f.Walkable(q) {
				return q, true
			}
		}
	}
	return Vec2{}, false
}

// density is multi-octave noise in [0, 1].
func (f *NavField) density(p Vec2) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0
	freq := f.cfg.Frequency
	for i := 0; i < 3; i++ {
		total += f.noise.Eval2(p.X*freq, p.Y*freq) * amplitude
		maxVal += amplitude
		amplitude *= 0.5
		freq *= 2
	}
	return total / maxVal
}
