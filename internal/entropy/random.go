// Package entropy provides the simulation's randomness: a seeded source for
// reproducible runs, falling back to a crypto/rand seed when none is given.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	mrand "math/rand/v2"
	"time"
)

// Rand is a deterministic random source. It is not safe for concurrent use;
// the simulation only touches it from the tick goroutine.
type Rand struct {
	seed uint64
	r    *mrand.Rand
}

// New returns a source seeded with seed. A zero seed draws one from
// crypto/rand.
func New(seed int64) *Rand {
	s := uint64(seed)
	if seed == 0 {
		s = CryptoSeed()
	}
	return &Rand{seed: s, r: mrand.New(mrand.NewPCG(s, s^0x9e3779b97f4a7c15))}
}

// Seed returns the effective seed.
func (r *Rand) Seed() uint64 { return r.seed }

// Float returns a value in [0, 1).
func (r *Rand) Float() float64 { return r.r.Float64() }

// Range returns a value in [lo, hi).
func (r *Rand) Range(lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + r.r.Float64()*(hi-lo)
}

// IntRange returns a value in [lo, hi], both inclusive.
func (r *Rand) IntRange(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.r.IntN(hi-lo+1)
}

// Intn returns a value in [0, n). It returns 0 when n <= 0.
func (r *Rand) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return r.r.IntN(n)
}

// Duration returns a duration in [lo, hi].
func (r *Rand) Duration(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(r.r.Int64N(int64(hi-lo)+1))
}

// Chance reports true with probability p.
func (r *Rand) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return r.r.Float64() < p
}

// Sample picks k distinct indices from [0, n) uniformly, in draw order.
// It returns all n indices (shuffled) when k >= n.
func (r *Rand) Sample(n, k int) []int {
	if n <= 0 || k <= 0 {
		return nil
	}
	if k > n {
		k = n
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	// Partial Fisher-Yates.
	for i := 0; i < k; i++ {
		j := i + r.r.IntN(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}

// CryptoSeed draws a seed from crypto/rand.
func CryptoSeed() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// This should never happen; fall back to the clock.
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(buf[:])
}
