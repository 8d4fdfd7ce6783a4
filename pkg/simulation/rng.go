package simulation

import (
	"math/rand"
	"time"
)

// Rand is the entropy the engine consumes. *rand.Rand satisfies it.
//
// Thread-safety: implementations need not be safe for concurrent use; the
// simulation loop draws from a single goroutine.
type Rand interface {
	// Float64 returns a uniform value in [0, 1).
	Float64() float64
	// Intn returns a uniform value in [0, n).
	Intn(n int) int
}

// NewRand returns a source seeded with *seed, or with the wall clock when
// seed is nil. Two sources built from the same seed yield the same sequence.
func NewRand(seed *int64) *rand.Rand {
	s := time.Now().UnixNano()
	if seed != nil {
		s = *seed
	}
	return rand.New(rand.NewSource(s))
}
