package adapters

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
)

// Default bounds of the synthetic generator: integers in [20, 50).
const (
	DefaultRandomMin = 20
	DefaultRandomMax = 50
)

// RandomAdapter produces uniformly distributed integers in [Min, Max).
// It is the offline source used when no data endpoint is configured.
type RandomAdapter struct {
	Min int
	Max int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomAdapter returns a generator for [lo, hi).
// A nil rng uses a randomly seeded PCG source.
func NewRandomAdapter(lo, hi int, rng *rand.Rand) (*RandomAdapter, error) {
	if hi <= lo {
		return nil, fmt.Errorf("random adapter: max (%d) must be greater than min (%d)", hi, lo)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomAdapter{Min: lo, Max: hi, rng: rng}, nil
}

func (r *RandomAdapter) Name() string { return "random" }

// Fetch implements Adapter.
func (r *RandomAdapter) Fetch(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	span := r.Max - r.Min
	if span <= 0 {
		return 0, fmt.Errorf("random adapter: invalid range [%d, %d)", r.Min, r.Max)
	}
	return float64(r.Min + r.rng.IntN(span)), nil
}
