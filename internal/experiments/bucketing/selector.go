package bucketing

import (
	"math/rand"

	"nimbus/internal/experiments/models"
)

// BranchSelector picks a branch index. Implementations must consume exactly
// one value from rng per call so later experiments see a stable sequence, and
// must return an index in [0, len(branches)). branches is never empty.
type BranchSelector interface {
	Select(rng *rand.Rand, branches []models.Branch) int
}

// UniformSelector ignores ratios and reduces one draw modulo the branch count.
type UniformSelector struct{}

func (UniformSelector) Select(rng *rand.Rand, branches []models.Branch) int {
	return int(rng.Uint64() % uint64(len(branches)))
}

// WeightedSelector draws proportionally to Branch.Ratio. When every ratio is
// zero it behaves like UniformSelector.
type WeightedSelector struct{}

func (WeightedSelector) Select(rng *rand.Rand, branches []models.Branch) int {
	draw := rng.Uint64()
	var total uint64
	for _, b := range branches {
		total += uint64(b.Ratio)
	}
	if total == 0 {
		return int(draw % uint64(len(branches)))
	}
	point := draw % total
	for i, b := range branches {
		if point < uint64(b.Ratio) {
			return i
		}
		point -= uint64(b.Ratio)
	}
	return len(branches) - 1
}
