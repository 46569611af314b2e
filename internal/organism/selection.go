// Tournament selection, Gaussian mutation, and elitist replacement.
package organism

import (
	"math/rand"
	"sort"

	"github.com/aortez/dirtsim/internal/genome"
)

// TournamentSelect samples size indices uniformly from [0, len(fitness))
// and returns the index of the highest fitness among them, breaking ties
// toward the lowest index.
func TournamentSelect(rng *rand.Rand, fitness []float64, size int) int {
	if len(fitness) == 0 {
		return -1
	}
	if size > len(fitness) {
		size = len(fitness)
	}
	if size >= len(fitness) {
		// A full-population tournament degenerates to a deterministic
		// argmax over every index.
		bestIdx := 0
		for idx := 1; idx < len(fitness); idx++ {
			if fitness[idx] > fitness[bestIdx] {
				bestIdx = idx
			}
		}
		return bestIdx
	}
	bestIdx := rng.Intn(len(fitness))
	bestFitness := fitness[bestIdx]
	for i := 1; i < size; i++ {
		idx := rng.Intn(len(fitness))
		if fitness[idx] > bestFitness || (fitness[idx] == bestFitness && idx < bestIdx) {
			bestIdx, bestFitness = idx, fitness[idx]
		}
	}
	return bestIdx
}

// MutationConfig tunes the per-weight mutation rule.
type MutationConfig struct {
	Rate      float64
	Sigma     float64
	ResetRate float64
}

// Mutate applies the per-weight rule in place: with probability
// ResetRate overwrite from the brain's fresh-weight distribution;
// otherwise with probability Rate add Normal(0, Sigma).
func Mutate(rng *rand.Rand, g *genome.Genome, cfg MutationConfig, fresh func(rng *rand.Rand) genome.Genome) {
	var freshWeights []float64
	for i := range g.Weights {
		if cfg.ResetRate > 0 && rng.Float64() < cfg.ResetRate {
			if freshWeights == nil && fresh != nil {
				freshWeights = fresh(rng).Weights
			}
			if i < len(freshWeights) {
				g.Weights[i] = freshWeights[i]
				continue
			}
		}
		if rng.Float64() < cfg.Rate {
			g.Weights[i] += rng.NormFloat64() * cfg.Sigma
		}
	}
}

// IndexedFitness pairs an index into a population with its fitness, for
// sorting without losing the original position.
type IndexedFitness struct {
	Index   int
	Fitness float64
}

// SortByFitnessDescending returns indices 0..n-1 ordered by descending
// fitness.
func SortByFitnessDescending(fitness []float64) []int {
	idx := make([]int, len(fitness))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return fitness[idx[a]] > fitness[idx[b]] })
	return idx
}
