package evo

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"melodyevo/internal/genome"
)

var (
	ErrInvalidRate    = errors.New("invalid mutation rate")
	ErrLengthMismatch = errors.New("parent length mismatch")
)

// Mutate flips each bit of g independently with probability rate and returns
// the result as a new genome.
func Mutate(g genome.Genome, rate float64, rng *rand.Rand) (genome.Genome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRate, rate)
	}

	out := make(genome.Genome, len(g))
	for i, bit := range g {
		if rng.Float64() < rate {
			out[i] = 1 - bit
		} else {
			out[i] = bit
		}
	}
	return out, nil
}

// Crossover recombines two equal-length parents at a point drawn uniformly
// from [1, len-1], so each child carries material from both parents.
func Crossover(p1, p2 genome.Genome, rng *rand.Rand) (genome.Genome, genome.Genome, error) {
	if rng == nil {
		return nil, nil, fmt.Errorf("random source is required")
	}
	if err := checkParents(p1, p2); err != nil {
		return nil, nil, err
	}
	point := 1 + rng.Intn(len(p1)-1)
	return CrossoverAt(p1, p2, point)
}

// CrossoverAt is the deterministic single-point recombination used by Crossover.
func CrossoverAt(p1, p2 genome.Genome, point int) (genome.Genome, genome.Genome, error) {
	if err := checkParents(p1, p2); err != nil {
		return nil, nil, err
	}
	if point < 1 || point > len(p1)-1 {
		return nil, nil, fmt.Errorf("crossover point %d outside [1, %d]", point, len(p1)-1)
	}

	child1 := make(genome.Genome, 0, len(p1))
	child1 = append(child1, p1[:point]...)
	child1 = append(child1, p2[point:]...)

	child2 := make(genome.Genome, 0, len(p2))
	child2 = append(child2, p2[:point]...)
	child2 = append(child2, p1[point:]...)
	return child1, child2, nil
}

func checkParents(p1, p2 genome.Genome) error {
	if len(p1) != len(p2) {
		return fmt.Errorf("%w: %d vs %d", ErrLengthMismatch, len(p1), len(p2))
	}
	if len(p1) < 2 {
		return fmt.Errorf("%w: parents need at least 2 bits, got %d", ErrLengthMismatch, len(p1))
	}
	return nil
}
