package evo

import (
	"fmt"
	"math/rand"
	"sort"

	"melodyevo/internal/genome"
)

// FitnessRecord pairs a genome with the rating it received.
type FitnessRecord struct {
	Index  int           `json:"index"`
	Genome genome.Genome `json:"genome"`
	Rating int           `json:"rating"`
}

// Selector chooses a parent from records ranked best first.
type Selector interface {
	Name() string
	PickParent(rng *rand.Rand, ranked []FitnessRecord) (genome.Genome, error)
}

// RankRecords returns a copy of records sorted by rating, best first. Ties
// keep their original relative order.
func RankRecords(records []FitnessRecord) []FitnessRecord {
	ranked := make([]FitnessRecord, len(records))
	copy(ranked, records)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Rating > ranked[j].Rating
	})
	return ranked
}

// SelectParents ranks records and draws two parents with selector.
func SelectParents(selector Selector, records []FitnessRecord, rng *rand.Rand) (genome.Genome, genome.Genome, error) {
	return PickParents(selector, RankRecords(records), rng)
}

// PickParents draws two parents, independently and with replacement, from
// records already ranked best first.
func PickParents(selector Selector, ranked []FitnessRecord, rng *rand.Rand) (genome.Genome, genome.Genome, error) {
	if selector == nil {
		selector = EliteSelector{}
	}
	if len(ranked) == 0 {
		return nil, nil, fmt.Errorf("no fitness records to select from")
	}
	first, err := selector.PickParent(rng, ranked)
	if err != nil {
		return nil, nil, err
	}
	second, err := selector.PickParent(rng, ranked)
	if err != nil {
		return nil, nil, err
	}
	return first, second, nil
}

// DefaultEliteCount is the size of the elite pool parents are drawn from.
const DefaultEliteCount = 2

// EliteSelector picks uniformly, with replacement, from the top Count records.
type EliteSelector struct {
	Count int
}

func (EliteSelector) Name() string {
	return "elite"
}

func (s EliteSelector) PickParent(rng *rand.Rand, ranked []FitnessRecord) (genome.Genome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	count := s.Count
	if count <= 0 {
		count = DefaultEliteCount
	}
	if count > len(ranked) {
		count = len(ranked)
	}
	if count == 0 {
		return nil, fmt.Errorf("no ranked records to select from")
	}
	return ranked[rng.Intn(count)].Genome, nil
}

// TournamentSelector samples candidates from the top of the ranking and picks
// the best rated among them.
type TournamentSelector struct {
	PoolSize       int
	TournamentSize int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

func (s TournamentSelector) PickParent(rng *rand.Rand, ranked []FitnessRecord) (genome.Genome, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("no ranked records to select from")
	}

	poolSize := s.PoolSize
	if poolSize <= 0 || poolSize > len(ranked) {
		poolSize = len(ranked)
	}

	tournamentSize := s.TournamentSize
	if tournamentSize <= 0 {
		tournamentSize = 3
	}
	if tournamentSize > poolSize {
		tournamentSize = poolSize
	}

	best := ranked[rng.Intn(poolSize)]
	for i := 1; i < tournamentSize; i++ {
		candidate := ranked[rng.Intn(poolSize)]
		if candidate.Rating > best.Rating {
			best = candidate
		}
	}
	return best.Genome, nil
}

// SelectorByName resolves the selection policy names accepted in config.
func SelectorByName(name string) (Selector, error) {
	switch name {
	case "", "elite":
		return EliteSelector{Count: DefaultEliteCount}, nil
	case "tournament":
		return TournamentSelector{}, nil
	default:
		return nil, fmt.Errorf("unsupported selection: %s", name)
	}
}
