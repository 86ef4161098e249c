package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"melodyevo/internal/fitness"
	"melodyevo/internal/genome"
)

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrEvaluationFailed     = errors.New("evaluation failed")
	ErrControllerUsed       = errors.New("controller already ran")
)

// State is a step of the controller's run.
type State string

const (
	StateInitializing         State = "initializing"
	StateEvaluatingGeneration State = "evaluating_generation"
	StateNextGeneration       State = "next_generation"
	StateAccepted             State = "accepted"
	StateFinalizing           State = "finalizing"
	StateExhausted            State = "exhausted"
	StateDone                 State = "done"
)

// Outcome is how a completed run ended. Neither outcome is an error.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeExhausted Outcome = "exhausted"
	// OutcomeFailed is only reported to the Recorder; Run returns an error
	// instead of a Result.
	OutcomeFailed Outcome = "failed"
)

// Persister stores an accepted melody and reports where it went.
type Persister interface {
	Persist(ctx context.Context, melody genome.Melody, bpm int, destination string) (string, error)
}

// Recorder receives run progress. Implementations must be cheap; they are
// called inline from the evaluation loop.
type Recorder interface {
	RatingObserved(generation, rating int)
	GenerationCompleted(generation int)
	RunFinished(outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RatingObserved(int, int) {}
func (noopRecorder) GenerationCompleted(int) {}
func (noopRecorder) RunFinished(string)      {}

type Config struct {
	NumBars        int
	NotesPerBar    int
	BitsPerNote    int
	PopulationSize int
	MutationRate   float64
	Generations    int
	BPM            int
	RootNote       int
	Scale          string
	Seed           int64

	// Scales defaults to genome.DefaultScales().
	Scales *genome.ScaleRegistry
	// Rand overrides the generator seeded from Seed.
	Rand        *rand.Rand
	Selector    Selector
	Rater       fitness.Rater
	Persister   Persister
	Destination string
	Recorder    Recorder
	Logger      *slog.Logger
}

// GenomeLength is the bit length of every genome in a run.
func (c Config) GenomeLength() int {
	return genome.Length(c.NumBars, c.NotesPerBar, c.BitsPerNote)
}

// Validate checks the run parameters and required collaborators.
func (c Config) Validate() error {
	if err := c.ValidateParameters(); err != nil {
		return err
	}
	if c.Rater == nil {
		return invalidConfig("rater is required")
	}
	return nil
}

// ValidateParameters checks only the numeric and scale parameters.
func (c Config) ValidateParameters() error {
	if c.NumBars <= 0 {
		return invalidConfig("num_bars must be > 0, got %d", c.NumBars)
	}
	if c.NotesPerBar <= 0 {
		return invalidConfig("num_notes_per_bar must be > 0, got %d", c.NotesPerBar)
	}
	if c.BitsPerNote <= 0 {
		return invalidConfig("bits_per_note must be > 0, got %d", c.BitsPerNote)
	}
	if c.PopulationSize <= 0 {
		return invalidConfig("population_size must be > 0, got %d", c.PopulationSize)
	}
	if c.PopulationSize%2 != 0 {
		return invalidConfig("population_size must be even, got %d", c.PopulationSize)
	}
	if math.IsNaN(c.MutationRate) || c.MutationRate < 0 || c.MutationRate > 1 {
		return invalidConfig("mutation_rate must be in [0, 1], got %v", c.MutationRate)
	}
	if c.Generations <= 0 {
		return invalidConfig("generations must be > 0, got %d", c.Generations)
	}
	if c.BPM <= 0 {
		return invalidConfig("bpm must be > 0, got %d", c.BPM)
	}
	// Breeding needs a crossover point strictly inside the genome.
	if c.Generations > 1 && c.GenomeLength() < 2 {
		return invalidConfig("genome length must be >= 2 bits to breed, got %d", c.GenomeLength())
	}
	scales := c.Scales
	if scales == nil {
		scales = genome.DefaultScales()
	}
	if _, ok := scales.Lookup(c.Scale); !ok {
		return fmt.Errorf("%w: %w %q", ErrInvalidConfiguration, genome.ErrUnknownScale, c.Scale)
	}
	codec := genome.Codec{BitsPerNote: c.BitsPerNote, Scales: scales}
	lo, hi, err := codec.NoteRange(c.Scale, c.RootNote)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if genome.BasePitch+lo < genome.MinPitch || genome.BasePitch+hi > genome.MaxPitch {
		return invalidConfig("root_note %d puts pitches %d..%d outside the MIDI key range %d..%d",
			c.RootNote, genome.BasePitch+lo, genome.BasePitch+hi, genome.MinPitch, genome.MaxPitch)
	}
	return nil
}

func invalidConfig(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

// Acceptance describes the melody that reached the maximum rating.
type Acceptance struct {
	Generation int           `json:"generation"`
	Index      int           `json:"index"`
	Genome     genome.Genome `json:"genome"`
	Melody     genome.Melody `json:"melody"`
}

// GenerationRecord lists the ratings collected in one generation, in
// evaluation order.
type GenerationRecord struct {
	Generation int             `json:"generation"`
	Ratings    []FitnessRecord `json:"ratings"`
}

type Result struct {
	Outcome     Outcome
	Generations int
	Evaluations int
	Accepted    *Acceptance
	History     []GenerationRecord

	// ArtifactPath and ArtifactErr report the persister outcome for an
	// accepted melody. A persister failure does not fail the run.
	ArtifactPath string
	ArtifactErr  error
}

// Controller owns the population and runs the interactive evolution loop.
type Controller struct {
	cfg    Config
	codec  genome.Codec
	rng    *rand.Rand
	logger *slog.Logger

	state      State
	generation int
	population []genome.Genome
	ran        bool
}

func NewController(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Scales == nil {
		cfg.Scales = genome.DefaultScales()
	}
	if cfg.Selector == nil {
		cfg.Selector = EliteSelector{Count: DefaultEliteCount}
	}
	if cfg.Recorder == nil {
		cfg.Recorder = noopRecorder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(cfg.Seed))
	}

	return &Controller{
		cfg:    cfg,
		codec:  genome.Codec{BitsPerNote: cfg.BitsPerNote, Scales: cfg.Scales},
		rng:    rng,
		logger: cfg.Logger,
		state:  StateInitializing,
	}, nil
}

func (c *Controller) State() State {
	return c.state
}

// Generation is the 1-based generation currently or last evaluated.
func (c *Controller) Generation() int {
	return c.generation
}

// Population returns a copy of the current population.
func (c *Controller) Population() []genome.Genome {
	out := make([]genome.Genome, len(c.population))
	for i, g := range c.population {
		out[i] = g.Clone()
	}
	return out
}

// Run evolves until a melody receives the maximum rating or the generation
// budget is spent. A controller runs once; restart with a fresh controller.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	if c.ran {
		return Result{}, ErrControllerUsed
	}
	c.ran = true

	result, err := c.run(ctx)
	if err != nil {
		c.logger.Error("run aborted", "generation", c.generation, "state", string(c.state), "error", err)
		c.cfg.Recorder.RunFinished(string(OutcomeFailed))
		c.state = StateDone
		return Result{}, err
	}
	return result, nil
}

func (c *Controller) run(ctx context.Context) (Result, error) {
	if err := c.initialize(); err != nil {
		return Result{}, err
	}

	result := Result{History: make([]GenerationRecord, 0, c.cfg.Generations)}
	for c.generation = 1; c.generation <= c.cfg.Generations; c.generation++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrEvaluationFailed, err)
		}

		c.state = StateEvaluatingGeneration
		c.logger.Info("evaluating generation", "generation", c.generation, "population", len(c.population))

		record, accepted, err := c.evaluate(ctx)
		result.Evaluations += len(record.Ratings)
		result.History = append(result.History, record)
		if err != nil {
			return Result{}, err
		}
		c.cfg.Recorder.GenerationCompleted(c.generation)
		if accepted != nil {
			result.Outcome = OutcomeAccepted
			result.Generations = c.generation
			result.Accepted = accepted
			c.finalize(ctx, &result)
			return result, nil
		}

		if c.generation == c.cfg.Generations {
			break
		}
		c.state = StateNextGeneration
		next, err := c.breed(record.Ratings)
		if err != nil {
			return Result{}, err
		}
		c.population = next
	}

	c.state = StateExhausted
	result.Outcome = OutcomeExhausted
	result.Generations = c.cfg.Generations
	c.logger.Info("generation budget exhausted without an accepted melody", "generations", c.cfg.Generations, "evaluations", result.Evaluations)
	c.cfg.Recorder.RunFinished(string(OutcomeExhausted))
	c.state = StateDone
	return result, nil
}

func (c *Controller) initialize() error {
	c.state = StateInitializing
	length := c.cfg.GenomeLength()
	population := make([]genome.Genome, 0, c.cfg.PopulationSize)
	for i := 0; i < c.cfg.PopulationSize; i++ {
		g, err := c.codec.Generate(length, c.rng)
		if err != nil {
			return err
		}
		population = append(population, g)
	}
	c.population = population
	return nil
}

func (c *Controller) evaluate(ctx context.Context) (GenerationRecord, *Acceptance, error) {
	record := GenerationRecord{
		Generation: c.generation,
		Ratings:    make([]FitnessRecord, 0, len(c.population)),
	}
	for i, g := range c.population {
		melody, err := c.codec.Decode(g, c.cfg.Scale, c.cfg.RootNote)
		if err != nil {
			return record, nil, err
		}

		rating, err := c.cfg.Rater.Rate(ctx, fitness.Request{
			Melody:     melody,
			BPM:        c.cfg.BPM,
			Generation: c.generation,
			Index:      i,
		})
		if err != nil {
			return record, nil, fmt.Errorf("%w: generation %d melody %d: %w", ErrEvaluationFailed, c.generation, i, err)
		}
		if err := fitness.CheckRating(rating); err != nil {
			return record, nil, fmt.Errorf("%w: generation %d melody %d: %w", ErrEvaluationFailed, c.generation, i, err)
		}

		c.logger.Debug("melody rated", "generation", c.generation, "index", i, "rating", rating)
		c.cfg.Recorder.RatingObserved(c.generation, rating)
		record.Ratings = append(record.Ratings, FitnessRecord{Index: i, Genome: g.Clone(), Rating: rating})

		if rating == fitness.MaxRating {
			c.state = StateAccepted
			return record, &Acceptance{
				Generation: c.generation,
				Index:      i,
				Genome:     g.Clone(),
				Melody:     melody,
			}, nil
		}
	}
	return record, nil, nil
}

// breed ranks the rated generation once and fills the next population with
// mutated crossover children, drawing a fresh parent pair for every pair of
// children.
func (c *Controller) breed(records []FitnessRecord) ([]genome.Genome, error) {
	ranked := RankRecords(records)

	next := make([]genome.Genome, 0, c.cfg.PopulationSize)
	for i := 0; i < c.cfg.PopulationSize/2; i++ {
		parent1, parent2, err := PickParents(c.cfg.Selector, ranked, c.rng)
		if err != nil {
			return nil, err
		}
		child1, child2, err := Crossover(parent1, parent2, c.rng)
		if err != nil {
			return nil, err
		}
		mutated1, err := Mutate(child1, c.cfg.MutationRate, c.rng)
		if err != nil {
			return nil, err
		}
		mutated2, err := Mutate(child2, c.cfg.MutationRate, c.rng)
		if err != nil {
			return nil, err
		}
		next = append(next, mutated1, mutated2)
	}
	return next, nil
}

func (c *Controller) finalize(ctx context.Context, result *Result) {
	c.state = StateFinalizing
	accepted := result.Accepted
	c.logger.Info("melody accepted", "generation", accepted.Generation, "index", accepted.Index, "melody", fmt.Sprint(accepted.Melody))

	if c.cfg.Persister != nil {
		path, err := c.cfg.Persister.Persist(ctx, accepted.Melody, c.cfg.BPM, c.cfg.Destination)
		result.ArtifactPath = path
		result.ArtifactErr = err
		if err != nil {
			c.logger.Error("persist accepted melody", "destination", c.cfg.Destination, "error", err)
		} else {
			c.logger.Info("accepted melody saved", "path", path)
		}
	}

	c.cfg.Recorder.RunFinished(string(OutcomeAccepted))
	c.state = StateDone
}
