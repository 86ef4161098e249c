// Package melodyevo runs interactive melody evolution and keeps a history of
// finished runs.
package melodyevo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"melodyevo/internal/artifact"
	"melodyevo/internal/config"
	"melodyevo/internal/evo"
	"melodyevo/internal/fitness"
	"melodyevo/internal/genome"
	"melodyevo/internal/model"
	"melodyevo/internal/stats"
	"melodyevo/internal/storage"
)

const (
	defaultExportsDir = "exports"
	defaultRunsLimit  = 20
)

var (
	ErrNoRuns             = errors.New("no runs recorded")
	ErrRunNotFound        = errors.New("run not found")
	ErrNoAcceptedMelody   = errors.New("run has no accepted melody")
	ErrAmbiguousSelection = errors.New("use either run id or latest")
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger

	// Now defaults to time.Now. Tests pin it.
	Now func() time.Time
}

type Client struct {
	store  storage.Store
	logger *slog.Logger
	now    func() time.Time

	artifactsDir string
	exportsDir   string
}

type RunRequest struct {
	Config config.Config
	Rater  fitness.Rater

	// Persister defaults to writing MIDI files relative to the working
	// directory.
	Persister evo.Persister
	Recorder  evo.Recorder
}

type RunSummary struct {
	RunID        string
	Outcome      evo.Outcome
	Seed         int64
	Generations  int
	Evaluations  int
	Accepted     *evo.Acceptance
	ArtifactPath string
	ArtifactErr  error
	RunDir       string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID          string `json:"run_id"`
	CreatedAtUTC   string `json:"created_at_utc"`
	Outcome        string `json:"outcome"`
	Scale          string `json:"scale"`
	Seed           int64  `json:"seed"`
	Population     int    `json:"population_size"`
	Generations    int    `json:"generations"`
	GenerationsRun int    `json:"generations_run"`
	Evaluations    int    `json:"evaluations"`
	BestRating     int    `json:"best_rating"`
}

// RunRef names a run either by id or as the most recent one.
type RunRef struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunRef
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type RenderRequest struct {
	RunRef
	Out string
}

type RenderSummary struct {
	RunID  string
	Path   string
	Melody genome.Melody
	BPM    int
}

type ScaleItem struct {
	Name      string
	Intervals []int
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = config.DefaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = config.DefaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		now:          now,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.store.Init(ctx)
}

// Run evolves melodies until one is accepted or the generation budget is
// spent. Nothing is recorded for runs that fail.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Rater == nil {
		return RunSummary{}, fmt.Errorf("%w: rater is required", evo.ErrInvalidConfiguration)
	}
	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = c.now().UnixNano()
	}
	timeout, err := cfg.Timeout()
	if err != nil {
		return RunSummary{}, err
	}

	controllerCfg, err := cfg.Controller()
	if err != nil {
		return RunSummary{}, err
	}
	controllerCfg.Rater = req.Rater
	if timeout > 0 {
		controllerCfg.Rater = fitness.WithTimeout(req.Rater, timeout)
	}
	controllerCfg.Persister = req.Persister
	if controllerCfg.Persister == nil {
		controllerCfg.Persister = artifact.FilePersister{}
	}
	controllerCfg.Recorder = req.Recorder
	controllerCfg.Logger = c.logger

	controller, err := evo.NewController(controllerCfg)
	if err != nil {
		return RunSummary{}, err
	}
	result, err := controller.Run(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	runID := uuid.NewString()
	createdAt := c.now().UTC().Format(time.RFC3339Nano)
	generations := generationRecords(result.History)
	accepted := acceptedRecord(result.Accepted)
	ratings := stats.FlattenGenerations(generations)

	run := model.RunRecord{
		VersionedRecord: storage.Stamp(),
		ID:              runID,
		CreatedAtUTC:    createdAt,
		Outcome:         string(result.Outcome),
		Seed:            cfg.Seed,
		Scale:           cfg.Scale,
		RootNote:        cfg.RootNote,
		BPM:             cfg.BPM,
		NumBars:         cfg.NumBars,
		NumNotesPerBar:  cfg.NumNotesPerBar,
		BitsPerNote:     cfg.BitsPerNote,
		PopulationSize:  cfg.PopulationSize,
		MutationRate:    cfg.MutationRate,
		Selection:       controllerCfg.Selector.Name(),
		Generations:     cfg.Generations,
		GenerationsRun:  result.Generations,
		Evaluations:     result.Evaluations,
		Accepted:        accepted,
		ArtifactPath:    result.ArtifactPath,
	}
	if result.ArtifactErr != nil {
		run.ArtifactError = result.ArtifactErr.Error()
	}
	artifacts := stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:             runID,
			Scale:             cfg.Scale,
			RootNote:          cfg.RootNote,
			BPM:               cfg.BPM,
			NumBars:           cfg.NumBars,
			NumNotesPerBar:    cfg.NumNotesPerBar,
			BitsPerNote:       cfg.BitsPerNote,
			PopulationSize:    cfg.PopulationSize,
			MutationRate:      cfg.MutationRate,
			Generations:       cfg.Generations,
			Selection:         run.Selection,
			Seed:              cfg.Seed,
			EvaluationTimeout: cfg.EvaluationTimeout,
			Output:            cfg.Output,
		},
		Ratings: stats.RatingsReport{
			Outcome:     run.Outcome,
			Evaluations: result.Evaluations,
			Accepted:    accepted,
			Ratings:     ratings,
		},
	}
	entry := stats.RunIndexEntry{
		RunID:          runID,
		Outcome:        run.Outcome,
		Scale:          cfg.Scale,
		PopulationSize: cfg.PopulationSize,
		Generations:    cfg.Generations,
		GenerationsRun: result.Generations,
		Evaluations:    result.Evaluations,
		BestRating:     stats.BestRating(ratings),
		Seed:           cfg.Seed,
		CreatedAtUTC:   createdAt,
	}

	runDir, err := c.record(ctx, run, generations, artifacts, entry, result.Accepted)
	if err != nil {
		c.discard(ctx, runID)
		return RunSummary{}, err
	}

	c.logger.Info("run recorded", "run_id", runID, "outcome", run.Outcome, "dir", runDir)
	return RunSummary{
		RunID:        runID,
		Outcome:      result.Outcome,
		Seed:         cfg.Seed,
		Generations:  result.Generations,
		Evaluations:  result.Evaluations,
		Accepted:     result.Accepted,
		ArtifactPath: result.ArtifactPath,
		ArtifactErr:  result.ArtifactErr,
		RunDir:       runDir,
	}, nil
}

// record writes the run directory first and the store and index last, so
// that a failure at any step can be undone by discard.
func (c *Client) record(
	ctx context.Context,
	run model.RunRecord,
	generations []model.GenerationRecord,
	artifacts stats.RunArtifacts,
	entry stats.RunIndexEntry,
	accepted *evo.Acceptance,
) (string, error) {
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, artifacts)
	if err != nil {
		return "", fmt.Errorf("write run artifacts: %w", err)
	}
	if accepted != nil {
		if err := artifact.WriteFile(filepath.Join(runDir, stats.MelodyFile), accepted.Melody, run.BPM); err != nil {
			return "", fmt.Errorf("write run melody: %w", err)
		}
	}
	if err := c.store.SaveGenerations(ctx, run.ID, generations); err != nil {
		return "", fmt.Errorf("save generations %s: %w", run.ID, err)
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return "", fmt.Errorf("save run %s: %w", run.ID, err)
	}
	if err := stats.AppendRunIndex(c.artifactsDir, entry); err != nil {
		return "", fmt.Errorf("update run index: %w", err)
	}
	return runDir, nil
}

// discard removes whatever record wrote for runID. Failures are logged; the
// caller already has the error that triggered the cleanup.
func (c *Client) discard(ctx context.Context, runID string) {
	if err := c.store.DeleteRun(context.WithoutCancel(ctx), runID); err != nil {
		c.logger.Error("discard run record", "run_id", runID, "error", err)
	}
	if err := os.RemoveAll(filepath.Join(c.artifactsDir, runID)); err != nil {
		c.logger.Error("discard run directory", "run_id", runID, "error", err)
	}
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = defaultRunsLimit
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:          e.RunID,
			CreatedAtUTC:   e.CreatedAtUTC,
			Outcome:        e.Outcome,
			Scale:          e.Scale,
			Seed:           e.Seed,
			Population:     e.PopulationSize,
			Generations:    e.Generations,
			GenerationsRun: e.GenerationsRun,
			Evaluations:    e.Evaluations,
			BestRating:     e.BestRating,
		})
	}
	return out, nil
}

// History returns every rating collected during a run in evaluation order.
// The store is consulted first; runs recorded by an earlier process fall back
// to the artifacts directory.
func (c *Client) History(ctx context.Context, ref RunRef) ([]stats.RatingEntry, error) {
	runID, err := c.resolveRun(ref)
	if err != nil {
		return nil, err
	}

	generations, ok, err := c.store.GetGenerations(ctx, runID)
	if err != nil {
		return nil, err
	}
	if ok {
		return stats.FlattenGenerations(generations), nil
	}

	report, ok, err := stats.ReadRatings(c.artifactsDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return report.Ratings, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolveRun(req.RunRef)
	if err != nil {
		return ExportSummary{}, err
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// Render writes the accepted melody of a recorded run to a MIDI file.
func (c *Client) Render(ctx context.Context, req RenderRequest) (RenderSummary, error) {
	if req.Out == "" {
		req.Out = config.DefaultOutput
	}
	runID, err := c.resolveRun(req.RunRef)
	if err != nil {
		return RenderSummary{}, err
	}

	melody, bpm, err := c.acceptedMelody(ctx, runID)
	if err != nil {
		return RenderSummary{}, err
	}
	if err := artifact.WriteFile(req.Out, melody, bpm); err != nil {
		return RenderSummary{}, err
	}
	return RenderSummary{RunID: runID, Path: req.Out, Melody: melody, BPM: bpm}, nil
}

// Scales lists the registered scales by name.
func Scales() []ScaleItem {
	names := genome.ScaleNames()
	out := make([]ScaleItem, 0, len(names))
	for _, name := range names {
		intervals, _ := genome.LookupScale(name)
		out = append(out, ScaleItem{Name: name, Intervals: intervals})
	}
	return out
}

func (c *Client) acceptedMelody(ctx context.Context, runID string) (genome.Melody, int, error) {
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return nil, 0, err
	}
	if ok {
		if run.Accepted == nil {
			return nil, 0, fmt.Errorf("%w: %s", ErrNoAcceptedMelody, runID)
		}
		return genome.Melody(run.Accepted.Melody), run.BPM, nil
	}

	report, ok, err := stats.ReadRatings(c.artifactsDir, runID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if report.Accepted == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrNoAcceptedMelody, runID)
	}
	cfg, ok, err := stats.ReadRunConfig(c.artifactsDir, runID)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s has no config", ErrRunNotFound, runID)
	}
	return genome.Melody(report.Accepted.Melody), cfg.BPM, nil
}

func (c *Client) resolveRun(ref RunRef) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", ErrAmbiguousSelection
	}
	if ref.RunID == "" && !ref.Latest {
		return "", errors.New("run id or latest is required")
	}
	if !ref.Latest {
		return ref.RunID, nil
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", ErrNoRuns
	}
	return entries[0].RunID, nil
}

func generationRecords(history []evo.GenerationRecord) []model.GenerationRecord {
	out := make([]model.GenerationRecord, 0, len(history))
	for _, generation := range history {
		ratings := make([]model.RatingRecord, 0, len(generation.Ratings))
		for _, record := range generation.Ratings {
			ratings = append(ratings, model.RatingRecord{
				Index:  record.Index,
				Genome: record.Genome.String(),
				Rating: record.Rating,
			})
		}
		out = append(out, model.GenerationRecord{
			VersionedRecord: storage.Stamp(),
			Generation:      generation.Generation,
			Ratings:         ratings,
		})
	}
	return out
}

func acceptedRecord(accepted *evo.Acceptance) *model.AcceptedMelody {
	if accepted == nil {
		return nil
	}
	return &model.AcceptedMelody{
		Generation: accepted.Generation,
		Index:      accepted.Index,
		Genome:     accepted.Genome.String(),
		Melody:     append([]int(nil), accepted.Melody...),
	}
}
