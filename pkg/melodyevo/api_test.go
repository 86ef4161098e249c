package melodyevo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2/smf"

	"melodyevo/internal/artifact"
	"melodyevo/internal/config"
	"melodyevo/internal/evo"
	"melodyevo/internal/fitness"
)

func newTestClient(t *testing.T) (*Client, string) {
	t.Helper()
	dir := t.TempDir()
	client, err := New(Options{
		StoreKind:    "memory",
		ArtifactsDir: filepath.Join(dir, "runs"),
		ExportsDir:   filepath.Join(dir, "exports"),
		Now: func() time.Time {
			return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		},
	})
	require.NoError(t, err)
	require.NoError(t, client.Init(context.Background()))
	t.Cleanup(func() {
		_ = client.Close()
	})
	return client, dir
}

func smallConfig(dir string) config.Config {
	cfg := config.Default()
	cfg.NumBars = 1
	cfg.NumNotesPerBar = 2
	cfg.PopulationSize = 2
	cfg.Generations = 3
	cfg.Seed = 11
	cfg.Output = filepath.Join(dir, "final_melody.mid")
	return cfg
}

func TestRunAcceptedIsRecorded(t *testing.T) {
	ctx := context.Background()
	client, dir := newTestClient(t)
	cfg := smallConfig(dir)

	rater := fitness.NewSequenceRater(2, 3, 5)
	summary, err := client.Run(ctx, RunRequest{Config: cfg, Rater: rater})
	require.NoError(t, err)

	assert.Equal(t, evo.OutcomeAccepted, summary.Outcome)
	assert.Equal(t, 2, summary.Generations)
	assert.Equal(t, 3, summary.Evaluations)
	assert.Equal(t, int64(11), summary.Seed)
	require.NotNil(t, summary.Accepted)
	require.NoError(t, summary.ArtifactErr)
	assert.Equal(t, cfg.Output, summary.ArtifactPath)
	assert.FileExists(t, cfg.Output)
	assert.FileExists(t, filepath.Join(summary.RunDir, "melody.mid"))

	runs, err := client.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, summary.RunID, runs[0].RunID)
	assert.Equal(t, "accepted", runs[0].Outcome)
	assert.Equal(t, 5, runs[0].BestRating)
	assert.Equal(t, 2, runs[0].GenerationsRun)

	history, err := client.History(ctx, RunRef{Latest: true})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []int{2, 3, 5}, []int{history[0].Rating, history[1].Rating, history[2].Rating})
	assert.Equal(t, 2, history[2].Generation)
	assert.Equal(t, summary.Accepted.Genome.String(), history[2].Genome)
}

func TestRunExhaustedHasNoMelody(t *testing.T) {
	ctx := context.Background()
	client, dir := newTestClient(t)
	cfg := smallConfig(dir)

	summary, err := client.Run(ctx, RunRequest{Config: cfg, Rater: fitness.FixedRater{Rating: 1}})
	require.NoError(t, err)
	assert.Equal(t, evo.OutcomeExhausted, summary.Outcome)
	assert.Equal(t, 6, summary.Evaluations)
	assert.Nil(t, summary.Accepted)
	assert.NoFileExists(t, cfg.Output)
	assert.NoFileExists(t, filepath.Join(summary.RunDir, "melody.mid"))

	_, err = client.Render(ctx, RenderRequest{RunRef: RunRef{RunID: summary.RunID}, Out: filepath.Join(dir, "out.mid")})
	require.ErrorIs(t, err, ErrNoAcceptedMelody)
}

func TestRunFailureRecordsNothing(t *testing.T) {
	ctx := context.Background()
	client, dir := newTestClient(t)

	_, err := client.Run(ctx, RunRequest{Config: smallConfig(dir), Rater: fitness.FixedRater{Rating: 9}})
	require.ErrorIs(t, err, evo.ErrEvaluationFailed)

	runs, err := client.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	_, err = client.History(ctx, RunRef{Latest: true})
	require.ErrorIs(t, err, ErrNoRuns)
}

func TestRunRejectsInvalidRequests(t *testing.T) {
	ctx := context.Background()
	client, dir := newTestClient(t)

	_, err := client.Run(ctx, RunRequest{Config: smallConfig(dir)})
	require.ErrorIs(t, err, evo.ErrInvalidConfiguration)

	cfg := smallConfig(dir)
	cfg.PopulationSize = 3
	_, err = client.Run(ctx, RunRequest{Config: cfg, Rater: fitness.FixedRater{Rating: 5}})
	require.ErrorIs(t, err, evo.ErrInvalidConfiguration)
}

func TestRunRejectsRootNoteOutsideKeyRange(t *testing.T) {
	ctx := context.Background()
	client, dir := newTestClient(t)

	for _, root := range []int{80, -61} {
		cfg := smallConfig(dir)
		cfg.RootNote = root
		rater := fitness.NewSequenceRater(5)

		_, err := client.Run(ctx, RunRequest{Config: cfg, Rater: rater})
		require.ErrorIs(t, err, evo.ErrInvalidConfiguration, "root %d", root)
		assert.Empty(t, rater.Requests(), "root %d", root)
	}

	runs, err := client.store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestRunRollsBackWhenRecordingFails(t *testing.T) {
	ctx := context.Background()
	client, dir := newTestClient(t)
	cfg := smallConfig(dir)

	// A directory where the run index should be makes the last recording step fail.
	require.NoError(t, os.MkdirAll(filepath.Join(client.artifactsDir, "run_index.json"), 0o755))

	_, err := client.Run(ctx, RunRequest{Config: cfg, Rater: fitness.NewSequenceRater(5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "update run index")

	runs, err := client.store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)

	entries, err := os.ReadDir(client.artifactsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "run_index.json", entries[0].Name())
}

func TestRunRecordsNothingWhenArtifactsDirIsUnusable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blocked := filepath.Join(dir, "runs")
	require.NoError(t, os.WriteFile(blocked, []byte("not a directory"), 0o644))

	client, err := New(Options{StoreKind: "memory", ArtifactsDir: blocked, ExportsDir: filepath.Join(dir, "exports")})
	require.NoError(t, err)
	require.NoError(t, client.Init(ctx))
	t.Cleanup(func() {
		_ = client.Close()
	})

	_, err = client.Run(ctx, RunRequest{Config: smallConfig(dir), Rater: fitness.NewSequenceRater(5)})
	require.Error(t, err)

	runs, err := client.store.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)
	data, err := os.ReadFile(blocked)
	require.NoError(t, err)
	assert.Equal(t, "not a directory", string(data))
}

func TestRunPicksSeedFromClock(t *testing.T) {
	client, dir := newTestClient(t)
	cfg := smallConfig(dir)
	cfg.Seed = 0

	summary, err := client.Run(context.Background(), RunRequest{Config: cfg, Rater: fitness.FixedRater{Rating: 5}})
	require.NoError(t, err)
	assert.Equal(t, client.now().UnixNano(), summary.Seed)
}

func TestRunAppliesEvaluationTimeout(t *testing.T) {
	client, dir := newTestClient(t)
	cfg := smallConfig(dir)
	cfg.EvaluationTimeout = "20ms"

	blocking := fitness.FuncRater(func(ctx context.Context, _ fitness.Request) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	_, err := client.Run(context.Background(), RunRequest{Config: cfg, Rater: blocking})
	require.ErrorIs(t, err, evo.ErrEvaluationFailed)
}

func TestRenderAndExport(t *testing.T) {
	ctx := context.Background()
	client, dir := newTestClient(t)
	cfg := smallConfig(dir)
	cfg.BPM = 90

	summary, err := client.Run(ctx, RunRequest{Config: cfg, Rater: fitness.FixedRater{Rating: 5}})
	require.NoError(t, err)

	out := filepath.Join(dir, "rendered.mid")
	rendered, err := client.Render(ctx, RenderRequest{RunRef: RunRef{Latest: true}, Out: out})
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, rendered.RunID)
	assert.Equal(t, summary.Accepted.Melody, rendered.Melody)
	assert.Equal(t, 90, rendered.BPM)

	file, err := smf.ReadFile(out)
	require.NoError(t, err)
	assert.Len(t, file.Tracks, 1)

	exported, err := client.Export(ctx, ExportRequest{RunRef: RunRef{RunID: summary.RunID}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "exports", summary.RunID), exported.Directory)
	for _, name := range []string{"config.json", "ratings.json", "ratings.csv", "melody.mid"} {
		assert.FileExists(t, filepath.Join(exported.Directory, name))
	}
}

func TestHistoryAndRenderFallBackToArtifacts(t *testing.T) {
	ctx := context.Background()
	client, dir := newTestClient(t)
	cfg := smallConfig(dir)

	summary, err := client.Run(ctx, RunRequest{Config: cfg, Rater: fitness.NewSequenceRater(4, 5)})
	require.NoError(t, err)

	// A second client over the same directory starts with an empty memory store.
	reopened, err := New(Options{StoreKind: "memory", ArtifactsDir: filepath.Join(dir, "runs")})
	require.NoError(t, err)
	require.NoError(t, reopened.Init(ctx))

	history, err := reopened.History(ctx, RunRef{RunID: summary.RunID})
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 5, history[1].Rating)

	rendered, err := reopened.Render(ctx, RenderRequest{RunRef: RunRef{RunID: summary.RunID}, Out: filepath.Join(dir, "again.mid")})
	require.NoError(t, err)
	assert.Equal(t, summary.Accepted.Melody, rendered.Melody)
	assert.Equal(t, cfg.BPM, rendered.BPM)

	_, err = reopened.History(ctx, RunRef{RunID: "missing"})
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestRunRefSelection(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	_, err := client.Export(ctx, ExportRequest{RunRef: RunRef{RunID: "x", Latest: true}})
	require.ErrorIs(t, err, ErrAmbiguousSelection)
	_, err = client.Export(ctx, ExportRequest{})
	require.Error(t, err)
	_, err = client.Render(ctx, RenderRequest{RunRef: RunRef{Latest: true}})
	require.ErrorIs(t, err, ErrNoRuns)
}

func TestRunUsesInjectedPersister(t *testing.T) {
	client, dir := newTestClient(t)
	cfg := smallConfig(dir)

	persister := artifact.FilePersister{Dir: filepath.Join(dir, "songs")}
	cfg.Output = "best.mid"
	summary, err := client.Run(context.Background(), RunRequest{Config: cfg, Rater: fitness.FixedRater{Rating: 5}, Persister: persister})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "songs", "best.mid"), summary.ArtifactPath)
	_, err = os.Stat(summary.ArtifactPath)
	require.NoError(t, err)
}

func TestScalesListsDefaults(t *testing.T) {
	names := map[string][]int{}
	for _, item := range Scales() {
		names[item.Name] = item.Intervals
	}
	assert.Equal(t, []int{0, 2, 4, 5, 7, 9, 11}, names["major"])
	assert.Contains(t, names, "minor")
}
