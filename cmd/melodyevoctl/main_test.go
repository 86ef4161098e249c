package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"melodyevo/internal/evo"
)

type cli struct {
	dir string
}

func newCLI(t *testing.T) cli {
	t.Helper()
	dir := t.TempDir()
	payload := []byte("num_bars: 1\nnum_notes_per_bar: 2\npopulation_size: 2\ngenerations: 2\nseed: 3\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.yaml"), payload, 0o644))
	return cli{dir: dir}
}

// exec runs the CLI with stdin and returns stdout.
func (c cli) exec(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append(args, "--artifacts-dir", filepath.Join(c.dir, "runs"), "--log-level", "error")
	err := run(context.Background(), args, strings.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), err
}

func (c cli) runArgs(extra ...string) []string {
	args := []string{"run", "--config", filepath.Join(c.dir, "run.yaml"), "--out", filepath.Join(c.dir, "final_melody.mid")}
	return append(args, extra...)
}

func TestRunAcceptsMelodyFromTerminal(t *testing.T) {
	c := newCLI(t)

	out, err := c.exec(t, "x\n2\n5\n", c.runArgs()...)
	require.NoError(t, err)
	assert.Contains(t, out, "--- Generation 1 ---")
	assert.Contains(t, out, "is not a number")
	assert.Contains(t, out, "Melody 2 of generation 1 accepted")
	assert.Contains(t, out, "Saved to "+filepath.Join(c.dir, "final_melody.mid"))
	assert.Contains(t, out, "seed=3")
	assert.FileExists(t, filepath.Join(c.dir, "final_melody.mid"))

	out, err = c.exec(t, "", "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "outcome=accepted")
	assert.Contains(t, out, "gens=1/2 ratings=2 best=5")

	out, err = c.exec(t, "", "history", "--latest")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "rating=2")
	assert.Contains(t, lines[1], "melody=2")
	assert.Contains(t, lines[1], "rating=5")

	rendered := filepath.Join(c.dir, "again.mid")
	out, err = c.exec(t, "", "render", "--latest", "--out", rendered)
	require.NoError(t, err)
	assert.Contains(t, out, "bpm=120")
	assert.FileExists(t, rendered)

	out, err = c.exec(t, "", "export", "--latest", "--out", filepath.Join(c.dir, "exports"))
	require.NoError(t, err)
	assert.Contains(t, out, "exported run_id=")
}

func TestRunReportsExhaustion(t *testing.T) {
	c := newCLI(t)

	out, err := c.exec(t, "1\n1\n1\n1\n", c.runArgs()...)
	require.NoError(t, err)
	assert.Contains(t, out, "No melody was rated 5 within 2 generations (4 ratings).")
	assert.NoFileExists(t, filepath.Join(c.dir, "final_melody.mid"))

	_, err = c.exec(t, "", "render", "--latest")
	require.Error(t, err)
}

func TestRunFailsWhenInputCloses(t *testing.T) {
	c := newCLI(t)

	_, err := c.exec(t, "3\n", c.runArgs()...)
	require.ErrorIs(t, err, evo.ErrEvaluationFailed)
	assert.Contains(t, err.Error(), "rating input closed")

	out, err := c.exec(t, "", "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "no runs found")
}

func TestRunRejectsInvalidConfiguration(t *testing.T) {
	c := newCLI(t)

	_, err := c.exec(t, "", c.runArgs("--population", "3")...)
	require.ErrorIs(t, err, evo.ErrInvalidConfiguration)

	_, err = c.exec(t, "", c.runArgs("--scale", "blues")...)
	require.ErrorIs(t, err, evo.ErrInvalidConfiguration)

	_, err = c.exec(t, "", c.runArgs("--rater", "carrier-pigeon")...)
	require.ErrorIs(t, err, evo.ErrInvalidConfiguration)
}

func TestRunsJSON(t *testing.T) {
	c := newCLI(t)
	_, err := c.exec(t, "5\n", c.runArgs()...)
	require.NoError(t, err)

	out, err := c.exec(t, "", "runs", "--json")
	require.NoError(t, err)
	var items []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, "accepted", items[0]["outcome"])
	assert.Equal(t, float64(5), items[0]["best_rating"])
}

func TestHistoryRequiresRunSelection(t *testing.T) {
	c := newCLI(t)
	_, err := c.exec(t, "", "history")
	require.Error(t, err)
	_, err = c.exec(t, "", "history", "--latest", "--run-id", "abc")
	require.Error(t, err)
}

func TestScalesListsRegisteredScales(t *testing.T) {
	c := newCLI(t)
	out, err := c.exec(t, "", "scales")
	require.NoError(t, err)
	assert.Contains(t, out, "major [0 2 4 5 7 9 11]")
	assert.Contains(t, out, "minor [0 2 3 5 7 8 10]")
}
