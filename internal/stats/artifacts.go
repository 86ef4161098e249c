package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"melodyevo/internal/model"
)

const (
	runIndexFile   = "run_index.json"
	configFile     = "config.json"
	ratingsFile    = "ratings.json"
	ratingsCSVFile = "ratings.csv"
	MelodyFile     = "melody.mid"
)

type RunConfig struct {
	RunID             string  `json:"run_id"`
	Scale             string  `json:"scale"`
	RootNote          int     `json:"root_note"`
	BPM               int     `json:"bpm"`
	NumBars           int     `json:"num_bars"`
	NumNotesPerBar    int     `json:"num_notes_per_bar"`
	BitsPerNote       int     `json:"bits_per_note"`
	PopulationSize    int     `json:"population_size"`
	MutationRate      float64 `json:"mutation_rate"`
	Generations       int     `json:"generations"`
	Selection         string  `json:"selection"`
	Seed              int64   `json:"seed"`
	EvaluationTimeout string  `json:"evaluation_timeout,omitempty"`
	Output            string  `json:"output"`
}

// RatingEntry is one row of ratings.csv.
type RatingEntry struct {
	Generation int    `json:"generation"`
	Index      int    `json:"index"`
	Genome     string `json:"genome"`
	Rating     int    `json:"rating"`
}

type RatingsReport struct {
	Outcome     string                `json:"outcome"`
	Evaluations int                   `json:"evaluations"`
	Accepted    *model.AcceptedMelody `json:"accepted,omitempty"`
	Ratings     []RatingEntry         `json:"ratings"`
}

type RunArtifacts struct {
	Config  RunConfig
	Ratings RatingsReport
}

type RunIndexEntry struct {
	RunID          string `json:"run_id"`
	Outcome        string `json:"outcome"`
	Scale          string `json:"scale"`
	PopulationSize int    `json:"population_size"`
	Generations    int    `json:"generations"`
	GenerationsRun int    `json:"generations_run"`
	Evaluations    int    `json:"evaluations"`
	BestRating     int    `json:"best_rating"`
	Seed           int64  `json:"seed"`
	CreatedAtUTC   string `json:"created_at_utc"`
}

// FlattenGenerations turns stored generation records into csv rows.
func FlattenGenerations(generations []model.GenerationRecord) []RatingEntry {
	var entries []RatingEntry
	for _, generation := range generations {
		for _, rating := range generation.Ratings {
			entries = append(entries, RatingEntry{
				Generation: generation.Generation,
				Index:      rating.Index,
				Genome:     rating.Genome,
				Rating:     rating.Rating,
			})
		}
	}
	return entries
}

// BestRating returns the highest rating seen, or 0 when nothing was rated.
func BestRating(entries []RatingEntry) int {
	best := 0
	for _, entry := range entries {
		if entry.Rating > best {
			best = entry.Rating
		}
	}
	return best
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", errors.New("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, ratingsFile), artifacts.Ratings); err != nil {
		return "", err
	}
	if err := writeRatingsCSV(filepath.Join(runDir, ratingsCSVFile), artifacts.Ratings.Ratings); err != nil {
		return "", err
	}
	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return errors.New("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}
	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}
	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns indexed runs newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	order := make(map[string]int, len(entries))
	for i, entry := range entries {
		order[entry.RunID] = i
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CreatedAtUTC == entries[j].CreatedAtUTC {
			// Later appends win ties.
			return order[entries[i].RunID] > order[entries[j].RunID]
		}
		return entries[i].CreatedAtUTC > entries[j].CreatedAtUTC
	})
	return entries, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", errors.New("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}
	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{configFile, ratingsFile, ratingsCSVFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	melodyPath := filepath.Join(src, MelodyFile)
	if _, err := os.Stat(melodyPath); err == nil {
		if err := copyFile(melodyPath, filepath.Join(dst, MelodyFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}
	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	if err != nil || !ok {
		return RunConfig{}, ok, err
	}
	return cfg, true, nil
}

func ReadRatings(baseDir, runID string) (RatingsReport, bool, error) {
	var report RatingsReport
	ok, err := readJSON(filepath.Join(baseDir, runID, ratingsFile), &report)
	if err != nil || !ok {
		return RatingsReport{}, ok, err
	}
	return report, true, nil
}

func writeRatingsCSV(path string, entries []RatingEntry) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "index", "genome", "rating"}); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := writer.Write([]string{
			strconv.Itoa(entry.Generation),
			strconv.Itoa(entry.Index),
			entry.Genome,
			strconv.Itoa(entry.Rating),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func readJSON(path string, value any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
