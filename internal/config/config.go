// Package config loads run settings from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"melodyevo/internal/evo"
	"melodyevo/internal/genome"
	"melodyevo/internal/storage"
)

const (
	DefaultOutput       = "final_melody.mid"
	DefaultDBPath       = "melodyevo.db"
	DefaultArtifactsDir = "runs"
)

type Config struct {
	NumBars        int     `yaml:"num_bars"`
	NumNotesPerBar int     `yaml:"num_notes_per_bar"`
	BitsPerNote    int     `yaml:"bits_per_note"`
	PopulationSize int     `yaml:"population_size"`
	MutationRate   float64 `yaml:"mutation_rate"`
	Generations    int     `yaml:"generations"`
	BPM            int     `yaml:"bpm"`
	RootNote       int     `yaml:"root_note"`
	Scale          string  `yaml:"scale"`

	// Seed 0 asks the caller to pick a seed from the clock.
	Seed              int64  `yaml:"seed"`
	Selection         string `yaml:"selection"`
	EvaluationTimeout string `yaml:"evaluation_timeout"`
	Output            string `yaml:"output"`
	Store             string `yaml:"store"`
	DBPath            string `yaml:"db_path"`
	ArtifactsDir      string `yaml:"artifacts_dir"`
}

func Default() Config {
	return Config{
		NumBars:        4,
		NumNotesPerBar: 4,
		BitsPerNote:    genome.DefaultBitsPerNote,
		PopulationSize: 6,
		MutationRate:   0.1,
		Generations:    10,
		BPM:            120,
		RootNote:       0,
		Scale:          "major",
		Selection:      "elite",
		Output:         DefaultOutput,
		Store:          storage.KindMemory,
		DBPath:         DefaultDBPath,
		ArtifactsDir:   DefaultArtifactsDir,
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, err
	}
	return cfg, nil
}

// Timeout parses EvaluationTimeout; an empty value means no timeout.
func (c Config) Timeout() (time.Duration, error) {
	if c.EvaluationTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.EvaluationTimeout)
	if err != nil {
		return 0, fmt.Errorf("evaluation_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("evaluation_timeout must be >= 0, got %s", d)
	}
	return d, nil
}

// Controller maps the file settings onto controller parameters. Collaborators
// (rater, persister, recorder) are left for the caller to fill in.
func (c Config) Controller() (evo.Config, error) {
	selector, err := evo.SelectorByName(c.Selection)
	if err != nil {
		return evo.Config{}, fmt.Errorf("%w: %w", evo.ErrInvalidConfiguration, err)
	}
	return evo.Config{
		NumBars:        c.NumBars,
		NotesPerBar:    c.NumNotesPerBar,
		BitsPerNote:    c.BitsPerNote,
		PopulationSize: c.PopulationSize,
		MutationRate:   c.MutationRate,
		Generations:    c.Generations,
		BPM:            c.BPM,
		RootNote:       c.RootNote,
		Scale:          c.Scale,
		Seed:           c.Seed,
		Selector:       selector,
		Destination:    c.Output,
	}, nil
}

func (c Config) Validate() error {
	controller, err := c.Controller()
	if err != nil {
		return err
	}
	if err := controller.ValidateParameters(); err != nil {
		return err
	}
	if _, err := c.Timeout(); err != nil {
		return fmt.Errorf("%w: %w", evo.ErrInvalidConfiguration, err)
	}
	if c.Output == "" {
		return fmt.Errorf("%w: output is required", evo.ErrInvalidConfiguration)
	}
	if err := storage.CheckKind(c.Store); err != nil {
		return fmt.Errorf("%w: store: %w", evo.ErrInvalidConfiguration, err)
	}
	return nil
}

// Marshal renders cfg as YAML, e.g. for a starter file.
func Marshal(cfg Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}
