package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord summarises one finished evolution run.
type RunRecord struct {
	VersionedRecord
	ID             string  `json:"id"`
	CreatedAtUTC   string  `json:"created_at_utc"`
	Outcome        string  `json:"outcome"`
	Seed           int64   `json:"seed"`
	Scale          string  `json:"scale"`
	RootNote       int     `json:"root_note"`
	BPM            int     `json:"bpm"`
	NumBars        int     `json:"num_bars"`
	NumNotesPerBar int     `json:"num_notes_per_bar"`
	BitsPerNote    int     `json:"bits_per_note"`
	PopulationSize int     `json:"population_size"`
	MutationRate   float64 `json:"mutation_rate"`
	Selection      string  `json:"selection"`
	Generations    int     `json:"generations"`
	GenerationsRun int     `json:"generations_run"`
	Evaluations    int     `json:"evaluations"`

	Accepted      *AcceptedMelody `json:"accepted,omitempty"`
	ArtifactPath  string          `json:"artifact_path,omitempty"`
	ArtifactError string          `json:"artifact_error,omitempty"`
}

type AcceptedMelody struct {
	Generation int    `json:"generation"`
	Index      int    `json:"index"`
	Genome     string `json:"genome"`
	Melody     []int  `json:"melody"`
}

// RatingRecord is one rated genome in textual 0/1 form.
type RatingRecord struct {
	Index  int    `json:"index"`
	Genome string `json:"genome"`
	Rating int    `json:"rating"`
}

type GenerationRecord struct {
	VersionedRecord
	Generation int            `json:"generation"`
	Ratings    []RatingRecord `json:"ratings"`
}
