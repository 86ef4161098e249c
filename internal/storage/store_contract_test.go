package storage

import (
	"context"
	"reflect"
	"testing"

	"melodyevo/internal/model"
)

func sampleRun(id, createdAt string) model.RunRecord {
	return model.RunRecord{
		VersionedRecord: Stamp(),
		ID:              id,
		CreatedAtUTC:    createdAt,
		Outcome:         "accepted",
		Seed:            7,
		Scale:           "major",
		BPM:             120,
		NumBars:         1,
		NumNotesPerBar:  2,
		BitsPerNote:     4,
		PopulationSize:  4,
		MutationRate:    0.1,
		Selection:       "elite",
		Generations:     10,
		GenerationsRun:  2,
		Evaluations:     6,
		Accepted: &model.AcceptedMelody{
			Generation: 2,
			Index:      1,
			Genome:     "00001011",
			Melody:     []int{0, 7},
		},
		ArtifactPath: "final_melody.mid",
	}
}

func sampleGenerations() []model.GenerationRecord {
	return []model.GenerationRecord{
		{VersionedRecord: Stamp(), Generation: 1, Ratings: []model.RatingRecord{{Index: 0, Genome: "00000000", Rating: 2}, {Index: 1, Genome: "11110000", Rating: 4}}},
		{VersionedRecord: Stamp(), Generation: 2, Ratings: []model.RatingRecord{{Index: 0, Genome: "00001011", Rating: 5}}},
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("get missing run: ok=%t err=%v", ok, err)
	}

	older := sampleRun("run-a", "2026-01-01T10:00:00Z")
	newer := sampleRun("run-b", "2026-01-02T10:00:00Z")
	newer.Outcome = "exhausted"
	newer.Accepted = nil
	if err := store.SaveRun(ctx, older); err != nil {
		t.Fatalf("save older run: %v", err)
	}
	if err := store.SaveRun(ctx, newer); err != nil {
		t.Fatalf("save newer run: %v", err)
	}
	if err := store.SaveRun(ctx, model.RunRecord{}); err == nil {
		t.Fatal("expected error for run without id")
	}

	loaded, ok, err := store.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted run")
	}
	if !reflect.DeepEqual(older, loaded) {
		t.Fatalf("unexpected run: got=%+v want=%+v", loaded, older)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" || runs[1].ID != "run-a" {
		t.Fatalf("expected newest run first, got %+v", runs)
	}

	older.ArtifactError = "disk full"
	if err := store.SaveRun(ctx, older); err != nil {
		t.Fatalf("overwrite run: %v", err)
	}
	loaded, _, err = store.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("get overwritten run: %v", err)
	}
	if loaded.ArtifactError != "disk full" {
		t.Fatalf("expected overwritten artifact error, got %q", loaded.ArtifactError)
	}

	generations := sampleGenerations()
	if err := store.SaveGenerations(ctx, "run-a", generations); err != nil {
		t.Fatalf("save generations: %v", err)
	}
	got, ok, err := store.GetGenerations(ctx, "run-a")
	if err != nil {
		t.Fatalf("get generations: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted generations")
	}
	if !reflect.DeepEqual(generations, got) {
		t.Fatalf("unexpected generations: got=%+v want=%+v", got, generations)
	}

	if _, ok, err := store.GetGenerations(ctx, "run-b"); err != nil || ok {
		t.Fatalf("get generations for run without any: ok=%t err=%v", ok, err)
	}

	if err := store.DeleteRun(ctx, "run-a"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	if _, ok, err := store.GetRun(ctx, "run-a"); err != nil || ok {
		t.Fatalf("expected deleted run to be gone: ok=%t err=%v", ok, err)
	}
	if _, ok, err := store.GetGenerations(ctx, "run-a"); err != nil || ok {
		t.Fatalf("expected deleted generations to be gone: ok=%t err=%v", ok, err)
	}
	runs, err = store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs after delete: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-b" {
		t.Fatalf("expected only run-b after delete, got %+v", runs)
	}
	if err := store.DeleteRun(ctx, "missing"); err != nil {
		t.Fatalf("delete missing run: %v", err)
	}
}
