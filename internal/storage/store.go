package storage

import (
	"context"

	"melodyevo/internal/model"
)

// Store persists finished runs and the ratings collected during them.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveGenerations(ctx context.Context, runID string, generations []model.GenerationRecord) error
	GetGenerations(ctx context.Context, runID string) ([]model.GenerationRecord, bool, error)
	// DeleteRun removes a run and its generations. Missing runs are not an error.
	DeleteRun(ctx context.Context, runID string) error
}
