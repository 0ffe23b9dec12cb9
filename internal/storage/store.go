package storage

import (
	"context"

	"retinasim/internal/model"
)

// Store defines persistence for precomputed axon maps and percept run summaries.
type Store interface {
	Init(ctx context.Context) error
	SaveAxonMap(ctx context.Context, record model.AxonMapRecord) error
	GetAxonMap(ctx context.Context, name string) (model.AxonMapRecord, bool, error)
	DeleteAxonMap(ctx context.Context, name string) error
	SavePercept(ctx context.Context, record model.PerceptRecord) error
	GetPercept(ctx context.Context, runID string) (model.PerceptRecord, bool, error)
	ListPercepts(ctx context.Context) ([]model.PerceptRecord, error)
}
