package storage

import (
	"context"

	"tilevolve/internal/model"
)

// Store defines the persistence operations a training run needs. Get methods
// report a missing record with ok=false and a nil error.
type Store interface {
	Init(ctx context.Context) error
	SaveSnapshot(ctx context.Context, snap model.NetworkSnapshot) error
	GetSnapshot(ctx context.Context, networkID int64) (model.NetworkSnapshot, bool, error)
	SaveBestSnapshot(ctx context.Context, runID string, snap model.NetworkSnapshot) error
	GetBestSnapshot(ctx context.Context, runID string) (model.NetworkSnapshot, bool, error)
	SavePopulation(ctx context.Context, population model.Population) error
	GetPopulation(ctx context.Context, runID string) (model.Population, bool, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
}
