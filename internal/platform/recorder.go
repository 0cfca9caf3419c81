package platform

import (
	"context"
	"fmt"
	"log/slog"

	"tilevolve/internal/evo"
	"tilevolve/internal/model"
	"tilevolve/internal/storage"
)

// runRecorder persists each finished generation under one run id and keeps
// the accumulated history so stored records always hold the full run.
type runRecorder struct {
	ctx          context.Context
	store        storage.Store
	runID        string
	snapshotPath string
	logger       *slog.Logger

	bestByGeneration []float64
	diagnostics      []model.GenerationDiagnostics
	lineage          []model.LineageRecord
}

func (r *runRecorder) ObserveGeneration(report evo.GenerationReport) error {
	r.bestByGeneration = append(r.bestByGeneration, report.Diagnostics.BestFitness)
	r.diagnostics = append(r.diagnostics, report.Diagnostics)
	r.lineage = append(r.lineage, report.Lineage...)

	for _, elite := range report.Elites {
		if err := r.store.SaveSnapshot(r.ctx, elite); err != nil {
			return fmt.Errorf("save elite %d: %w", elite.NetworkID, err)
		}
	}

	// A halted generation has no successor; keep the scored one.
	population := report.Next
	if len(population.Snapshots) == 0 {
		population = report.Scored
	}
	if err := r.store.SavePopulation(r.ctx, population); err != nil {
		return fmt.Errorf("save population: %w", err)
	}
	if err := r.store.SaveFitnessHistory(r.ctx, r.runID, r.bestByGeneration); err != nil {
		return err
	}
	if err := r.store.SaveGenerationDiagnostics(r.ctx, r.runID, r.diagnostics); err != nil {
		return err
	}
	if err := r.store.SaveLineage(r.ctx, r.runID, r.lineage); err != nil {
		return err
	}
	r.logger.Debug("generation persisted", "run_id", r.runID, "generation", report.Diagnostics.Generation)
	return nil
}

func (r *runRecorder) SaveSnapshot(snap model.NetworkSnapshot) error {
	if err := r.store.SaveBestSnapshot(r.ctx, r.runID, snap); err != nil {
		return err
	}
	if r.snapshotPath == "" {
		return nil
	}
	if err := storage.SaveSnapshotFile(r.snapshotPath, snap); err != nil {
		return err
	}
	r.logger.Info("best network saved", "run_id", r.runID, "path", r.snapshotPath, "network_id", snap.NetworkID)
	return nil
}
