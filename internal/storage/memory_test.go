package storage

import (
	"context"
	"testing"

	"tilevolve/internal/model"
)

func newInitializedMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func testSnapshot(id int64, weight float64) model.NetworkSnapshot {
	return model.NetworkSnapshot{
		VersionedRecord: model.CurrentVersion(),
		LayerSizes:      []int{1, 1},
		Layers:          []model.LayerRecord{{Weights: []float64{weight}, Biases: []float64{0}, ActivationType: "sigmoid"}},
		Unchanging:      true,
		NetworkID:       id,
	}
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	input := testSnapshot(5, 0.25)
	if err := store.SaveSnapshot(ctx, input); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	input.Layers[0].Weights[0] = 99

	output, ok, err := store.GetSnapshot(ctx, 5)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted snapshot")
	}
	if output.Layers[0].Weights[0] != 0.25 {
		t.Fatalf("store must keep its own copy, got %v", output.Layers[0].Weights)
	}

	if _, ok, err := store.GetSnapshot(ctx, 6); ok || err != nil {
		t.Fatalf("missing snapshot: ok=%t err=%v", ok, err)
	}
}

func TestMemoryStoreBestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	if err := store.SaveBestSnapshot(ctx, "run-1", testSnapshot(8, 1)); err != nil {
		t.Fatalf("save best: %v", err)
	}
	best, ok, err := store.GetBestSnapshot(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get best: ok=%t err=%v", ok, err)
	}
	if best.NetworkID != 8 {
		t.Fatalf("unexpected best network: %d", best.NetworkID)
	}
}

func TestMemoryStorePopulationRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	input := model.Population{
		VersionedRecord: model.CurrentVersion(),
		RunID:           "run-1",
		Generation:      3,
		Snapshots:       []model.NetworkSnapshot{testSnapshot(1, 0.5), testSnapshot(2, 0.75)},
		Fitness:         []float64{10, 20},
	}
	if err := store.SavePopulation(ctx, input); err != nil {
		t.Fatalf("save population: %v", err)
	}
	input.Snapshots[0].Layers[0].Weights[0] = -1

	output, ok, err := store.GetPopulation(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get population: ok=%t err=%v", ok, err)
	}
	if output.Generation != 3 || len(output.Snapshots) != 2 || output.Fitness[1] != 20 {
		t.Fatalf("unexpected population: %+v", output)
	}
	if output.Snapshots[0].Layers[0].Weights[0] != 0.5 {
		t.Fatal("population snapshots must be copied on save")
	}

	if err := store.DeletePopulation(ctx, "run-1"); err != nil {
		t.Fatalf("delete population: %v", err)
	}
	if _, ok, _ := store.GetPopulation(ctx, "run-1"); ok {
		t.Fatal("expected population to be deleted")
	}
}

func TestMemoryStoreLineageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	input := []model.LineageRecord{{
		Generation: 1,
		Slot:       4,
		NetworkID:  12,
		Operation:  "mutable_copy",
	}}
	if err := store.SaveLineage(ctx, "run-1", input); err != nil {
		t.Fatalf("save lineage: %v", err)
	}

	output, ok, err := store.GetLineage(ctx, "run-1")
	if err != nil {
		t.Fatalf("get lineage: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted lineage")
	}
	if len(output) != 1 || output[0].NetworkID != 12 || output[0].Slot != 4 {
		t.Fatalf("unexpected lineage: %+v", output)
	}
}

func TestMemoryStoreFitnessHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	input := []float64{0.1, 0.2, 0.3}
	if err := store.SaveFitnessHistory(ctx, "run-1", input); err != nil {
		t.Fatalf("save history: %v", err)
	}
	output, ok, err := store.GetFitnessHistory(ctx, "run-1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted fitness history")
	}
	if len(output) != len(input) || output[2] != input[2] {
		t.Fatalf("unexpected history: %+v", output)
	}
}

func TestMemoryStoreGenerationDiagnosticsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	input := []model.GenerationDiagnostics{
		{Generation: 0, BestFitness: 0.8, MeanFitness: 0.6, MinFitness: 0.2, HighestTile: 5, EliteIDs: []int64{1, 2}},
		{Generation: 1, BestFitness: 0.9, MeanFitness: 0.7, MinFitness: 0.3, HighestTile: 6, EliteIDs: []int64{3, 4}},
	}
	if err := store.SaveGenerationDiagnostics(ctx, "run-1", input); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	input[1].EliteIDs[0] = 100

	output, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
	if err != nil {
		t.Fatalf("get diagnostics: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted diagnostics")
	}
	if len(output) != len(input) || output[1].HighestTile != 6 || output[1].EliteIDs[0] != 3 {
		t.Fatalf("unexpected diagnostics: %+v", output)
	}
}
