//go:build sqlite

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"tilevolve/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "tilevolve.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStoreSnapshotAndPopulationRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	snap := testSnapshot(11, 0.125)
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	snap.Unchanging = false
	if err := store.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("overwrite snapshot: %v", err)
	}
	loaded, ok, err := store.GetSnapshot(ctx, 11)
	if err != nil || !ok {
		t.Fatalf("get snapshot: ok=%t err=%v", ok, err)
	}
	if loaded.Unchanging || loaded.Layers[0].Weights[0] != 0.125 {
		t.Fatalf("unexpected snapshot: %+v", loaded)
	}
	if _, ok, err := store.GetSnapshot(ctx, 12); ok || err != nil {
		t.Fatalf("missing snapshot: ok=%t err=%v", ok, err)
	}

	population := model.Population{
		VersionedRecord: model.CurrentVersion(),
		RunID:           "run-1",
		Generation:      4,
		Snapshots:       []model.NetworkSnapshot{testSnapshot(1, 1), testSnapshot(2, 2)},
		Fitness:         []float64{0, 0},
	}
	if err := store.SavePopulation(ctx, population); err != nil {
		t.Fatalf("save population: %v", err)
	}
	loadedPopulation, ok, err := store.GetPopulation(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get population: ok=%t err=%v", ok, err)
	}
	if loadedPopulation.Generation != 4 || len(loadedPopulation.Snapshots) != 2 {
		t.Fatalf("unexpected population loaded: %+v", loadedPopulation)
	}
}

func TestSQLiteStoreRunRecordsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLiteStore(t)

	if err := store.SaveBestSnapshot(ctx, "run-1", testSnapshot(30, 3)); err != nil {
		t.Fatalf("save best: %v", err)
	}
	if err := store.SaveFitnessHistory(ctx, "run-1", []float64{1, 2, 3}); err != nil {
		t.Fatalf("save history: %v", err)
	}
	if err := store.SaveGenerationDiagnostics(ctx, "run-1", []model.GenerationDiagnostics{{Generation: 0, BestFitness: 3, EliteIDs: []int64{30}}}); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	if err := store.SaveLineage(ctx, "run-1", []model.LineageRecord{{Generation: 1, Slot: 0, NetworkID: 30, Operation: "elite_clone"}}); err != nil {
		t.Fatalf("save lineage: %v", err)
	}

	best, ok, err := store.GetBestSnapshot(ctx, "run-1")
	if err != nil || !ok || best.NetworkID != 30 {
		t.Fatalf("get best: ok=%t err=%v id=%d", ok, err, best.NetworkID)
	}
	history, ok, err := store.GetFitnessHistory(ctx, "run-1")
	if err != nil || !ok || len(history) != 3 {
		t.Fatalf("get history: ok=%t err=%v history=%v", ok, err, history)
	}
	diagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
	if err != nil || !ok || len(diagnostics) != 1 || diagnostics[0].EliteIDs[0] != 30 {
		t.Fatalf("get diagnostics: ok=%t err=%v diagnostics=%+v", ok, err, diagnostics)
	}
	lineage, ok, err := store.GetLineage(ctx, "run-1")
	if err != nil || !ok || len(lineage) != 1 {
		t.Fatalf("get lineage: ok=%t err=%v lineage=%+v", ok, err, lineage)
	}

	if _, ok, err := store.GetFitnessHistory(ctx, "run-2"); ok || err != nil {
		t.Fatalf("missing history: ok=%t err=%v", ok, err)
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "uninitialized.db"))
	if err := store.SaveFitnessHistory(context.Background(), "run-1", nil); err == nil {
		t.Fatal("expected error before init")
	}
}

func TestNewStoreSQLite(t *testing.T) {
	store, err := NewStore(KindSQLite, filepath.Join(t.TempDir(), "factory.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close: %v", err)
	}
}
