package stats

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"tilevolve/internal/model"
)

func testArtifacts(runID string) RunArtifacts {
	return RunArtifacts{
		Config: RunConfig{
			RunID:            runID,
			LayerSizes:       []int{17, 6, 4},
			HiddenActivation: "sigmoid",
			OutputActivation: "sigmoid",
			PopulationSize:   4,
			TopPercentile:    50,
			EliteCount:       2,
			MaxFailures:      10,
			MutateRange:      0.5,
			StopGeneration:   2,
			TickRate:         30,
			Seed:             1,
			StoreKind:        "memory",
		},
		BestByGeneration: []float64{120, 360.5, 410},
		GenerationDiagnostics: []model.GenerationDiagnostics{
			{Generation: 0, BestFitness: 120, MeanFitness: 60, MinFitness: 10, HighestTile: 32, GenerationHighest: 32, BestNetworkID: 7, EliteIDs: []int64{7, 3}},
			{Generation: 1, BestFitness: 360.5, MeanFitness: 100.25, MinFitness: 0, HighestTile: 64, GenerationHighest: 64, BestNetworkID: 9},
		},
		FinalBestFitness: 410,
		Lineage: []model.LineageRecord{
			{Generation: 1, Slot: 0, NetworkID: 7, Operation: "elite_clone", Unchanging: true},
			{Generation: 1, Slot: 2, NetworkID: 3, Operation: "mutable_copy"},
		},
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	artifacts := testArtifacts("run-123")
	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	files := []string{"config.json", "fitness_history.json", "generation_diagnostics.json", "generation_diagnostics.csv", "lineage.json"}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}
	if _, err := os.Stat(filepath.Join(runDir, "best_network.json")); !os.IsNotExist(err) {
		t.Fatalf("best network should be absent without a snapshot, err=%v", err)
	}

	exportedDir, err := ExportRunArtifacts(baseDir, "run-123", outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range files {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	if err := WritePlaybackReport(runDir, PlaybackReport{RunID: "run-123", NetworkID: 7, Loaded: true, Episodes: []PlaybackEpisode{{Episode: 1, Score: 48, Rounds: 20, Highest: 16}}}); err != nil {
		t.Fatalf("write playback report: %v", err)
	}
	exportedDir, err = ExportRunArtifacts(baseDir, "run-123", outDir)
	if err != nil {
		t.Fatalf("export with playback: %v", err)
	}
	if _, err := os.Stat(filepath.Join(exportedDir, "playback.json")); err != nil {
		t.Fatalf("expected exported playback report: %v", err)
	}
}

func TestWriteRunArtifactsRequiresRunID(t *testing.T) {
	if _, err := WriteRunArtifacts(t.TempDir(), RunArtifacts{}); err == nil {
		t.Fatal("expected run id error")
	}
	if _, err := ExportRunArtifacts(t.TempDir(), "", t.TempDir()); err == nil {
		t.Fatal("expected run id error on export")
	}
}

func TestReadRunArtifactsBack(t *testing.T) {
	baseDir := t.TempDir()
	artifacts := testArtifacts("run-read")
	artifacts.BestNetwork = &model.NetworkSnapshot{
		VersionedRecord: model.CurrentVersion(),
		LayerSizes:      []int{17, 4},
		Layers:          []model.LayerRecord{{Weights: make([]float64, 68), Biases: make([]float64, 4), ActivationType: "sigmoid"}},
		Unchanging:      true,
		NetworkID:       7,
	}
	if _, err := WriteRunArtifacts(baseDir, artifacts); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	cfg, ok, err := ReadRunConfig(baseDir, "run-read")
	if err != nil || !ok {
		t.Fatalf("read config: ok=%t err=%v", ok, err)
	}
	if cfg.PopulationSize != 4 || cfg.EliteCount != 2 || len(cfg.LayerSizes) != 3 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	diagnostics, ok, err := ReadGenerationDiagnostics(baseDir, "run-read")
	if err != nil || !ok {
		t.Fatalf("read diagnostics: ok=%t err=%v", ok, err)
	}
	if len(diagnostics) != 2 || diagnostics[0].EliteIDs[1] != 3 {
		t.Fatalf("unexpected diagnostics: %+v", diagnostics)
	}

	snap, ok, err := ReadBestNetwork(baseDir, "run-read")
	if err != nil || !ok {
		t.Fatalf("read best network: ok=%t err=%v", ok, err)
	}
	if snap.NetworkID != 7 || !snap.Unchanging {
		t.Fatalf("unexpected best network: %+v", snap)
	}

	if _, ok, err := ReadRunConfig(baseDir, "missing"); err != nil || ok {
		t.Fatalf("missing run should report ok=false, got ok=%t err=%v", ok, err)
	}
}

func TestWriteRunConfigRejectsMismatchedID(t *testing.T) {
	if err := WriteRunConfig(t.TempDir(), "a", RunConfig{RunID: "b"}); err == nil {
		t.Fatal("expected run id mismatch error")
	}
	baseDir := t.TempDir()
	if err := WriteRunConfig(baseDir, "a", RunConfig{Seed: 9}); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, ok, err := ReadRunConfig(baseDir, "a")
	if err != nil || !ok || cfg.RunID != "a" || cfg.Seed != 9 {
		t.Fatalf("unexpected config: %+v ok=%t err=%v", cfg, ok, err)
	}
}

func TestDiagnosticsCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "diag.csv")
	in := testArtifacts("csv").GenerationDiagnostics
	if err := WriteDiagnosticsCSV(path, in); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	out, err := ReadDiagnosticsCSV(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("rows: got=%d want=%d", len(out), len(in))
	}
	for i := range in {
		if out[i].Generation != in[i].Generation ||
			out[i].BestFitness != in[i].BestFitness ||
			out[i].MeanFitness != in[i].MeanFitness ||
			out[i].HighestTile != in[i].HighestTile ||
			out[i].BestNetworkID != in[i].BestNetworkID {
			t.Fatalf("row %d: got=%+v want=%+v", i, out[i], in[i])
		}
	}
}

func TestReadDiagnosticsCSVRejectsShortHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("generation,best_fitness\n0,1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadDiagnosticsCSV(path); err == nil {
		t.Fatal("expected header error")
	}
}

func TestRunIndexNewestFirst(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "old", CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{RunID: "new", CreatedAtUTC: "2026-03-01T00:00:00Z"},
		{RunID: "same-a", CreatedAtUTC: "2026-02-01T00:00:00Z"},
		{RunID: "same-b", CreatedAtUTC: "2026-02-01T00:00:00Z"},
	}
	for _, e := range entries {
		if err := AppendRunIndex(baseDir, e); err != nil {
			t.Fatalf("append %s: %v", e.RunID, err)
		}
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "old", CreatedAtUTC: "2026-01-01T00:00:00Z", HighestTile: 128}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	got, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"new", "same-b", "same-a", "old"}
	if len(got) != len(want) {
		t.Fatalf("entries: got=%d want=%d", len(got), len(want))
	}
	for i := range want {
		if got[i].RunID != want[i] {
			t.Fatalf("order at %d: got=%s want=%s", i, got[i].RunID, want[i])
		}
	}
	if got[3].HighestTile != 128 {
		t.Fatalf("replaced entry not updated: %+v", got[3])
	}

	empty, err := ListRunIndex(t.TempDir())
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty index: %v %v", empty, err)
	}
}

func TestSummarizeFitness(t *testing.T) {
	summary := SummarizeFitness([]float64{2, 4, 6})
	if summary.Generations != 3 || summary.InitialBest != 2 || summary.FinalBest != 6 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.BestMean != 4 || summary.BestMax != 6 || summary.BestMin != 2 || summary.Improvement != 4 {
		t.Fatalf("unexpected summary stats: %+v", summary)
	}
	if math.Abs(summary.BestStd-math.Sqrt(8.0/3.0)) > 1e-12 {
		t.Fatalf("std: got=%f", summary.BestStd)
	}
	if empty := SummarizeFitness(nil); empty.Generations != 0 || empty.BestMax != 0 {
		t.Fatalf("empty summary: %+v", empty)
	}
}
