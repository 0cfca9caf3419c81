package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"tilevolve/internal/model"
)

const (
	runIndexFile       = "run_index.json"
	configFile         = "config.json"
	fitnessFile        = "fitness_history.json"
	diagnosticsFile    = "generation_diagnostics.json"
	diagnosticsCSVFile = "generation_diagnostics.csv"
	lineageFile        = "lineage.json"
	bestNetworkFile    = "best_network.json"
	playbackFile       = "playback.json"
)

type RunConfig struct {
	RunID            string  `json:"run_id"`
	ContinueRun      bool    `json:"continue_run,omitempty"`
	LayerSizes       []int   `json:"layer_sizes"`
	HiddenActivation string  `json:"hidden_activation"`
	OutputActivation string  `json:"output_activation"`
	PopulationSize   int     `json:"population_size"`
	TopPercentile    int     `json:"top_percentile"`
	EliteCount       int     `json:"elite_count"`
	MaxFailures      int     `json:"max_failures"`
	MutateRange      float64 `json:"mutate_range"`
	StopGeneration   int     `json:"stop_generation"`
	TickRate         float64 `json:"tick_rate"`
	FrameRate        float64 `json:"frame_rate"`
	Fast             bool    `json:"fast"`
	Seed             int64   `json:"seed"`
	StoreKind        string  `json:"store_kind"`
	SnapshotPath     string  `json:"snapshot_path,omitempty"`
}

type RunArtifacts struct {
	Config                RunConfig                     `json:"config"`
	BestByGeneration      []float64                     `json:"best_by_generation"`
	GenerationDiagnostics []model.GenerationDiagnostics `json:"generation_diagnostics,omitempty"`
	FinalBestFitness      float64                       `json:"final_best_fitness"`
	BestNetwork           *model.NetworkSnapshot        `json:"best_network,omitempty"`
	Lineage               []model.LineageRecord         `json:"lineage"`
}

type PlaybackEpisode struct {
	Episode int     `json:"episode"`
	Score   int     `json:"score"`
	Rounds  int     `json:"rounds"`
	Highest int     `json:"highest"`
	Fitness float64 `json:"fitness"`
}

type PlaybackReport struct {
	RunID        string            `json:"run_id,omitempty"`
	SnapshotPath string            `json:"snapshot_path,omitempty"`
	NetworkID    int64             `json:"network_id"`
	Loaded       bool              `json:"loaded"`
	Episodes     []PlaybackEpisode `json:"episodes"`
}

type RunIndexEntry struct {
	RunID            string  `json:"run_id"`
	PopulationSize   int     `json:"population_size"`
	Generations      int     `json:"generations"`
	Seed             int64   `json:"seed"`
	EliteCount       int     `json:"elite_count"`
	HighestTile      int     `json:"highest_tile"`
	FinalBestFitness float64 `json:"final_best_fitness"`
	StopReason       string  `json:"stop_reason,omitempty"`
	CreatedAtUTC     string  `json:"created_at_utc"`
}

// FitnessSummary condenses a best-by-generation series.
type FitnessSummary struct {
	Generations int     `json:"generations"`
	InitialBest float64 `json:"initial_best"`
	FinalBest   float64 `json:"final_best"`
	BestMean    float64 `json:"best_mean"`
	BestStd     float64 `json:"best_std"`
	BestMax     float64 `json:"best_max"`
	BestMin     float64 `json:"best_min"`
	Improvement float64 `json:"improvement"`
}

func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, fitnessFile), map[string]any{"best_by_generation": artifacts.BestByGeneration, "final_best_fitness": artifacts.FinalBestFitness}); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, diagnosticsFile), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	if err := WriteDiagnosticsCSV(filepath.Join(runDir, diagnosticsCSVFile), artifacts.GenerationDiagnostics); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, lineageFile), artifacts.Lineage); err != nil {
		return "", err
	}
	if artifacts.BestNetwork != nil {
		if err := writeJSON(filepath.Join(runDir, bestNetworkFile), artifacts.BestNetwork); err != nil {
			return "", err
		}
	}

	return runDir, nil
}

func WritePlaybackReport(runDir string, report PlaybackReport) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, playbackFile), report)
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns index entries newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory's known files to outDir/runID.
// Optional files are skipped when absent.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	required := []string{configFile, fitnessFile, diagnosticsFile, diagnosticsCSVFile, lineageFile}
	for _, file := range required {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{bestNetworkFile, playbackFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err == nil {
			if err := copyFile(path, filepath.Join(dst, file)); err != nil {
				return "", err
			}
		} else if !os.IsNotExist(err) {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	var cfg RunConfig
	ok, err := readJSON(filepath.Join(baseDir, runID, configFile), &cfg)
	if err != nil || !ok {
		return RunConfig{}, ok, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, configFile), cfg)
}

func ReadGenerationDiagnostics(baseDir, runID string) ([]model.GenerationDiagnostics, bool, error) {
	var diagnostics []model.GenerationDiagnostics
	ok, err := readJSON(filepath.Join(baseDir, runID, diagnosticsFile), &diagnostics)
	if err != nil || !ok {
		return nil, ok, err
	}
	return diagnostics, true, nil
}

func ReadBestNetwork(baseDir, runID string) (model.NetworkSnapshot, bool, error) {
	var snap model.NetworkSnapshot
	ok, err := readJSON(filepath.Join(baseDir, runID, bestNetworkFile), &snap)
	if err != nil || !ok {
		return model.NetworkSnapshot{}, ok, err
	}
	return snap, true, nil
}

var diagnosticsHeader = []string{
	"generation",
	"best_fitness",
	"mean_fitness",
	"min_fitness",
	"highest_tile",
	"generation_highest",
	"best_network_id",
}

func WriteDiagnosticsCSV(path string, diagnostics []model.GenerationDiagnostics) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(diagnosticsHeader); err != nil {
		return err
	}
	for _, diag := range diagnostics {
		if err := writer.Write([]string{
			strconv.Itoa(diag.Generation),
			strconv.FormatFloat(diag.BestFitness, 'f', -1, 64),
			strconv.FormatFloat(diag.MeanFitness, 'f', -1, 64),
			strconv.FormatFloat(diag.MinFitness, 'f', -1, 64),
			strconv.Itoa(diag.HighestTile),
			strconv.Itoa(diag.GenerationHighest),
			strconv.FormatInt(diag.BestNetworkID, 10),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadDiagnosticsCSV reads the columns written by WriteDiagnosticsCSV. Elite
// ids are not part of the CSV form.
func ReadDiagnosticsCSV(path string) ([]model.GenerationDiagnostics, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.GenerationDiagnostics{}, nil
		}
		return nil, err
	}
	if len(header) < len(diagnosticsHeader) {
		return nil, fmt.Errorf("diagnostics header must have %d columns", len(diagnosticsHeader))
	}

	diagnostics := make([]model.GenerationDiagnostics, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		diag, err := parseDiagnosticsRow(record)
		if err != nil {
			return nil, err
		}
		diagnostics = append(diagnostics, diag)
	}
	return diagnostics, nil
}

func parseDiagnosticsRow(record []string) (model.GenerationDiagnostics, error) {
	var diag model.GenerationDiagnostics
	var err error
	if diag.Generation, err = strconv.Atoi(record[0]); err != nil {
		return diag, err
	}
	if diag.BestFitness, err = strconv.ParseFloat(record[1], 64); err != nil {
		return diag, err
	}
	if diag.MeanFitness, err = strconv.ParseFloat(record[2], 64); err != nil {
		return diag, err
	}
	if diag.MinFitness, err = strconv.ParseFloat(record[3], 64); err != nil {
		return diag, err
	}
	if diag.HighestTile, err = strconv.Atoi(record[4]); err != nil {
		return diag, err
	}
	if diag.GenerationHighest, err = strconv.Atoi(record[5]); err != nil {
		return diag, err
	}
	if diag.BestNetworkID, err = strconv.ParseInt(record[6], 10, 64); err != nil {
		return diag, err
	}
	return diag, nil
}

func SummarizeFitness(bestByGeneration []float64) FitnessSummary {
	summary := FitnessSummary{Generations: len(bestByGeneration)}
	if len(bestByGeneration) == 0 {
		return summary
	}

	summary.InitialBest = bestByGeneration[0]
	summary.FinalBest = bestByGeneration[len(bestByGeneration)-1]
	summary.BestMax = bestByGeneration[0]
	summary.BestMin = bestByGeneration[0]
	total := 0.0
	for _, v := range bestByGeneration {
		total += v
		summary.BestMax = math.Max(summary.BestMax, v)
		summary.BestMin = math.Min(summary.BestMin, v)
	}
	summary.BestMean = total / float64(len(bestByGeneration))

	variance := 0.0
	for _, v := range bestByGeneration {
		d := v - summary.BestMean
		variance += d * d
	}
	summary.BestStd = math.Sqrt(variance / float64(len(bestByGeneration)))
	summary.Improvement = summary.FinalBest - summary.InitialBest
	return summary
}

func readJSON(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
