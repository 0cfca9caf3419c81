package tilevolve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"tilevolve/internal/evo"
	"tilevolve/internal/model"
	"tilevolve/internal/nn"
	"tilevolve/internal/platform"
	"tilevolve/internal/scape"
	"tilevolve/internal/stats"
	"tilevolve/internal/storage"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "tilevolve.db"
	bestNetworkFile   = "best_network.json"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	store  storage.Store
	polis  *platform.Polis
	logger *slog.Logger

	runsDir    string
	exportsDir string
}

// TrainRequest describes one training run. Zero Population, TopPercentile,
// TickRate and FrameRate select defaults; MaxFailures and MutateRange fall
// back only when negative since zero is meaningful for them. A negative
// StopGeneration trains until the context is cancelled or MaxFrames runs out.
// Start from DefaultTrainRequest to get the stock parameters.
type TrainRequest struct {
	RunID            string
	Continue         bool
	LayerSizes       []int
	HiddenActivation string
	OutputActivation string
	Population       int
	TopPercentile    int
	MaxFailures      int
	MutateRange      float64
	StopGeneration   int
	TickRate         float64
	FrameRate        float64
	Fast             bool
	MaxFrames        int
	Seed             int64
	SnapshotPath     string
}

type TrainSummary struct {
	RunID            string
	ArtifactsDir     string
	SnapshotPath     string
	StopReason       string
	Resumed          bool
	Generations      int
	HighestTile      int
	BestNetworkID    int64
	BestByGeneration []float64
	FinalBestFitness float64
	Fitness          stats.FitnessSummary
}

type PlayRequest struct {
	RunID        string
	Latest       bool
	SnapshotPath string
	LayerSizes   []int
	Episodes     int
	MaxFailures  int
	TickRate     float64
	FrameRate    float64
	Fast         bool
	MaxFrames    int
	Seed         int64
}

type EpisodeItem struct {
	Episode int
	Score   int
	Rounds  int
	Highest int
	Fitness float64
}

type PlaySummary struct {
	RunID       string
	NetworkID   int64
	Loaded      bool
	StopReason  string
	Episodes    []EpisodeItem
	MeanScore   float64
	BestScore   int
	HighestTile int
}

type InspectRequest struct {
	RunID        string
	Latest       bool
	SnapshotPath string
}

type LayerItem struct {
	Inputs     int
	Outputs    int
	Activation string
	WeightMin  float64
	WeightMax  float64
	WeightMean float64
	BiasMean   float64
}

type InspectSummary struct {
	NetworkID     int64
	SchemaVersion int
	CodecVersion  int
	LayerSizes    []int
	Unchanging    bool
	Parameters    int
	Layers        []LayerItem
	// EmptyBoardOutputs are the network's outputs for an empty board with no
	// failures, in direction order.
	EmptyBoardOutputs []float64
	PreferredMove     string
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	Seed             int64
	Population       int
	Generations      int
	EliteCount       int
	HighestTile      int
	FinalBestFitness float64
	StopReason       string
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type HistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type PopulationRequest struct {
	RunID  string
	Latest bool
}

type PopulationSlot struct {
	Slot       int
	NetworkID  int64
	Unchanging bool
	Fitness    float64
}

type PopulationSummary struct {
	RunID      string
	Generation int
	Slots      []PopulationSlot
}

// DefaultTrainRequest carries the stock training parameters.
func DefaultTrainRequest() TrainRequest {
	cfg := evo.DefaultControllerConfig()
	return TrainRequest{
		LayerSizes:       cfg.LayerSizes,
		HiddenActivation: cfg.HiddenActivation.String(),
		OutputActivation: cfg.OutputActivation.String(),
		Population:       cfg.PopulationSize,
		TopPercentile:    cfg.TopPercentile,
		MaxFailures:      cfg.MaxFailures,
		MutateRange:      cfg.MutateRange,
		StopGeneration:   cfg.StopGeneration,
		TickRate:         cfg.TickRate,
		FrameRate:        platform.DefaultFrameRate,
		Seed:             1,
	}
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     logger,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	if c.polis != nil {
		c.polis.Stop()
	}
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

func (c *Client) Train(ctx context.Context, req TrainRequest) (TrainSummary, error) {
	req = withTrainDefaults(req)
	if req.Continue && req.RunID == "" {
		return TrainSummary{}, errors.New("continue requires a run id")
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	hidden, err := nn.ParseActivationType(req.HiddenActivation)
	if err != nil {
		return TrainSummary{}, fmt.Errorf("hidden activation: %w", err)
	}
	output, err := nn.ParseActivationType(req.OutputActivation)
	if err != nil {
		return TrainSummary{}, fmt.Errorf("output activation: %w", err)
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return TrainSummary{}, err
	}

	ctrlCfg := evo.ControllerConfig{
		RunID:            req.RunID,
		LayerSizes:       append([]int(nil), req.LayerSizes...),
		HiddenActivation: hidden,
		OutputActivation: output,
		PopulationSize:   req.Population,
		TopPercentile:    req.TopPercentile,
		MaxFailures:      req.MaxFailures,
		MutateRange:      req.MutateRange,
		StopGeneration:   req.StopGeneration,
		TickRate:         req.TickRate,
		Logger:           c.logger,
	}
	result, err := p.RunTraining(ctx, platform.TrainingConfig{
		Controller:   ctrlCfg,
		Seed:         req.Seed,
		FrameRate:    req.FrameRate,
		Fast:         req.Fast,
		MaxFrames:    req.MaxFrames,
		SnapshotPath: req.SnapshotPath,
		Continue:     req.Continue,
	})
	if err != nil {
		return TrainSummary{}, err
	}

	finalBest := 0.0
	if n := len(result.BestByGeneration); n > 0 {
		finalBest = result.BestByGeneration[n-1]
	}
	eliteCount := evo.EliteCount(req.Population, req.TopPercentile)
	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:            req.RunID,
			ContinueRun:      req.Continue,
			LayerSizes:       ctrlCfg.LayerSizes,
			HiddenActivation: hidden.String(),
			OutputActivation: output.String(),
			PopulationSize:   req.Population,
			TopPercentile:    req.TopPercentile,
			EliteCount:       eliteCount,
			MaxFailures:      req.MaxFailures,
			MutateRange:      req.MutateRange,
			StopGeneration:   req.StopGeneration,
			TickRate:         req.TickRate,
			FrameRate:        req.FrameRate,
			Fast:             req.Fast,
			Seed:             req.Seed,
			StoreKind:        storeKindOf(c.store),
			SnapshotPath:     req.SnapshotPath,
		},
		BestByGeneration:      result.BestByGeneration,
		GenerationDiagnostics: result.Diagnostics,
		FinalBestFitness:      finalBest,
		BestNetwork:           result.Best,
		Lineage:               result.Lineage,
	})
	if err != nil {
		return TrainSummary{}, err
	}

	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:            req.RunID,
		PopulationSize:   req.Population,
		Generations:      len(result.BestByGeneration),
		Seed:             req.Seed,
		EliteCount:       eliteCount,
		HighestTile:      result.HighestTile,
		FinalBestFitness: finalBest,
		StopReason:       string(result.StopReason),
		CreatedAtUTC:     time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return TrainSummary{}, err
	}

	summary := TrainSummary{
		RunID:            req.RunID,
		ArtifactsDir:     filepath.Clean(runDir),
		StopReason:       string(result.StopReason),
		Resumed:          result.Resumed,
		Generations:      len(result.BestByGeneration),
		HighestTile:      result.HighestTile,
		BestByGeneration: append([]float64(nil), result.BestByGeneration...),
		FinalBestFitness: finalBest,
		Fitness:          stats.SummarizeFitness(result.BestByGeneration),
	}
	if result.Best != nil {
		summary.BestNetworkID = result.Best.NetworkID
		summary.SnapshotPath = req.SnapshotPath
		if summary.SnapshotPath == "" {
			summary.SnapshotPath = filepath.Join(summary.ArtifactsDir, bestNetworkFile)
		}
	}
	return summary, nil
}

func (c *Client) Play(ctx context.Context, req PlayRequest) (PlaySummary, error) {
	req = withPlayDefaults(req)
	if req.RunID != "" && req.Latest {
		return PlaySummary{}, errors.New("use either run id or latest")
	}
	if req.Latest {
		runID, err := c.resolveRunID("", true)
		if err != nil {
			return PlaySummary{}, err
		}
		req.RunID = runID
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return PlaySummary{}, err
	}
	if req.RunID != "" && req.SnapshotPath == "" {
		path, err := c.artifactSnapshotPath(ctx, req.RunID)
		if err != nil {
			return PlaySummary{}, err
		}
		req.SnapshotPath = path
	}

	result, err := p.RunPlayback(ctx, platform.PlaybackConfig{
		RunID:        req.RunID,
		SnapshotPath: req.SnapshotPath,
		LayerSizes:   req.LayerSizes,
		Episodes:     req.Episodes,
		MaxFailures:  req.MaxFailures,
		TickRate:     req.TickRate,
		FrameRate:    req.FrameRate,
		Fast:         req.Fast,
		MaxFrames:    req.MaxFrames,
		Seed:         req.Seed,
	})
	if err != nil {
		return PlaySummary{}, err
	}

	summary := PlaySummary{
		RunID:      req.RunID,
		NetworkID:  result.NetworkID,
		Loaded:     result.Loaded,
		StopReason: string(result.StopReason),
		Episodes:   make([]EpisodeItem, 0, len(result.Episodes)),
	}
	report := stats.PlaybackReport{
		RunID:        req.RunID,
		SnapshotPath: req.SnapshotPath,
		NetworkID:    result.NetworkID,
		Loaded:       result.Loaded,
	}
	total := 0
	for _, ep := range result.Episodes {
		summary.Episodes = append(summary.Episodes, EpisodeItem(ep))
		report.Episodes = append(report.Episodes, stats.PlaybackEpisode(ep))
		total += ep.Score
		summary.BestScore = max(summary.BestScore, ep.Score)
		summary.HighestTile = max(summary.HighestTile, ep.Highest)
	}
	if len(result.Episodes) > 0 {
		summary.MeanScore = float64(total) / float64(len(result.Episodes))
	}
	if req.RunID != "" {
		if err := stats.WritePlaybackReport(filepath.Join(c.runsDir, req.RunID), report); err != nil {
			return PlaySummary{}, err
		}
	}
	return summary, nil
}

func (c *Client) Inspect(ctx context.Context, req InspectRequest) (InspectSummary, error) {
	snap, err := c.loadSnapshot(ctx, req)
	if err != nil {
		return InspectSummary{}, err
	}
	net, err := nn.FromSnapshot(snap)
	if err != nil {
		return InspectSummary{}, err
	}

	summary := InspectSummary{
		NetworkID:     snap.NetworkID,
		SchemaVersion: snap.SchemaVersion,
		CodecVersion:  snap.CodecVersion,
		LayerSizes:    append([]int(nil), snap.LayerSizes...),
		Unchanging:    snap.Unchanging,
		Layers:        make([]LayerItem, 0, len(snap.Layers)),
	}
	for i, record := range snap.Layers {
		summary.Parameters += len(record.Weights) + len(record.Biases)
		item := LayerItem{
			Inputs:     snap.LayerSizes[i],
			Outputs:    snap.LayerSizes[i+1],
			Activation: record.ActivationType,
		}
		item.WeightMin, item.WeightMax, item.WeightMean = spread(record.Weights)
		_, _, item.BiasMean = spread(record.Biases)
		summary.Layers = append(summary.Layers, item)
	}

	sizes := net.LayerSizes()
	if sizes[0] == evo.BoardInputs && sizes[len(sizes)-1] == evo.ActionCount {
		inputs, err := evo.EncodeBoard(make([]int, evo.BoardCells), 0)
		if err != nil {
			return InspectSummary{}, err
		}
		best, outputs, err := net.Decide(inputs)
		if err != nil {
			return InspectSummary{}, err
		}
		summary.EmptyBoardOutputs = outputs
		summary.PreferredMove = directionName(best)
	}
	return summary, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:            e.RunID,
			CreatedAtUTC:     e.CreatedAtUTC,
			Seed:             e.Seed,
			Population:       e.PopulationSize,
			Generations:      e.Generations,
			EliteCount:       e.EliteCount,
			HighestTile:      e.HighestTile,
			FinalBestFitness: e.FinalBestFitness,
			StopReason:       e.StopReason,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

// FitnessHistory prefers the store and falls back to the run's artifacts.
func (c *Client) FitnessHistory(ctx context.Context, req HistoryRequest) ([]float64, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}

	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		diagnostics, found, err := stats.ReadGenerationDiagnostics(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
		}
		for _, diag := range diagnostics {
			history = append(history, diag.BestFitness)
		}
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req HistoryRequest) ([]model.GenerationDiagnostics, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}

	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		diagnostics, ok, err = stats.ReadGenerationDiagnostics(c.runsDir, runID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
		}
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) Lineage(ctx context.Context, req HistoryRequest) ([]model.LineageRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return nil, err
	}

	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(lineage) > req.Limit {
		lineage = lineage[:req.Limit]
	}
	return append([]model.LineageRecord(nil), lineage...), nil
}

func (c *Client) Population(ctx context.Context, req PopulationRequest) (PopulationSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return PopulationSummary{}, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return PopulationSummary{}, err
	}

	pop, ok, err := c.store.GetPopulation(ctx, runID)
	if err != nil {
		return PopulationSummary{}, err
	}
	if !ok {
		return PopulationSummary{}, fmt.Errorf("population not found for run id: %s", runID)
	}

	summary := PopulationSummary{
		RunID:      pop.RunID,
		Generation: pop.Generation,
		Slots:      make([]PopulationSlot, 0, len(pop.Snapshots)),
	}
	for i, snap := range pop.Snapshots {
		slot := PopulationSlot{Slot: i, NetworkID: snap.NetworkID, Unchanging: snap.Unchanging}
		if i < len(pop.Fitness) {
			slot.Fitness = pop.Fitness[i]
		}
		summary.Slots = append(summary.Slots, slot)
	}
	return summary, nil
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	if c.polis != nil {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{Store: c.store, Logger: c.logger})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if !latest {
		if runID == "" {
			return "", errors.New("run id or latest is required")
		}
		return runID, nil
	}
	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

// artifactSnapshotPath returns the run's best_network.json when the store has
// no best network for it, which is the case for runs trained in another
// process against a memory store.
func (c *Client) artifactSnapshotPath(ctx context.Context, runID string) (string, error) {
	if _, ok, err := c.store.GetBestSnapshot(ctx, runID); err != nil || ok {
		return "", err
	}
	path := filepath.Join(c.runsDir, runID, bestNetworkFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

func (c *Client) loadSnapshot(ctx context.Context, req InspectRequest) (model.NetworkSnapshot, error) {
	if req.SnapshotPath != "" {
		if req.RunID != "" || req.Latest {
			return model.NetworkSnapshot{}, errors.New("use either a snapshot path or a run")
		}
		snap, ok, err := storage.LoadSnapshotFile(req.SnapshotPath)
		if err != nil {
			return model.NetworkSnapshot{}, err
		}
		if !ok {
			return model.NetworkSnapshot{}, fmt.Errorf("snapshot not found: %s", req.SnapshotPath)
		}
		return snap, nil
	}

	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return model.NetworkSnapshot{}, err
	}
	if _, err := c.ensurePolis(ctx); err != nil {
		return model.NetworkSnapshot{}, err
	}
	snap, ok, err := c.store.GetBestSnapshot(ctx, runID)
	if err != nil {
		return model.NetworkSnapshot{}, err
	}
	if ok {
		return snap, nil
	}
	snap, ok, err = stats.ReadBestNetwork(c.runsDir, runID)
	if err != nil {
		return model.NetworkSnapshot{}, err
	}
	if !ok {
		return model.NetworkSnapshot{}, fmt.Errorf("best network not found for run id: %s", runID)
	}
	return snap, nil
}

func withTrainDefaults(req TrainRequest) TrainRequest {
	defaults := DefaultTrainRequest()
	if len(req.LayerSizes) == 0 {
		req.LayerSizes = defaults.LayerSizes
	}
	if req.HiddenActivation == "" {
		req.HiddenActivation = defaults.HiddenActivation
	}
	if req.OutputActivation == "" {
		req.OutputActivation = defaults.OutputActivation
	}
	if req.Population <= 0 {
		req.Population = defaults.Population
	}
	if req.TopPercentile <= 0 {
		req.TopPercentile = defaults.TopPercentile
	}
	if req.MaxFailures < 0 {
		req.MaxFailures = defaults.MaxFailures
	}
	if req.MutateRange < 0 {
		req.MutateRange = defaults.MutateRange
	}
	if req.TickRate <= 0 {
		req.TickRate = defaults.TickRate
	}
	if req.FrameRate <= 0 {
		req.FrameRate = defaults.FrameRate
	}
	return req
}

func withPlayDefaults(req PlayRequest) PlayRequest {
	if req.Episodes <= 0 {
		req.Episodes = 1
	}
	if req.MaxFailures < 0 {
		req.MaxFailures = evo.DefaultControllerConfig().MaxFailures
	}
	return req
}

func storeKindOf(store storage.Store) string {
	if _, ok := store.(*storage.MemoryStore); ok {
		return storage.KindMemory
	}
	return storage.KindSQLite
}

func spread(values []float64) (lo, hi, mean float64) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	total := 0.0
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		total += v
	}
	return lo, hi, total / float64(len(values))
}

func directionName(index int) string {
	return scape.Direction(index).String()
}
