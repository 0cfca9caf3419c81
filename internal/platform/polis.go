package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"tilevolve/internal/evo"
	"tilevolve/internal/model"
	"tilevolve/internal/nn"
	"tilevolve/internal/scape"
	"tilevolve/internal/storage"
)

const DefaultFrameRate = 60

type Config struct {
	Store  storage.Store
	Logger *slog.Logger
}

type StopReason string

const (
	StopReasonNormal   StopReason = "normal"
	StopReasonShutdown StopReason = "shutdown"
)

type TrainingConfig struct {
	Controller evo.ControllerConfig
	Seed       int64
	// FrameRate is the number of host frames per second. Each frame offers
	// the controller one chance to tick.
	FrameRate float64
	// Fast replaces the wall clock with a simulated one that advances a full
	// tick interval per frame.
	Fast bool
	// MaxFrames bounds the frame loop; 0 means no bound.
	MaxFrames    int
	SnapshotPath string
	// Continue resumes the population stored under the run id when present.
	Continue bool
}

type TrainingResult struct {
	RunID            string
	StopReason       StopReason
	Halted           bool
	Resumed          bool
	Generation       int
	HighestTile      int
	Frames           int
	BestByGeneration []float64
	Diagnostics      []model.GenerationDiagnostics
	Lineage          []model.LineageRecord
	Best             *model.NetworkSnapshot
	Population       model.Population
}

type PlaybackConfig struct {
	RunID        string
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

type PlaybackResult struct {
	NetworkID  int64
	Loaded     bool
	StopReason StopReason
	Frames     int
	Episodes   []evo.EpisodeResult
}

type Polis struct {
	store  storage.Store
	logger *slog.Logger

	mu             sync.RWMutex
	started        bool
	lastStopReason StopReason
	runs           map[string]context.CancelFunc
}

func NewPolis(cfg Config) *Polis {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Polis{
		store:          cfg.Store,
		logger:         logger,
		runs:           make(map[string]context.CancelFunc),
		lastStopReason: StopReasonNormal,
	}
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) LastStopReason() StopReason {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastStopReason
}

func (p *Polis) Stop() {
	_ = p.StopWithReason(StopReasonNormal)
}

func (p *Polis) Shutdown() {
	_ = p.StopWithReason(StopReasonShutdown)
}

// StopWithReason cancels every active run and marks the polis stopped.
func (p *Polis) StopWithReason(reason StopReason) error {
	if reason == "" {
		reason = StopReasonNormal
	}
	if !isValidStopReason(reason) {
		return fmt.Errorf("unsupported stop reason: %s", reason)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.runs {
		cancel()
	}
	p.started = false
	p.lastStopReason = reason
	p.runs = make(map[string]context.CancelFunc)
	return nil
}

// StopRun cancels one active run. The run returns with StopReasonShutdown.
func (p *Polis) StopRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	p.mu.RLock()
	cancel, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	cancel()
	return nil
}

func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Polis) RunTraining(ctx context.Context, cfg TrainingConfig) (TrainingResult, error) {
	if !p.Started() {
		return TrainingResult{}, fmt.Errorf("polis is not initialized")
	}
	runID := persistenceRunID(cfg)
	cfg.Controller.RunID = runID
	if cfg.Controller.Logger == nil {
		cfg.Controller.Logger = p.logger
	}

	recorder := &runRecorder{
		ctx:          ctx,
		store:        p.store,
		runID:        runID,
		snapshotPath: cfg.SnapshotPath,
		logger:       p.logger,
	}
	cfg.Controller.Saver = recorder
	cfg.Controller.Observer = recorder

	rng := rand.New(rand.NewSource(cfg.Seed))
	board := scape.NewTiles(rng)
	ctrl, err := evo.NewController(cfg.Controller, board, rng)
	if err != nil {
		return TrainingResult{}, err
	}
	board.SetListener(ctrl)

	result := TrainingResult{RunID: runID}
	if cfg.Continue {
		resumed, err := p.resume(ctx, ctrl, recorder)
		if err != nil {
			return TrainingResult{}, err
		}
		result.Resumed = resumed
	}

	runCtx, err := p.registerRun(ctx, runID)
	if err != nil {
		return TrainingResult{}, err
	}
	defer p.unregisterRun(runID)

	if err := ctrl.Start(); err != nil {
		return TrainingResult{}, err
	}

	reason, frames, err := runFrames(runCtx, frameLoop{
		frameRate: cfg.FrameRate,
		fast:      cfg.Fast,
		tick:      cfg.Controller.TickInterval(),
		maxFrames: cfg.MaxFrames,
	}, func(now time.Time) (bool, error) {
		_, err := ctrl.Advance(now)
		return ctrl.Halted(), err
	})
	if err != nil {
		return TrainingResult{}, fmt.Errorf("training run %s: %w", runID, err)
	}

	result.StopReason = reason
	result.Halted = ctrl.Halted()
	result.Generation = ctrl.Generation()
	result.HighestTile = ctrl.HighestTile()
	result.Frames = frames
	result.BestByGeneration = append([]float64(nil), recorder.bestByGeneration...)
	result.Diagnostics = append([]model.GenerationDiagnostics(nil), recorder.diagnostics...)
	result.Lineage = append([]model.LineageRecord(nil), recorder.lineage...)
	result.Population = ctrl.Population()
	if best, ok := ctrl.Best(); ok {
		result.Best = &best
	}
	p.logger.Info("training run finished",
		"run_id", runID,
		"stop_reason", string(reason),
		"generation", result.Generation,
		"highest_tile", result.HighestTile,
		"frames", frames,
	)
	return result, nil
}

// resume loads the stored population and history for the controller's run.
// A run with nothing stored starts fresh.
func (p *Polis) resume(ctx context.Context, ctrl *evo.Controller, recorder *runRecorder) (bool, error) {
	runID := recorder.runID
	pop, ok, err := p.store.GetPopulation(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("load population %s: %w", runID, err)
	}
	if !ok {
		p.logger.Warn("no stored population, starting fresh", "run_id", runID)
		return false, nil
	}
	if err := ctrl.Resume(pop); err != nil {
		return false, err
	}

	// History past the resumed generation is replayed and recorded again.
	if history, ok, err := p.store.GetFitnessHistory(ctx, runID); err != nil {
		return false, err
	} else if ok {
		if len(history) > pop.Generation {
			history = history[:pop.Generation]
		}
		recorder.bestByGeneration = history
	}
	if diagnostics, ok, err := p.store.GetGenerationDiagnostics(ctx, runID); err != nil {
		return false, err
	} else if ok {
		highest := 0
		for _, diag := range diagnostics {
			if diag.Generation < pop.Generation {
				recorder.diagnostics = append(recorder.diagnostics, diag)
				highest = max(highest, diag.HighestTile)
			}
		}
		ctrl.SetHighestTile(highest)
	}
	if lineage, ok, err := p.store.GetLineage(ctx, runID); err != nil {
		return false, err
	} else if ok {
		for _, record := range lineage {
			if record.Generation <= pop.Generation {
				recorder.lineage = append(recorder.lineage, record)
			}
		}
	}
	p.logger.Info("resumed population", "run_id", runID, "generation", pop.Generation)
	return true, nil
}

// RunPlayback plays a stored network without evolving it. A missing or
// unreadable network is replaced by a freshly initialized one.
func (p *Polis) RunPlayback(ctx context.Context, cfg PlaybackConfig) (PlaybackResult, error) {
	if !p.Started() {
		return PlaybackResult{}, fmt.Errorf("polis is not initialized")
	}
	if cfg.TickRate <= 0 {
		cfg.TickRate = evo.DefaultControllerConfig().TickRate
	}
	if len(cfg.LayerSizes) == 0 {
		cfg.LayerSizes = evo.DefaultLayerSizes()
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	net, networkID, loaded, err := p.loadPlaybackNetwork(ctx, cfg, rng)
	if err != nil {
		return PlaybackResult{}, err
	}

	board := scape.NewTiles(rng)
	player, err := evo.NewPlayer(evo.PlayerConfig{
		Episodes:    cfg.Episodes,
		MaxFailures: cfg.MaxFailures,
		TickRate:    cfg.TickRate,
		Logger:      p.logger,
	}, net, board)
	if err != nil {
		return PlaybackResult{}, err
	}
	board.SetListener(player)

	player.Start()
	reason, frames, err := runFrames(ctx, frameLoop{
		frameRate: cfg.FrameRate,
		fast:      cfg.Fast,
		tick:      time.Duration(float64(time.Second) / cfg.TickRate),
		maxFrames: cfg.MaxFrames,
	}, func(now time.Time) (bool, error) {
		_, err := player.Advance(now)
		return player.Done(), err
	})
	if err != nil {
		return PlaybackResult{}, err
	}

	return PlaybackResult{
		NetworkID:  networkID,
		Loaded:     loaded,
		StopReason: reason,
		Frames:     frames,
		Episodes:   player.Results(),
	}, nil
}

func (p *Polis) loadPlaybackNetwork(ctx context.Context, cfg PlaybackConfig, rng *rand.Rand) (*nn.Network, int64, bool, error) {
	var (
		snap model.NetworkSnapshot
		ok   bool
		err  error
	)
	switch {
	case cfg.SnapshotPath != "":
		snap, ok, err = storage.LoadSnapshotFile(cfg.SnapshotPath)
	case cfg.RunID != "":
		snap, ok, err = p.store.GetBestSnapshot(ctx, cfg.RunID)
	}

	if err == nil && ok {
		net, loadErr := nn.FromSnapshot(snap)
		if loadErr == nil {
			return net, snap.NetworkID, true, nil
		}
		err = loadErr
	}
	if err != nil {
		p.logger.Warn("could not load network, using a fresh one", "path", cfg.SnapshotPath, "run_id", cfg.RunID, "error", err)
	} else {
		p.logger.Warn("no stored network, using a fresh one", "path", cfg.SnapshotPath, "run_id", cfg.RunID)
	}

	net, err := nn.NewNetwork(rng, cfg.LayerSizes...)
	if err != nil {
		return nil, 0, false, err
	}
	return net, 0, false, nil
}

func (p *Polis) registerRun(ctx context.Context, runID string) (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil, fmt.Errorf("polis is not initialized")
	}
	if _, exists := p.runs[runID]; exists {
		return nil, fmt.Errorf("run already active: %s", runID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.runs[runID] = cancel
	return runCtx, nil
}

func (p *Polis) unregisterRun(runID string) {
	p.mu.Lock()
	if cancel, ok := p.runs[runID]; ok {
		cancel()
		delete(p.runs, runID)
	}
	p.mu.Unlock()
}

func persistenceRunID(cfg TrainingConfig) string {
	if cfg.Controller.RunID != "" {
		return cfg.Controller.RunID
	}
	return fmt.Sprintf("tiles:%d", cfg.Seed)
}

func isValidStopReason(reason StopReason) bool {
	switch reason {
	case StopReasonNormal, StopReasonShutdown:
		return true
	default:
		return false
	}
}

type frameLoop struct {
	frameRate float64
	fast      bool
	tick      time.Duration
	maxFrames int
}

// runFrames calls step once per frame until it reports done, the context is
// cancelled, or maxFrames frames have run. Only done counts as a normal stop.
func runFrames(ctx context.Context, loop frameLoop, step func(now time.Time) (bool, error)) (StopReason, int, error) {
	frames := 0
	frame := func(now time.Time) (StopReason, bool, error) {
		frames++
		done, err := step(now)
		if err != nil {
			return "", true, err
		}
		if done {
			return StopReasonNormal, true, nil
		}
		if loop.maxFrames > 0 && frames >= loop.maxFrames {
			return StopReasonShutdown, true, nil
		}
		return "", false, nil
	}

	if loop.fast {
		now := time.Unix(0, 0)
		for {
			if ctx.Err() != nil {
				return StopReasonShutdown, frames, nil
			}
			now = now.Add(loop.tick)
			if reason, stop, err := frame(now); stop {
				return reason, frames, err
			}
		}
	}

	rate := loop.frameRate
	if rate <= 0 {
		rate = DefaultFrameRate
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return StopReasonShutdown, frames, nil
		case now := <-ticker.C:
			if reason, stop, err := frame(now); stop {
				return reason, frames, err
			}
		}
	}
}
