package evo

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"tilevolve/internal/model"
	"tilevolve/internal/nn"
	"tilevolve/internal/scape"
)

var (
	ErrInvalidConfig    = errors.New("invalid controller config")
	ErrControllerHalted = errors.New("controller halted")
)

type ControllerState int

const (
	StateIdle ControllerState = iota
	StateRunning
	StateHalted
)

func (s ControllerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// SnapshotSaver persists the top elite when training halts.
type SnapshotSaver interface {
	SaveSnapshot(snap model.NetworkSnapshot) error
}

// GenerationObserver is told about every finished generation. Next is empty
// when the generation halted training.
type GenerationObserver interface {
	ObserveGeneration(report GenerationReport) error
}

type GenerationReport struct {
	Diagnostics model.GenerationDiagnostics
	Scored      model.Population
	Elites      []model.NetworkSnapshot
	Next        model.Population
	Lineage     []model.LineageRecord
}

type ControllerConfig struct {
	RunID            string
	LayerSizes       []int
	HiddenActivation nn.ActivationType
	OutputActivation nn.ActivationType
	PopulationSize   int
	TopPercentile    int
	MaxFailures      int
	MutateRange      float64
	// StopGeneration is the last generation played. A negative value never
	// halts, leaving the run to external shutdown.
	StopGeneration int
	// TickRate is the number of control ticks per second.
	TickRate float64
	Logger   *slog.Logger
	Saver    SnapshotSaver
	Observer GenerationObserver
}

// DefaultLayerSizes is the 17→17→12→53→3→4 topology.
func DefaultLayerSizes() []int {
	return []int{BoardInputs, 17, 12, 53, 3, ActionCount}
}

func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		LayerSizes:       DefaultLayerSizes(),
		HiddenActivation: nn.Sigmoid,
		OutputActivation: nn.Sigmoid,
		PopulationSize:   10,
		TopPercentile:    30,
		MaxFailures:      10,
		MutateRange:      0.5,
		StopGeneration:   489,
		TickRate:         30,
	}
}

func (c ControllerConfig) Validate() error {
	if len(c.LayerSizes) < 2 {
		return fmt.Errorf("%w: at least two layer sizes are required", ErrInvalidConfig)
	}
	if c.LayerSizes[0] != BoardInputs {
		return fmt.Errorf("%w: input layer must have %d neurons, got %d", ErrInvalidConfig, BoardInputs, c.LayerSizes[0])
	}
	if last := c.LayerSizes[len(c.LayerSizes)-1]; last != ActionCount {
		return fmt.Errorf("%w: output layer must have %d neurons, got %d", ErrInvalidConfig, ActionCount, last)
	}
	for i, size := range c.LayerSizes {
		if size <= 0 {
			return fmt.Errorf("%w: layer size must be > 0 at index %d", ErrInvalidConfig, i)
		}
	}
	if c.PopulationSize < 2 {
		return fmt.Errorf("%w: population size must be >= 2", ErrInvalidConfig)
	}
	if c.TopPercentile <= 0 || c.TopPercentile > 100 {
		return fmt.Errorf("%w: top percentile must be in (0, 100]", ErrInvalidConfig)
	}
	if EliteCount(c.PopulationSize, c.TopPercentile) < 1 {
		return fmt.Errorf("%w: population %d at top %d%% keeps no elites", ErrInvalidConfig, c.PopulationSize, c.TopPercentile)
	}
	if c.MaxFailures < 0 {
		return fmt.Errorf("%w: max failures must be >= 0", ErrInvalidConfig)
	}
	if c.MutateRange < 0 {
		return fmt.Errorf("%w: mutate range must be >= 0", ErrInvalidConfig)
	}
	if c.TickRate <= 0 {
		return fmt.Errorf("%w: tick rate must be > 0", ErrInvalidConfig)
	}
	return nil
}

// TickInterval is the minimum wall time between two control ticks.
func (c ControllerConfig) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRate)
}

// episode holds the per-episode event bookkeeping shared by the controller
// and the player. Board events only flip counters; ticks act on them.
type episode struct {
	selector *ActionSelector
	failures int
	failed   bool
}

func (e *episode) OnBoardUpdated() { e.selector.Reset() }

func (e *episode) OnIllegalMove() { e.failures++ }

func (e *episode) OnGameFailed() { e.failed = true }

func (e *episode) begin() {
	e.failures = 0
	e.failed = false
	e.selector.Reset()
}

type tickGate struct {
	interval time.Duration
	last     time.Time
	armed    bool
}

func (g *tickGate) ready(now time.Time) bool {
	if g.armed && now.Sub(g.last) < g.interval {
		return false
	}
	g.last = now
	g.armed = true
	return true
}

// Controller runs generational training against a board. It is
// single-threaded: the host delivers board events and calls Advance from the
// same goroutine.
type Controller struct {
	episode

	cfg       ControllerConfig
	board     scape.Board
	rng       *rand.Rand
	logger    *slog.Logger
	evaluator *FitnessEvaluator
	gate      tickGate

	state      ControllerState
	started    bool
	generation int
	slot       int
	net        *nn.Network
	population []model.NetworkSnapshot
	fitness    []float64

	generationHighest int
	history           []model.GenerationDiagnostics
	bestByGeneration  []float64
	best              *model.NetworkSnapshot
	err               error
}

func NewController(cfg ControllerConfig, board scape.Board, rng *rand.Rand) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if board == nil {
		return nil, fmt.Errorf("%w: board is required", ErrInvalidConfig)
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: random source is required", ErrInvalidConfig)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	cfg.LayerSizes = append([]int(nil), cfg.LayerSizes...)

	return &Controller{
		episode:    episode{selector: NewActionSelector(cfg.MaxFailures)},
		cfg:        cfg,
		board:      board,
		rng:        rng,
		logger:     cfg.Logger,
		evaluator:  NewFitnessEvaluator(),
		gate:       tickGate{interval: cfg.TickInterval()},
		population: make([]model.NetworkSnapshot, cfg.PopulationSize),
		fitness:    make([]float64, cfg.PopulationSize),
	}, nil
}

// Resume restores a stored population so the next Start continues from its
// generation. Fitness starts from zero.
func (c *Controller) Resume(pop model.Population) error {
	if c.state != StateIdle {
		return fmt.Errorf("resume requires an idle controller, state=%s", c.state)
	}
	if len(pop.Snapshots) != c.cfg.PopulationSize {
		return fmt.Errorf("%w: stored population has %d slots, want %d", ErrInvalidConfig, len(pop.Snapshots), c.cfg.PopulationSize)
	}
	for i, snap := range pop.Snapshots {
		if !sameSizes(snap.LayerSizes, c.cfg.LayerSizes) {
			return fmt.Errorf("%w: slot %d has layer sizes %v, want %v", ErrInvalidConfig, i, snap.LayerSizes, c.cfg.LayerSizes)
		}
		c.population[i] = snap.Clone()
	}
	c.generation = pop.Generation
	c.fitness = make([]float64, c.cfg.PopulationSize)
	return nil
}

// Start requests the first game. Slot 0's network is prepared by the
// game-started event the board emits.
func (c *Controller) Start() error {
	switch c.state {
	case StateRunning:
		return fmt.Errorf("controller already running")
	case StateHalted:
		return ErrControllerHalted
	}
	c.state = StateRunning
	c.logger.Info("training started",
		"run_id", c.cfg.RunID,
		"generation", c.generation,
		"population", c.cfg.PopulationSize,
		"elites", EliteCount(c.cfg.PopulationSize, c.cfg.TopPercentile),
	)
	c.board.NewGame()
	return c.err
}

// OnGameStarted moves to the next slot, or through GenerationAdvance once
// every slot has played, and prepares that slot's network.
func (c *Controller) OnGameStarted() {
	if c.state != StateRunning {
		return
	}
	if !c.started {
		c.started = true
		c.slot = 0
	} else if c.slot+1 >= c.cfg.PopulationSize {
		c.advanceGeneration()
		if c.state != StateRunning {
			return
		}
	} else {
		c.slot++
	}
	c.begin()
	if err := c.prepareNetwork(); err != nil {
		c.fail(err)
	}
}

// Advance runs one control tick when at least one tick interval has passed
// since the previous one. It reports whether a tick ran.
func (c *Controller) Advance(now time.Time) (bool, error) {
	if c.err != nil {
		return false, c.err
	}
	if c.state != StateRunning {
		return false, nil
	}
	if !c.gate.ready(now) {
		return false, nil
	}
	if err := c.tick(); err != nil {
		c.fail(err)
		return true, err
	}
	return true, c.err
}

func (c *Controller) tick() error {
	if c.failed {
		return c.finishEpisode()
	}

	inputs, err := EncodeBoard(c.board.Cells(), c.failures)
	if err != nil {
		return err
	}
	_, outputs, err := c.net.Decide(inputs)
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}
	choice, err := c.selector.Choose(outputs, c.failures)
	if err != nil {
		return fmt.Errorf("choose action: %w", err)
	}
	if choice.Exhausted {
		c.logger.Debug("action ranks exhausted", "generation", c.generation, "slot", c.slot)
		return c.finishEpisode()
	}
	if choice.ClearFailures {
		c.failures = 0
	}

	reward, err := c.evaluator.Evaluate(FitnessInput{
		Board:    inputs,
		Score:    c.board.Score(),
		Round:    c.board.Round(),
		Failures: c.failures,
	})
	if err != nil {
		return err
	}
	c.fitness[c.slot] += reward

	c.board.Move(choice.Direction)
	if c.failed {
		return c.finishEpisode()
	}
	return nil
}

func (c *Controller) finishEpisode() error {
	c.failed = false
	c.population[c.slot] = c.net.ToSnapshot()
	rounds := c.board.Round()
	c.fitness[c.slot] = NormalizeFitness(c.fitness[c.slot], rounds)
	if highest := c.board.Highest(); highest > c.generationHighest {
		c.generationHighest = highest
	}
	c.logger.Debug("episode finished",
		"generation", c.generation,
		"slot", c.slot,
		"score", c.board.Score(),
		"rounds", rounds,
		"fitness", c.fitness[c.slot],
	)
	c.board.NewGame()
	return c.err
}

func (c *Controller) prepareNetwork() error {
	if c.generation == 0 {
		net, err := nn.NewNetwork(c.rng, c.cfg.LayerSizes...)
		if err != nil {
			return err
		}
		net.SetActivation(c.cfg.HiddenActivation, c.cfg.OutputActivation)
		c.net = net
		return nil
	}

	snap := c.population[c.slot]
	net, err := nn.FromSnapshot(snap)
	if err != nil {
		return fmt.Errorf("load slot %d: %w", c.slot, err)
	}
	if !snap.Unchanging {
		net.Mutate(c.rng.Float64()*c.cfg.MutateRange, c.rng)
	}
	c.net = net
	return nil
}

func (c *Controller) advanceGeneration() {
	eliteSlots, err := SelectElites(c.fitness, EliteCount(c.cfg.PopulationSize, c.cfg.TopPercentile))
	if err != nil {
		c.fail(err)
		return
	}
	elites := make([]model.NetworkSnapshot, 0, len(eliteSlots))
	for _, slot := range eliteSlots {
		elites = append(elites, c.population[slot].Clone())
	}

	diag := c.summarize(eliteSlots)
	c.history = append(c.history, diag)
	c.bestByGeneration = append(c.bestByGeneration, diag.BestFitness)
	c.logger.Info("generation complete",
		"generation", diag.Generation,
		"best_fitness", diag.BestFitness,
		"mean_fitness", diag.MeanFitness,
		"highest_tile", diag.HighestTile,
		"generation_highest", diag.GenerationHighest,
		"best_network_id", diag.BestNetworkID,
	)

	report := GenerationReport{
		Diagnostics: diag,
		Scored:      c.Population(),
		Elites:      elites,
	}

	c.failures = 0
	c.generation++
	c.slot = 0
	c.generationHighest = 0

	if c.cfg.StopGeneration >= 0 && c.generation > c.cfg.StopGeneration {
		top := elites[0].Clone()
		c.best = &top
		c.state = StateHalted
		c.logger.Info("training halted", "generations", c.generation, "best_network_id", top.NetworkID)
		if c.cfg.Saver != nil {
			if err := c.cfg.Saver.SaveSnapshot(top); err != nil {
				c.err = fmt.Errorf("save best network: %w", err)
			}
		}
		c.notify(report)
		return
	}

	next, lineage, err := Replenish(c.rng, elites, c.cfg.PopulationSize, c.generation)
	if err != nil {
		c.fail(err)
		return
	}
	c.population = next
	c.fitness = make([]float64, c.cfg.PopulationSize)
	report.Next = c.Population()
	report.Lineage = lineage
	c.notify(report)
}

func (c *Controller) notify(report GenerationReport) {
	if c.cfg.Observer == nil {
		return
	}
	if err := c.cfg.Observer.ObserveGeneration(report); err != nil && c.err == nil {
		c.err = fmt.Errorf("observe generation %d: %w", report.Diagnostics.Generation, err)
	}
}

func (c *Controller) summarize(eliteSlots []int) model.GenerationDiagnostics {
	diag := model.GenerationDiagnostics{
		Generation:        c.generation,
		HighestTile:       int(c.evaluator.Highest()),
		GenerationHighest: c.generationHighest,
		EliteIDs:          make([]int64, 0, len(eliteSlots)),
	}
	total := 0.0
	diag.MinFitness = c.fitness[0]
	for _, f := range c.fitness {
		total += f
		if f < diag.MinFitness {
			diag.MinFitness = f
		}
	}
	diag.MeanFitness = total / float64(len(c.fitness))
	diag.BestFitness = c.fitness[eliteSlots[0]]
	diag.BestNetworkID = c.population[eliteSlots[0]].NetworkID
	for _, slot := range eliteSlots {
		diag.EliteIDs = append(diag.EliteIDs, c.population[slot].NetworkID)
	}
	return diag
}

func (c *Controller) fail(err error) {
	if c.err == nil {
		c.err = err
	}
	c.state = StateHalted
	c.logger.Error("training stopped", "generation", c.generation, "slot", c.slot, "error", err)
}

func (c *Controller) State() ControllerState { return c.state }

func (c *Controller) Halted() bool { return c.state == StateHalted }

func (c *Controller) Err() error { return c.err }

func (c *Controller) Generation() int { return c.generation }

func (c *Controller) Slot() int { return c.slot }

func (c *Controller) Failures() int { return c.failures }

func (c *Controller) Network() *nn.Network { return c.net }

func (c *Controller) Config() ControllerConfig { return c.cfg }

// SetHighestTile carries the highest tile of an earlier session into a
// resumed run so the new-highest bonus is not paid twice.
func (c *Controller) SetHighestTile(tile int) {
	c.evaluator.SetHighest(float64(tile))
}

// HighestTile is the largest exponent any episode has reached.
func (c *Controller) HighestTile() int { return int(c.evaluator.Highest()) }

func (c *Controller) Fitness() []float64 {
	return append([]float64(nil), c.fitness...)
}

// Population copies the current slots. Slots that have not played yet in
// generation 0 hold zero-valued snapshots.
func (c *Controller) Population() model.Population {
	pop := model.Population{
		VersionedRecord: model.CurrentVersion(),
		RunID:           c.cfg.RunID,
		Generation:      c.generation,
		Snapshots:       make([]model.NetworkSnapshot, len(c.population)),
		Fitness:         c.Fitness(),
	}
	for i, snap := range c.population {
		pop.Snapshots[i] = snap.Clone()
	}
	return pop
}

func (c *Controller) History() []model.GenerationDiagnostics {
	return append([]model.GenerationDiagnostics(nil), c.history...)
}

func (c *Controller) BestByGeneration() []float64 {
	return append([]float64(nil), c.bestByGeneration...)
}

// Best returns the elite kept when training halted.
func (c *Controller) Best() (model.NetworkSnapshot, bool) {
	if c.best == nil {
		return model.NetworkSnapshot{}, false
	}
	return c.best.Clone(), true
}

func sameSizes(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
