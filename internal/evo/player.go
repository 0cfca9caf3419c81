package evo

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"tilevolve/internal/nn"
	"tilevolve/internal/scape"
)

type PlayerConfig struct {
	Episodes    int
	MaxFailures int
	TickRate    float64
	Logger      *slog.Logger
}

type EpisodeResult struct {
	Episode int     `json:"episode"`
	Score   int     `json:"score"`
	Rounds  int     `json:"rounds"`
	Highest int     `json:"highest"`
	Fitness float64 `json:"fitness"`
}

// Player plays a fixed network without evolving it. Fitness is still
// accumulated so playback results compare with training runs.
type Player struct {
	episode

	cfg       PlayerConfig
	net       *nn.Network
	board     scape.Board
	logger    *slog.Logger
	evaluator *FitnessEvaluator
	gate      tickGate

	running bool
	reward  float64
	results []EpisodeResult
}

func NewPlayer(cfg PlayerConfig, net *nn.Network, board scape.Board) (*Player, error) {
	if cfg.Episodes <= 0 {
		return nil, fmt.Errorf("%w: episodes must be > 0", ErrInvalidConfig)
	}
	if cfg.MaxFailures < 0 {
		return nil, fmt.Errorf("%w: max failures must be >= 0", ErrInvalidConfig)
	}
	if cfg.TickRate <= 0 {
		return nil, fmt.Errorf("%w: tick rate must be > 0", ErrInvalidConfig)
	}
	if net == nil || board == nil {
		return nil, fmt.Errorf("%w: network and board are required", ErrInvalidConfig)
	}
	if sizes := net.LayerSizes(); sizes[0] != BoardInputs || sizes[len(sizes)-1] != ActionCount {
		return nil, fmt.Errorf("%w: network shape %v does not fit the board", ErrInvalidConfig, sizes)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Player{
		episode:   episode{selector: NewActionSelector(cfg.MaxFailures)},
		cfg:       cfg,
		net:       net,
		board:     board,
		logger:    cfg.Logger,
		evaluator: NewFitnessEvaluator(),
		gate:      tickGate{interval: time.Duration(float64(time.Second) / cfg.TickRate)},
	}, nil
}

func (p *Player) Start() {
	if p.running || p.Done() {
		return
	}
	p.running = true
	p.board.NewGame()
}

func (p *Player) OnGameStarted() {
	p.begin()
	p.reward = 0
}

func (p *Player) Advance(now time.Time) (bool, error) {
	if !p.running || !p.gate.ready(now) {
		return false, nil
	}
	if p.failed {
		p.finishEpisode()
		return true, nil
	}

	inputs, err := EncodeBoard(p.board.Cells(), p.failures)
	if err != nil {
		return true, err
	}
	_, outputs, err := p.net.Decide(inputs)
	if err != nil {
		return true, fmt.Errorf("decide: %w", err)
	}
	choice, err := p.selector.Choose(outputs, p.failures)
	if err != nil {
		return true, fmt.Errorf("choose action: %w", err)
	}
	if choice.Exhausted {
		p.finishEpisode()
		return true, nil
	}
	if choice.ClearFailures {
		p.failures = 0
	}

	reward, err := p.evaluator.Evaluate(FitnessInput{
		Board:    inputs,
		Score:    p.board.Score(),
		Round:    p.board.Round(),
		Failures: p.failures,
	})
	if err != nil {
		return true, err
	}
	p.reward += reward

	p.board.Move(choice.Direction)
	if p.failed {
		p.finishEpisode()
	}
	return true, nil
}

func (p *Player) finishEpisode() {
	p.failed = false
	result := EpisodeResult{
		Episode: len(p.results) + 1,
		Score:   p.board.Score(),
		Rounds:  p.board.Round(),
		Highest: p.board.Highest(),
		Fitness: NormalizeFitness(p.reward, p.board.Round()),
	}
	p.results = append(p.results, result)
	p.logger.Info("episode finished",
		"episode", result.Episode,
		"score", result.Score,
		"rounds", result.Rounds,
		"highest", result.Highest,
	)
	if p.Done() {
		p.running = false
		return
	}
	p.board.NewGame()
}

func (p *Player) Done() bool { return len(p.results) >= p.cfg.Episodes }

func (p *Player) Results() []EpisodeResult {
	return append([]EpisodeResult(nil), p.results...)
}
