package evo

import (
	"fmt"

	"tilevolve/internal/nn"
)

const (
	// BoardCells is the number of grid cells in an encoding.
	BoardCells = 16
	// BoardInputs is BoardCells plus the trailing failure counter.
	BoardInputs = BoardCells + 1

	// anchorCell is the literal board index that scales every step's
	// reward. It is a fixed cell, not a lookup of the highest block.
	anchorCell = 4

	adjacentReward = 10.0
	apartReward    = 0.1
)

var neighborOffsets = [...]int{-1, 1, -4, 4}

// EncodeBoard lays out sixteen raw exponents followed by the failure counter.
func EncodeBoard(cells []int, failures int) ([]float64, error) {
	if len(cells) != BoardCells {
		return nil, fmt.Errorf("%w: board has %d cells, want %d", nn.ErrDimensionMismatch, len(cells), BoardCells)
	}
	out := make([]float64, BoardInputs)
	for i, v := range cells {
		out[i] = float64(v)
	}
	out[BoardCells] = float64(failures)
	return out, nil
}

type FitnessInput struct {
	Board    []float64
	Score    int
	Round    int
	Failures int
}

// FitnessEvaluator scores one controller tick. It remembers the highest
// exponent it has ever seen; raising it pays that exponent as a bonus.
type FitnessEvaluator struct {
	highest float64
}

func NewFitnessEvaluator() *FitnessEvaluator {
	return &FitnessEvaluator{}
}

func (e *FitnessEvaluator) Highest() float64 { return e.highest }

func (e *FitnessEvaluator) SetHighest(v float64) { e.highest = v }

func (e *FitnessEvaluator) Reset() { e.highest = 0 }

func (e *FitnessEvaluator) Evaluate(in FitnessInput) (float64, error) {
	if len(in.Board) != BoardInputs {
		return 0, fmt.Errorf("%w: encoding has %d entries, want %d", nn.ErrDimensionMismatch, len(in.Board), BoardInputs)
	}
	cells := in.Board[:BoardCells]

	bonus := 0.0
	if top := maxCell(cells); top > e.highest {
		e.highest = top
		bonus = top
	}

	failedDivisor := float64(in.Failures)
	if in.Failures < 1 {
		failedDivisor = 1
	}

	open := 0
	for _, v := range cells {
		if v == 0 {
			open++
		}
	}

	adjacency := apartReward
	if highestPaired(cells, e.highest) {
		adjacency = adjacentReward
	}

	return float64(in.Score)*cells[anchorCell]*adjacency*float64(in.Round+1)*float64(open+1)/failedDivisor + bonus, nil
}

// highestPaired reports whether the first cell holding highest has a
// neighbour with the same exponent. The ±1 offsets carry no row guard, so a
// row's last cell neighbours the next row's first.
func highestPaired(cells []float64, highest float64) bool {
	if highest <= 0 {
		return false
	}
	anchor := -1
	for i, v := range cells {
		if v == highest {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		return false
	}
	for _, offset := range neighborOffsets {
		n := anchor + offset
		if n < 0 || n >= len(cells) {
			continue
		}
		if cells[n] == highest {
			return true
		}
	}
	return false
}

func maxCell(cells []float64) float64 {
	top := 0.0
	for _, v := range cells {
		if v > top {
			top = v
		}
	}
	return top
}

// NormalizeFitness turns an episode's accumulated reward into a per-round
// average. Episodes with no rounds keep their total.
func NormalizeFitness(total float64, rounds int) float64 {
	if rounds <= 0 {
		return total
	}
	return total / float64(rounds)
}
