package evo

import (
	"fmt"
	"sort"

	"tilevolve/internal/nn"
	"tilevolve/internal/scape"
)

// ActionCount is the number of network outputs, one per direction.
const ActionCount = 4

// RankedIndex returns the output index holding the rank-th largest value.
// Equal values resolve to the lowest index.
func RankedIndex(outputs []float64, rank int) (int, error) {
	if rank < 0 || rank >= len(outputs) {
		return 0, fmt.Errorf("rank %d out of range for %d outputs", rank, len(outputs))
	}
	sorted := append([]float64(nil), outputs...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	target := sorted[rank]
	for i, v := range outputs {
		if v == target {
			return i, nil
		}
	}
	// Only NaN fails the equality scan.
	return 0, fmt.Errorf("output at rank %d is not comparable", rank)
}

type Choice struct {
	Direction scape.Direction
	Rank      int
	// ClearFailures asks the caller to zero its failure counter because the
	// rank just moved down.
	ClearFailures bool
	// Exhausted means every rank was tried; the episode must end.
	Exhausted bool
}

// ActionSelector walks down the ranked outputs when moves keep failing.
type ActionSelector struct {
	MaxFailures int
	rank        int
}

func NewActionSelector(maxFailures int) *ActionSelector {
	return &ActionSelector{MaxFailures: maxFailures}
}

func (s *ActionSelector) Rank() int { return s.rank }

// Reset returns to the top-ranked output after the board accepted a move.
func (s *ActionSelector) Reset() { s.rank = 0 }

func (s *ActionSelector) Choose(outputs []float64, failures int) (Choice, error) {
	if len(outputs) != ActionCount {
		return Choice{}, fmt.Errorf("%w: %d outputs, want %d", nn.ErrDimensionMismatch, len(outputs), ActionCount)
	}

	var choice Choice
	if failures > s.MaxFailures {
		s.rank++
		if s.rank >= ActionCount {
			s.rank = 0
			return Choice{Exhausted: true}, nil
		}
		choice.ClearFailures = true
	}

	index, err := RankedIndex(outputs, s.rank)
	if err != nil {
		return Choice{}, err
	}
	choice.Direction = scape.Direction(index)
	choice.Rank = s.rank
	return choice, nil
}
