package evo

import (
	"errors"
	"testing"

	"tilevolve/internal/nn"
	"tilevolve/internal/scape"
)

func TestRankedIndex(t *testing.T) {
	outputs := []float64{0.1, 0.9, 0.4, 0.2}
	tests := []struct {
		rank int
		want int
	}{
		{rank: 0, want: 1},
		{rank: 1, want: 2},
		{rank: 2, want: 3},
		{rank: 3, want: 0},
	}
	for _, tc := range tests {
		got, err := RankedIndex(outputs, tc.rank)
		if err != nil {
			t.Fatalf("rank %d: %v", tc.rank, err)
		}
		if got != tc.want {
			t.Fatalf("rank %d: got=%d want=%d", tc.rank, got, tc.want)
		}
	}

	if _, err := RankedIndex(outputs, 4); err == nil {
		t.Fatal("expected out of range rank error")
	}
}

func TestRankedIndexTiesResolveToLowestIndex(t *testing.T) {
	outputs := []float64{0.5, 0.7, 0.7, 0.1}
	for rank := 0; rank < 2; rank++ {
		got, err := RankedIndex(outputs, rank)
		if err != nil {
			t.Fatalf("rank %d: %v", rank, err)
		}
		if got != 1 {
			t.Fatalf("rank %d: got=%d want=1", rank, got)
		}
	}
}

func TestActionSelectorChoosesTopRankFirst(t *testing.T) {
	s := NewActionSelector(10)
	choice, err := s.Choose([]float64{0.1, 0.9, 0.4, 0.2}, 0)
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if choice.Direction != scape.Down || choice.Rank != 0 || choice.ClearFailures || choice.Exhausted {
		t.Fatalf("unexpected choice: %+v", choice)
	}
}

func TestActionSelectorFallsBackThenExhausts(t *testing.T) {
	outputs := []float64{0.1, 0.9, 0.4, 0.2}
	s := NewActionSelector(2)

	// Failures at the limit keep the current rank.
	choice, err := s.Choose(outputs, 2)
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if choice.Rank != 0 || choice.ClearFailures {
		t.Fatalf("unexpected choice at limit: %+v", choice)
	}

	want := []scape.Direction{scape.Left, scape.Right, scape.Up}
	for i, dir := range want {
		choice, err := s.Choose(outputs, 3)
		if err != nil {
			t.Fatalf("choose: %v", err)
		}
		if choice.Direction != dir || choice.Rank != i+1 || !choice.ClearFailures {
			t.Fatalf("fallback %d: got=%+v want direction %s", i, choice, dir)
		}
	}

	choice, err = s.Choose(outputs, 3)
	if err != nil {
		t.Fatalf("choose: %v", err)
	}
	if !choice.Exhausted {
		t.Fatalf("expected exhausted ranks, got %+v", choice)
	}
	if s.Rank() != 0 {
		t.Fatalf("rank should wrap to 0, got %d", s.Rank())
	}
}

func TestActionSelectorReset(t *testing.T) {
	s := NewActionSelector(0)
	if _, err := s.Choose([]float64{1, 2, 3, 4}, 1); err != nil {
		t.Fatalf("choose: %v", err)
	}
	if s.Rank() != 1 {
		t.Fatalf("rank: got=%d want=1", s.Rank())
	}
	s.Reset()
	if s.Rank() != 0 {
		t.Fatalf("rank after reset: got=%d want=0", s.Rank())
	}
}

func TestActionSelectorRejectsWrongOutputCount(t *testing.T) {
	s := NewActionSelector(0)
	if _, err := s.Choose([]float64{1, 2, 3}, 0); !errors.Is(err, nn.ErrDimensionMismatch) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}
