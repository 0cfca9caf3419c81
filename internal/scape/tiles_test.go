package scape

import (
	"math/rand"
	"testing"
)

type recordingListener struct {
	events []string
}

func (l *recordingListener) OnBoardUpdated() { l.events = append(l.events, "board-updated") }
func (l *recordingListener) OnGameStarted()  { l.events = append(l.events, "game-started") }
func (l *recordingListener) OnGameFailed()   { l.events = append(l.events, "game-failed") }
func (l *recordingListener) OnIllegalMove()  { l.events = append(l.events, "illegal-move") }

func countOccupied(cells []int) int {
	n := 0
	for _, v := range cells {
		if v != 0 {
			n++
		}
	}
	return n
}

func TestTilesNewGameSpawnsTwoBlocks(t *testing.T) {
	listener := &recordingListener{}
	board := NewTiles(rand.New(rand.NewSource(1)))
	board.SetListener(listener)

	board.NewGame()

	if got := countOccupied(board.Cells()); got != 2 {
		t.Fatalf("expected 2 blocks, got %d", got)
	}
	if board.Round() != 1 || board.Score() != 0 {
		t.Fatalf("unexpected round/score: %d/%d", board.Round(), board.Score())
	}
	for _, v := range board.Cells() {
		if v != 0 && v != 1 && v != 2 {
			t.Fatalf("spawned exponent must be 1 or 2, got %d", v)
		}
	}
	if len(listener.events) != 2 || listener.events[0] != "game-started" || listener.events[1] != "board-updated" {
		t.Fatalf("unexpected events: %v", listener.events)
	}
}

func TestTilesMoveMergesOncePerBlock(t *testing.T) {
	tests := []struct {
		name  string
		dir   Direction
		row   []int
		want  []int
		score int
	}{
		{name: "left-pair", dir: Left, row: []int{1, 1, 0, 0}, want: []int{2, 0, 0, 0}, score: 4},
		{name: "left-double-pair", dir: Left, row: []int{1, 1, 1, 1}, want: []int{2, 2, 0, 0}, score: 8},
		{name: "left-no-chain", dir: Left, row: []int{2, 1, 1, 0}, want: []int{2, 2, 0, 0}, score: 4},
		{name: "right-gap", dir: Right, row: []int{3, 0, 3, 0}, want: []int{0, 0, 0, 4}, score: 16},
		{name: "left-slide", dir: Left, row: []int{0, 0, 0, 5}, want: []int{5, 0, 0, 0}, score: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			board := NewTiles(rand.New(rand.NewSource(2)))
			cells := make([]int, TilesCells)
			copy(cells, tc.row)
			board.Load(cells, 0, 1)

			if !board.shift(tc.dir) {
				t.Fatal("expected the move to shift blocks")
			}
			got := board.Cells()[:4]
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("row after move: got=%v want=%v", got, tc.want)
				}
			}
			if board.Score() != tc.score {
				t.Fatalf("score: got=%d want=%d", board.Score(), tc.score)
			}
		})
	}
}

func TestTilesVerticalMoves(t *testing.T) {
	board := NewTiles(rand.New(rand.NewSource(3)))
	cells := make([]int, TilesCells)
	cells[0] = 1
	cells[8] = 1
	board.Load(cells, 0, 1)

	if !board.shift(Down) {
		t.Fatal("expected down to shift")
	}
	got := board.Cells()
	if got[12] != 2 || got[0] != 0 || got[8] != 0 {
		t.Fatalf("unexpected board after down: %v", got)
	}

	if !board.shift(Up) {
		t.Fatal("expected up to shift")
	}
	if board.Cells()[0] != 2 {
		t.Fatalf("unexpected board after up: %v", board.Cells())
	}
}

func TestTilesIllegalMoveLeavesBoard(t *testing.T) {
	listener := &recordingListener{}
	board := NewTiles(rand.New(rand.NewSource(4)))
	board.SetListener(listener)
	cells := make([]int, TilesCells)
	cells[0] = 1
	cells[1] = 2
	board.Load(cells, 12, 3)

	board.Move(Left)

	if len(listener.events) != 1 || listener.events[0] != "illegal-move" {
		t.Fatalf("unexpected events: %v", listener.events)
	}
	if board.Round() != 3 || board.Cells()[0] != 1 || board.Cells()[1] != 2 {
		t.Fatal("illegal move must not change the board")
	}
}

func TestTilesLegalMoveSpawnsAndAdvancesRound(t *testing.T) {
	listener := &recordingListener{}
	board := NewTiles(rand.New(rand.NewSource(5)))
	board.SetListener(listener)
	cells := make([]int, TilesCells)
	cells[3] = 1
	board.Load(cells, 0, 1)

	board.Move(Left)

	if board.Round() != 2 {
		t.Fatalf("round: got=%d want=2", board.Round())
	}
	if got := countOccupied(board.Cells()); got != 2 {
		t.Fatalf("expected moved block plus one spawn, got %d blocks", got)
	}
	if len(listener.events) != 1 || listener.events[0] != "board-updated" {
		t.Fatalf("unexpected events: %v", listener.events)
	}
}

func TestTilesFailsWhenFullWithoutMerges(t *testing.T) {
	listener := &recordingListener{}
	board := NewTiles(rand.New(rand.NewSource(6)))
	board.SetListener(listener)

	// Sliding the last row right leaves one hole at index 12 and no
	// mergeable neighbours once the spawn lands there.
	cells := []int{
		3, 4, 3, 4,
		4, 3, 4, 3,
		3, 4, 3, 4,
		3, 4, 3, 0,
	}
	board.Load(cells, 0, 10)
	board.Move(Right)

	if !board.Failed() {
		t.Fatalf("expected game over, board=%v", board.Cells())
	}
	if len(listener.events) != 2 || listener.events[0] != "game-failed" || listener.events[1] != "board-updated" {
		t.Fatalf("unexpected events: %v", listener.events)
	}

	listener.events = nil
	board.Move(Left)
	if len(listener.events) != 0 {
		t.Fatalf("a failed board ignores moves, got %v", listener.events)
	}
}

func TestDirectionString(t *testing.T) {
	want := []string{"up", "down", "left", "right"}
	for i, dir := range Directions() {
		if dir.String() != want[i] {
			t.Fatalf("direction %d: got=%s want=%s", i, dir, want[i])
		}
	}
	if Direction(9).String() != "unknown" {
		t.Fatal("out of range direction")
	}
}
