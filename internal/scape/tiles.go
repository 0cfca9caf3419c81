package scape

import (
	"math/rand"
)

const (
	TilesWidth  = 4
	TilesHeight = 4
	TilesCells  = TilesWidth * TilesHeight
)

// Tiles is a headless 4x4 merge puzzle. Cells hold block exponents in
// row-major order, 0 meaning empty.
type Tiles struct {
	rng      *rand.Rand
	listener Listener

	cells  [TilesCells]int
	score  int
	round  int
	failed bool
}

func NewTiles(rng *rand.Rand) *Tiles {
	return &Tiles{rng: rng}
}

func (t *Tiles) SetListener(l Listener) {
	t.listener = l
}

// NewGame announces the start, clears the board and spawns two blocks.
func (t *Tiles) NewGame() {
	if t.listener != nil {
		t.listener.OnGameStarted()
	}
	t.cells = [TilesCells]int{}
	t.score = 0
	t.round = 0
	t.failed = false
	t.spawnStep()
}

// Move slides every block toward dir. A move that shifts nothing is reported
// as illegal and leaves the board untouched.
func (t *Tiles) Move(dir Direction) {
	if t.failed {
		return
	}
	if !t.shift(dir) {
		if t.listener != nil {
			t.listener.OnIllegalMove()
		}
		return
	}
	t.spawnStep()
}

func (t *Tiles) Cells() []int {
	out := make([]int, TilesCells)
	copy(out, t.cells[:])
	return out
}

func (t *Tiles) Score() int { return t.score }

// Round counts spawn steps; the opening spawn makes it 1.
func (t *Tiles) Round() int { return t.round }

func (t *Tiles) Failed() bool { return t.failed }

func (t *Tiles) Highest() int {
	highest := 0
	for _, v := range t.cells {
		if v > highest {
			highest = v
		}
	}
	return highest
}

// Load replaces the board contents. Intended for tests and replays.
func (t *Tiles) Load(cells []int, score, round int) {
	t.cells = [TilesCells]int{}
	copy(t.cells[:], cells)
	t.score = score
	t.round = round
	t.failed = false
}

func (t *Tiles) spawnStep() {
	amount := 1
	if t.round == 0 {
		amount = 2
	}
	t.round++

	free := t.freeCells()
	t.rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
	if amount > len(free) {
		amount = len(free)
	}
	for _, idx := range free[:amount] {
		value := 1
		if t.rng.Float64() > 0.9 {
			value = 2
		}
		t.cells[idx] = value
	}

	if len(t.freeCells()) == 0 && !t.canMerge() {
		t.failed = true
		if t.listener != nil {
			t.listener.OnGameFailed()
		}
	}
	if t.listener != nil {
		t.listener.OnBoardUpdated()
	}
}

func (t *Tiles) freeCells() []int {
	free := make([]int, 0, TilesCells)
	for i, v := range t.cells {
		if v == 0 {
			free = append(free, i)
		}
	}
	return free
}

func (t *Tiles) canMerge() bool {
	for row := 0; row < TilesHeight; row++ {
		for col := 0; col < TilesWidth; col++ {
			v := t.cells[row*TilesWidth+col]
			if v == 0 {
				continue
			}
			if col+1 < TilesWidth && t.cells[row*TilesWidth+col+1] == v {
				return true
			}
			if row+1 < TilesHeight && t.cells[(row+1)*TilesWidth+col] == v {
				return true
			}
		}
	}
	return false
}

// shift moves and merges every line along dir. Each block merges at most
// once per move.
func (t *Tiles) shift(dir Direction) bool {
	moved := false
	for line := 0; line < 4; line++ {
		indexes := lineIndexes(dir, line)
		values := make([]int, 0, len(indexes))
		for _, idx := range indexes {
			if t.cells[idx] != 0 {
				values = append(values, t.cells[idx])
			}
		}

		packed := make([]int, 0, len(values))
		for i := 0; i < len(values); i++ {
			if i+1 < len(values) && values[i] == values[i+1] {
				merged := values[i] + 1
				t.score += 1 << merged
				packed = append(packed, merged)
				i++
				continue
			}
			packed = append(packed, values[i])
		}

		for i, idx := range indexes {
			next := 0
			if i < len(packed) {
				next = packed[i]
			}
			if t.cells[idx] != next {
				moved = true
			}
			t.cells[idx] = next
		}
	}
	return moved
}

// lineIndexes lists one row or column starting from the edge blocks move
// toward.
func lineIndexes(dir Direction, line int) []int {
	out := make([]int, 0, 4)
	for step := 0; step < 4; step++ {
		switch dir {
		case Up:
			out = append(out, step*TilesWidth+line)
		case Down:
			out = append(out, (TilesHeight-1-step)*TilesWidth+line)
		case Left:
			out = append(out, line*TilesWidth+step)
		case Right:
			out = append(out, line*TilesWidth+TilesWidth-1-step)
		}
	}
	return out
}
