package scape

// Direction is a symbolic move on the board. Values match the network's
// output order.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

var directionNames = [...]string{"up", "down", "left", "right"}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return "unknown"
	}
	return directionNames[d]
}

// Directions lists every move in output order.
func Directions() []Direction {
	return []Direction{Up, Down, Left, Right}
}

// Listener receives episode-lifecycle events. Events carry no payload;
// handlers read score and round from the board when they fire.
type Listener interface {
	OnBoardUpdated()
	OnGameStarted()
	OnGameFailed()
	OnIllegalMove()
}

// Board is the collaborator a controller plays against.
type Board interface {
	NewGame()
	Move(dir Direction)
	Cells() []int
	Score() int
	Round() int
	Highest() int
}
