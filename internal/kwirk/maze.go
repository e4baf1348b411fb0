// Package kwirk implements a sample maze problem: a 15x15 grid with
// two start tiles ('S') and one finish tile ('F'). Every legal move
// (up/right/down/left onto a non-wall tile) costs one frame of delay.
package kwirk

import "fmt"

const (
	width  = 15
	height = 15
)

var level = [height]string{
	"###############",
	"#S#         # #",
	"# ##### ### # #",
	"#     #   #   #",
	"#####   # # # #",
	"#     # ### # #",
	"# ### # #   # #",
	"# # ### ##### #",
	"# #   # #     #",
	"### # ### #####",
	"#S# #     #   #",
	"# # # # ### # #",
	"# # # # #   # #",
	"#   # #   # #F#",
	"###############",
}

// Direction enumerates the four moves: up, right, down, left.
type Direction int

const (
	Up Direction = iota
	Right
	Down
	Left
)

var directionNames = [4]string{"Up", "Right", "Down", "Left"}

func (d Direction) String() string { return directionNames[d] }

var dx = [4]int{0, 1, 0, -1}
var dy = [4]int{-1, 0, 1, 0}

// State is a single player position in the maze.
type State struct {
	X, Y int
}

// Step is the move taken between two adjacent states.
type Step struct {
	Direction Direction
}

func (s Step) String() string { return s.Direction.String() }

// Maze implements problem.Problem[State].
type Maze struct{}

// New returns the sample maze problem.
func New() Maze { return Maze{} }

// InitialStates returns every 'S' tile, left to right, top to bottom.
func (Maze) InitialStates() []State {
	var out []State
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if level[y][x] == 'S' {
				out = append(out, State{X: x, Y: y})
			}
		}
	}
	return out
}

// CompressedBits: x and y each fit in a byte (width, height < 16),
// packed into two 8-bit fields for a 16-bit record.
func (Maze) CompressedBits() int { return 16 }

// FramesPerGroup is 1: every move costs one frame here, so frame
// grouping buys nothing and each frame is its own group.
func (Maze) FramesPerGroup() int { return 1 }

// MaxFrames bounds the search; the board's longest shortest path is
// well under 100 moves.
func (Maze) MaxFrames() int64 { return 100 }

func (Maze) Compress(s State, out []byte) {
	out[0] = byte(s.X)
	out[1] = byte(s.Y)
}

func (Maze) Decompress(data []byte) State {
	return State{X: int(data[0]), Y: int(data[1])}
}

// Expand enumerates the (at most) four neighbors reachable in one step.
func (Maze) Expand(s State, yield func(child State, delay uint32, move string) bool) {
	for d := Up; d <= Left; d++ {
		nx, ny := s.X+dx[d], s.Y+dy[d]
		if level[ny][nx] == '#' {
			continue
		}
		if !yield(State{X: nx, Y: ny}, 1, d.String()) {
			return
		}
	}
}

func (Maze) IsFinish(s State) bool { return level[s.Y][s.X] == 'F' }

// StateToString renders the maze with '@' marking the player.
func (Maze) StateToString(s State) string {
	out := make([]byte, 0, height*(width+1))
	for y := 0; y < height; y++ {
		row := []byte(level[y])
		if y == s.Y {
			row = append([]byte(nil), row...)
			row[s.X] = '@'
		}
		out = append(out, row...)
		out = append(out, '\n')
	}
	return string(out)
}

// Perform applies a single step to s, returning the delay (always 1
// for this problem) and an error if the move is illegal. Used to
// replay a recorded solution.
func (Maze) Perform(s State, step Step) (State, uint32, error) {
	nx, ny := s.X+dx[step.Direction], s.Y+dy[step.Direction]
	if level[ny][nx] == '#' {
		return s, 0, fmt.Errorf("kwirk: illegal move %s from (%d,%d)", step.Direction, s.X, s.Y)
	}
	return State{X: nx, Y: ny}, 1, nil
}
