// Package board holds the static Ludo board geometry shared by every match.
package board

import "fmt"

// Color identifies a seat on the board.
type Color string

const (
	Red    Color = "red"
	Green  Color = "green"
	Yellow Color = "yellow"
	Blue   Color = "blue"
)

const (
	PathLength         = 59 // slots on each color's route
	FinishIndex        = 58 // last slot; reaching it finishes the token
	PerimeterLength    = 52 // shared squares around the board
	LastPerimeterIndex = 51 // highest path index that lies on the shared perimeter
	homeStretchLength  = PathLength - PerimeterLength
)

// Colors lists the seats in the order they are handed out.
var Colors = [4]Color{Red, Green, Yellow, Blue}

var offsets = map[Color]int{
	Red:    0,
	Green:  13,
	Yellow: 26,
	Blue:   39,
}

// start squares and star squares
var safe = map[int]bool{
	0: true, 8: true, 13: true, 21: true,
	26: true, 34: true, 39: true, 47: true,
}

var paths = buildPaths()

func buildPaths() map[Color][PathLength]int {
	out := make(map[Color][PathLength]int, len(Colors))
	for seat, c := range Colors {
		var p [PathLength]int
		for i := range p {
			if i <= LastPerimeterIndex {
				p[i] = (offsets[c] + i) % PerimeterLength
				continue
			}
			p[i] = PerimeterLength + seat*homeStretchLength + (i - PerimeterLength)
		}
		out[c] = p
	}
	return out
}

// Valid reports whether c is one of the four board colors.
func (c Color) Valid() bool {
	_, ok := offsets[c]
	return ok
}

// Offset returns the perimeter coordinate of path index 0 for c.
func Offset(c Color) int {
	off, ok := offsets[c]
	if !ok {
		panic(fmt.Sprintf("board: unknown color %q", c))
	}
	return off
}

// PathFor returns the cell ids visited by a token of color c, indexed by path position.
// Perimeter cells use ids 0..51; home stretch cells are private to the color.
func PathFor(c Color) [PathLength]int {
	p, ok := paths[c]
	if !ok {
		panic(fmt.Sprintf("board: unknown color %q", c))
	}
	return p
}

// GlobalCoordinate maps a path index to the shared perimeter numbering.
// Indices past the perimeter (home stretch and finish) have no coordinate.
func GlobalCoordinate(c Color, pathIndex int) (int, bool) {
	off := Offset(c)
	if pathIndex < 0 || pathIndex > LastPerimeterIndex {
		return 0, false
	}
	return (off + pathIndex) % PerimeterLength, true
}

// IsSafe reports whether captures are forbidden on the given perimeter coordinate.
func IsSafe(coord int) bool {
	return safe[coord]
}
