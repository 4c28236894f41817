package models

// Cell is the content of one intersection.
type Cell int

const (
	Empty Cell = iota
	Black
	White
)

// Color identifies a seat's stones.
type Color string

const (
	ColorNone  Color = ""
	ColorBlack Color = "black"
	ColorWhite Color = "white"
)

// Opponent returns the other color.
func (c Color) Opponent() Color {
	if c == ColorBlack {
		return ColorWhite
	}
	return ColorBlack
}

// Cell returns the cell value a stone of this color occupies.
func (c Color) Cell() Cell {
	switch c {
	case ColorBlack:
		return Black
	case ColorWhite:
		return White
	default:
		return Empty
	}
}

// ColorOf returns the color of a stone cell, or ColorNone for empty cells.
func ColorOf(cell Cell) Color {
	switch cell {
	case Black:
		return ColorBlack
	case White:
		return ColorWhite
	default:
		return ColorNone
	}
}

// Point is a board coordinate.
type Point struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Board is a square grid indexed [row][col]. Its size never changes after NewBoard.
type Board [][]Cell

// Supported board sizes.
var BoardSizes = []int{9, 13, 19}

// ValidBoardSize reports whether size is one of the supported sizes.
func ValidBoardSize(size int) bool {
	for _, s := range BoardSizes {
		if s == size {
			return true
		}
	}
	return false
}

func NewBoard(size int) Board {
	b := make(Board, size)
	for row := range b {
		b[row] = make([]Cell, size)
	}
	return b
}

func (b Board) Size() int {
	return len(b)
}

func (b Board) InBounds(row, col int) bool {
	return row >= 0 && col >= 0 && row < len(b) && col < len(b)
}

func (b Board) At(row, col int) Cell {
	return b[row][col]
}

func (b Board) Set(row, col int, value Cell) {
	b[row][col] = value
}

func (b Board) Clone() Board {
	if b == nil {
		return nil
	}
	clone := make(Board, len(b))
	for row := range b {
		clone[row] = append([]Cell(nil), b[row]...)
	}
	return clone
}

// Equal compares two boards cell by cell.
func (b Board) Equal(other Board) bool {
	if len(b) != len(other) {
		return false
	}
	for row := range b {
		if len(b[row]) != len(other[row]) {
			return false
		}
		for col := range b[row] {
			if b[row][col] != other[row][col] {
				return false
			}
		}
	}
	return true
}

// Neighbors returns the orthogonal neighbours of p that lie on the board.
func (b Board) Neighbors(p Point) []Point {
	out := make([]Point, 0, 4)
	for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
		row, col := p.Row+d[0], p.Col+d[1]
		if b.InBounds(row, col) {
			out = append(out, Point{Row: row, Col: col})
		}
	}
	return out
}
