// Package rules implements Go's placement, capture, ko and suicide laws and
// territory scoring. Every function is pure: boards passed in are never modified.
package rules

import (
	"goban/internal/apperr"
	"goban/internal/models"
)

var (
	ErrOutOfBounds = apperr.New(apperr.KindIllegalMove, "Coordinates are out of range.")
	ErrOccupied    = apperr.New(apperr.KindIllegalMove, "That intersection is already occupied.")
	ErrKo          = apperr.New(apperr.KindIllegalMove, "Illegal Ko move: it would repeat the previous board position.")
	ErrSuicide     = apperr.New(apperr.KindIllegalMove, "Illegal suicide move: the stone would have no liberties.")
)

// Group is a set of orthogonally connected stones of one color.
type Group struct {
	Stones    []models.Point
	Liberties int
}

func (g Group) Size() int {
	return len(g.Stones)
}

// FindGroup returns the group containing (row, col) and its liberty count.
// An empty or off-board cell yields an empty group.
func FindGroup(board models.Board, row, col int) Group {
	if !board.InBounds(row, col) {
		return Group{}
	}
	color := board.At(row, col)
	if color == models.Empty {
		return Group{}
	}
	start := models.Point{Row: row, Col: col}
	seen := map[models.Point]bool{start: true}
	liberties := map[models.Point]bool{}
	stack := []models.Point{start}
	stones := []models.Point{}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stones = append(stones, p)
		for _, n := range board.Neighbors(p) {
			switch board.At(n.Row, n.Col) {
			case models.Empty:
				liberties[n] = true
			case color:
				if !seen[n] {
					seen[n] = true
					stack = append(stack, n)
				}
			}
		}
	}
	return Group{Stones: stones, Liberties: len(liberties)}
}

// CheckMove validates placing a color stone at (row, col). previous is the
// board as it was before the opponent's last move; nil disables the ko check.
func CheckMove(board models.Board, row, col int, color models.Color, previous models.Board) error {
	if !board.InBounds(row, col) {
		return ErrOutOfBounds
	}
	if board.At(row, col) != models.Empty {
		return ErrOccupied
	}
	next, captured := place(board.Clone(), row, col, color)
	if captured > 0 {
		if previous != nil && next.Equal(previous) {
			return ErrKo
		}
		return nil
	}
	if FindGroup(next, row, col).Liberties == 0 {
		return ErrSuicide
	}
	return nil
}

// IsLegalMove is CheckMove reduced to a boolean.
func IsLegalMove(board models.Board, row, col int, color models.Color, previous models.Board) bool {
	return CheckMove(board, row, col, color, previous) == nil
}

// ApplyMove places the stone, removes captured opposing groups and returns
// the resulting board with the number of stones captured. The move is assumed legal.
func ApplyMove(board models.Board, row, col int, color models.Color) (models.Board, int) {
	return place(board.Clone(), row, col, color)
}

// place mutates board in place.
func place(board models.Board, row, col int, color models.Color) (models.Board, int) {
	board.Set(row, col, color.Cell())
	opponent := color.Opponent().Cell()
	captured := 0
	for _, n := range board.Neighbors(models.Point{Row: row, Col: col}) {
		if board.At(n.Row, n.Col) != opponent {
			continue
		}
		group := FindGroup(board, n.Row, n.Col)
		if group.Liberties > 0 {
			continue
		}
		for _, s := range group.Stones {
			board.Set(s.Row, s.Col, models.Empty)
		}
		captured += group.Size()
	}
	return board, captured
}
