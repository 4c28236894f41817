package rules

import "goban/internal/models"

// Region is a connected set of empty points and the owner it is credited to.
type Region struct {
	Points []models.Point
	Owner  models.Color
}

// Territory flood-fills every empty region. A region belongs to a color only
// when every stone bordering it is that color; otherwise it is dame.
func Territory(board models.Board) []Region {
	size := board.Size()
	seen := make([][]bool, size)
	for i := range seen {
		seen[i] = make([]bool, size)
	}
	var regions []Region
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			if seen[row][col] || board.At(row, col) != models.Empty {
				continue
			}
			seen[row][col] = true
			stack := []models.Point{{Row: row, Col: col}}
			points := []models.Point{}
			touchesBlack, touchesWhite := false, false
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				points = append(points, p)
				for _, n := range board.Neighbors(p) {
					switch board.At(n.Row, n.Col) {
					case models.Black:
						touchesBlack = true
					case models.White:
						touchesWhite = true
					default:
						if !seen[n.Row][n.Col] {
							seen[n.Row][n.Col] = true
							stack = append(stack, n)
						}
					}
				}
			}
			owner := models.ColorNone
			if touchesBlack && !touchesWhite {
				owner = models.ColorBlack
			} else if touchesWhite && !touchesBlack {
				owner = models.ColorWhite
			}
			regions = append(regions, Region{Points: points, Owner: owner})
		}
	}
	return regions
}

// ComputeTerritoryAndScore scores a finished board: territory plus captures,
// with komi added to white.
func ComputeTerritoryAndScore(board models.Board, players []models.Player, komi float64) models.Score {
	var score models.Score
	for _, region := range Territory(board) {
		switch region.Owner {
		case models.ColorBlack:
			score.BlackTerritory += len(region.Points)
		case models.ColorWhite:
			score.WhiteTerritory += len(region.Points)
		}
	}
	score.Black = float64(score.BlackTerritory)
	score.White = float64(score.WhiteTerritory) + komi
	for _, p := range players {
		switch p.Color {
		case models.ColorBlack:
			score.Black += float64(p.Captures)
		case models.ColorWhite:
			score.White += float64(p.Captures)
		}
	}
	score.Winner = models.ColorWhite
	if score.Black > score.White {
		score.Winner = models.ColorBlack
	}
	return score
}
