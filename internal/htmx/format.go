package htmx

import (
	"fmt"

	"goban/internal/models"
)

func statusLine(g *models.GameState) string {
	switch g.Status {
	case models.StatusWaiting:
		return "Waiting for an opponent"
	case models.StatusPlaying:
		return fmt.Sprintf("Move %d, %s to play", g.Turn, g.CurrentPlayer)
	}
	if g.EndReason == models.EndByResign {
		return fmt.Sprintf("%s wins by resignation", g.Winner)
	}
	if g.Score != nil {
		return fmt.Sprintf("%s wins, black %.1f, white %.1f", g.Winner, g.Score.Black, g.Score.White)
	}
	return fmt.Sprintf("%s wins", g.Winner)
}

func boardLabel(s models.Summary) string {
	return fmt.Sprintf("%dx%d, %s", s.BoardSize, s.BoardSize, s.Status)
}

func cellClass(c models.Cell) string {
	switch c {
	case models.Black:
		return "black"
	case models.White:
		return "white"
	default:
		return "empty"
	}
}

func isLastMove(g *models.GameState, row, col int) bool {
	return g.LastMove != nil && g.LastMove.Row == row && g.LastMove.Col == col
}
