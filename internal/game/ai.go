package game

import (
	"sort"

	"goban/internal/apperr"
	"goban/internal/models"
	"goban/internal/rules"

	"go.uber.org/zap"
)

// Heuristic weights of the computer opponent.
const (
	weightCapture   = 100
	weightRescue    = 80
	weightAtari     = 50
	weightSelfAtari = -60
	weightFriendly  = 10
	weightBaseline  = 1
)

type candidate struct {
	Point models.Point
	Score float64
}

// noiseSpread is the width of the random tiebreak per level; lower levels play looser.
func noiseSpread(level int) float64 {
	switch level {
	case 1:
		return 40
	case 3:
		return 1
	default:
		return 10
	}
}

// rankMoves scores every legal intersection for color, best first.
func rankMoves(g *models.GameState, color models.Color, noise func() float64) []candidate {
	board := g.Board
	previous := g.PreviousBoard()
	size := board.Size()
	out := []candidate{}
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			if board.At(row, col) != models.Empty || !rules.IsLegalMove(board, row, col, color, previous) {
				continue
			}
			p := models.Point{Row: row, Col: col}
			out = append(out, candidate{Point: p, Score: evaluate(board, p, color) + noise()})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// evaluate scores a legal move without the random term.
func evaluate(board models.Board, p models.Point, color models.Color) float64 {
	next, captured := rules.ApplyMove(board, p.Row, p.Col, color)
	own := rules.FindGroup(next, p.Row, p.Col)
	score := weightBaseline + weightCapture*captured

	seen := map[models.Point]bool{}
	for _, n := range board.Neighbors(p) {
		cell := board.At(n.Row, n.Col)
		if cell == models.Empty {
			continue
		}
		friendly := models.ColorOf(cell) == color
		if friendly {
			score += weightFriendly
		}
		if seen[n] {
			continue
		}
		before := rules.FindGroup(board, n.Row, n.Col)
		for _, st := range before.Stones {
			seen[st] = true
		}
		if friendly {
			if before.Liberties == 1 && own.Liberties > 1 {
				score += weightRescue * before.Size()
			}
			continue
		}
		if before.Liberties > 1 && next.At(n.Row, n.Col) != models.Empty {
			if after := rules.FindGroup(next, n.Row, n.Col); after.Liberties == 1 {
				score += weightAtari * after.Size()
			}
		}
	}

	if captured == 0 && own.Liberties == 1 {
		score += weightSelfAtari
	}
	return float64(score)
}

// playAITurn plays one computer turn through the same entry points as a
// human. Candidates are tried best first; if none is accepted it passes.
func (s *Service) playAITurn(sess *session, snapshot *models.GameState, seat models.Player) {
	defer s.aiWG.Done()
	defer sess.mb.Post(func() { sess.aiBusy = false })
	log := s.log.With(zap.String("game_id", snapshot.ID), zap.String("player_id", seat.ID))
	defer func() {
		if p := recover(); p != nil {
			log.Error("computer turn panicked", zap.Any("panic", p))
			s.metrics.AITurn("failed")
		}
	}()

	if s.aiDelay > 0 {
		select {
		case <-s.ctx.Done():
			return
		case <-s.clock.After(s.aiDelay):
		}
	}

	creds := models.Credentials{PlayerID: seat.ID, SessionToken: seat.SessionToken}
	spread := noiseSpread(snapshot.AILevel)
	moves := rankMoves(snapshot, seat.Color, func() float64 { return s.randFloat() * spread })
	for _, m := range moves {
		_, err := s.MakeMove(s.ctx, snapshot.ID, creds, m.Point.Row, m.Point.Col)
		if err == nil {
			log.Debug("computer moved", zap.Int("row", m.Point.Row), zap.Int("col", m.Point.Col), zap.Float64("score", m.Score))
			s.metrics.AITurn("move")
			return
		}
		// Only a rules rejection can differ between candidates.
		if apperr.KindOf(err) != apperr.KindIllegalMove {
			log.Warn("computer turn abandoned", zap.Error(err))
			s.metrics.AITurn("failed")
			return
		}
	}
	if _, err := s.PassTurn(s.ctx, snapshot.ID, creds); err != nil {
		log.Warn("computer pass failed", zap.Error(err))
		s.metrics.AITurn("failed")
		return
	}
	log.Debug("computer passed")
	s.metrics.AITurn("pass")
}
