package game

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"goban/internal/actor"
	"goban/internal/models"
	"goban/internal/rules"
	"goban/internal/storage"

	"go.uber.org/zap"
)

// session serializes every command against one game. state, aiBusy and
// unrecorded are touched only on the mailbox goroutine. snapshot always
// points at the last committed state, which is never modified afterwards.
type session struct {
	svc      *Service
	id       string
	mb       *actor.Mailbox
	state    *models.GameState
	snapshot atomic.Pointer[models.GameState]
	aiBusy   bool
	// unrecorded is set while a finished ranked game has not reached the hook.
	unrecorded bool
}

func newSession(svc *Service, state *models.GameState) *session {
	s := &session{
		svc:   svc,
		id:    state.ID,
		mb:    actor.New(mailboxDepth),
		state: state,
	}
	s.snapshot.Store(state)
	return s
}

// run executes fn on the session goroutine. A result the hook has not taken
// yet is retried before every command, and a pending computer turn that has
// no goroutine working on it is started after.
func run[T any](ctx context.Context, s *session, fn func() (T, error)) (T, error) {
	return actor.Call(ctx, s.mb, func() (T, error) {
		defer s.scheduleAI()
		s.record(ctx)
		return fn()
	})
}

// mutate stages fn on a clone, persists the clone and only then commits it.
func (s *session) mutate(ctx context.Context, fn func(g *models.GameState, now time.Time) error) (*models.GameState, error) {
	return run(ctx, s, func() (*models.GameState, error) {
		now := s.svc.clock.Now()
		next := s.state.Clone()
		if err := fn(next, now); err != nil {
			return nil, err
		}
		next.UpdatedAt = now
		if err := storage.PutJSON(ctx, s.svc.store, storage.GameKey(s.id), next); err != nil {
			s.svc.log.Error("persist game", zap.String("game_id", s.id), zap.Error(err))
			return nil, fmt.Errorf("persist game %s: %w", s.id, err)
		}

		justFinished := s.state.Status != models.StatusFinished && next.Status == models.StatusFinished
		s.state = next
		s.snapshot.Store(next)
		s.svc.publish(next)
		if justFinished {
			s.finish(ctx, next)
		}
		return next, nil
	})
}

func (s *session) finish(ctx context.Context, g *models.GameState) {
	s.svc.metrics.GameFinished(string(g.EndReason))
	fields := []zap.Field{
		zap.String("game_id", g.ID),
		zap.String("winner", string(g.Winner)),
		zap.String("reason", string(g.EndReason)),
	}
	if g.Score != nil {
		fields = append(fields, zap.Float64("black", g.Score.Black), zap.Float64("white", g.Score.White))
	}
	s.svc.log.Info("game finished", fields...)

	s.unrecorded = g.Ranked
	s.record(ctx)
}

// record hands an unrecorded ranked result to the hook. On failure the
// session stays unrecorded and the next command tries again.
func (s *session) record(ctx context.Context) {
	if !s.unrecorded || s.svc.finished == nil {
		return
	}
	if err := s.svc.finished(context.WithoutCancel(ctx), s.state); err != nil {
		s.svc.log.Error("record ranked result", zap.String("game_id", s.id), zap.Error(err))
		return
	}
	s.unrecorded = false
}

// scheduleAI starts the computer's turn if it is due and not already running.
func (s *session) scheduleAI() {
	g := s.state
	if s.aiBusy || g.Status != models.StatusPlaying || s.svc.ctx.Err() != nil {
		return
	}
	i := g.SeatByColor(g.CurrentPlayer)
	if i < 0 || g.Players[i].Kind != models.KindAI {
		return
	}
	s.aiBusy = true
	s.svc.aiWG.Add(1)
	go s.svc.playAITurn(s, g, g.Players[i])
}

func playMove(g *models.GameState, seat, row, col int, now time.Time) error {
	color := g.Players[seat].Color
	if err := rules.CheckMove(g.Board, row, col, color, g.PreviousBoard()); err != nil {
		return err
	}
	board, captured := rules.ApplyMove(g.Board, row, col, color)
	point := models.Point{Row: row, Col: col}

	g.Board = board
	g.Players[seat].Captures += captured
	g.History = append(g.History, models.HistoryEntry{Point: point, Color: color, Board: board.Clone()})
	g.LastMove = &point
	g.LastAction = models.ActionMove
	g.Turn++
	g.CurrentPlayer = color.Opponent()
	g.AppendEvent(models.Event{Type: models.EventMove, At: now, Actor: g.Players[seat].ID, Color: color, Point: &point})
	return nil
}

func pass(g *models.GameState, seat int, now time.Time) {
	color := g.Players[seat].Color
	second := g.LastAction == models.ActionPass

	g.LastAction = models.ActionPass
	g.LastMove = nil
	g.Turn++
	g.AppendEvent(models.Event{Type: models.EventPass, At: now, Actor: g.Players[seat].ID, Color: color})
	if !second {
		g.CurrentPlayer = color.Opponent()
		return
	}

	score := rules.ComputeTerritoryAndScore(g.Board, g.Players, g.Komi)
	g.Score = &score
	g.Winner = score.Winner
	g.EndReason = models.EndByScore
	g.Status = models.StatusFinished
}

func resign(g *models.GameState, seat int, now time.Time) {
	color := g.Players[seat].Color
	g.Winner = color.Opponent()
	g.EndReason = models.EndByResign
	g.Status = models.StatusFinished
	g.AppendEvent(models.Event{Type: models.EventResign, At: now, Actor: g.Players[seat].ID, Color: color})
}
