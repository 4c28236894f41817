package rating

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"goban/internal/actor"
	"goban/internal/apperr"
	"goban/internal/models"
	"goban/internal/storage"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

var (
	ErrNotRanked   = apperr.New(apperr.KindIllegalState, "Only finished ranked games can be rated.")
	ErrNoOpponents = apperr.New(apperr.KindInvalid, "Ranked game is missing a participant.")
)

const (
	recentLimit         = 10
	defaultLeaderboard  = 10
	maxLeaderboardLimit = 100
)

// Record is the rating and statistics of one participant.
type Record struct {
	ParticipantID string    `json:"participantId"`
	Name          string    `json:"name"`
	Rating        int       `json:"rating"`
	Wins          int       `json:"wins"`
	Losses        int       `json:"losses"`
	Streak        int       `json:"streak"` // >0 consecutive wins, <0 consecutive losses
	BestStreak    int       `json:"bestStreak"`
	Peak          int       `json:"peak"`
	Recent        []string  `json:"recent"` // game ids, newest first
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Games is the number of rated games played.
func (r Record) Games() int {
	return r.Wins + r.Losses
}

// MatchResult is the immutable outcome of one rated game.
type MatchResult struct {
	GameID      string           `json:"gameId"`
	Black       string           `json:"black"`
	White       string           `json:"white"`
	Winner      string           `json:"winner"`
	Reason      models.EndReason `json:"reason"`
	BlackBefore int              `json:"blackBefore"`
	BlackAfter  int              `json:"blackAfter"`
	WhiteBefore int              `json:"whiteBefore"`
	WhiteAfter  int              `json:"whiteAfter"`
	Score       *models.Score    `json:"score,omitempty"`
	FinishedAt  time.Time        `json:"finishedAt"`
}

// Stats is a participant's record with its leaderboard position.
type Stats struct {
	Record Record        `json:"record"`
	Rank   int           `json:"rank"`
	Recent []MatchResult `json:"recent"`
}

// Service owns every rating record. All access goes through its mailbox.
type Service struct {
	mb      *actor.Mailbox
	store   storage.Store
	log     *zap.Logger
	clock   clock.Clock
	records map[string]Record
}

func NewService(store storage.Store, log *zap.Logger, clk clock.Clock) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		mb:      actor.New(64),
		store:   store,
		log:     log.Named("rating"),
		clock:   clk,
		records: make(map[string]Record),
	}
}

// Load reads every persisted record into memory.
func (s *Service) Load(ctx context.Context) error {
	return actor.Do(ctx, s.mb, func() error {
		keys, err := s.store.Keys(ctx, storage.RatingPrefix)
		if err != nil {
			return fmt.Errorf("list ratings: %w", err)
		}
		for _, key := range keys {
			var r Record
			if err := storage.GetJSON(ctx, s.store, key, &r); err != nil {
				s.log.Warn("skipping unreadable rating", zap.String("key", key), zap.Error(err))
				continue
			}
			s.records[r.ParticipantID] = r
		}
		s.log.Info("ratings loaded", zap.Int("count", len(s.records)))
		return nil
	})
}

func (s *Service) Close() {
	s.mb.Stop()
}

// RecordResult applies a finished ranked game to both participants. Recording
// the same game again returns the stored result and changes nothing.
func (s *Service) RecordResult(ctx context.Context, state *models.GameState) (MatchResult, error) {
	if !state.Ranked || state.Status != models.StatusFinished {
		return MatchResult{}, ErrNotRanked
	}
	bi, wi := state.SeatByColor(models.ColorBlack), state.SeatByColor(models.ColorWhite)
	if bi < 0 || wi < 0 || state.Players[bi].ParticipantID == "" || state.Players[wi].ParticipantID == "" {
		return MatchResult{}, ErrNoOpponents
	}
	black, white := state.Players[bi], state.Players[wi]

	return actor.Call(ctx, s.mb, func() (MatchResult, error) {
		var existing MatchResult
		err := storage.GetJSON(ctx, s.store, storage.ResultKey(state.ID), &existing)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return MatchResult{}, fmt.Errorf("load result %s: %w", state.ID, err)
		}

		now := s.clock.Now()
		b := s.record(black.ParticipantID, black.Name)
		w := s.record(white.ParticipantID, white.Name)
		blackWon := state.Winner == models.ColorBlack
		newB, newW := Update(b.Rating, w.Rating, blackWon)

		result := MatchResult{
			GameID:      state.ID,
			Black:       b.ParticipantID,
			White:       w.ParticipantID,
			Winner:      w.ParticipantID,
			Reason:      state.EndReason,
			BlackBefore: b.Rating,
			BlackAfter:  newB,
			WhiteBefore: w.Rating,
			WhiteAfter:  newW,
			Score:       state.Score,
			FinishedAt:  now,
		}
		if blackWon {
			result.Winner = b.ParticipantID
		}
		b = applyGame(b, state.ID, newB, blackWon, now)
		w = applyGame(w, state.ID, newW, !blackWon, now)

		for _, r := range []Record{b, w} {
			if err := storage.PutJSON(ctx, s.store, storage.RatingKey(r.ParticipantID), r); err != nil {
				return MatchResult{}, fmt.Errorf("persist rating %s: %w", r.ParticipantID, err)
			}
		}
		if err := storage.PutJSON(ctx, s.store, storage.ResultKey(state.ID), result); err != nil {
			return MatchResult{}, fmt.Errorf("persist result %s: %w", state.ID, err)
		}
		s.records[b.ParticipantID] = b
		s.records[w.ParticipantID] = w

		s.log.Info("ranked result recorded",
			zap.String("game_id", state.ID),
			zap.String("winner", result.Winner),
			zap.Int("black_rating", newB),
			zap.Int("white_rating", newW))
		return result, nil
	})
}

// record returns the participant's record or a fresh one. Mailbox goroutine only.
func (s *Service) record(participantID, name string) Record {
	if r, ok := s.records[participantID]; ok {
		if name != "" {
			r.Name = name
		}
		return r
	}
	return Record{
		ParticipantID: participantID,
		Name:          name,
		Rating:        InitialRating,
		Peak:          InitialRating,
		Recent:        []string{},
	}
}

func applyGame(r Record, gameID string, rating int, won bool, now time.Time) Record {
	r.Rating = rating
	if rating > r.Peak {
		r.Peak = rating
	}
	if won {
		r.Wins++
		if r.Streak < 0 {
			r.Streak = 0
		}
		r.Streak++
		if r.Streak > r.BestStreak {
			r.BestStreak = r.Streak
		}
	} else {
		r.Losses++
		if r.Streak > 0 {
			r.Streak = 0
		}
		r.Streak--
	}
	recent := append([]string{gameID}, r.Recent...)
	if len(recent) > recentLimit {
		recent = recent[:recentLimit]
	}
	r.Recent = recent
	r.UpdatedAt = now
	return r
}

// Get returns the participant's record. Unrated participants get a fresh one.
func (s *Service) Get(ctx context.Context, participantID string) (Record, error) {
	return actor.Call(ctx, s.mb, func() (Record, error) {
		return s.record(participantID, ""), nil
	})
}

// Rating is the participant's current rating.
func (s *Service) Rating(ctx context.Context, participantID string) (int, error) {
	r, err := s.Get(ctx, participantID)
	return r.Rating, err
}

// Rank is the participant's 1-based leaderboard position, or 0 when unrated.
func (s *Service) Rank(ctx context.Context, participantID string) (int, error) {
	return actor.Call(ctx, s.mb, func() (int, error) {
		return s.rank(participantID), nil
	})
}

// Stats returns record, rank and recent results of a participant.
func (s *Service) Stats(ctx context.Context, participantID string) (Stats, error) {
	st, err := actor.Call(ctx, s.mb, func() (Stats, error) {
		return Stats{Record: s.record(participantID, ""), Rank: s.rank(participantID)}, nil
	})
	if err != nil {
		return Stats{}, err
	}
	st.Recent, err = s.results(ctx, st.Record.Recent)
	return st, err
}

// Leaderboard returns the best rated participants, at most limit of them.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultLeaderboard
	}
	if limit > maxLeaderboardLimit {
		limit = maxLeaderboardLimit
	}
	return actor.Call(ctx, s.mb, func() ([]Record, error) {
		ranked := s.sorted()
		if len(ranked) > limit {
			ranked = ranked[:limit]
		}
		return ranked, nil
	})
}

// RecentResults loads the stored results of a participant's recent games.
func (s *Service) RecentResults(ctx context.Context, participantID string) ([]MatchResult, error) {
	r, err := s.Get(ctx, participantID)
	if err != nil {
		return nil, err
	}
	return s.results(ctx, r.Recent)
}

func (s *Service) results(ctx context.Context, gameIDs []string) ([]MatchResult, error) {
	out := make([]MatchResult, 0, len(gameIDs))
	for _, id := range gameIDs {
		var m MatchResult
		if err := storage.GetJSON(ctx, s.store, storage.ResultKey(id), &m); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("load result %s: %w", id, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// rank is the 1-based leaderboard position, or 0 when unrated.
func (s *Service) rank(participantID string) int {
	for i, r := range s.sorted() {
		if r.ParticipantID == participantID {
			return i + 1
		}
	}
	return 0
}

func (s *Service) sorted() []Record {
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		if out[i].Wins != out[j].Wins {
			return out[i].Wins > out[j].Wins
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out
}
