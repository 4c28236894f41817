package game

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"goban/internal/actor"
	"goban/internal/apperr"
	"goban/internal/metrics"
	"goban/internal/models"
	"goban/internal/storage"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrGameNotFound      = apperr.New(apperr.KindNotFound, "Game not found.")
	ErrPlayerNotFound    = apperr.New(apperr.KindNotFound, "Player not found in this game.")
	ErrSenderNotFound    = apperr.New(apperr.KindNotFound, "Sender is neither a player nor an observer of this game.")
	ErrInvalidToken      = apperr.New(apperr.KindAuthentication, "Invalid session token.")
	ErrNotYourTurn       = apperr.New(apperr.KindAuthorization, "Not your turn.")
	ErrPrivateGame       = apperr.New(apperr.KindAuthorization, "This game is private and cannot be watched.")
	ErrObserverChannel   = apperr.New(apperr.KindAuthorization, "Observers may only write to the public chat.")
	ErrGameNotActive     = apperr.New(apperr.KindIllegalState, "Game is not in progress.")
	ErrGameFull          = apperr.New(apperr.KindCapacity, "Game is already full.")
	ErrInvalidBoardSize  = apperr.New(apperr.KindInvalid, "Board size must be 9, 13 or 19.")
	ErrInvalidName       = apperr.New(apperr.KindInvalid, "Name must be at most 64 characters.")
	ErrInvalidOpponent   = apperr.New(apperr.KindInvalid, "Opponent must be human or ai.")
	ErrInvalidAILevel    = apperr.New(apperr.KindInvalid, "AI level must be between 1 and 3.")
	ErrInvalidVisibility = apperr.New(apperr.KindInvalid, "Visibility must be public or private.")
	ErrInvalidChannel    = apperr.New(apperr.KindInvalid, "Chat channel must be public or player.")
	ErrInvalidChat       = apperr.New(apperr.KindInvalid, "Chat message must be between 1 and 500 characters.")
)

const (
	maxNameLength   = 64
	maxChatLength   = 500
	defaultAILevel  = 2
	mailboxDepth    = 64
	gameIDLength    = 8
	defaultAIPlayer = "Computer"
)

// Publisher receives every committed game state. The state must not be modified.
type Publisher interface {
	PublishGame(state *models.GameState)
}

// FinishedHook runs after a ranked game has been committed as finished.
type FinishedHook func(ctx context.Context, state *models.GameState) error

// Options configures a Service. Zero values fall back to in-memory defaults.
type Options struct {
	Store       storage.Store
	Publisher   Publisher
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Clock       clock.Clock
	Rand        *rand.Rand
	AIMoveDelay time.Duration
	OnFinished  FinishedHook
}

// Service owns the registry of game sessions. The mutex guards the registry
// only; each game's state belongs to its session goroutine.
type Service struct {
	store     storage.Store
	publisher Publisher
	log       *zap.Logger
	metrics   *metrics.Metrics
	clock     clock.Clock
	aiDelay   time.Duration
	finished  FinishedHook

	randMu sync.Mutex
	rand   *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	aiWG   sync.WaitGroup

	sessions map[string]*session
	mu       sync.RWMutex
}

// NewService creates a new game service
func NewService(opts Options) *Service {
	if opts.Store == nil {
		opts.Store = storage.NewMemory()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		store:     opts.Store,
		publisher: opts.Publisher,
		log:       opts.Logger.Named("game"),
		metrics:   opts.Metrics,
		clock:     opts.Clock,
		aiDelay:   opts.AIMoveDelay,
		finished:  opts.OnFinished,
		rand:      opts.Rand,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*session),
	}
}

// Restore loads every persisted game and starts its session. Finished ranked
// games are handed to the finish hook again, which must skip results it has
// already recorded.
func (s *Service) Restore(ctx context.Context) (int, error) {
	keys, err := s.store.Keys(ctx, storage.GamePrefix)
	if err != nil {
		return 0, fmt.Errorf("list games: %w", err)
	}
	var finished []*session
	restored := 0
	for _, key := range keys {
		var state models.GameState
		if err := storage.GetJSON(ctx, s.store, key, &state); err != nil {
			s.log.Warn("skipping unreadable game", zap.String("key", key), zap.Error(err))
			continue
		}
		s.mu.Lock()
		if _, exists := s.sessions[state.ID]; !exists {
			sess := newSession(s, &state)
			sess.unrecorded = state.Ranked && state.Status == models.StatusFinished
			s.sessions[state.ID] = sess
			sess.mb.Post(sess.scheduleAI)
			restored++
			s.metrics.SessionRestored()
			if sess.unrecorded {
				finished = append(finished, sess)
			}
		}
		s.mu.Unlock()
	}
	for _, sess := range finished {
		if err := actor.Do(ctx, sess.mb, func() error {
			sess.record(ctx)
			return nil
		}); err != nil {
			return restored, fmt.Errorf("record restored game %s: %w", sess.id, err)
		}
	}
	return restored, nil
}

// Close stops every session and waits for computer turns in flight.
func (s *Service) Close() {
	s.cancel()
	s.aiWG.Wait()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		sess.mb.Stop()
	}
}

// CreateRequest describes a new casual game.
type CreateRequest struct {
	Name          string            `json:"name"`
	PlayerName    string            `json:"playerName"`
	Visibility    models.Visibility `json:"visibility"`
	BoardSize     int               `json:"boardSize"`
	Opponent      models.PlayerKind `json:"opponent"`
	AILevel       int               `json:"aiLevel"`
	ParticipantID string            `json:"-"`
}

// Participant is an authenticated identity taking a ranked seat.
type Participant struct {
	ID   string
	Name string
}

// CreateGame creates a game with the creator seated as black. The returned
// seat carries the creator's session token.
func (s *Service) CreateGame(ctx context.Context, req CreateRequest) (*models.GameState, models.Player, error) {
	name, err := cleanName(req.Name)
	if err != nil {
		return nil, models.Player{}, err
	}
	if req.BoardSize == 0 {
		req.BoardSize = 19
	}
	if !models.ValidBoardSize(req.BoardSize) {
		return nil, models.Player{}, ErrInvalidBoardSize
	}
	switch req.Visibility {
	case "":
		req.Visibility = models.VisibilityPublic
	case models.VisibilityPublic, models.VisibilityPrivate:
	default:
		return nil, models.Player{}, ErrInvalidVisibility
	}
	switch req.Opponent {
	case "":
		req.Opponent = models.KindHuman
	case models.KindHuman, models.KindAI:
	default:
		return nil, models.Player{}, ErrInvalidOpponent
	}
	if req.AILevel < 0 || req.AILevel > 3 {
		return nil, models.Player{}, ErrInvalidAILevel
	}

	now := s.clock.Now()
	id := uuid.New().String()[:gameIDLength]
	if name == "" {
		name = "Game " + id
	}
	state := models.NewGameState(id, name, req.BoardSize, req.Visibility, now)
	creator := newSeat(req.PlayerName, "Black", models.ColorBlack, models.KindHuman, req.ParticipantID)
	state.Players = append(state.Players, creator)
	state.AppendEvent(models.Event{Type: models.EventCreated, At: now, Actor: creator.ID, Color: models.ColorBlack})

	if req.Opponent == models.KindAI {
		if req.AILevel == 0 {
			req.AILevel = defaultAILevel
		}
		state.AILevel = req.AILevel
		ai := newSeat(defaultAIPlayer, defaultAIPlayer, models.ColorWhite, models.KindAI, "")
		state.Players = append(state.Players, ai)
		state.Status = models.StatusPlaying
		state.AppendEvent(models.Event{Type: models.EventJoined, At: now, Actor: ai.ID, Color: models.ColorWhite})
	}

	if err := s.register(ctx, state, string(req.Opponent)); err != nil {
		return nil, models.Player{}, err
	}
	s.log.Info("game created",
		zap.String("game_id", id),
		zap.String("player_id", creator.ID),
		zap.Int("board_size", req.BoardSize),
		zap.String("opponent", string(req.Opponent)))
	return state.View(true), creator, nil
}

// CreateRankedGame seats two matched participants and starts play at once.
func (s *Service) CreateRankedGame(ctx context.Context, black, white Participant) (*models.GameState, [2]models.Player, error) {
	now := s.clock.Now()
	id := uuid.New().String()[:gameIDLength]
	state := models.NewGameState(id, fmt.Sprintf("Ranked: %s vs %s", black.Name, white.Name), 19, models.VisibilityPublic, now)
	state.Ranked = true
	seats := [2]models.Player{
		newSeat(black.Name, "Black", models.ColorBlack, models.KindHuman, black.ID),
		newSeat(white.Name, "White", models.ColorWhite, models.KindHuman, white.ID),
	}
	state.Players = append(state.Players, seats[0], seats[1])
	state.Status = models.StatusPlaying
	state.AppendEvent(models.Event{Type: models.EventCreated, At: now, Actor: seats[0].ID, Color: models.ColorBlack})
	state.AppendEvent(models.Event{Type: models.EventJoined, At: now, Actor: seats[1].ID, Color: models.ColorWhite})

	if err := s.register(ctx, state, "ranked"); err != nil {
		return nil, [2]models.Player{}, err
	}
	s.log.Info("ranked game created",
		zap.String("game_id", id),
		zap.String("black", black.ID),
		zap.String("white", white.ID))
	return state.View(false), seats, nil
}

// register persists a new game before its session becomes reachable.
func (s *Service) register(ctx context.Context, state *models.GameState, kind string) error {
	if err := storage.PutJSON(ctx, s.store, storage.GameKey(state.ID), state); err != nil {
		return fmt.Errorf("persist game %s: %w", state.ID, err)
	}
	sess := newSession(s, state)
	s.mu.Lock()
	s.sessions[state.ID] = sess
	s.mu.Unlock()
	s.metrics.GameCreated(kind)
	s.publish(state)
	return nil
}

// JoinGame seats a second human as white and starts play.
func (s *Service) JoinGame(ctx context.Context, gameID, name, participantID string) (*models.GameState, models.Player, error) {
	sess, err := s.session(gameID)
	if err != nil {
		return nil, models.Player{}, err
	}
	var seat models.Player
	state, err := sess.mutate(ctx, func(g *models.GameState, now time.Time) error {
		if len(g.Players) >= 2 || g.Status != models.StatusWaiting {
			return ErrGameFull
		}
		seat = newSeat(name, "White", models.ColorWhite, models.KindHuman, participantID)
		g.Players = append(g.Players, seat)
		g.Status = models.StatusPlaying
		g.AppendEvent(models.Event{Type: models.EventJoined, At: now, Actor: seat.ID, Color: models.ColorWhite})
		return nil
	})
	if err != nil {
		return nil, models.Player{}, err
	}
	s.log.Info("player joined", zap.String("game_id", gameID), zap.String("player_id", seat.ID))
	return state.View(true), seat, nil
}

// WatchGame registers an observer of a public game.
func (s *Service) WatchGame(ctx context.Context, gameID, name string) (*models.GameState, models.Observer, error) {
	sess, err := s.session(gameID)
	if err != nil {
		return nil, models.Observer{}, err
	}
	var observer models.Observer
	state, err := sess.mutate(ctx, func(g *models.GameState, now time.Time) error {
		if g.Visibility != models.VisibilityPublic {
			return ErrPrivateGame
		}
		observer = models.Observer{ID: uuid.NewString(), Name: displayName(name, "Observer"), JoinedAt: now}
		g.Observers = append(g.Observers, observer)
		return nil
	})
	if err != nil {
		return nil, models.Observer{}, err
	}
	return state.View(state.PlayerChatVisible), observer, nil
}

// GetGame returns the state with tokens stripped. Player chat is included for
// an authenticated seat, or for everyone once it has been made visible.
func (s *Service) GetGame(ctx context.Context, gameID string, creds models.Credentials) (*models.GameState, error) {
	sess, err := s.session(gameID)
	if err != nil {
		return nil, err
	}
	return run(ctx, sess, func() (*models.GameState, error) {
		g := sess.state
		private := g.PlayerChatVisible
		if i := g.Seat(creds.PlayerID); i >= 0 && creds.SessionToken != "" && g.Players[i].SessionToken == creds.SessionToken {
			private = true
		}
		return g.View(private), nil
	})
}

// Authenticate resolves creds to their seat. The token is stripped from the result.
func (s *Service) Authenticate(ctx context.Context, gameID string, creds models.Credentials) (models.Player, error) {
	sess, err := s.session(gameID)
	if err != nil {
		return models.Player{}, err
	}
	return run(ctx, sess, func() (models.Player, error) {
		i, err := authenticate(sess.state, creds)
		if err != nil {
			return models.Player{}, err
		}
		p := sess.state.Players[i]
		p.SessionToken = ""
		return p, nil
	})
}

// ListPublic returns summaries of public games, newest first.
func (s *Service) ListPublic(_ context.Context) []models.Summary {
	return s.list(func(g *models.GameState) bool {
		return g.Visibility == models.VisibilityPublic
	})
}

// ListByParticipant returns summaries of the games a participant sits in, newest first.
func (s *Service) ListByParticipant(_ context.Context, participantID string) []models.Summary {
	return s.list(func(g *models.GameState) bool {
		return g.HasParticipant(participantID)
	})
}

func (s *Service) list(keep func(*models.GameState) bool) []models.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Summary{}
	for _, sess := range s.sessions {
		g := sess.snapshot.Load()
		if keep(g) {
			out = append(out, g.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MakeMove places a stone for the authenticated seat.
func (s *Service) MakeMove(ctx context.Context, gameID string, creds models.Credentials, row, col int) (*models.GameState, error) {
	sess, err := s.session(gameID)
	if err != nil {
		s.metrics.Action("move", err)
		return nil, err
	}
	state, err := sess.mutate(ctx, func(g *models.GameState, now time.Time) error {
		seat, err := authorizeTurn(g, creds)
		if err != nil {
			return err
		}
		return playMove(g, seat, row, col, now)
	})
	s.metrics.Action("move", err)
	if err != nil {
		return nil, err
	}
	return state.View(true), nil
}

// PassTurn records a pass. The second consecutive pass ends and scores the game.
func (s *Service) PassTurn(ctx context.Context, gameID string, creds models.Credentials) (*models.GameState, error) {
	sess, err := s.session(gameID)
	if err != nil {
		s.metrics.Action("pass", err)
		return nil, err
	}
	state, err := sess.mutate(ctx, func(g *models.GameState, now time.Time) error {
		seat, err := authorizeTurn(g, creds)
		if err != nil {
			return err
		}
		pass(g, seat, now)
		return nil
	})
	s.metrics.Action("pass", err)
	if err != nil {
		return nil, err
	}
	return state.View(true), nil
}

// ResignGame ends the game with the other color as winner.
func (s *Service) ResignGame(ctx context.Context, gameID string, creds models.Credentials) (*models.GameState, error) {
	sess, err := s.session(gameID)
	if err != nil {
		s.metrics.Action("resign", err)
		return nil, err
	}
	state, err := sess.mutate(ctx, func(g *models.GameState, now time.Time) error {
		seat, err := authorizeTurn(g, creds)
		if err != nil {
			return err
		}
		resign(g, seat, now)
		return nil
	})
	s.metrics.Action("resign", err)
	if err != nil {
		return nil, err
	}
	return state.View(true), nil
}

// ChatRequest is a chat line from a seat (token required) or an observer.
type ChatRequest struct {
	SenderID     string         `json:"senderId"`
	SessionToken string         `json:"sessionToken"`
	Channel      models.Channel `json:"channel"`
	Text         string         `json:"text"`
}

// AddChatMessage appends a line to the public or player chat.
func (s *Service) AddChatMessage(ctx context.Context, gameID string, req ChatRequest) (*models.GameState, error) {
	text := strings.TrimSpace(req.Text)
	if n := utf8.RuneCountInString(text); n == 0 || n > maxChatLength {
		return nil, ErrInvalidChat
	}
	if req.Channel == "" {
		req.Channel = models.ChannelPublic
	}
	if req.Channel != models.ChannelPublic && req.Channel != models.ChannelPlayer {
		return nil, ErrInvalidChannel
	}
	sess, err := s.session(gameID)
	if err != nil {
		return nil, err
	}
	var isSeat bool
	state, err := sess.mutate(ctx, func(g *models.GameState, now time.Time) error {
		msg := models.ChatMessage{SenderID: req.SenderID, Text: text, At: now}
		if i := g.Seat(req.SenderID); i >= 0 {
			if g.Players[i].SessionToken != req.SessionToken {
				return ErrInvalidToken
			}
			isSeat = true
			msg.SenderName = g.Players[i].Name
		} else if i := g.Observer(req.SenderID); i >= 0 {
			if req.Channel != models.ChannelPublic {
				return ErrObserverChannel
			}
			msg.SenderName = g.Observers[i].Name
			msg.Observer = true
		} else {
			return ErrSenderNotFound
		}
		if req.Channel == models.ChannelPlayer {
			g.PlayerChat = append(g.PlayerChat, msg)
		} else {
			g.PublicChat = append(g.PublicChat, msg)
		}
		g.AppendEvent(models.Event{Type: models.EventChat, At: now, Actor: req.SenderID, Text: string(req.Channel)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state.View(isSeat || state.PlayerChatVisible), nil
}

// TogglePlayerChatVisibility flips whether observers can read the player chat.
func (s *Service) TogglePlayerChatVisibility(ctx context.Context, gameID string, creds models.Credentials) (*models.GameState, error) {
	sess, err := s.session(gameID)
	if err != nil {
		return nil, err
	}
	state, err := sess.mutate(ctx, func(g *models.GameState, now time.Time) error {
		if _, err := authenticate(g, creds); err != nil {
			return err
		}
		g.PlayerChatVisible = !g.PlayerChatVisible
		text := "hidden"
		if g.PlayerChatVisible {
			text = "visible"
		}
		g.AppendEvent(models.Event{Type: models.EventChatVisibility, At: now, Actor: creds.PlayerID, Text: text})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state.View(true), nil
}

func (s *Service) session(gameID string) (*session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[gameID]
	if !ok {
		return nil, ErrGameNotFound
	}
	return sess, nil
}

func (s *Service) publish(state *models.GameState) {
	if s.publisher != nil {
		s.publisher.PublishGame(state)
	}
}

func (s *Service) randFloat() float64 {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return s.rand.Float64()
}

// authenticate resolves creds to a seat index.
func authenticate(g *models.GameState, creds models.Credentials) (int, error) {
	i := g.Seat(creds.PlayerID)
	if i < 0 {
		return -1, ErrPlayerNotFound
	}
	if creds.SessionToken == "" || g.Players[i].SessionToken != creds.SessionToken {
		return -1, ErrInvalidToken
	}
	return i, nil
}

// authorizeTurn applies the checks shared by move, pass and resign in order:
// game in progress, seat exists, token matches, seat is to move.
func authorizeTurn(g *models.GameState, creds models.Credentials) (int, error) {
	if g.Status != models.StatusPlaying {
		return -1, ErrGameNotActive
	}
	i, err := authenticate(g, creds)
	if err != nil {
		return -1, err
	}
	if g.Players[i].Color != g.CurrentPlayer {
		return -1, ErrNotYourTurn
	}
	return i, nil
}

func newSeat(name, fallback string, color models.Color, kind models.PlayerKind, participantID string) models.Player {
	return models.Player{
		ID:            uuid.NewString(),
		Name:          displayName(name, fallback),
		SessionToken:  uuid.NewString(),
		Color:         color,
		Kind:          kind,
		ParticipantID: participantID,
	}
}

func displayName(name, fallback string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return string([]rune(name)[:maxNameLength])
	}
	return name
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}
