package game

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"goban/internal/actor"
	"goban/internal/apperr"
	"goban/internal/models"
	"goban/internal/rules"
	"goban/internal/storage"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	storage.Store
	fail atomic.Bool
}

func (f *flakyStore) Put(ctx context.Context, key string, value []byte) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, key, value)
}

// gatedStore holds writes at the gate while armed. With honourCtx a held
// write fails if its context ended meanwhile.
type gatedStore struct {
	storage.Store
	honourCtx bool
	armed     atomic.Bool
	entered   chan struct{}
	release   chan struct{}
}

func (g *gatedStore) Put(ctx context.Context, key string, value []byte) error {
	if g.armed.Load() {
		g.entered <- struct{}{}
		<-g.release
		if g.honourCtx && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return g.Store.Put(ctx, key, value)
}

type recordingPublisher struct {
	mu     sync.Mutex
	states []*models.GameState
}

func (p *recordingPublisher) PublishGame(state *models.GameState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, state)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

func newTestService(t *testing.T, opts Options) (*Service, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	if opts.Clock == nil {
		opts.Clock = mock
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(1, 2))
	}
	svc := NewService(opts)
	t.Cleanup(svc.Close)
	return svc, mock
}

func credsOf(p models.Player) models.Credentials {
	return models.Credentials{PlayerID: p.ID, SessionToken: p.SessionToken}
}

// startGame creates a 9x9 human game and seats a second player.
func startGame(t *testing.T, svc *Service) (string, models.Player, models.Player) {
	t.Helper()
	ctx := context.Background()
	state, black, err := svc.CreateGame(ctx, CreateRequest{Name: "test", PlayerName: "alice", BoardSize: 9})
	require.NoError(t, err)
	_, white, err := svc.JoinGame(ctx, state.ID, "bob", "")
	require.NoError(t, err)
	return state.ID, black, white
}

func TestCreateGameSeatsCreatorAsBlack(t *testing.T) {
	store := storage.NewMemory()
	pub := &recordingPublisher{}
	svc, _ := newTestService(t, Options{Store: store, Publisher: pub})

	state, seat, err := svc.CreateGame(context.Background(), CreateRequest{Name: "evening game", PlayerName: "alice", BoardSize: 13})
	require.NoError(t, err)

	assert.Equal(t, models.ColorBlack, seat.Color)
	assert.NotEmpty(t, seat.SessionToken)
	assert.Equal(t, models.StatusWaiting, state.Status)
	assert.Equal(t, 1, state.Turn)
	assert.Equal(t, 13, state.Board.Size())
	assert.Equal(t, models.Komi, state.Komi)
	require.Len(t, state.Players, 1)
	assert.Empty(t, state.Players[0].SessionToken, "tokens never appear in views")
	assert.Equal(t, 1, pub.count())

	var stored models.GameState
	require.NoError(t, storage.GetJSON(context.Background(), store, storage.GameKey(state.ID), &stored))
	assert.Equal(t, seat.SessionToken, stored.Players[0].SessionToken)
}

func TestCreateGameValidation(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, _, err := svc.CreateGame(ctx, CreateRequest{BoardSize: 10})
	assert.ErrorIs(t, err, ErrInvalidBoardSize)
	_, _, err = svc.CreateGame(ctx, CreateRequest{Opponent: "robot"})
	assert.ErrorIs(t, err, ErrInvalidOpponent)
	_, _, err = svc.CreateGame(ctx, CreateRequest{Visibility: "friends"})
	assert.ErrorIs(t, err, ErrInvalidVisibility)
	_, _, err = svc.CreateGame(ctx, CreateRequest{Opponent: models.KindAI, AILevel: 7})
	assert.ErrorIs(t, err, ErrInvalidAILevel)
	_, _, err = svc.CreateGame(ctx, CreateRequest{Name: strings.Repeat("x", 65)})
	assert.ErrorIs(t, err, ErrInvalidName)

	state, _, err := svc.CreateGame(ctx, CreateRequest{})
	require.NoError(t, err)
	assert.Equal(t, 19, state.BoardSize)
	assert.Equal(t, models.VisibilityPublic, state.Visibility)
	assert.Equal(t, "Game "+state.ID, state.Name)
}

func TestJoinGame(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, _, err := svc.JoinGame(ctx, "missing", "bob", "")
	assert.ErrorIs(t, err, ErrGameNotFound)

	id, _, white := startGame(t, svc)
	assert.Equal(t, models.ColorWhite, white.Color)

	state, err := svc.GetGame(ctx, id, models.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, state.Status)
	assert.Len(t, state.Players, 2)

	_, _, err = svc.JoinGame(ctx, id, "carol", "")
	assert.ErrorIs(t, err, ErrGameFull)
	assert.Equal(t, apperr.KindCapacity, apperr.KindOf(err))
}

func TestWatchGame(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	private, _, err := svc.CreateGame(ctx, CreateRequest{Visibility: models.VisibilityPrivate, BoardSize: 9})
	require.NoError(t, err)
	_, _, err = svc.WatchGame(ctx, private.ID, "eve")
	assert.ErrorIs(t, err, ErrPrivateGame)
	assert.Equal(t, apperr.KindAuthorization, apperr.KindOf(err))

	id, _, _ := startGame(t, svc)
	state, observer, err := svc.WatchGame(ctx, id, "eve")
	require.NoError(t, err)
	assert.Equal(t, "eve", observer.Name)
	require.Len(t, state.Observers, 1)
	assert.Equal(t, observer.ID, state.Observers[0].ID)
}

func TestMakeMoveFailureOrder(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	waiting, creator, err := svc.CreateGame(ctx, CreateRequest{BoardSize: 9})
	require.NoError(t, err)
	id, black, white := startGame(t, svc)
	_, err = svc.MakeMove(ctx, id, credsOf(black), 4, 4)
	require.NoError(t, err)

	tests := []struct {
		name  string
		game  string
		creds models.Credentials
		row   int
		col   int
		want  error
		kind  apperr.Kind
	}{
		{"missing game", "nope", credsOf(white), 0, 0, ErrGameNotFound, apperr.KindNotFound},
		{"not playing", waiting.ID, credsOf(creator), 0, 0, ErrGameNotActive, apperr.KindIllegalState},
		{"unknown seat", id, models.Credentials{PlayerID: "ghost", SessionToken: "x"}, 0, 0, ErrPlayerNotFound, apperr.KindNotFound},
		{"bad token", id, models.Credentials{PlayerID: white.ID, SessionToken: "forged"}, 0, 0, ErrInvalidToken, apperr.KindAuthentication},
		{"wrong turn", id, credsOf(black), 0, 0, ErrNotYourTurn, apperr.KindAuthorization},
		{"out of bounds", id, credsOf(white), 9, 0, rules.ErrOutOfBounds, apperr.KindIllegalMove},
		{"occupied", id, credsOf(white), 4, 4, rules.ErrOccupied, apperr.KindIllegalMove},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.MakeMove(ctx, tt.game, tt.creds, tt.row, tt.col)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, tt.kind, apperr.KindOf(err))
		})
	}
}

func TestFailedMoveLeavesStateUnchanged(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	id, black, white := startGame(t, svc)
	_, err := svc.MakeMove(ctx, id, credsOf(black), 2, 2)
	require.NoError(t, err)

	before, err := svc.GetGame(ctx, id, credsOf(white))
	require.NoError(t, err)

	_, err = svc.MakeMove(ctx, id, credsOf(white), 2, 2)
	require.ErrorIs(t, err, rules.ErrOccupied)
	_, err = svc.MakeMove(ctx, id, credsOf(black), 3, 3)
	require.ErrorIs(t, err, ErrNotYourTurn)

	after, err := svc.GetGame(ctx, id, credsOf(white))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMoveUpdatesStateAndCreditsCaptures(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	id, black, white := startGame(t, svc)

	// Black surrounds the white stone at (0,1) in the corner.
	moves := []struct {
		p   models.Player
		row int
		col int
	}{
		{black, 0, 0}, {white, 0, 1}, {black, 1, 1}, {white, 8, 8}, {black, 0, 2},
	}
	var state *models.GameState
	var err error
	for _, m := range moves {
		state, err = svc.MakeMove(ctx, id, credsOf(m.p), m.row, m.col)
		require.NoError(t, err)
	}

	assert.Equal(t, models.Empty, state.Board.At(0, 1))
	assert.Equal(t, 1, state.Captures(models.ColorBlack))
	assert.Equal(t, 6, state.Turn)
	assert.Len(t, state.History, 5)
	assert.Equal(t, &models.Point{Row: 0, Col: 2}, state.LastMove)
	assert.Equal(t, models.ActionMove, state.LastAction)
	assert.Equal(t, models.ColorWhite, state.CurrentPlayer)
	last := state.Events[len(state.Events)-1]
	assert.Equal(t, models.EventMove, last.Type)
	assert.Equal(t, len(state.Events), last.Seq)
}

func TestKoRejectedThroughService(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	id, black, white := startGame(t, svc)

	play := func(p models.Player, row, col int) error {
		_, err := svc.MakeMove(ctx, id, credsOf(p), row, col)
		return err
	}
	require.NoError(t, play(black, 4, 5))
	require.NoError(t, play(white, 4, 6))
	require.NoError(t, play(black, 5, 4))
	require.NoError(t, play(white, 6, 6))
	require.NoError(t, play(black, 6, 5))
	require.NoError(t, play(white, 5, 7))
	require.NoError(t, play(black, 0, 0))
	require.NoError(t, play(white, 5, 5))
	require.NoError(t, play(black, 5, 6)) // takes the ko

	err := play(white, 5, 5)
	assert.ErrorIs(t, err, rules.ErrKo)
	assert.Contains(t, err.Error(), "Illegal Ko move")

	// After an exchange elsewhere the recapture is legal.
	require.NoError(t, play(white, 8, 8))
	require.NoError(t, play(black, 0, 8))
	require.NoError(t, play(white, 5, 5))
}

func TestDoublePassFinishesAndScores(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	id, black, white := startGame(t, svc)

	state, err := svc.PassTurn(ctx, id, credsOf(black))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, state.Status)
	assert.Equal(t, models.ActionPass, state.LastAction)
	assert.Equal(t, models.ColorWhite, state.CurrentPlayer)
	assert.Nil(t, state.Score)

	state, err = svc.PassTurn(ctx, id, credsOf(white))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, state.Status)
	assert.Equal(t, models.EndByScore, state.EndReason)
	require.NotNil(t, state.Score)
	assert.Equal(t, 0.0, state.Score.Black)
	assert.Equal(t, 6.5, state.Score.White)
	assert.Equal(t, models.ColorWhite, state.Winner)
	diff := state.Score.White - state.Score.Black
	assert.NotEqual(t, diff, float64(int(diff)), "komi rules out ties")

	_, err = svc.MakeMove(ctx, id, credsOf(black), 0, 0)
	assert.ErrorIs(t, err, ErrGameNotActive)
	_, err = svc.PassTurn(ctx, id, credsOf(black))
	assert.ErrorIs(t, err, ErrGameNotActive)
}

func TestMoveBetweenPassesResetsPassCount(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	id, black, white := startGame(t, svc)

	_, err := svc.PassTurn(ctx, id, credsOf(black))
	require.NoError(t, err)
	_, err = svc.MakeMove(ctx, id, credsOf(white), 3, 3)
	require.NoError(t, err)
	state, err := svc.PassTurn(ctx, id, credsOf(black))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, state.Status)
}

func TestResignGame(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	id, black, _ := startGame(t, svc)

	state, err := svc.ResignGame(ctx, id, credsOf(black))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, state.Status)
	assert.Equal(t, models.ColorWhite, state.Winner)
	assert.Equal(t, models.EndByResign, state.EndReason)
	assert.Nil(t, state.Score)

	_, err = svc.ResignGame(ctx, id, credsOf(black))
	assert.ErrorIs(t, err, ErrGameNotActive)
}

func TestChat(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	id, black, white := startGame(t, svc)
	_, observer, err := svc.WatchGame(ctx, id, "eve")
	require.NoError(t, err)

	_, err = svc.AddChatMessage(ctx, id, ChatRequest{SenderID: observer.ID, Channel: models.ChannelPlayer, Text: "hint"})
	assert.ErrorIs(t, err, ErrObserverChannel)
	_, err = svc.AddChatMessage(ctx, id, ChatRequest{SenderID: observer.ID, Text: "   "})
	assert.ErrorIs(t, err, ErrInvalidChat)
	_, err = svc.AddChatMessage(ctx, id, ChatRequest{SenderID: observer.ID, Text: strings.Repeat("é", 501)})
	assert.ErrorIs(t, err, ErrInvalidChat)
	_, err = svc.AddChatMessage(ctx, id, ChatRequest{SenderID: black.ID, SessionToken: "forged", Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.AddChatMessage(ctx, id, ChatRequest{SenderID: "stranger", Text: "hi"})
	assert.ErrorIs(t, err, ErrSenderNotFound)

	state, err := svc.AddChatMessage(ctx, id, ChatRequest{SenderID: observer.ID, Text: "  good luck  "})
	require.NoError(t, err)
	require.Len(t, state.PublicChat, 1)
	assert.Equal(t, "good luck", state.PublicChat[0].Text)
	assert.True(t, state.PublicChat[0].Observer)

	state, err = svc.AddChatMessage(ctx, id, ChatRequest{
		SenderID: black.ID, SessionToken: black.SessionToken, Channel: models.ChannelPlayer, Text: "gg",
	})
	require.NoError(t, err)
	require.Len(t, state.PlayerChat, 1)
	assert.Equal(t, "alice", state.PlayerChat[0].SenderName)

	spectator, err := svc.GetGame(ctx, id, models.Credentials{PlayerID: observer.ID})
	require.NoError(t, err)
	assert.Empty(t, spectator.PlayerChat)

	toggled, err := svc.TogglePlayerChatVisibility(ctx, id, credsOf(white))
	require.NoError(t, err)
	assert.True(t, toggled.PlayerChatVisible)
	assert.Equal(t, models.EventChatVisibility, toggled.Events[len(toggled.Events)-1].Type)

	spectator, err = svc.GetGame(ctx, id, models.Credentials{})
	require.NoError(t, err)
	assert.Len(t, spectator.PlayerChat, 1)

	_, err = svc.TogglePlayerChatVisibility(ctx, id, models.Credentials{PlayerID: observer.ID})
	assert.ErrorIs(t, err, ErrPlayerNotFound)
}

func TestPersistenceFailureDoesNotCommit(t *testing.T) {
	store := &flakyStore{Store: storage.NewMemory()}
	svc, _ := newTestService(t, Options{Store: store})
	ctx := context.Background()

	state, _, err := svc.CreateGame(ctx, CreateRequest{BoardSize: 9})
	require.NoError(t, err)

	store.fail.Store(true)
	_, _, err = svc.JoinGame(ctx, state.ID, "bob", "")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))

	got, err := svc.GetGame(ctx, state.ID, models.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusWaiting, got.Status)
	assert.Len(t, got.Players, 1)

	store.fail.Store(false)
	_, _, err = svc.JoinGame(ctx, state.ID, "bob", "")
	require.NoError(t, err)
}

func TestCancelledCallerAgreesWithCommittedState(t *testing.T) {
	for _, honourCtx := range []bool{false, true} {
		store := &gatedStore{
			Store:     storage.NewMemory(),
			honourCtx: honourCtx,
			entered:   make(chan struct{}),
			release:   make(chan struct{}),
		}
		svc, _ := newTestService(t, Options{Store: store})
		id, black, _ := startGame(t, svc)

		store.armed.Store(true)
		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() {
			_, err := svc.MakeMove(ctx, id, credsOf(black), 2, 2)
			errc <- err
		}()
		<-store.entered
		cancel()
		store.armed.Store(false)
		close(store.release)
		err := <-errc

		g, gerr := svc.GetGame(context.Background(), id, models.Credentials{})
		require.NoError(t, gerr)
		if honourCtx {
			require.Error(t, err)
			assert.Equal(t, models.Empty, g.Board.At(2, 2), "a failed move leaves the board alone")
			assert.Equal(t, 1, g.Turn)
		} else {
			require.NoError(t, err, "a committed move is reported as success")
			assert.Equal(t, models.Black, g.Board.At(2, 2))
			assert.Equal(t, 2, g.Turn)
		}
	}
}

// setPosition replaces the live board and the side to move without going
// through the rules.
func setPosition(t *testing.T, svc *Service, id string, board models.Board, toMove models.Color) {
	t.Helper()
	sess, err := svc.session(id)
	require.NoError(t, err)
	require.NoError(t, actor.Do(context.Background(), sess.mb, func() error {
		next := sess.state.Clone()
		next.Board = board
		next.CurrentPlayer = toMove
		sess.state = next
		sess.snapshot.Store(next)
		return nil
	}))
}

func TestComputerPassesWithoutLegalMove(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	state, _, err := svc.CreateGame(ctx, CreateRequest{BoardSize: 9, Opponent: models.KindAI})
	require.NoError(t, err)

	// Every empty point is an eye of one black group, so white can only suicide.
	board := boardFrom(
		"XXXXXXXXX",
		"X.XXXXX.X",
		"XXXXXXXXX",
		"XXXXXXXXX",
		"XXXX.XXXX",
		"XXXXXXXXX",
		"XXXXXXXXX",
		"X.XXXXX.X",
		"XXXXXXXXX",
	)
	setPosition(t, svc, state.ID, board.Clone(), models.ColorWhite)

	// Any command wakes the computer.
	_, err = svc.GetGame(ctx, state.ID, models.Credentials{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		g, err := svc.GetGame(ctx, state.ID, models.Credentials{})
		return err == nil && g.LastAction == models.ActionPass
	}, 2*time.Second, 5*time.Millisecond)

	g, err := svc.GetGame(ctx, state.ID, models.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, g.Status)
	assert.Equal(t, models.ColorBlack, g.CurrentPlayer)
	assert.Equal(t, 2, g.Turn)
	assert.True(t, board.Equal(g.Board))
	assert.Empty(t, g.History)
}

func TestComputerTriesNextCandidateWhenRejected(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	id, black, white := startGame(t, svc)

	for _, m := range []struct {
		seat     models.Player
		row, col int
	}{{black, 0, 0}, {white, 1, 0}, {black, 0, 1}} {
		_, err := svc.MakeMove(ctx, id, credsOf(m.seat), m.row, m.col)
		require.NoError(t, err)
	}

	// In the stale view (0,1) is empty and captures, so it ranks first but is
	// occupied on the live board.
	sess, err := svc.session(id)
	require.NoError(t, err)
	stale := sess.snapshot.Load().Clone()
	stale.Board.Set(0, 1, models.Empty)
	stale.AILevel = 3
	require.Equal(t, models.Point{Row: 0, Col: 1}, rankMoves(stale, models.ColorWhite, noNoise)[0].Point)

	svc.aiWG.Add(1)
	svc.playAITurn(sess, stale, white)

	g, err := svc.GetGame(ctx, id, models.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, 5, g.Turn)
	assert.Equal(t, models.ActionMove, g.LastAction)
	require.Len(t, g.History, 4)
	assert.Equal(t, models.ColorWhite, g.History[3].Color)
	assert.NotEqual(t, models.Point{Row: 0, Col: 1}, g.History[3].Point)
	assert.Equal(t, models.Black, g.Board.At(0, 1))
}

func TestComputerRepliesToHumanMove(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	state, human, err := svc.CreateGame(ctx, CreateRequest{BoardSize: 9, Opponent: models.KindAI, AILevel: 3})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPlaying, state.Status)
	assert.Equal(t, models.KindAI, state.Players[1].Kind)

	_, err = svc.MakeMove(ctx, state.ID, credsOf(human), 4, 4)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		g, err := svc.GetGame(ctx, state.ID, models.Credentials{})
		return err == nil && g.Turn == 3 && g.CurrentPlayer == models.ColorBlack
	}, 2*time.Second, 5*time.Millisecond)

	g, err := svc.GetGame(ctx, state.ID, models.Credentials{})
	require.NoError(t, err)
	require.Len(t, g.History, 2)
	assert.Equal(t, models.ColorWhite, g.History[1].Color)
}

func TestComputerTakesTurnAfterHumanPass(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()

	state, human, err := svc.CreateGame(ctx, CreateRequest{BoardSize: 9, Opponent: models.KindAI})
	require.NoError(t, err)
	assert.Equal(t, defaultAILevel, state.AILevel)

	_, err = svc.PassTurn(ctx, state.ID, credsOf(human))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		g, err := svc.GetGame(ctx, state.ID, models.Credentials{})
		return err == nil && g.Turn == 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRankedGameFinishInvokesHook(t *testing.T) {
	var mu sync.Mutex
	var recorded []*models.GameState
	hook := func(_ context.Context, state *models.GameState) error {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, state)
		return nil
	}
	svc, _ := newTestService(t, Options{OnFinished: hook})
	ctx := context.Background()

	state, seats, err := svc.CreateRankedGame(ctx, Participant{ID: "p1", Name: "alice"}, Participant{ID: "p2", Name: "bob"})
	require.NoError(t, err)
	assert.True(t, state.Ranked)
	assert.Equal(t, models.StatusPlaying, state.Status)
	assert.Equal(t, "p1", seats[0].ParticipantID)
	assert.NotEmpty(t, seats[1].SessionToken)

	_, err = svc.ResignGame(ctx, state.ID, credsOf(seats[0]))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recorded, 1)
	assert.Equal(t, models.ColorWhite, recorded[0].Winner)

	// Casual games never reach the hook.
	id, black, _ := startGame(t, svc)
	_, err = svc.ResignGame(ctx, id, credsOf(black))
	require.NoError(t, err)
	assert.Len(t, recorded, 1)
}

func TestRankedResultRetriedAfterHookFailure(t *testing.T) {
	var down atomic.Bool
	var mu sync.Mutex
	var recorded []string
	hook := func(_ context.Context, state *models.GameState) error {
		if down.Load() {
			return errors.New("ratings unavailable")
		}
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, state.ID)
		return nil
	}
	got := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), recorded...)
	}
	svc, _ := newTestService(t, Options{OnFinished: hook})
	ctx := context.Background()

	state, seats, err := svc.CreateRankedGame(ctx, Participant{ID: "p1", Name: "alice"}, Participant{ID: "p2", Name: "bob"})
	require.NoError(t, err)
	down.Store(true)
	_, err = svc.ResignGame(ctx, state.ID, credsOf(seats[0]))
	require.NoError(t, err)
	assert.Empty(t, got())

	down.Store(false)
	_, err = svc.GetGame(ctx, state.ID, models.Credentials{})
	require.NoError(t, err)
	assert.Equal(t, []string{state.ID}, got())

	_, err = svc.GetGame(ctx, state.ID, models.Credentials{})
	require.NoError(t, err)
	assert.Len(t, got(), 1)
}

func TestRestoreRecordsFinishedRankedGames(t *testing.T) {
	store := storage.NewMemory()
	failing := func(context.Context, *models.GameState) error { return errors.New("ratings unavailable") }
	svc, _ := newTestService(t, Options{Store: store, OnFinished: failing})
	ctx := context.Background()

	ranked, seats, err := svc.CreateRankedGame(ctx, Participant{ID: "p1", Name: "alice"}, Participant{ID: "p2", Name: "bob"})
	require.NoError(t, err)
	_, err = svc.ResignGame(ctx, ranked.ID, credsOf(seats[1]))
	require.NoError(t, err)
	casual, black, _ := startGame(t, svc)
	_, err = svc.ResignGame(ctx, casual, credsOf(black))
	require.NoError(t, err)
	svc.Close()

	var mu sync.Mutex
	var recorded []*models.GameState
	hook := func(_ context.Context, state *models.GameState) error {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, state)
		return nil
	}
	restarted, _ := newTestService(t, Options{Store: store, OnFinished: hook})
	n, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recorded, 1)
	assert.Equal(t, ranked.ID, recorded[0].ID)
	assert.Equal(t, models.ColorBlack, recorded[0].Winner)
}

func TestListings(t *testing.T) {
	svc, mock := newTestService(t, Options{})
	ctx := context.Background()

	first, _, err := svc.CreateGame(ctx, CreateRequest{Name: "first", BoardSize: 9, ParticipantID: "p1"})
	require.NoError(t, err)
	mock.Add(time.Minute)
	_, _, err = svc.CreateGame(ctx, CreateRequest{Name: "hidden", BoardSize: 9, Visibility: models.VisibilityPrivate, ParticipantID: "p1"})
	require.NoError(t, err)
	mock.Add(time.Minute)
	second, _, err := svc.CreateGame(ctx, CreateRequest{Name: "second", BoardSize: 9})
	require.NoError(t, err)

	public := svc.ListPublic(ctx)
	require.Len(t, public, 2)
	assert.Equal(t, second.ID, public[0].ID)
	assert.Equal(t, first.ID, public[1].ID)

	mine := svc.ListByParticipant(ctx, "p1")
	require.Len(t, mine, 2)
	assert.Equal(t, "hidden", mine[0].Name)
	assert.Empty(t, svc.ListByParticipant(ctx, "nobody"))
}

func TestRestoreReloadsPersistedGames(t *testing.T) {
	store := storage.NewMemory()
	svc, _ := newTestService(t, Options{Store: store})
	ctx := context.Background()
	id, black, white := startGame(t, svc)
	_, err := svc.MakeMove(ctx, id, credsOf(black), 3, 3)
	require.NoError(t, err)

	restored, _ := newTestService(t, Options{Store: store})
	n, err := restored.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	state, err := restored.MakeMove(ctx, id, credsOf(white), 5, 5)
	require.NoError(t, err)
	assert.Equal(t, 3, state.Turn)
}

func TestAuthenticateResolvesSeat(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := context.Background()
	id, black, _ := startGame(t, svc)

	seat, err := svc.Authenticate(ctx, id, credsOf(black))
	require.NoError(t, err)
	assert.Equal(t, black.ID, seat.ID)
	assert.Empty(t, seat.SessionToken)

	_, err = svc.Authenticate(ctx, id, models.Credentials{PlayerID: black.ID, SessionToken: "wrong"})
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.Authenticate(ctx, id, models.Credentials{PlayerID: "nobody"})
	assert.ErrorIs(t, err, ErrPlayerNotFound)
	_, err = svc.Authenticate(ctx, "missing", credsOf(black))
	assert.ErrorIs(t, err, ErrGameNotFound)
}
