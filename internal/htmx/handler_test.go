package htmx

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"goban/internal/broadcast"
	"goban/internal/game"
	"goban/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*game.Service, *httptest.Server) {
	t.Helper()
	hub := broadcast.NewHub(nil, nil)
	games := game.NewService(game.Options{Publisher: hub})
	t.Cleanup(games.Close)
	r := chi.NewRouter()
	NewHandler(games, hub, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return games, srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestSpectatorPage(t *testing.T) {
	games, srv := newServer(t)
	ctx := context.Background()
	state, _, err := games.CreateGame(ctx, game.CreateRequest{Name: "<b>night</b>", PlayerName: "alice", BoardSize: 9})
	require.NoError(t, err)

	code, body := get(t, srv.URL+"/htmx/games/"+state.ID)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `sse-connect="/htmx/sse/`+state.ID+`"`)
	assert.Contains(t, body, "&lt;b&gt;night&lt;/b&gt;")
	assert.Equal(t, 81, strings.Count(body, `class="point empty"`))

	code, body = get(t, srv.URL+"/htmx/games")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "/htmx/games/"+state.ID)

	code, _ = get(t, srv.URL+"/htmx/games/missing")
	assert.Equal(t, http.StatusNotFound, code)

	private, _, err := games.CreateGame(ctx, game.CreateRequest{PlayerName: "bob", BoardSize: 9, Visibility: models.VisibilityPrivate})
	require.NoError(t, err)
	code, _ = get(t, srv.URL+"/htmx/games/"+private.ID)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = get(t, srv.URL+"/htmx/sse/"+private.ID)
	assert.Equal(t, http.StatusForbidden, code)
}

func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "":
			return event, data
		}
	}
}

func TestSSEStreamsUpdates(t *testing.T) {
	games, srv := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	state, black, err := games.CreateGame(ctx, game.CreateRequest{PlayerName: "alice", BoardSize: 9})
	require.NoError(t, err)
	_, _, err = games.JoinGame(ctx, state.ID, "bob", "")
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/htmx/sse/"+state.ID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	event, data := readEvent(t, r)
	assert.Equal(t, "game-update", event)
	assert.NotContains(t, data, `class="point black`)

	_, err = games.MakeMove(ctx, state.ID, models.Credentials{PlayerID: black.ID, SessionToken: black.SessionToken}, 4, 4)
	require.NoError(t, err)
	_, data = readEvent(t, r)
	assert.Contains(t, data, `class="point black last" data-row="4" data-col="4"`)
}

func TestSpectatorPageShowsPlayerChatOnceVisible(t *testing.T) {
	games, srv := newServer(t)
	ctx := context.Background()
	state, black, err := games.CreateGame(ctx, game.CreateRequest{Name: "chatty", PlayerName: "alice", BoardSize: 9})
	require.NoError(t, err)
	_, _, err = games.JoinGame(ctx, state.ID, "bob", "")
	require.NoError(t, err)
	creds := models.Credentials{PlayerID: black.ID, SessionToken: black.SessionToken}

	_, err = games.AddChatMessage(ctx, state.ID, game.ChatRequest{
		SenderID: black.ID, SessionToken: black.SessionToken, Channel: models.ChannelPublic, Text: "good luck",
	})
	require.NoError(t, err)
	_, err = games.AddChatMessage(ctx, state.ID, game.ChatRequest{
		SenderID: black.ID, SessionToken: black.SessionToken, Channel: models.ChannelPlayer, Text: "<i>tricky corner</i>",
	})
	require.NoError(t, err)

	_, body := get(t, srv.URL+"/htmx/games/"+state.ID)
	assert.Contains(t, body, `<ol class="chat"><li><b>alice</b> good luck</li></ol>`)
	assert.NotContains(t, body, "tricky corner")
	assert.NotContains(t, body, `class="player-chat"`)

	_, err = games.TogglePlayerChatVisibility(ctx, state.ID, creds)
	require.NoError(t, err)

	_, body = get(t, srv.URL+"/htmx/games/"+state.ID)
	assert.Contains(t, body, `<ol class="player-chat"><li><b>alice</b> &lt;i&gt;tricky corner&lt;/i&gt;</li></ol>`)
}
