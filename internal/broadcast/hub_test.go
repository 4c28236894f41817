package broadcast

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"goban/internal/apperr"
	"goban/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *models.GameState {
	g := models.NewGameState("g1", "demo", 9, models.VisibilityPublic, time.Unix(0, 0))
	g.Players = []models.Player{{ID: "p1", Name: "alice", SessionToken: "secret", Color: models.ColorBlack}}
	g.PlayerChat = []models.ChatMessage{{SenderID: "p1", Text: "psst"}}
	return g
}

func decodeState(t *testing.T, frame []byte) *models.GameState {
	t.Helper()
	var msg Message
	require.NoError(t, json.Unmarshal(frame, &msg))
	require.Equal(t, TypeState, msg.Type)
	var g models.GameState
	require.NoError(t, json.Unmarshal(msg.Payload, &g))
	return &g
}

func TestPublishGameStripsTokensAndHidesPlayerChat(t *testing.T) {
	h := NewHub(nil, nil)
	spectator := NewClient(4, false)
	player := NewClient(4, true)
	other := NewClient(4, false)
	h.SubscribeGame("g1", spectator)
	h.SubscribeGame("g1", player)
	h.SubscribeGame("g2", other)

	h.PublishGame(sampleState())

	pub := decodeState(t, <-spectator.Messages())
	assert.Empty(t, pub.Players[0].SessionToken)
	assert.Empty(t, pub.PlayerChat)

	priv := decodeState(t, <-player.Messages())
	assert.Empty(t, priv.Players[0].SessionToken)
	assert.Len(t, priv.PlayerChat, 1)

	assert.Empty(t, other.Messages())
}

func TestSlowClientDoesNotBlockPublish(t *testing.T) {
	h := NewHub(nil, nil)
	c := NewClient(1, false)
	h.SubscribeGame("g1", c)
	h.PublishGame(sampleState())
	h.PublishGame(sampleState())
	assert.Len(t, c.Messages(), 1)
}

func TestUnsubscribeClosesStream(t *testing.T) {
	h := NewHub(nil, nil)
	c := NewClient(1, false)
	h.SubscribeGame("g1", c)
	h.UnsubscribeGame("g1", c)
	h.UnsubscribeGame("g1", c)
	_, open := <-c.Messages()
	assert.False(t, open)

	h.PublishGame(sampleState())
}

func TestSSEReceivesPublicView(t *testing.T) {
	h := NewHub(nil, nil)
	ch := make(chan *models.GameState, 1)
	h.RegisterSSE("g1", ch)
	h.PublishGame(sampleState())
	got := <-ch
	assert.Empty(t, got.Players[0].SessionToken)
	assert.Empty(t, got.PlayerChat)

	h.UnregisterSSE("g1", ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestNotifyParticipant(t *testing.T) {
	h := NewHub(nil, nil)
	c := NewClient(2, true)
	h.SubscribeParticipant("alice", c)
	h.NotifyParticipant("alice", map[string]string{"type": "proposal"})
	h.NotifyParticipant("bob", map[string]string{"type": "proposal"})

	var msg Message
	require.NoError(t, json.Unmarshal(<-c.Messages(), &msg))
	assert.Equal(t, TypeMatchmaking, msg.Type)
	assert.JSONEq(t, `{"type":"proposal"}`, string(msg.Payload))
	assert.Empty(t, c.Messages())
}

func TestSendErrorHidesInternalDetail(t *testing.T) {
	h := NewHub(nil, nil)
	c := NewClient(2, false)
	h.SendError(c, apperr.New(apperr.KindAuthorization, "Not your turn."))
	h.SendError(c, errors.New("persist game g1: disk full"))

	var msg Message
	var payload ErrorPayload
	require.NoError(t, json.Unmarshal(<-c.Messages(), &msg))
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, ErrorPayload{Error: "Not your turn.", Kind: apperr.KindAuthorization}, payload)

	require.NoError(t, json.Unmarshal(<-c.Messages(), &msg))
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, TypeError, msg.Type)
	assert.Equal(t, apperr.KindInternal, payload.Kind)
	assert.NotContains(t, payload.Error, "disk")
}
