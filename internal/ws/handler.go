package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"goban/internal/apperr"
	"goban/internal/auth"
	"goban/internal/broadcast"
	"goban/internal/game"
	"goban/internal/matchmaking"
	"goban/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	sendBuffer   = 16
	readLimit    = 4096
	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
	writeWait    = 10 * time.Second
)

var errUnknownCommand = apperr.New(apperr.KindInvalid, "Unknown command.")

// command is a frame sent by a client. Only the fields of its type are read.
type command struct {
	Type    string         `json:"type"`
	Row     int            `json:"row"`
	Col     int            `json:"col"`
	Channel models.Channel `json:"channel"`
	Text    string         `json:"text"`
	MatchID string         `json:"matchId"`
}

// Handler handles WebSocket connections for game and matchmaking streams.
type Handler struct {
	games    *game.Service
	queue    *matchmaking.Queue
	hub      *broadcast.Hub
	verifier auth.Verifier
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler creates a new WebSocket handler. With an empty allowlist every
// origin may connect.
func NewHandler(games *game.Service, queue *matchmaking.Queue, hub *broadcast.Hub, verifier auth.Verifier, origins []string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		allowed[o] = true
	}
	return &Handler{
		games:    games,
		queue:    queue,
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		log: log.Named("ws"),
	}
}

// RegisterRoutes sets up the WebSocket routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/games/{gameID}", h.handleGame)
	r.Get("/ws/matchmaking", h.handleMatchmaking)
}

// handleGame streams a game's state. A connection presenting seat credentials
// (playerId, sessionToken) may also play; an observer (observerId) may chat.
func (h *Handler) handleGame(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	q := r.URL.Query()
	creds := models.Credentials{PlayerID: q.Get("playerId"), SessionToken: q.Get("sessionToken")}
	observerID := q.Get("observerId")

	private := false
	if creds.PlayerID != "" {
		if _, err := h.games.Authenticate(r.Context(), gameID, creds); err != nil {
			http.Error(w, err.Error(), apperr.HTTPStatus(err))
			return
		}
		private = true
	}
	state, err := h.games.GetGame(r.Context(), gameID, creds)
	if err != nil {
		http.Error(w, err.Error(), apperr.HTTPStatus(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := broadcast.NewClient(sendBuffer, private)
	h.hub.SubscribeGame(gameID, client)
	h.hub.Send(client, broadcast.TypeState, state)
	done := h.startWriter(conn, client)

	log := h.log.With(zap.String("game_id", gameID), zap.String("player_id", creds.PlayerID))
	h.readLoop(conn, func(cmd command) {
		ctx := r.Context()
		var err error
		switch cmd.Type {
		case "move":
			_, err = h.games.MakeMove(ctx, gameID, creds, cmd.Row, cmd.Col)
		case "pass":
			_, err = h.games.PassTurn(ctx, gameID, creds)
		case "resign":
			_, err = h.games.ResignGame(ctx, gameID, creds)
		case "chat":
			sender := creds.PlayerID
			if sender == "" {
				sender = observerID
			}
			_, err = h.games.AddChatMessage(ctx, gameID, game.ChatRequest{
				SenderID:     sender,
				SessionToken: creds.SessionToken,
				Channel:      cmd.Channel,
				Text:         cmd.Text,
			})
		case "chat_visibility":
			_, err = h.games.TogglePlayerChatVisibility(ctx, gameID, creds)
		default:
			err = errUnknownCommand
		}
		if err != nil {
			log.Debug("command rejected", zap.String("command", cmd.Type), zap.Error(err))
			h.hub.SendError(client, err)
		}
	}, func(err error) { h.hub.SendError(client, err) })

	h.hub.UnsubscribeGame(gameID, client)
	<-done
	conn.Close()
}

// handleMatchmaking pushes proposals and confirmations to the authenticated
// participant. Clients may answer proposals over the same connection.
func (h *Handler) handleMatchmaking(w http.ResponseWriter, r *http.Request) {
	id, err := h.verifier.Verify(r)
	if err != nil {
		http.Error(w, err.Error(), apperr.HTTPStatus(err))
		return
	}
	status, err := h.queue.Status(r.Context(), id.ParticipantID)
	if err != nil {
		http.Error(w, err.Error(), apperr.HTTPStatus(err))
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := broadcast.NewClient(sendBuffer, true)
	h.hub.SubscribeParticipant(id.ParticipantID, client)
	h.hub.Send(client, broadcast.TypeStatus, status)
	done := h.startWriter(conn, client)

	h.readLoop(conn, func(cmd command) {
		ctx := r.Context()
		var (
			st  matchmaking.Status
			err error
		)
		switch cmd.Type {
		case "status":
			st, err = h.queue.Status(ctx, id.ParticipantID)
		case "accept":
			st, err = h.queue.Accept(ctx, id.ParticipantID, cmd.MatchID)
		case "reject":
			st, err = h.queue.Reject(ctx, id.ParticipantID, cmd.MatchID)
		case "leave":
			st, err = h.queue.Leave(ctx, id.ParticipantID)
		default:
			err = errUnknownCommand
		}
		if err != nil {
			h.hub.SendError(client, err)
			return
		}
		h.hub.Send(client, broadcast.TypeStatus, st)
	}, func(err error) { h.hub.SendError(client, err) })

	h.hub.UnsubscribeParticipant(id.ParticipantID, client)
	<-done
	conn.Close()
}

// readLoop decodes commands until the connection fails. Malformed frames are
// reported through onBad and do not end the loop.
func (h *Handler) readLoop(conn *websocket.Conn, handle func(command), onBad func(error)) {
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			onBad(apperr.New(apperr.KindInvalid, "Malformed command."))
			continue
		}
		handle(cmd)
	}
}

// startWriter drains the client's frames onto the connection. The returned
// channel closes once the client has been unsubscribed or a write failed.
func (h *Handler) startWriter(conn *websocket.Conn, client *broadcast.Client) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := writeWithHeartbeat(conn, client.Messages()); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			h.log.Debug("write failed", zap.Error(err))
			// Unblock the reader so the handler can unsubscribe.
			conn.Close()
		}
	}()
	return done
}

func writeWithHeartbeat(conn *websocket.Conn, send <-chan []byte) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-send:
			if !ok {
				conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return nil
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}
