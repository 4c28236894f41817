package api

import (
	"context"
	"net/http"

	"goban/internal/game"
	"goban/internal/models"

	"github.com/go-chi/chi/v5"
)

// seatResponse is returned when a seat is taken. It is the only response
// that carries the seat's session token.
type seatResponse struct {
	Game   *models.GameState `json:"game"`
	Player models.Player     `json:"player"`
}

type observerResponse struct {
	Game     *models.GameState `json:"game"`
	Observer models.Observer   `json:"observer"`
}

type nameRequest struct {
	Name string `json:"name"`
}

type moveRequest struct {
	models.Credentials
	Row int `json:"row"`
	Col int `json:"col"`
}

// credentials reads seat credentials from headers, falling back to the query.
func credentials(r *http.Request) models.Credentials {
	c := models.Credentials{
		PlayerID:     r.Header.Get("X-Player-Id"),
		SessionToken: r.Header.Get("X-Session-Token"),
	}
	if c.PlayerID == "" {
		c.PlayerID = r.URL.Query().Get("playerId")
	}
	if c.SessionToken == "" {
		c.SessionToken = r.URL.Query().Get("sessionToken")
	}
	return c
}

func (h *Handler) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	var req game.CreateRequest
	if err := decode(w, r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	if id, ok := identity(r); ok {
		req.ParticipantID = id.ParticipantID
		if req.PlayerName == "" {
			req.PlayerName = id.Name
		}
	}
	state, seat, err := h.gameService.CreateGame(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, seatResponse{Game: state, Player: seat})
}

func (h *Handler) handleListGames(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.gameService.ListPublic(r.Context()))
}

func (h *Handler) handleMyGames(w http.ResponseWriter, r *http.Request) {
	id, _ := identity(r)
	h.respondJSON(w, http.StatusOK, h.gameService.ListByParticipant(r.Context(), id.ParticipantID))
}

func (h *Handler) handleGetGame(w http.ResponseWriter, r *http.Request) {
	state, err := h.gameService.GetGame(r.Context(), chi.URLParam(r, "gameID"), credentials(r))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

func (h *Handler) handleJoinGame(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlayerName string `json:"playerName"`
	}
	if err := decode(w, r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	var participantID string
	if id, ok := identity(r); ok {
		participantID = id.ParticipantID
		if req.PlayerName == "" {
			req.PlayerName = id.Name
		}
	}
	state, seat, err := h.gameService.JoinGame(r.Context(), chi.URLParam(r, "gameID"), req.PlayerName, participantID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, seatResponse{Game: state, Player: seat})
}

func (h *Handler) handleWatchGame(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	if err := decode(w, r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	state, observer, err := h.gameService.WatchGame(r.Context(), chi.URLParam(r, "gameID"), req.Name)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, observerResponse{Game: state, Observer: observer})
}

func (h *Handler) handleMove(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decode(w, r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondState(w, r, func(gameID string) (*models.GameState, error) {
		return h.gameService.MakeMove(r.Context(), gameID, req.Credentials, req.Row, req.Col)
	})
}

func (h *Handler) handlePass(w http.ResponseWriter, r *http.Request) {
	h.seatAction(w, r, h.gameService.PassTurn)
}

func (h *Handler) handleResign(w http.ResponseWriter, r *http.Request) {
	h.seatAction(w, r, h.gameService.ResignGame)
}

func (h *Handler) handleChatVisibility(w http.ResponseWriter, r *http.Request) {
	h.seatAction(w, r, h.gameService.TogglePlayerChatVisibility)
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req game.ChatRequest
	if err := decode(w, r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondState(w, r, func(gameID string) (*models.GameState, error) {
		return h.gameService.AddChatMessage(r.Context(), gameID, req)
	})
}

// seatAction runs an action that only needs the seat's credentials.
func (h *Handler) seatAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, gameID string, creds models.Credentials) (*models.GameState, error)) {
	var creds models.Credentials
	if err := decode(w, r, &creds); err != nil {
		h.respondError(w, err)
		return
	}
	h.respondState(w, r, func(gameID string) (*models.GameState, error) {
		return action(r.Context(), gameID, creds)
	})
}

func (h *Handler) respondState(w http.ResponseWriter, r *http.Request, fn func(gameID string) (*models.GameState, error)) {
	state, err := fn(chi.URLParam(r, "gameID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}
