package htmx

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"goban/internal/apperr"
	"goban/internal/broadcast"
	"goban/internal/game"
	"goban/internal/models"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler serves the read-only spectator view with SSE updates.
type Handler struct {
	gameService *game.Service
	hub         *broadcast.Hub
	log         *zap.Logger
}

// NewHandler creates a new HTMX handler.
func NewHandler(gameService *game.Service, hub *broadcast.Hub, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		gameService: gameService,
		hub:         hub,
		log:         log.Named("htmx"),
	}
}

// RegisterRoutes sets up the HTMX routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/htmx/games", h.handleLobby)
	r.Get("/htmx/games/{gameID}", h.handleGame)
	r.Get("/htmx/sse/{gameID}", h.handleSSE)
}

func (h *Handler) handleLobby(w http.ResponseWriter, r *http.Request) {
	templ.Handler(Lobby(h.gameService.ListPublic(r.Context()))).ServeHTTP(w, r)
}

func (h *Handler) handleGame(w http.ResponseWriter, r *http.Request) {
	g, err := h.spectate(r.Context(), chi.URLParam(r, "gameID"))
	if err != nil {
		templ.Handler(ErrorStatus(err.Error()), templ.WithStatus(apperr.HTTPStatus(err))).ServeHTTP(w, r)
		return
	}
	templ.Handler(Page(g)).ServeHTTP(w, r)
}

func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	g, err := h.spectate(r.Context(), gameID)
	if err != nil {
		http.Error(w, err.Error(), apperr.HTTPStatus(err))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := make(chan *models.GameState, 10)
	h.hub.RegisterSSE(gameID, ch)
	defer h.hub.UnregisterSSE(gameID, ch)

	send := func(g *models.GameState) bool {
		html, err := renderToString(r.Context(), GameContent(g))
		if err != nil {
			h.log.Error("render game", zap.String("game_id", gameID), zap.Error(err))
			return false
		}
		if _, err := fmt.Fprintf(w, "event: game-update\ndata: %s\n\n", strings.ReplaceAll(html, "\n", "")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// Send initial state
	if !send(g) {
		return
	}
	for {
		select {
		case g, ok := <-ch:
			if !ok || !send(g) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

// spectate returns the public view of a game that may be watched.
func (h *Handler) spectate(ctx context.Context, gameID string) (*models.GameState, error) {
	g, err := h.gameService.GetGame(ctx, gameID, models.Credentials{})
	if err != nil {
		return nil, err
	}
	if g.Visibility != models.VisibilityPublic {
		return nil, game.ErrPrivateGame
	}
	return g, nil
}

func renderToString(ctx context.Context, component templ.Component) (string, error) {
	var buf bytes.Buffer
	if err := component.Render(ctx, &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
