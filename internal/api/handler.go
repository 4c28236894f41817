package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"goban/internal/apperr"
	"goban/internal/auth"
	"goban/internal/game"
	"goban/internal/matchmaking"
	"goban/internal/metrics"
	"goban/internal/rating"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

var errBadBody = apperr.New(apperr.KindInvalid, "Invalid request body.")

// Handler handles HTTP requests
type Handler struct {
	gameService *game.Service
	queue       *matchmaking.Queue
	ratings     *rating.Service
	verifier    auth.Verifier
	metrics     *metrics.Metrics
	log         *zap.Logger
}

// Deps are the services behind the API.
type Deps struct {
	Games    *game.Service
	Queue    *matchmaking.Queue
	Ratings  *rating.Service
	Verifier auth.Verifier
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// NewHandler creates a new handler
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Handler{
		gameService: d.Games,
		queue:       d.Queue,
		ratings:     d.Ratings,
		verifier:    d.Verifier,
		metrics:     d.Metrics,
		log:         d.Logger.Named("api"),
	}
}

// RegisterRoutes sets up the routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Handle("/metrics", h.metrics.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", h.handlePing)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.verifier, false, h.respondError))
			r.Post("/games", h.handleCreateGame)
			r.Get("/games", h.handleListGames)
			r.Get("/games/{gameID}", h.handleGetGame)
			r.Post("/games/{gameID}/join", h.handleJoinGame)
			r.Post("/games/{gameID}/watch", h.handleWatchGame)
			r.Post("/games/{gameID}/move", h.handleMove)
			r.Post("/games/{gameID}/pass", h.handlePass)
			r.Post("/games/{gameID}/resign", h.handleResign)
			r.Post("/games/{gameID}/chat", h.handleChat)
			r.Post("/games/{gameID}/chat/visibility", h.handleChatVisibility)
			r.Get("/stats/players/{participantID}", h.handlePlayerStats)
			r.Get("/stats/leaderboard", h.handleLeaderboard)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(h.verifier, true, h.respondError))
			r.Get("/games/mine", h.handleMyGames)
			r.Post("/matchmaking/join", h.handleQueueJoin)
			r.Post("/matchmaking/leave", h.handleQueueLeave)
			r.Get("/matchmaking/status", h.handleQueueStatus)
			r.Post("/matchmaking/{matchID}/accept", h.handleAccept)
			r.Post("/matchmaking/{matchID}/reject", h.handleReject)
			r.Get("/stats/me", h.handleMyStats)
		})
	})
}

func (h *Handler) handlePing(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type envelope struct {
	Data  any         `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
	Kind  apperr.Kind `json:"kind,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		h.log.Debug("write response", zap.Error(err))
	}
}

// respondError maps err to a status. Internal failures are logged and their
// detail is withheld from the client.
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	msg := err.Error()
	if kind == apperr.KindInternal {
		h.log.Error("request failed", zap.Error(err))
		msg = "Internal server error."
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperr.HTTPStatus(err))
	json.NewEncoder(w).Encode(envelope{Error: msg, Kind: kind})
}

// decode reads a JSON body into dst. An empty body leaves dst untouched.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return errBadBody
	}
	return nil
}

// identity returns the participant attached by the auth middleware.
func identity(r *http.Request) (auth.Identity, bool) {
	return auth.FromContext(r.Context())
}

// CORSMiddleware lets allowed browser origins call the API. With an empty
// allowlist every origin is allowed.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				if _, ok := allowed[origin]; ok || len(allowed) == 0 {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
						"Authorization", "Content-Type", "X-Participant", "X-Participant-Name",
					}, ", "))
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
