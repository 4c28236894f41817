package api

import (
	"net/http"
	"strconv"

	"goban/internal/apperr"
	"goban/internal/matchmaking"

	"github.com/go-chi/chi/v5"
)

var errBadLimit = apperr.New(apperr.KindInvalid, "limit must be a positive integer.")

// handleQueueJoin queues the caller at their current rating.
func (h *Handler) handleQueueJoin(w http.ResponseWriter, r *http.Request) {
	id, _ := identity(r)
	rating, err := h.ratings.Rating(r.Context(), id.ParticipantID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondStatus(w, func() (matchmaking.Status, error) {
		return h.queue.Join(r.Context(), matchmaking.Entry{ParticipantID: id.ParticipantID, Name: id.Name, Rating: rating})
	})
}

func (h *Handler) handleQueueLeave(w http.ResponseWriter, r *http.Request) {
	id, _ := identity(r)
	h.respondStatus(w, func() (matchmaking.Status, error) {
		return h.queue.Leave(r.Context(), id.ParticipantID)
	})
}

func (h *Handler) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := identity(r)
	h.respondStatus(w, func() (matchmaking.Status, error) {
		return h.queue.Status(r.Context(), id.ParticipantID)
	})
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, _ := identity(r)
	h.respondStatus(w, func() (matchmaking.Status, error) {
		return h.queue.Accept(r.Context(), id.ParticipantID, chi.URLParam(r, "matchID"))
	})
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	id, _ := identity(r)
	h.respondStatus(w, func() (matchmaking.Status, error) {
		return h.queue.Reject(r.Context(), id.ParticipantID, chi.URLParam(r, "matchID"))
	})
}

func (h *Handler) respondStatus(w http.ResponseWriter, fn func() (matchmaking.Status, error)) {
	st, err := fn()
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, st)
}

func (h *Handler) handleMyStats(w http.ResponseWriter, r *http.Request) {
	id, _ := identity(r)
	h.playerStats(w, r, id.ParticipantID)
}

func (h *Handler) handlePlayerStats(w http.ResponseWriter, r *http.Request) {
	h.playerStats(w, r, chi.URLParam(r, "participantID"))
}

func (h *Handler) playerStats(w http.ResponseWriter, r *http.Request, participantID string) {
	st, err := h.ratings.Stats(r.Context(), participantID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, st)
}

func (h *Handler) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondError(w, errBadLimit)
			return
		}
		limit = n
	}
	board, err := h.ratings.Leaderboard(r.Context(), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, board)
}
