// Package matchmaking pairs ranked participants by rating and turns
// double-accepted proposals into games.
package matchmaking

import (
	"context"
	"time"

	"goban/internal/apperr"
	"goban/internal/game"
	"goban/internal/models"
)

var (
	ErrAlreadyQueued = apperr.New(apperr.KindCapacity, "Already searching for a match.")
	ErrNoProposal    = apperr.New(apperr.KindNotFound, "No pending match proposal with that id.")
	ErrNoParticipant = apperr.New(apperr.KindInvalid, "Participant id is required.")
)

const (
	// ProposalTTL is how long both sides have to accept.
	ProposalTTL = 30 * time.Second

	baseTolerance = 100
	toleranceStep = 50
	toleranceTick = 10 * time.Second
	maxTolerance  = 1000
)

// Phase is where a participant stands in the queue.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseQueued    Phase = "queued"
	PhaseProposed  Phase = "proposed"
	PhaseConfirmed Phase = "confirmed"
)

// Response is a participant's answer to a proposal.
type Response string

const (
	ResponsePending  Response = ""
	ResponseAccepted Response = "accepted"
	ResponseRejected Response = "rejected"
)

// Entry is one participant waiting for a match.
type Entry struct {
	ParticipantID string    `json:"participantId"`
	Name          string    `json:"name"`
	Rating        int       `json:"rating"`
	EnqueuedAt    time.Time `json:"enqueuedAt"`
}

// Proposal pairs two entries until both accept, one rejects or it expires.
type Proposal struct {
	ID        string              `json:"id"`
	Entries   [2]Entry            `json:"entries"`
	CreatedAt time.Time           `json:"createdAt"`
	ExpiresAt time.Time           `json:"expiresAt"`
	Responses map[string]Response `json:"responses"`
}

func (p *Proposal) side(participantID string) int {
	for i, e := range p.Entries {
		if e.ParticipantID == participantID {
			return i
		}
	}
	return -1
}

func (p *Proposal) accepted(participantID string) bool {
	return p.Responses[participantID] == ResponseAccepted
}

// Assignment is a participant's seat in a confirmed ranked game.
type Assignment struct {
	MatchID      string       `json:"matchId"`
	GameID       string       `json:"gameId"`
	PlayerID     string       `json:"playerId"`
	SessionToken string       `json:"sessionToken"`
	Color        models.Color `json:"color"`
	Opponent     string       `json:"opponent"`
}

// Opponent is the other side of a proposal as shown to a participant.
type Opponent struct {
	Name   string `json:"name"`
	Rating int    `json:"rating"`
}

// Status describes one participant's position.
type Status struct {
	Phase       Phase       `json:"phase"`
	Rating      int         `json:"rating,omitempty"`
	WaitingMs   int64       `json:"waitingMs,omitempty"`
	Tolerance   int         `json:"tolerance,omitempty"`
	QueueSize   int         `json:"queueSize"`
	MatchID     string      `json:"matchId,omitempty"`
	RemainingMs int64       `json:"remainingMs,omitempty"`
	Opponent    *Opponent   `json:"opponent,omitempty"`
	Accepted    bool        `json:"accepted,omitempty"`
	Assignment  *Assignment `json:"assignment,omitempty"`
}

// MessageType names a push to a participant.
type MessageType string

const (
	MessageProposal  MessageType = "proposal"
	MessageConfirmed MessageType = "confirmed"
	MessageCancelled MessageType = "cancelled"
	MessageExpired   MessageType = "expired"
)

// Message is pushed to a participant when their proposal changes.
type Message struct {
	Type       MessageType `json:"type"`
	MatchID    string      `json:"matchId"`
	Opponent   *Opponent   `json:"opponent,omitempty"`
	ExpiresAt  *time.Time  `json:"expiresAt,omitempty"`
	Requeued   bool        `json:"requeued,omitempty"`
	Assignment *Assignment `json:"assignment,omitempty"`
}

// GameCreator starts the game of a confirmed proposal.
type GameCreator interface {
	CreateRankedGame(ctx context.Context, black, white game.Participant) (*models.GameState, [2]models.Player, error)
}

// Notifier pushes messages to connected participants.
type Notifier interface {
	NotifyParticipant(participantID string, msg any)
}

// Tolerance is the rating window for an entry that has waited wait.
func Tolerance(wait time.Duration) int {
	if wait < 0 {
		wait = 0
	}
	t := baseTolerance + toleranceStep*int(wait/toleranceTick)
	if t > maxTolerance {
		return maxTolerance
	}
	return t
}
