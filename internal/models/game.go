package models

import "time"

// Komi is added to white's score. The half point rules out draws.
const Komi = 6.5

// Status is the lifecycle phase of a game.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Visibility controls listing and spectating.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// PlayerKind tells who controls a seat.
type PlayerKind string

const (
	KindHuman PlayerKind = "human"
	KindAI    PlayerKind = "ai"
)

// Action is the last thing a seat did.
type Action string

const (
	ActionNone Action = ""
	ActionMove Action = "move"
	ActionPass Action = "pass"
)

// EndReason records how a finished game ended.
type EndReason string

const (
	EndByScore  EndReason = "score"
	EndByResign EndReason = "resign"
)

// Player is one seat of a game.
type Player struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	SessionToken  string     `json:"sessionToken,omitempty"`
	Color         Color      `json:"color"`
	Captures      int        `json:"captures"`
	Kind          PlayerKind `json:"kind"`
	ParticipantID string     `json:"participantId,omitempty"`
}

// Credentials authenticate a request against a seat.
type Credentials struct {
	PlayerID     string `json:"playerId"`
	SessionToken string `json:"sessionToken"`
}

// Observer is a registered spectator.
type Observer struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// HistoryEntry is one completed move and the board it produced.
type HistoryEntry struct {
	Point Point `json:"point"`
	Color Color `json:"color"`
	Board Board `json:"board"`
}

// Score is filled in when a game is scored.
type Score struct {
	Black          float64 `json:"black"`
	White          float64 `json:"white"`
	BlackTerritory int     `json:"blackTerritory"`
	WhiteTerritory int     `json:"whiteTerritory"`
	Winner         Color   `json:"winner"`
}

// GameState is the full authoritative state of one game.
type GameState struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Visibility        Visibility     `json:"visibility"`
	BoardSize         int            `json:"boardSize"`
	Board             Board          `json:"board"`
	Players           []Player       `json:"players"`
	CurrentPlayer     Color          `json:"currentPlayer"`
	Status            Status         `json:"status"`
	Turn              int            `json:"turn"`
	LastMove          *Point         `json:"lastMove"`
	LastAction        Action         `json:"lastAction"`
	History           []HistoryEntry `json:"history"`
	Komi              float64        `json:"komi"`
	Score             *Score         `json:"score"`
	Winner            Color          `json:"winner,omitempty"`
	EndReason         EndReason      `json:"endReason,omitempty"`
	PublicChat        []ChatMessage  `json:"publicChat"`
	PlayerChat        []ChatMessage  `json:"playerChat"`
	PlayerChatVisible bool           `json:"playerChatVisible"`
	Observers         []Observer     `json:"observers"`
	Events            []Event        `json:"events"`
	AILevel           int            `json:"aiLevel,omitempty"`
	Ranked            bool           `json:"ranked"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

// NewGameState creates an empty game with no seats.
func NewGameState(id, name string, size int, visibility Visibility, now time.Time) *GameState {
	return &GameState{
		ID:            id,
		Name:          name,
		Visibility:    visibility,
		BoardSize:     size,
		Board:         NewBoard(size),
		Players:       []Player{},
		CurrentPlayer: ColorBlack,
		Status:        StatusWaiting,
		Turn:          1,
		History:       []HistoryEntry{},
		Komi:          Komi,
		PublicChat:    []ChatMessage{},
		PlayerChat:    []ChatMessage{},
		Observers:     []Observer{},
		Events:        []Event{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Clone returns a deep copy so a mutation can be staged and discarded.
func (g *GameState) Clone() *GameState {
	c := *g
	c.Board = g.Board.Clone()
	c.Players = append([]Player(nil), g.Players...)
	if g.LastMove != nil {
		p := *g.LastMove
		c.LastMove = &p
	}
	c.History = make([]HistoryEntry, len(g.History))
	for i, h := range g.History {
		c.History[i] = HistoryEntry{Point: h.Point, Color: h.Color, Board: h.Board.Clone()}
	}
	if g.Score != nil {
		s := *g.Score
		c.Score = &s
	}
	c.PublicChat = append([]ChatMessage(nil), g.PublicChat...)
	c.PlayerChat = append([]ChatMessage(nil), g.PlayerChat...)
	c.Observers = append([]Observer(nil), g.Observers...)
	c.Events = append([]Event(nil), g.Events...)
	return &c
}

// View returns a copy safe to hand out: session tokens are stripped and
// player chat is dropped unless includePlayerChat is set.
func (g *GameState) View(includePlayerChat bool) *GameState {
	v := g.Clone()
	for i := range v.Players {
		v.Players[i].SessionToken = ""
	}
	if !includePlayerChat {
		v.PlayerChat = []ChatMessage{}
	}
	return v
}

// Seat returns the index of the seat with the given id, or -1.
func (g *GameState) Seat(playerID string) int {
	for i, p := range g.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

// SeatByColor returns the index of the seat playing color, or -1.
func (g *GameState) SeatByColor(color Color) int {
	for i, p := range g.Players {
		if p.Color == color {
			return i
		}
	}
	return -1
}

// Observer returns the index of the observer with the given id, or -1.
func (g *GameState) Observer(id string) int {
	for i, o := range g.Observers {
		if o.ID == id {
			return i
		}
	}
	return -1
}

// Captures returns the capture tally of color.
func (g *GameState) Captures(color Color) int {
	if i := g.SeatByColor(color); i >= 0 {
		return g.Players[i].Captures
	}
	return 0
}

// PreviousBoard is the position before the opponent's last move, used for ko.
func (g *GameState) PreviousBoard() Board {
	if len(g.History) < 2 {
		return nil
	}
	return g.History[len(g.History)-2].Board
}

// HasParticipant reports whether a seat belongs to participantID.
func (g *GameState) HasParticipant(participantID string) bool {
	for _, p := range g.Players {
		if p.ParticipantID != "" && p.ParticipantID == participantID {
			return true
		}
	}
	return false
}

// Summary is the listing form of a game.
type Summary struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	BoardSize     int        `json:"boardSize"`
	Status        Status     `json:"status"`
	Visibility    Visibility `json:"visibility"`
	Players       []string   `json:"players"`
	CurrentPlayer Color      `json:"currentPlayer"`
	Turn          int        `json:"turn"`
	Observers     int        `json:"observers"`
	Ranked        bool       `json:"ranked"`
	Winner        Color      `json:"winner,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func (g *GameState) Summary() Summary {
	names := make([]string, 0, len(g.Players))
	for _, p := range g.Players {
		names = append(names, p.Name)
	}
	return Summary{
		ID:            g.ID,
		Name:          g.Name,
		BoardSize:     g.BoardSize,
		Status:        g.Status,
		Visibility:    g.Visibility,
		Players:       names,
		CurrentPlayer: g.CurrentPlayer,
		Turn:          g.Turn,
		Observers:     len(g.Observers),
		Ranked:        g.Ranked,
		Winner:        g.Winner,
		CreatedAt:     g.CreatedAt,
	}
}
