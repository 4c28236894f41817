package broadcast

import (
	"encoding/json"
	"sync"

	"goban/internal/apperr"
	"goban/internal/metrics"
	"goban/internal/models"

	"go.uber.org/zap"
)

// Message types written to stream clients.
const (
	TypeState       = "state"
	TypeError       = "error"
	TypeMatchmaking = "matchmaking"
	TypeStatus      = "status"
)

// Message is the envelope of every stream frame.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload reports a rejected stream command.
type ErrorPayload struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind"`
}

// Client is one stream connection. Frames are dropped when its buffer is full.
type Client struct {
	send    chan []byte
	private bool
	once    sync.Once
}

// NewClient creates a client. A private client also receives player chat.
func NewClient(buffer int, private bool) *Client {
	return &Client{send: make(chan []byte, buffer), private: private}
}

// Messages is the outgoing frame stream. It is closed when the client is unsubscribed.
func (c *Client) Messages() <-chan []byte {
	return c.send
}

func (c *Client) close() {
	c.once.Do(func() { close(c.send) })
}

func (c *Client) deliver(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Hub fans game states out to WebSocket and SSE clients and pushes
// matchmaking messages to participants.
type Hub struct {
	games        map[string]map[*Client]struct{}
	participants map[string]map[*Client]struct{}
	sseClients   map[string]map[chan *models.GameState]struct{}
	mu           sync.RWMutex
	log          *zap.Logger
	metrics      *metrics.Metrics
}

// NewHub creates a new broadcast hub.
func NewHub(log *zap.Logger, m *metrics.Metrics) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		games:        make(map[string]map[*Client]struct{}),
		participants: make(map[string]map[*Client]struct{}),
		sseClients:   make(map[string]map[chan *models.GameState]struct{}),
		log:          log.Named("broadcast"),
		metrics:      m,
	}
}

// SubscribeGame adds a client to a game's state stream.
func (h *Hub) SubscribeGame(gameID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	add(h.games, gameID, c)
	h.metrics.StreamOpened()
}

// UnsubscribeGame removes the client and closes its stream.
func (h *Hub) UnsubscribeGame(gameID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if remove(h.games, gameID, c) {
		h.metrics.StreamClosed()
	}
	c.close()
}

// SubscribeParticipant adds a client to a participant's matchmaking stream.
func (h *Hub) SubscribeParticipant(participantID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	add(h.participants, participantID, c)
	h.metrics.StreamOpened()
}

// UnsubscribeParticipant removes the client and closes its stream.
func (h *Hub) UnsubscribeParticipant(participantID string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if remove(h.participants, participantID, c) {
		h.metrics.StreamClosed()
	}
	c.close()
}

// RegisterSSE adds an SSE channel for a game.
func (h *Hub) RegisterSSE(gameID string, ch chan *models.GameState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sseClients[gameID] == nil {
		h.sseClients[gameID] = make(map[chan *models.GameState]struct{})
	}
	h.sseClients[gameID][ch] = struct{}{}
	h.metrics.StreamOpened()
}

// UnregisterSSE removes an SSE channel for a game and closes it.
func (h *Hub) UnregisterSSE(gameID string, ch chan *models.GameState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sseClients[gameID][ch]; !ok {
		return
	}
	delete(h.sseClients[gameID], ch)
	if len(h.sseClients[gameID]) == 0 {
		delete(h.sseClients, gameID)
	}
	close(ch)
	h.metrics.StreamClosed()
}

// PublishGame sends a committed state to every subscriber of the game.
// Tokens are stripped; player chat only reaches private clients unless it
// has been made visible.
func (h *Hub) PublishGame(state *models.GameState) {
	public := state.View(state.PlayerChatVisible)
	publicFrame, err := Encode(TypeState, public)
	if err != nil {
		h.log.Error("encode game state", zap.String("game_id", state.ID), zap.Error(err))
		return
	}
	privateFrame := publicFrame
	if !state.PlayerChatVisible {
		if privateFrame, err = Encode(TypeState, state.View(true)); err != nil {
			h.log.Error("encode game state", zap.String("game_id", state.ID), zap.Error(err))
			return
		}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.games[state.ID] {
		frame := publicFrame
		if c.private {
			frame = privateFrame
		}
		if !c.deliver(frame) {
			h.log.Debug("dropped state frame for slow client", zap.String("game_id", state.ID))
		}
	}
	for ch := range h.sseClients[state.ID] {
		select {
		case ch <- public:
		default:
		}
	}
}

// NotifyParticipant pushes a matchmaking message to every stream of the participant.
func (h *Hub) NotifyParticipant(participantID string, msg any) {
	frame, err := Encode(TypeMatchmaking, msg)
	if err != nil {
		h.log.Error("encode matchmaking message", zap.String("participant_id", participantID), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.participants[participantID] {
		c.deliver(frame)
	}
}

// Send writes one frame to a single client.
func (h *Hub) Send(c *Client, msgType string, payload any) {
	frame, err := Encode(msgType, payload)
	if err != nil {
		h.log.Error("encode frame", zap.String("type", msgType), zap.Error(err))
		return
	}
	c.deliver(frame)
}

// SendError reports err to a single client.
// Internal failures are logged and reported without detail.
func (h *Hub) SendError(c *Client, err error) {
	kind := apperr.KindOf(err)
	msg := err.Error()
	if kind == apperr.KindInternal {
		h.log.Error("stream command failed", zap.Error(err))
		msg = "Internal server error."
	}
	h.Send(c, TypeError, ErrorPayload{Error: msg, Kind: kind})
}

// Encode builds a frame.
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Type: msgType, Payload: raw})
}

func add(m map[string]map[*Client]struct{}, key string, c *Client) {
	if m[key] == nil {
		m[key] = make(map[*Client]struct{})
	}
	m[key][c] = struct{}{}
}

func remove(m map[string]map[*Client]struct{}, key string, c *Client) bool {
	if _, ok := m[key][c]; !ok {
		return false
	}
	delete(m[key], c)
	if len(m[key]) == 0 {
		delete(m, key)
	}
	return true
}
