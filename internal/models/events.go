package models

import "time"

// Channel selects a chat log.
type Channel string

const (
	ChannelPublic Channel = "public"
	ChannelPlayer Channel = "player"
)

// ChatMessage is one line in a chat log.
type ChatMessage struct {
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Observer   bool      `json:"observer"`
	Text       string    `json:"text"`
	At         time.Time `json:"at"`
}

// EventType names a replay log entry.
type EventType string

const (
	EventCreated        EventType = "created"
	EventJoined         EventType = "joined"
	EventMove           EventType = "move"
	EventPass           EventType = "pass"
	EventResign         EventType = "resign"
	EventChat           EventType = "chat"
	EventChatVisibility EventType = "chat_visibility"
)

// Event is one externally visible transition, kept for replay.
type Event struct {
	Seq   int       `json:"seq"`
	Type  EventType `json:"type"`
	At    time.Time `json:"at"`
	Actor string    `json:"actor,omitempty"`
	Color Color     `json:"color,omitempty"`
	Point *Point    `json:"point,omitempty"`
	Text  string    `json:"text,omitempty"`
}

// AppendEvent stamps e with the next sequence number and adds it to the log.
func (g *GameState) AppendEvent(e Event) {
	e.Seq = len(g.Events) + 1
	g.Events = append(g.Events, e)
}
