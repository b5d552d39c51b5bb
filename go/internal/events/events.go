package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type names an event on the bus.
type Type string

const (
	TypeGameCreated      Type = "game_created"
	TypeGameStarted      Type = "game_started"
	TypePhaseChanged     Type = "phase_changed"
	TypePlayerEliminated Type = "player_eliminated"
	TypeVoteResolved     Type = "vote_resolved"
	TypeGameEnded        Type = "game_ended"
	TypeLobbyFormed      Type = "lobby_formed"
	TypeLobbyStarted     Type = "lobby_started"
)

// GameTypes are the lifecycle events other services consume.
var GameTypes = []Type{
	TypeGameCreated,
	TypeGameStarted,
	TypePhaseChanged,
	TypePlayerEliminated,
	TypeVoteResolved,
	TypeGameEnded,
	TypeLobbyFormed,
	TypeLobbyStarted,
}

const clientPrefix = "ws."

// ClientType is the bus topic for an inbound client message of kind msgType.
func ClientType(msgType string) Type {
	return Type(clientPrefix + msgType)
}

// IsClient reports whether t carries an inbound client message.
func (t Type) IsClient() bool {
	return strings.HasPrefix(string(t), clientPrefix)
}

// ClientMessageType strips the client prefix.
func (t Type) ClientMessageType() string {
	return strings.TrimPrefix(string(t), clientPrefix)
}

// Event is the envelope carried by the bus and forwarded to JetStream.
type Event struct {
	ID        string          `json:"eventId"`
	Type      Type            `json:"eventType"`
	GameID    string          `json:"gameId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// New builds an event with a marshalled payload.
func New(t Type, gameID string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Event{
		ID:        uuid.New().String(),
		Type:      t,
		GameID:    gameID,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}

// MustNew is New for payloads that always marshal.
func MustNew(t Type, gameID string, payload any) Event {
	ev, err := New(t, gameID, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
