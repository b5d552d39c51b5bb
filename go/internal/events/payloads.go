package events

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/mcdev12/mafia/go/internal/models"
)

// Event payload types shared by the game, gateway, voice and economy packages.

// PhaseChangedPayload is published on every phase transition.
type PhaseChangedPayload struct {
	GameID   string    `json:"game_id"`
	Phase    string    `json:"phase"`
	Previous string    `json:"previous"`
	DayCount int       `json:"day_count"`
	EndsAt   time.Time `json:"ends_at,omitempty"`
	// Voice lists the mute commands for the voice room in this phase.
	Voice []logic.VoiceCommand `json:"voice,omitempty"`
}

// GameCreatedPayload is published when a lobby becomes a game.
type GameCreatedPayload struct {
	GameID  string   `json:"game_id"`
	LobbyID string   `json:"lobby_id"`
	Players []string `json:"players"`
}

// GameStartedPayload is published once roles are dealt.
type GameStartedPayload struct {
	GameID    string    `json:"game_id"`
	Players   int       `json:"players"`
	StartedAt time.Time `json:"started_at"`
}

// PlayerEliminatedPayload is published for every elimination.
type PlayerEliminatedPayload struct {
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id"`
	Role     string `json:"role"`
	Reason   string `json:"reason"`
}

// VoteResolvedPayload is published when a voting session is resolved.
type VoteResolvedPayload struct {
	GameID     string         `json:"game_id"`
	SessionID  string         `json:"session_id"`
	Eliminated *string        `json:"eliminated"`
	VoteCounts map[string]int `json:"vote_counts"`
}

// GameEndedPayload is published after settlement.
type GameEndedPayload struct {
	GameID  string                         `json:"game_id"`
	Winner  string                         `json:"winner"`
	Results map[string]models.PlayerResult `json:"results"`
	Rewards map[string]int                 `json:"rewards"`
	EndedAt time.Time                      `json:"ended_at"`
}

// LobbyFormedPayload is published when matchmaking forms a lobby.
type LobbyFormedPayload struct {
	LobbyID  string   `json:"lobby_id"`
	Mode     string   `json:"mode"`
	Language string   `json:"language"`
	Players  []string `json:"players"`
}

// LobbyStartedPayload is published when a lobby turns into a game.
type LobbyStartedPayload struct {
	LobbyID string `json:"lobby_id"`
	GameID  string `json:"game_id"`
	RoomID  string `json:"room_id,omitempty"`
}

// ClientMessagePayload wraps an inbound client message. Raw holds the client
// JSON with user_id, game_id and timestamp merged in.
type ClientMessagePayload struct {
	UserID    string          `json:"user_id"`
	GameID    string          `json:"game_id,omitempty"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"raw"`
}
