package models

import "time"

// PlayerResult is the settled outcome of one player in a finished game.
type PlayerResult struct {
	Won      bool   `json:"won"`
	Role     string `json:"role"`
	Survived bool   `json:"survived"`
	AFK      bool   `json:"afk,omitempty"`
}

// GameStatus is the lifecycle state of a persisted game.
type GameStatus string

const (
	GameStatusWaiting    GameStatus = "waiting"
	GameStatusInProgress GameStatus = "in_progress"
	GameStatusFinished   GameStatus = "finished"
)

// Game is a persisted game record.
type Game struct {
	ID        string        `json:"id"`
	LobbyID   string        `json:"lobby_id"`
	Status    GameStatus    `json:"status"`
	Phase     string        `json:"phase"`
	DayCount  int           `json:"day_count"`
	Winner    *string       `json:"winner,omitempty"`
	Settings  LobbySettings `json:"settings"`
	CreatedAt time.Time     `json:"created_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}
