package models

import "time"

// GameMode defines how players are matched.
type GameMode string

const (
	GameModeQuick      GameMode = "quick"
	GameModeRanked     GameMode = "ranked"
	GameModeFriends    GameMode = "friends"
	GameModeLinguistic GameMode = "linguistic"
)

// GameModes lists every matchmaking mode.
var GameModes = []GameMode{GameModeQuick, GameModeRanked, GameModeFriends, GameModeLinguistic}

// Valid reports whether m is a known mode.
func (m GameMode) Valid() bool {
	for _, known := range GameModes {
		if m == known {
			return true
		}
	}
	return false
}

// VoiceQuality is the voice room tier requested for a game.
type VoiceQuality string

const (
	VoiceQualityStandard VoiceQuality = "standard"
	VoiceQualityHigh     VoiceQuality = "high"
	VoiceQualityPremium  VoiceQuality = "premium"
)

// LobbySettings holds the game configuration a lobby hands to the game.
type LobbySettings struct {
	LobbyID          string         `json:"lobby_id"`
	Mode             GameMode       `json:"game_mode"`
	Language         string         `json:"language"`
	MinRating        int            `json:"min_rating"`
	MaxRating        int            `json:"max_rating"`
	AllowSpectators  bool           `json:"allow_spectators"`
	Private          bool           `json:"private"`
	VoiceQuality     VoiceQuality   `json:"voice_quality"`
	CustomRules      map[string]any `json:"custom_rules,omitempty"`
	// DayDuration and VotingDuration are seconds set by a private lobby's
	// host. Zero keeps the server's phase lengths.
	DayDuration      int            `json:"day_duration,omitempty"`
	VotingDuration   int            `json:"voting_duration,omitempty"`
	EnableDetective  bool           `json:"enable_detective"`
	EnableProstitute bool           `json:"enable_prostitute"`
}

// DefaultLobbySettings returns settings with the standard game rules.
func DefaultLobbySettings(lobbyID string, mode GameMode, language string) LobbySettings {
	return LobbySettings{
		LobbyID:          lobbyID,
		Mode:             mode,
		Language:         language,
		AllowSpectators:  true,
		VoiceQuality:     VoiceQualityStandard,
		EnableDetective:  true,
		EnableProstitute: true,
	}
}

// QueuePlayer is a player waiting in a matchmaking queue.
type QueuePlayer struct {
	Profile            PlayerProfile `json:"profile"`
	Mode               GameMode      `json:"mode"`
	PreferredLanguages []string      `json:"preferred_languages,omitempty"`
	JoinTime           time.Time     `json:"join_time"`
	PartyID            string        `json:"party_id,omitempty"`
	InviteCode         string        `json:"invite_code,omitempty"`
}

// FormingLobby is a matched group of players that has not started a game yet.
type FormingLobby struct {
	LobbyID   string        `json:"lobby_id"`
	Mode      GameMode      `json:"mode"`
	Players   []QueuePlayer `json:"players"`
	Language  string        `json:"language"`
	Private   bool          `json:"private"`
	Settings  LobbySettings `json:"settings"`
	CreatedAt time.Time     `json:"created_at"`
}

// PlayerIDs returns the user ids of the lobby in seat order.
func (l FormingLobby) PlayerIDs() []string {
	out := make([]string, len(l.Players))
	for i, p := range l.Players {
		out[i] = p.Profile.UserID
	}
	return out
}

// Profiles returns the player profiles of the lobby in seat order.
func (l FormingLobby) Profiles() []PlayerProfile {
	out := make([]PlayerProfile, len(l.Players))
	for i, p := range l.Players {
		out[i] = p.Profile
	}
	return out
}
