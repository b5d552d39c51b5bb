package logic

import (
	"fmt"
	"sort"
)

// NightAction is one accepted night action, in submission order.
type NightAction struct {
	Actor  string
	Type   ActionType
	Target string
}

// GameState is the in-memory state of one game.
type GameState struct {
	GameID string
	Phase  Phase
	// Players keeps seat order; role assignment shuffles over it so a seeded
	// source gives the same result every time.
	Players    []string
	Alive      map[string]bool
	Roles      map[string]Role
	DayCount   int
	Night      []NightAction
	Eliminated map[string]string
}

// NewGameState creates a game in the lobby phase with every player alive.
func NewGameState(gameID string, players []string) *GameState {
	s := &GameState{
		GameID:     gameID,
		Phase:      PhaseLobby,
		Players:    append([]string(nil), players...),
		Alive:      make(map[string]bool, len(players)),
		Roles:      make(map[string]Role, len(players)),
		Eliminated: make(map[string]string),
	}
	for _, p := range players {
		s.Alive[p] = true
	}
	return s
}

// IsAlive reports whether playerID is still in play.
func (s *GameState) IsAlive(playerID string) bool {
	return s.Alive[playerID]
}

// HasPlayer reports whether playerID was seated in the game.
func (s *GameState) HasPlayer(playerID string) bool {
	for _, p := range s.Players {
		if p == playerID {
			return true
		}
	}
	return false
}

// AlivePlayers returns alive players in seat order.
func (s *GameState) AlivePlayers() []string {
	out := make([]string, 0, len(s.Alive))
	for _, p := range s.Players {
		if s.Alive[p] {
			out = append(out, p)
		}
	}
	return out
}

// PlayersWithRole returns players holding role in seat order. When aliveOnly
// is set dead players are skipped.
func (s *GameState) PlayersWithRole(role Role, aliveOnly bool) []string {
	var out []string
	for _, p := range s.Players {
		if s.Roles[p] != role {
			continue
		}
		if aliveOnly && !s.Alive[p] {
			continue
		}
		out = append(out, p)
	}
	return out
}

// AliveCounts returns the number of alive mafia and alive non-mafia players.
func (s *GameState) AliveCounts() (mafia, citizens int) {
	for p := range s.Alive {
		if !s.Alive[p] {
			continue
		}
		if s.Roles[p] == RoleMafia {
			mafia++
		} else {
			citizens++
		}
	}
	return mafia, citizens
}

// CheckWinner evaluates the win condition. It never reports a winner before
// roles have been assigned.
func CheckWinner(s *GameState) (Team, bool) {
	if len(s.Roles) == 0 {
		return "", false
	}
	mafia, citizens := s.AliveCounts()
	if mafia == 0 {
		return TeamCitizens, true
	}
	if mafia >= citizens {
		return TeamMafia, true
	}
	return "", false
}

// Eliminate removes playerID from play.
func Eliminate(s *GameState, playerID, reason string) error {
	if !s.HasPlayer(playerID) {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, playerID)
	}
	if !s.Alive[playerID] {
		return fmt.Errorf("%w: %s", ErrNotAlive, playerID)
	}
	delete(s.Alive, playerID)
	s.Eliminated[playerID] = reason
	return nil
}

// Advance moves the game to its next phase and returns it. A decided game
// goes straight to game_ended whatever the normal successor is.
func Advance(s *GameState) (Phase, error) {
	next, err := Next(s.Phase)
	if err != nil {
		return s.Phase, err
	}
	if _, decided := CheckWinner(s); decided {
		next = PhaseGameEnded
	}
	SetPhase(s, next)
	return next, nil
}

// SetPhase enters phase p, applying its entry bookkeeping.
func SetPhase(s *GameState, p Phase) {
	switch p {
	case PhaseDayDiscussion:
		s.DayCount++
	case PhaseNightStart:
		s.Night = nil
	}
	s.Phase = p
}

// RoleCounts tallies assigned roles.
func RoleCounts(roles map[string]Role) map[Role]int {
	out := make(map[Role]int)
	for _, r := range roles {
		out[r]++
	}
	return out
}

// SortedIDs returns the keys of a set in lexical order.
func SortedIDs(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for id, ok := range set {
		if ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
