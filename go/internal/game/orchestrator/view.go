package orchestrator

import (
	"time"

	"github.com/mcdev12/mafia/go/internal/game/logic"
)

// PlayerView is the state of a game as one player is allowed to see it.
type PlayerView struct {
	GameID       string            `json:"game_id"`
	Phase        logic.Phase       `json:"phase"`
	DayCount     int               `json:"day_count"`
	AlivePlayers []string          `json:"alive_players"`
	Eliminated   map[string]string `json:"eliminated"`
	MyRole       logic.Role        `json:"my_role,omitempty"`
	IsAlive      bool              `json:"is_alive"`
	MafiaPlayers []string          `json:"mafia_players,omitempty"`
	VoteSession  string            `json:"vote_session_id,omitempty"`
	PhaseEndsAt  *time.Time        `json:"phase_ends_at,omitempty"`
}

// GetStateFor returns the game as playerID sees it. Only mafia learn who the
// other mafia are.
func (o *Orchestrator) GetStateFor(gameID, playerID string) (PlayerView, error) {
	g, ok := o.lookup(gameID)
	if !ok {
		return PlayerView{}, ErrGameNotFound
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state
	eliminated := make(map[string]string, len(s.Eliminated))
	for p, reason := range s.Eliminated {
		eliminated[p] = reason
	}
	v := PlayerView{
		GameID:       s.GameID,
		Phase:        s.Phase,
		DayCount:     s.DayCount,
		AlivePlayers: s.AlivePlayers(),
		Eliminated:   eliminated,
		MyRole:       s.Roles[playerID],
		IsAlive:      s.IsAlive(playerID),
		VoteSession:  g.voteSession,
	}
	if v.MyRole == logic.RoleMafia {
		v.MafiaPlayers = s.PlayersWithRole(logic.RoleMafia, false)
	}
	if !g.phaseEndsAt.IsZero() {
		t := g.phaseEndsAt
		v.PhaseEndsAt = &t
	}
	return v, nil
}

// Phase returns the current phase of gameID.
func (o *Orchestrator) Phase(gameID string) (logic.Phase, bool) {
	g, ok := o.lookup(gameID)
	if !ok {
		return "", false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Phase, true
}
