package orchestrator

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/mcdev12/mafia/go/internal/game/phase"
	"github.com/mcdev12/mafia/go/internal/gateway"
)

func afkKey(gameID, playerID string) string {
	return gameID + "/" + playerID
}

// HandleDisconnect starts the AFK countdown for an alive player who lost
// their last connection to the game.
func (o *Orchestrator) HandleDisconnect(gameID, playerID string) {
	g, ok := o.lookup(gameID)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended || !g.state.IsAlive(playerID) {
		return
	}
	g.disconnected[playerID] = true
	o.afk.Schedule(afkKey(gameID, playerID), o.config.AFKTimeout, o.onAFK)

	o.broadcast(gameID, gateway.Message{
		"event":     "player_disconnected",
		"player_id": playerID,
		"timeout":   o.config.AFKTimeout.Seconds(),
	}, gateway.PriorityNormal)

	log.Info().
		Str("game_id", gameID).
		Str("player_id", playerID).
		Dur("afk_timeout", o.config.AFKTimeout).
		Msg("player disconnected, AFK countdown started")
}

// HandleReconnect stops the AFK countdown of a returning player.
func (o *Orchestrator) HandleReconnect(gameID, playerID string) {
	g, ok := o.lookup(gameID)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.disconnected[playerID] {
		return
	}
	delete(g.disconnected, playerID)
	o.afk.Cancel(afkKey(gameID, playerID))

	o.broadcast(gameID, gateway.Message{
		"event":     "player_reconnected",
		"player_id": playerID,
	}, gateway.PriorityNormal)

	log.Info().Str("game_id", gameID).Str("player_id", playerID).Msg("player reconnected")
}

func (o *Orchestrator) onAFK(ctx context.Context, key string, token phase.Token) {
	gameID, playerID, ok := strings.Cut(key, "/")
	if !ok {
		return
	}
	g, ok := o.lookup(gameID)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended || !g.disconnected[playerID] || !o.afk.IsCurrent(key, token) {
		return
	}
	delete(g.disconnected, playerID)
	o.afk.Cancel(key)

	if err := o.eliminateLocked(ctx, g, playerID, logic.ReasonAFK); err != nil {
		log.Warn().Err(err).Str("game_id", gameID).Str("player_id", playerID).Msg("AFK elimination skipped")
		return
	}
	if _, decided := logic.CheckWinner(g.state); decided || o.phaseSettledLocked(g) {
		o.earlyAdvanceLocked(ctx, g)
	}
}
