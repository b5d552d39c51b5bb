package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/events"
	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/mcdev12/mafia/go/internal/gateway"
	"github.com/mcdev12/mafia/go/internal/models"
)

// EndGame forces the game to end now and settles it with the current winner.
func (o *Orchestrator) EndGame(ctx context.Context, gameID string) error {
	g, ok := o.lookup(gameID)
	if !ok {
		return ErrGameNotFound
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return ErrGameOver
	}
	prev := g.state.Phase
	o.phases.Disarm(gameID)
	logic.SetPhase(g.state, logic.PhaseGameEnded)
	o.persist(ctx, gameID, "update phase", func(ctx context.Context, repo Repository) error {
		return repo.UpdateGamePhase(ctx, gameID, logic.PhaseGameEnded, g.state.DayCount)
	})
	o.announcePhase(ctx, g, prev)
	o.settleLocked(ctx, g)
	return nil
}

// winnerOf returns the decided winner, or for a game cut short the side that
// still has a living member: mafia if any mafia survive.
func winnerOf(s *logic.GameState) logic.Team {
	if team, ok := logic.CheckWinner(s); ok {
		return team
	}
	if mafia, _ := s.AliveCounts(); mafia > 0 {
		return logic.TeamMafia
	}
	return logic.TeamCitizens
}

func playerResults(s *logic.GameState, winner logic.Team) map[string]models.PlayerResult {
	out := make(map[string]models.PlayerResult, len(s.Players))
	for _, p := range s.Players {
		role := s.Roles[p]
		out[p] = models.PlayerResult{
			Won:      role.Team() == winner,
			Role:     string(role),
			Survived: s.Alive[p],
			AFK:      s.Eliminated[p] == logic.ReasonAFK,
		}
	}
	return out
}

// settleLocked pays out rewards, records the result and drops the game from
// memory. The game must already be in game_ended.
func (o *Orchestrator) settleLocked(ctx context.Context, g *game) {
	if g.ended {
		return
	}
	g.ended = true
	s := g.state
	winner := winnerOf(s)
	results := playerResults(s, winner)

	var rewards map[string]int
	if o.economy != nil {
		o.collaborate(ctx, s.GameID, "rewards", func(ctx context.Context) error {
			r, err := o.economy.CalculateGameRewards(ctx, s.GameID, results)
			if err != nil {
				return fmt.Errorf("calculate: %w", err)
			}
			rewards = r
			if err := o.economy.DistributeGameRewards(ctx, s.GameID, r); err != nil {
				return fmt.Errorf("distribute: %w", err)
			}
			return nil
		})
	}

	o.persist(ctx, s.GameID, "end game", func(ctx context.Context, repo Repository) error {
		return repo.EndGame(ctx, s.GameID, winner, results)
	})

	o.broadcast(s.GameID, gateway.Message{
		"event":   "game_ended",
		"game_id": s.GameID,
		"winner":  winner,
		"results": results,
		"rewards": rewards,
	}, gateway.PriorityCritical)
	o.publish(ctx, events.TypeGameEnded, s.GameID, events.GameEndedPayload{
		GameID:  s.GameID,
		Winner:  string(winner),
		Results: results,
		Rewards: rewards,
		EndedAt: o.clock.Now(),
	})

	o.phases.Forget(s.GameID)
	o.votes.Discard(s.GameID)
	for _, p := range s.Players {
		o.afk.Cancel(afkKey(s.GameID, p))
	}
	o.forget(s.GameID)

	log.Info().
		Str("game_id", s.GameID).
		Str("winner", string(winner)).
		Int("days", s.DayCount).
		Msg("game ended")
}
