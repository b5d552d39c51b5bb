package orchestrator

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/mcdev12/mafia/go/internal/game/voting"
	"github.com/mcdev12/mafia/go/internal/gateway"
)

// CastVote records a day ballot. A nil target is a skip. When the ballot
// completes the session the game advances at once.
func (o *Orchestrator) CastVote(ctx context.Context, sessionID, voterID string, targetID *string) bool {
	sess, ok := o.votes.Get(sessionID)
	if !ok {
		return false
	}
	g, ok := o.lookup(sess.GameID)
	if !ok {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state
	if g.ended || s.Phase != logic.PhaseDayVoting || g.voteSession != sessionID || !s.IsAlive(voterID) {
		return false
	}

	res, err := o.votes.Cast(sessionID, voterID, targetID)
	if err != nil {
		log.Debug().Err(err).Str("game_id", s.GameID).Str("voter_id", voterID).Msg("ballot rejected")
		return false
	}

	o.broadcast(s.GameID, gateway.Message{
		"event":      "vote_cast",
		"session_id": sessionID,
		"voter_id":   voterID,
		"votes_cast": res.Cast,
		"eligible":   res.Eligible,
	}, gateway.PriorityNormal)

	if res.Complete {
		log.Debug().Str("game_id", s.GameID).Msg("all ballots in, resolving early")
		o.earlyAdvanceLocked(ctx, g)
	}
	return true
}

// VoteSkipDiscussion records a player's wish to end the discussion early.
// The discussion ends once every alive player has answered and a majority
// wants to skip.
func (o *Orchestrator) VoteSkipDiscussion(ctx context.Context, gameID, playerID string, skip bool) bool {
	g, ok := o.lookup(gameID)
	if !ok {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state
	if g.ended || s.Phase != logic.PhaseDayDiscussion || g.skipSession == "" || !s.IsAlive(playerID) {
		return false
	}

	var choice *string
	if skip {
		c := skipChoice
		choice = &c
	}
	res, err := o.votes.Cast(g.skipSession, playerID, choice)
	if err != nil {
		return false
	}
	if !res.Complete {
		return true
	}

	sess, ok := o.votes.Get(g.skipSession)
	if !ok {
		return true
	}
	if result := voting.Tally(voting.TypeSkip, sess.Ballots()); result.Eliminated == nil {
		return true
	}
	log.Info().Str("game_id", gameID).Msg("discussion skipped by vote")
	o.earlyAdvanceLocked(ctx, g)
	return true
}

// SubmitNightAction records a night action. The night phase ends early once
// every alive holder of the acting role has acted.
func (o *Orchestrator) SubmitNightAction(ctx context.Context, gameID, playerID string, action logic.ActionType, targetID string) bool {
	g, ok := o.lookup(gameID)
	if !ok {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.state
	if g.ended {
		return false
	}
	if err := logic.SubmitAction(s, playerID, action, targetID); err != nil {
		log.Debug().
			Err(err).
			Str("game_id", gameID).
			Str("player_id", playerID).
			Str("action", string(action)).
			Msg("night action rejected")
		return false
	}

	recorded := s.Night[len(s.Night)-1]
	o.persist(ctx, gameID, "save action", func(ctx context.Context, repo Repository) error {
		return repo.SaveAction(ctx, gameID, recorded, s.Phase)
	})

	if action == logic.ActionKill {
		o.relayMafiaBallot(g, playerID, targetID)
	}

	if o.roleDone(g, action) {
		o.earlyAdvanceLocked(ctx, g)
	}
	return true
}

// relayMafiaBallot mirrors a kill ballot into the mafia vote and shows it to
// the other mafia.
func (o *Orchestrator) relayMafiaBallot(g *game, playerID, targetID string) {
	s := g.state
	if g.mafiaSession != "" {
		target := targetID
		if _, err := o.votes.Cast(g.mafiaSession, playerID, &target); err != nil {
			log.Debug().Err(err).Str("game_id", s.GameID).Msg("mafia ballot not mirrored")
		}
	}
	for _, m := range s.PlayersWithRole(logic.RoleMafia, true) {
		if m == playerID {
			continue
		}
		o.sendTo(m, gateway.Message{
			"event":     "mafia_vote",
			"game_id":   s.GameID,
			"voter_id":  playerID,
			"target_id": targetID,
		}, gateway.PriorityHigh)
	}
}

// roleDone reports whether every alive holder of the role behind action has
// acted this night.
func (o *Orchestrator) roleDone(g *game, action logic.ActionType) bool {
	s := g.state
	if action == logic.ActionKill {
		sess, ok := o.votes.Active(s.GameID, voting.TypeMafiaKill)
		if !ok {
			return false
		}
		return sess.Complete()
	}

	acted := make(map[string]bool)
	for _, a := range s.Night {
		if a.Type == action {
			acted[a.Actor] = true
		}
	}
	for _, p := range s.PlayersWithRole(action.Role(), true) {
		if !acted[p] {
			return false
		}
	}
	return true
}

// phaseSettledLocked reports whether nobody the current phase still waits on
// is left to act.
func (o *Orchestrator) phaseSettledLocked(g *game) bool {
	s := g.state
	switch s.Phase {
	case logic.PhaseDayDiscussion:
		sess, ok := o.votes.Active(s.GameID, voting.TypeSkip)
		return ok && sess.Complete() && voting.Tally(voting.TypeSkip, sess.Ballots()).Eliminated != nil
	case logic.PhaseDayVoting:
		sess, ok := o.votes.Active(s.GameID, voting.TypeDayElimination)
		return ok && sess.Complete()
	}
	if action := logic.PhaseAction(s.Phase); action != "" {
		return o.roleDone(g, action)
	}
	return false
}

func (o *Orchestrator) earlyAdvanceLocked(ctx context.Context, g *game) {
	o.phases.Disarm(g.state.GameID)
	if _, err := o.advanceLocked(ctx, g); err != nil {
		log.Error().Err(err).Str("game_id", g.state.GameID).Msg("early advance failed")
	}
}
