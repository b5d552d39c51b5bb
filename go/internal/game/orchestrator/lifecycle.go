package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/events"
	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/mcdev12/mafia/go/internal/game/phase"
	"github.com/mcdev12/mafia/go/internal/game/voting"
	"github.com/mcdev12/mafia/go/internal/gateway"
	"github.com/mcdev12/mafia/go/internal/models"
)

// skipChoice is the single target of a skip-discussion vote.
const skipChoice = "skip"

// CreateFromLobby registers a new game for the lobby's players and arms the
// start countdown.
func (o *Orchestrator) CreateFromLobby(ctx context.Context, players []models.PlayerProfile, settings models.LobbySettings) (string, error) {
	if len(players) < o.config.MinPlayers {
		return "", fmt.Errorf("%w: have %d, need %d", ErrNotEnoughSeats, len(players), o.config.MinPlayers)
	}

	ids := make([]string, 0, len(players))
	seen := make(map[string]bool, len(players))
	for _, p := range players {
		if seen[p.UserID] {
			return "", fmt.Errorf("duplicate player %s", p.UserID)
		}
		seen[p.UserID] = true
		ids = append(ids, p.UserID)
	}

	gameID := uuid.New().String()
	now := o.clock.Now()
	g := &game{
		state:        logic.NewGameState(gameID, ids),
		lobbyID:      settings.LobbyID,
		settings:     settings,
		disconnected: make(map[string]bool),
		createdAt:    now,
	}

	o.mu.Lock()
	o.games[gameID] = g
	o.mu.Unlock()

	g.mu.Lock()
	o.phases.ArmAfter(gameID, o.config.StartCountdown)
	g.phaseEndsAt = now.Add(o.config.StartCountdown)
	g.mu.Unlock()

	o.persist(ctx, gameID, "create game", func(ctx context.Context, repo Repository) error {
		return repo.CreateGame(ctx, gameID, ids, settings)
	})
	o.publish(ctx, events.TypeGameCreated, gameID, events.GameCreatedPayload{
		GameID:  gameID,
		LobbyID: settings.LobbyID,
		Players: ids,
	})

	log.Info().
		Str("game_id", gameID).
		Str("lobby_id", settings.LobbyID).
		Int("players", len(ids)).
		Dur("countdown", o.config.StartCountdown).
		Msg("game created from lobby")

	return gameID, nil
}

// StartGame deals roles and moves the game out of the lobby.
func (o *Orchestrator) StartGame(ctx context.Context, gameID string) error {
	g, ok := o.lookup(gameID)
	if !ok {
		return ErrGameNotFound
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return ErrGameOver
	}
	if g.state.Phase != logic.PhaseLobby {
		return ErrGameStarted
	}
	o.phases.Disarm(gameID)
	o.startLocked(ctx, g)
	return nil
}

func (o *Orchestrator) startLocked(ctx context.Context, g *game) {
	s := g.state
	roles := logic.AssignRoles(s, o.shuffleSource(), logic.RoleOptions{
		Tiers:             o.config.RoleTiers,
		DisableDetective:  !g.settings.EnableDetective,
		DisableProstitute: !g.settings.EnableProstitute,
	})
	mafia := s.PlayersWithRole(logic.RoleMafia, false)

	seated := s.AlivePlayers()
	for _, p := range seated {
		role := roles[p]
		msg := gateway.Message{
			"event":            "role_assigned",
			"game_id":          s.GameID,
			"role":             role,
			"role_description": role.Description(),
		}
		if role == logic.RoleMafia {
			msg["mafia_players"] = mafia
		}
		o.sendTo(p, msg, gateway.PriorityCritical)
	}

	o.persist(ctx, s.GameID, "update roles", func(ctx context.Context, repo Repository) error {
		for _, p := range seated {
			if err := repo.UpdatePlayerRole(ctx, s.GameID, p, roles[p]); err != nil {
				return fmt.Errorf("role of %s: %w", p, err)
			}
		}
		return nil
	})
	o.publish(ctx, events.TypeGameStarted, s.GameID, events.GameStartedPayload{
		GameID:    s.GameID,
		Players:   len(seated),
		StartedAt: o.clock.Now(),
	})

	log.Info().
		Str("game_id", s.GameID).
		Interface("role_counts", logic.RoleCounts(roles)).
		Msg("roles assigned")

	if _, err := o.advanceLocked(ctx, g); err != nil {
		log.Error().Err(err).Str("game_id", s.GameID).Msg("failed to advance after role assignment")
	}
}

// AdvancePhase moves the game to its next phase now, cancelling the pending
// timer first.
func (o *Orchestrator) AdvancePhase(ctx context.Context, gameID string) (logic.Phase, error) {
	g, ok := o.lookup(gameID)
	if !ok {
		return "", ErrGameNotFound
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended {
		return logic.PhaseGameEnded, ErrGameOver
	}
	o.phases.Disarm(gameID)
	if g.state.Phase == logic.PhaseLobby {
		o.startLocked(ctx, g)
		return g.state.Phase, nil
	}
	return o.advanceLocked(ctx, g)
}

func (o *Orchestrator) onPhaseTimeout(ctx context.Context, gameID string, token phase.Token) {
	g, ok := o.lookup(gameID)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ended || !o.phases.IsCurrent(gameID, token) {
		log.Debug().Str("game_id", gameID).Msg("stale phase timer ignored")
		return
	}
	if g.state.Phase == logic.PhaseLobby {
		o.startLocked(ctx, g)
		return
	}
	if _, err := o.advanceLocked(ctx, g); err != nil {
		log.Error().Err(err).Str("game_id", gameID).Msg("timed phase advance failed")
	}
}

// advanceLocked is the single mutation point of the phase cycle.
func (o *Orchestrator) advanceLocked(ctx context.Context, g *game) (logic.Phase, error) {
	s := g.state
	if g.ended {
		return s.Phase, ErrGameOver
	}

	prev := s.Phase
	o.leavePhase(ctx, g, prev)

	next, err := logic.Advance(s)
	if err != nil {
		return prev, fmt.Errorf("advance game %s: %w", s.GameID, err)
	}

	o.persist(ctx, s.GameID, "update phase", func(ctx context.Context, repo Repository) error {
		return repo.UpdateGamePhase(ctx, s.GameID, next, s.DayCount)
	})

	log.Info().
		Str("game_id", s.GameID).
		Str("from", string(prev)).
		Str("to", string(next)).
		Int("day", s.DayCount).
		Msg("phase advanced")

	if next == logic.PhaseGameEnded {
		o.announcePhase(ctx, g, prev)
		o.settleLocked(ctx, g)
		return next, nil
	}

	o.enterPhase(ctx, g, next)
	o.announcePhase(ctx, g, prev)

	if _, decided := logic.CheckWinner(s); decided {
		return o.advanceLocked(ctx, g)
	}
	return next, nil
}

func (o *Orchestrator) phaseDuration(g *game, p logic.Phase) time.Duration {
	switch p {
	case logic.PhaseDayDiscussion:
		if g.settings.DayDuration > 0 {
			return time.Duration(g.settings.DayDuration) * time.Second
		}
	case logic.PhaseDayVoting:
		if g.settings.VotingDuration > 0 {
			return time.Duration(g.settings.VotingDuration) * time.Second
		}
	}
	return o.phases.Duration(p)
}

func (o *Orchestrator) leavePhase(ctx context.Context, g *game, prev logic.Phase) {
	gameID := g.state.GameID
	switch prev {
	case logic.PhaseDayDiscussion:
		if g.skipSession != "" {
			o.votes.ResolveIfOpen(gameID, voting.TypeSkip)
			g.skipSession = ""
		}
	case logic.PhaseDayVoting:
		o.resolveDayVote(ctx, g)
	case logic.PhaseNightMafia:
		if g.mafiaSession != "" {
			o.votes.ResolveIfOpen(gameID, voting.TypeMafiaKill)
			g.mafiaSession = ""
		}
	}
}

func (o *Orchestrator) resolveDayVote(ctx context.Context, g *game) {
	gameID := g.state.GameID
	g.voteSession = ""
	res, ok := o.votes.ResolveIfOpen(gameID, voting.TypeDayElimination)
	if !ok {
		return
	}
	g.voteResult = &res

	o.broadcast(gameID, gateway.Message{
		"event":       "voting_results",
		"session_id":  res.SessionID,
		"eliminated":  res.Eliminated,
		"vote_counts": res.VoteCounts,
		"skips":       res.Skips,
	}, gateway.PriorityHigh)
	o.publish(ctx, events.TypeVoteResolved, gameID, events.VoteResolvedPayload{
		GameID:     gameID,
		SessionID:  res.SessionID,
		Eliminated: res.Eliminated,
		VoteCounts: res.VoteCounts,
	})
}

func (o *Orchestrator) enterPhase(ctx context.Context, g *game, next logic.Phase) {
	s := g.state
	switch next {
	case logic.PhaseDayDiscussion:
		sess, err := o.votes.Open(s.GameID, voting.TypeSkip, s.AlivePlayers(), []string{skipChoice}, o.phaseDuration(g, next))
		if err != nil {
			log.Warn().Err(err).Str("game_id", s.GameID).Msg("failed to open skip vote")
			return
		}
		g.skipSession = sess.ID

	case logic.PhaseDayVoting:
		alive := s.AlivePlayers()
		d := o.phaseDuration(g, next)
		sess, err := o.votes.Open(s.GameID, voting.TypeDayElimination, alive, alive, d)
		if err != nil {
			log.Error().Err(err).Str("game_id", s.GameID).Msg("failed to open day vote")
			return
		}
		g.voteSession = sess.ID
		o.broadcast(s.GameID, gateway.Message{
			"event":            "voting_started",
			"session_id":       sess.ID,
			"type":             sess.Type,
			"eligible_targets": alive,
			"ends_at":          o.clock.Now().Add(d),
		}, gateway.PriorityHigh)

	case logic.PhaseDayExecution:
		res := g.voteResult
		g.voteResult = nil
		if res != nil && res.Eliminated != nil {
			if err := o.eliminateLocked(ctx, g, *res.Eliminated, logic.ReasonVotedOut); err != nil {
				log.Warn().Err(err).Str("game_id", s.GameID).Msg("vote result not applied")
			}
		}

	case logic.PhaseNightMafia:
		var targets []string
		for _, p := range s.AlivePlayers() {
			if s.Roles[p] != logic.RoleMafia {
				targets = append(targets, p)
			}
		}
		sess, err := o.votes.Open(s.GameID, voting.TypeMafiaKill, s.PlayersWithRole(logic.RoleMafia, true), targets, o.phaseDuration(g, next))
		if err != nil {
			log.Warn().Err(err).Str("game_id", s.GameID).Msg("failed to open mafia vote")
			return
		}
		g.mafiaSession = sess.ID

	case logic.PhaseNightResults:
		o.resolveNightLocked(ctx, g)
	}
}

func (o *Orchestrator) resolveNightLocked(ctx context.Context, g *game) {
	s := g.state
	res := logic.ResolveNight(s)
	g.lastNight = &res

	if res.Killed != nil {
		if err := o.eliminateLocked(ctx, g, *res.Killed, logic.ReasonKilledByMafia); err != nil {
			log.Warn().Err(err).Str("game_id", s.GameID).Msg("night kill not applied")
		}
	}
	if inv := res.Investigation; inv != nil {
		o.sendTo(inv.Detective, gateway.Message{
			"event":    "investigation_result",
			"game_id":  s.GameID,
			"target":   inv.Target,
			"is_mafia": inv.IsMafia,
		}, gateway.PriorityCritical)
	}
	o.broadcast(s.GameID, gateway.Message{
		"event":  "night_results",
		"killed": res.Killed,
		"saved":  res.Saved,
	}, gateway.PriorityHigh)
}

// announcePhase re-arms the timer for the current phase and tells players and
// subscribers about it.
func (o *Orchestrator) announcePhase(ctx context.Context, g *game, prev logic.Phase) {
	s := g.state
	var endsAt time.Time
	if s.Phase == logic.PhaseGameEnded {
		o.phases.Disarm(s.GameID)
	} else {
		d := o.phaseDuration(g, s.Phase)
		o.phases.ArmAfter(s.GameID, d)
		endsAt = o.clock.Now().Add(d)
	}
	g.phaseEndsAt = endsAt

	msg := gateway.Message{
		"event":     "phase_changed",
		"game_id":   s.GameID,
		"phase":     s.Phase,
		"previous":  prev,
		"day_count": s.DayCount,
	}
	if !endsAt.IsZero() {
		msg["ends_at"] = endsAt
	}
	o.broadcast(s.GameID, msg, gateway.PriorityHigh)

	o.publish(ctx, events.TypePhaseChanged, s.GameID, events.PhaseChangedPayload{
		GameID:   s.GameID,
		Phase:    string(s.Phase),
		Previous: string(prev),
		DayCount: s.DayCount,
		EndsAt:   endsAt,
		Voice:    logic.VoiceCommands(s),
	})
}

// eliminateLocked removes a player and tells everyone. The caller runs the
// win check.
func (o *Orchestrator) eliminateLocked(ctx context.Context, g *game, playerID, reason string) error {
	s := g.state
	if err := logic.Eliminate(s, playerID, reason); err != nil {
		return err
	}
	role := s.Roles[playerID]

	// open votes and unresolved night actions must not wait on or land on
	// the departed player
	o.votes.Withdraw(s.GameID, playerID)
	if logic.PhaseAction(s.Phase) != "" {
		logic.ForgetActions(s, playerID)
	}

	o.afk.Cancel(afkKey(s.GameID, playerID))
	delete(g.disconnected, playerID)

	o.sendTo(playerID, gateway.Message{
		"event":   "eliminated",
		"game_id": s.GameID,
		"reason":  reason,
	}, gateway.PriorityCritical)
	o.broadcast(s.GameID, gateway.Message{
		"event":     "player_eliminated",
		"player_id": playerID,
		"reason":    reason,
	}, gateway.PriorityHigh)

	o.persist(ctx, s.GameID, "eliminate player", func(ctx context.Context, repo Repository) error {
		return repo.EliminatePlayer(ctx, s.GameID, playerID, reason)
	})
	o.publish(ctx, events.TypePlayerEliminated, s.GameID, events.PlayerEliminatedPayload{
		GameID:   s.GameID,
		PlayerID: playerID,
		Role:     string(role),
		Reason:   reason,
	})

	log.Info().
		Str("game_id", s.GameID).
		Str("player_id", playerID).
		Str("reason", reason).
		Msg("player eliminated")
	return nil
}
