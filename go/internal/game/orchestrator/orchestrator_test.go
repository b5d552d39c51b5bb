package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/mafia/go/internal/events"
	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/mcdev12/mafia/go/internal/game/phase"
	"github.com/mcdev12/mafia/go/internal/gateway"
	"github.com/mcdev12/mafia/go/internal/models"
)

type sent struct {
	to       string // empty for a broadcast
	msg      gateway.Message
	priority gateway.Priority
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) Broadcast(gameID string, msg any, exclude []string, priority gateway.Priority) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{msg: msg.(gateway.Message), priority: priority})
	return 1
}

func (n *recordingNotifier) SendToUser(userID string, msg any, priority gateway.Priority) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{to: userID, msg: msg.(gateway.Message), priority: priority})
	return true
}

func (n *recordingNotifier) find(to, event string) []gateway.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []gateway.Message
	for _, s := range n.sent {
		if s.to == to && (s.msg["event"] == event || s.msg["type"] == event) {
			out = append(out, s.msg)
		}
	}
	return out
}

type fakeRepo struct {
	mu          sync.Mutex
	created     []string
	phases      []logic.Phase
	actions     []logic.NightAction
	eliminated  map[string]string
	winner      logic.Team
	results     map[string]models.PlayerResult
	roleUpdates int
}

func (r *fakeRepo) CreateGame(ctx context.Context, gameID string, players []string, settings models.LobbySettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, gameID)
	return nil
}

func (r *fakeRepo) UpdatePlayerRole(ctx context.Context, gameID, playerID string, role logic.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roleUpdates++
	return nil
}

func (r *fakeRepo) UpdateGamePhase(ctx context.Context, gameID string, phase logic.Phase, dayCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.phases = append(r.phases, phase)
	return nil
}

func (r *fakeRepo) SaveAction(ctx context.Context, gameID string, action logic.NightAction, phase logic.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return nil
}

func (r *fakeRepo) EliminatePlayer(ctx context.Context, gameID, playerID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.eliminated == nil {
		r.eliminated = make(map[string]string)
	}
	r.eliminated[playerID] = reason
	return nil
}

func (r *fakeRepo) EndGame(ctx context.Context, gameID string, winner logic.Team, results map[string]models.PlayerResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.winner = winner
	r.results = results
	return nil
}

type fakeEconomy struct {
	distributed map[string]int
}

func (e *fakeEconomy) CalculateGameRewards(ctx context.Context, gameID string, results map[string]models.PlayerResult) (map[string]int, error) {
	out := make(map[string]int, len(results))
	for p, r := range results {
		if r.Won {
			out[p] = 100
		} else {
			out[p] = 10
		}
	}
	return out, nil
}

func (e *fakeEconomy) DistributeGameRewards(ctx context.Context, gameID string, rewards map[string]int) error {
	e.distributed = rewards
	return nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	o        *Orchestrator
	clock    *clockwork.FakeClock
	notifier *recordingNotifier
	repo     *fakeRepo
	economy  *fakeEconomy
	pub      *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithDurations(t, phase.DefaultDurations())
}

func newHarnessWithDurations(t *testing.T, durations phase.Durations) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClock(),
		notifier: &recordingNotifier{},
		repo:     &fakeRepo{},
		economy:  &fakeEconomy{},
		pub:      &recordingPublisher{},
	}
	h.o = New(DefaultConfig(), Deps{
		Clock:     h.clock,
		Phases:    phase.NewManager(h.clock, durations),
		Repo:      h.repo,
		Economy:   h.economy,
		Notifier:  h.notifier,
		Publisher: h.pub,
		Rand:      rand.New(rand.NewSource(7)),
	})
	h.o.Start(context.Background())
	t.Cleanup(h.o.Stop)
	return h
}

func profiles(n int) []models.PlayerProfile {
	out := make([]models.PlayerProfile, n)
	for i := range out {
		out[i] = models.PlayerProfile{UserID: fmt.Sprintf("p%d", i+1), Rating: 1000}
	}
	return out
}

func (h *harness) create(t *testing.T, n int) string {
	t.Helper()
	gameID, err := h.o.CreateFromLobby(context.Background(), profiles(n), models.DefaultLobbySettings("lobby-1", models.GameModeQuick, "en"))
	require.NoError(t, err)
	return gameID
}

func (h *harness) started(t *testing.T, n int) string {
	t.Helper()
	gameID := h.create(t, n)
	require.NoError(t, h.o.StartGame(context.Background(), gameID))
	return gameID
}

func (h *harness) withRole(t *testing.T, gameID string, role logic.Role) []string {
	t.Helper()
	g, ok := h.o.lookup(gameID)
	require.True(t, ok)
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.PlayersWithRole(role, true)
}

func (h *harness) phase(gameID string) logic.Phase {
	p, _ := h.o.Phase(gameID)
	return p
}

func (h *harness) advanceTo(t *testing.T, gameID string, want logic.Phase) {
	t.Helper()
	for i := 0; i < 12 && h.phase(gameID) != want; i++ {
		_, err := h.o.AdvancePhase(context.Background(), gameID)
		require.NoError(t, err)
	}
	require.Equal(t, want, h.phase(gameID))
}

func ptr(s string) *string { return &s }

func TestHandlerTimeoutCoversCollaboratorCalls(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 50*time.Second, cfg.HandlerTimeout())

	cfg.CollaboratorTimeout = time.Second
	assert.Equal(t, 10*time.Second, cfg.HandlerTimeout())
	assert.Greater(t, cfg.HandlerTimeout(), 8*cfg.CollaboratorTimeout, "an advance that ends the game makes eight calls")

	cfg.CollaboratorTimeout = 0
	assert.Equal(t, DefaultConfig().HandlerTimeout(), cfg.HandlerTimeout())
}

func TestCreateFromLobby(t *testing.T) {
	h := newHarness(t)

	_, err := h.o.CreateFromLobby(context.Background(), profiles(3), models.DefaultLobbySettings("l", models.GameModeQuick, "en"))
	require.ErrorIs(t, err, ErrNotEnoughSeats)

	dup := profiles(4)
	dup[3].UserID = dup[0].UserID
	_, err = h.o.CreateFromLobby(context.Background(), dup, models.DefaultLobbySettings("l", models.GameModeQuick, "en"))
	require.Error(t, err)

	gameID := h.create(t, 6)
	assert.Equal(t, logic.PhaseLobby, h.phase(gameID))
	assert.Equal(t, []string{gameID}, h.repo.created)
	require.Len(t, h.pub.ofType(events.TypeGameCreated), 1)
	assert.Equal(t, 1, h.o.ActiveGames())
}

func TestStartGameDealsRoles(t *testing.T) {
	h := newHarness(t)
	gameID := h.started(t, 8)

	assert.Equal(t, logic.PhaseRoleAssignment, h.phase(gameID))
	assert.Len(t, h.withRole(t, gameID, logic.RoleMafia), 2)
	assert.Len(t, h.withRole(t, gameID, logic.RoleDoctor), 1)
	assert.Len(t, h.withRole(t, gameID, logic.RoleDetective), 1)
	assert.Len(t, h.withRole(t, gameID, logic.RoleCitizen), 4)
	assert.Equal(t, 8, h.repo.roleUpdates)

	mafia := h.withRole(t, gameID, logic.RoleMafia)
	for _, p := range profiles(8) {
		msgs := h.notifier.find(p.UserID, "role_assigned")
		require.Len(t, msgs, 1, p.UserID)
		_, seesMafia := msgs[0]["mafia_players"]
		assert.Equal(t, msgs[0]["role"] == logic.RoleMafia, seesMafia)
		if seesMafia {
			assert.ElementsMatch(t, mafia, msgs[0]["mafia_players"])
		}
	}

	require.ErrorIs(t, h.o.StartGame(context.Background(), gameID), ErrGameStarted)
}

func TestFullGameCitizensWin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.started(t, 8)

	mafia := h.withRole(t, gameID, logic.RoleMafia)
	doctor := h.withRole(t, gameID, logic.RoleDoctor)[0]
	detective := h.withRole(t, gameID, logic.RoleDetective)[0]
	citizen := h.withRole(t, gameID, logic.RoleCitizen)[0]
	require.Len(t, mafia, 2)

	// day 1: everybody votes out the first mafia
	h.advanceTo(t, gameID, logic.PhaseDayVoting)
	view, err := h.o.GetStateFor(gameID, citizen)
	require.NoError(t, err)
	require.NotEmpty(t, view.VoteSession)
	for _, p := range view.AlivePlayers {
		require.True(t, h.o.CastVote(ctx, view.VoteSession, p, ptr(mafia[0])))
	}
	assert.Equal(t, logic.PhaseDayExecution, h.phase(gameID), "last ballot resolves the vote early")
	assert.Equal(t, logic.ReasonVotedOut, h.repo.eliminated[mafia[0]])
	assert.False(t, h.o.CastVote(ctx, view.VoteSession, citizen, ptr(mafia[1])))

	// night 1: the kill is healed, the detective finds the last mafia
	h.advanceTo(t, gameID, logic.PhaseNightMafia)
	require.True(t, h.o.SubmitNightAction(ctx, gameID, mafia[1], logic.ActionKill, citizen))
	assert.Equal(t, logic.PhaseNightDoctor, h.phase(gameID), "lone mafia ends the mafia phase")
	require.True(t, h.o.SubmitNightAction(ctx, gameID, doctor, logic.ActionHeal, citizen))
	h.advanceTo(t, gameID, logic.PhaseNightDetective)
	require.True(t, h.o.SubmitNightAction(ctx, gameID, detective, logic.ActionInvestigate, mafia[1]))
	assert.Equal(t, logic.PhaseNightResults, h.phase(gameID))

	inv := h.notifier.find(detective, "investigation_result")
	require.Len(t, inv, 1)
	assert.Equal(t, true, inv[0]["is_mafia"])
	night := h.notifier.find("", "night_results")
	require.NotEmpty(t, night)
	assert.Equal(t, true, night[len(night)-1]["saved"])

	// day 2: the last mafia goes
	h.advanceTo(t, gameID, logic.PhaseDayVoting)
	view, err = h.o.GetStateFor(gameID, citizen)
	require.NoError(t, err)
	assert.Equal(t, 2, view.DayCount)
	assert.Len(t, view.AlivePlayers, 7)
	for _, p := range view.AlivePlayers {
		h.o.CastVote(ctx, view.VoteSession, p, ptr(mafia[1]))
	}

	_, ok := h.o.Phase(gameID)
	assert.False(t, ok, "finished games leave memory")
	assert.Equal(t, logic.TeamCitizens, h.repo.winner)
	assert.True(t, h.repo.results[citizen].Won)
	assert.False(t, h.repo.results[mafia[1]].Won)
	assert.Equal(t, 100, h.economy.distributed[citizen])

	ended := h.pub.ofType(events.TypeGameEnded)
	require.Len(t, ended, 1)
	var payload events.GameEndedPayload
	require.NoError(t, ended[0].Decode(&payload))
	assert.Equal(t, "citizens", payload.Winner)

	msgs := h.notifier.find("", "game_ended")
	require.Len(t, msgs, 1)
	assert.Equal(t, logic.TeamCitizens, msgs[0]["winner"])
	assert.Equal(t, logic.PhaseGameEnded, h.repo.phases[len(h.repo.phases)-1])
}

func TestMafiaWinsAtParity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.started(t, 4) // one mafia, one doctor, two citizens

	mafia := h.withRole(t, gameID, logic.RoleMafia)[0]
	citizens := h.withRole(t, gameID, logic.RoleCitizen)

	h.advanceTo(t, gameID, logic.PhaseDayVoting)
	view, err := h.o.GetStateFor(gameID, mafia)
	require.NoError(t, err)
	for _, p := range view.AlivePlayers {
		h.o.CastVote(ctx, view.VoteSession, p, ptr(citizens[0]))
	}
	require.Equal(t, logic.PhaseDayExecution, h.phase(gameID))

	h.advanceTo(t, gameID, logic.PhaseNightMafia)
	require.True(t, h.o.SubmitNightAction(ctx, gameID, mafia, logic.ActionKill, citizens[1]))
	h.advanceTo(t, gameID, logic.PhaseNightDetective)
	last, err := h.o.AdvancePhase(ctx, gameID)
	require.NoError(t, err)
	assert.Equal(t, logic.PhaseGameEnded, last)
	_, ok := h.o.Phase(gameID)
	assert.False(t, ok)
	assert.Equal(t, logic.TeamMafia, h.repo.winner)
}

func TestDayVoteTieEliminatesNobody(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.started(t, 4)
	players := []string{"p1", "p2", "p3", "p4"}

	h.advanceTo(t, gameID, logic.PhaseDayVoting)
	view, err := h.o.GetStateFor(gameID, "p1")
	require.NoError(t, err)
	h.o.CastVote(ctx, view.VoteSession, "p1", ptr("p2"))
	h.o.CastVote(ctx, view.VoteSession, "p2", ptr("p1"))
	h.o.CastVote(ctx, view.VoteSession, "p3", ptr("p2"))
	h.o.CastVote(ctx, view.VoteSession, "p4", ptr("p1"))

	require.Equal(t, logic.PhaseDayExecution, h.phase(gameID))
	view, err = h.o.GetStateFor(gameID, "p1")
	require.NoError(t, err)
	assert.ElementsMatch(t, players, view.AlivePlayers)

	results := h.notifier.find("", "voting_results")
	require.Len(t, results, 1)
	assert.Nil(t, results[0]["eliminated"])
}

func TestVoteRejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.started(t, 6)

	assert.False(t, h.o.CastVote(ctx, "missing", "p1", ptr("p2")))

	h.advanceTo(t, gameID, logic.PhaseDayVoting)
	view, err := h.o.GetStateFor(gameID, "p1")
	require.NoError(t, err)
	assert.False(t, h.o.CastVote(ctx, view.VoteSession, "stranger", ptr("p2")))
	assert.False(t, h.o.CastVote(ctx, view.VoteSession, "p1", ptr("stranger")))
	assert.True(t, h.o.CastVote(ctx, view.VoteSession, "p1", nil))
	assert.True(t, h.o.CastVote(ctx, view.VoteSession, "p1", ptr("p2")), "a voter may change their ballot")

	mafia := h.withRole(t, gameID, logic.RoleMafia)[0]
	assert.False(t, h.o.SubmitNightAction(ctx, gameID, mafia, logic.ActionKill, "p1"), "kills only at night")
}

func TestSkipDiscussionByMajority(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.started(t, 4)
	h.advanceTo(t, gameID, logic.PhaseDayDiscussion)

	require.True(t, h.o.VoteSkipDiscussion(ctx, gameID, "p1", true))
	require.True(t, h.o.VoteSkipDiscussion(ctx, gameID, "p2", true))
	require.True(t, h.o.VoteSkipDiscussion(ctx, gameID, "p3", false))
	assert.Equal(t, logic.PhaseDayDiscussion, h.phase(gameID))
	require.True(t, h.o.VoteSkipDiscussion(ctx, gameID, "p4", true))
	assert.Equal(t, logic.PhaseDayVoting, h.phase(gameID))
}

func TestSkipDiscussionNeedsMajority(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.started(t, 4)
	h.advanceTo(t, gameID, logic.PhaseDayDiscussion)

	h.o.VoteSkipDiscussion(ctx, gameID, "p1", true)
	h.o.VoteSkipDiscussion(ctx, gameID, "p2", true)
	h.o.VoteSkipDiscussion(ctx, gameID, "p3", false)
	h.o.VoteSkipDiscussion(ctx, gameID, "p4", false)
	assert.Equal(t, logic.PhaseDayDiscussion, h.phase(gameID))
}

func TestStartCountdownTimer(t *testing.T) {
	h := newHarness(t)
	gameID := h.create(t, 5)

	h.clock.Advance(DefaultConfig().StartCountdown)
	require.Eventually(t, func() bool {
		return h.phase(gameID) == logic.PhaseRoleAssignment
	}, time.Second, 5*time.Millisecond)

	h.clock.Advance(h.o.phases.Duration(logic.PhaseRoleAssignment))
	require.Eventually(t, func() bool {
		return h.phase(gameID) == logic.PhaseDayDiscussion
	}, time.Second, 5*time.Millisecond)
}

func TestManualAdvanceCancelsPendingTimer(t *testing.T) {
	h := newHarness(t)
	gameID := h.started(t, 5)

	_, err := h.o.AdvancePhase(context.Background(), gameID)
	require.NoError(t, err)
	require.Equal(t, logic.PhaseDayDiscussion, h.phase(gameID))

	h.clock.Advance(h.o.phases.Duration(logic.PhaseRoleAssignment))
	require.Never(t, func() bool {
		return h.phase(gameID) != logic.PhaseDayDiscussion
	}, 50*time.Millisecond, 5*time.Millisecond)

	view, err := h.o.GetStateFor(gameID, "p1")
	require.NoError(t, err)
	require.NotNil(t, view.PhaseEndsAt)
	h.clock.Advance(view.PhaseEndsAt.Sub(h.clock.Now()))
	require.Eventually(t, func() bool {
		return h.phase(gameID) == logic.PhaseDayVoting
	}, time.Second, 5*time.Millisecond)
}

func TestRulesPhaseLengthsApplyToLobbyGames(t *testing.T) {
	h := newHarnessWithDurations(t, phase.DurationsFromSeconds(map[string]int{
		"day_discussion": 20,
		"day_voting":     15,
	}))
	gameID := h.started(t, 5)
	h.advanceTo(t, gameID, logic.PhaseDayDiscussion)

	view, err := h.o.GetStateFor(gameID, "p1")
	require.NoError(t, err)
	require.NotNil(t, view.PhaseEndsAt)
	assert.Equal(t, 20*time.Second, view.PhaseEndsAt.Sub(h.clock.Now()))

	h.clock.Advance(20 * time.Second)
	require.Eventually(t, func() bool {
		return h.phase(gameID) == logic.PhaseDayVoting
	}, time.Second, 5*time.Millisecond)
	view, err = h.o.GetStateFor(gameID, "p1")
	require.NoError(t, err)
	require.NotNil(t, view.PhaseEndsAt)
	assert.Equal(t, 15*time.Second, view.PhaseEndsAt.Sub(h.clock.Now()))
}

func TestHostPhaseLengthsOverrideRules(t *testing.T) {
	h := newHarnessWithDurations(t, phase.DurationsFromSeconds(map[string]int{"day_discussion": 20}))
	settings := models.DefaultLobbySettings("lobby-2", models.GameModeFriends, "en")
	settings.DayDuration = 45
	gameID, err := h.o.CreateFromLobby(context.Background(), profiles(5), settings)
	require.NoError(t, err)
	require.NoError(t, h.o.StartGame(context.Background(), gameID))
	h.advanceTo(t, gameID, logic.PhaseDayDiscussion)

	view, err := h.o.GetStateFor(gameID, "p1")
	require.NoError(t, err)
	require.NotNil(t, view.PhaseEndsAt)
	assert.Equal(t, 45*time.Second, view.PhaseEndsAt.Sub(h.clock.Now()))
}

func TestAFKElimination(t *testing.T) {
	h := newHarness(t)
	gameID := h.started(t, 8)
	h.advanceTo(t, gameID, logic.PhaseDayDiscussion)
	citizen := h.withRole(t, gameID, logic.RoleCitizen)[0]

	h.o.HandleDisconnect(gameID, citizen)
	h.clock.Advance(DefaultConfig().AFKTimeout)

	require.Eventually(t, func() bool {
		view, err := h.o.GetStateFor(gameID, citizen)
		return err == nil && !view.IsAlive
	}, time.Second, 5*time.Millisecond)
	view, err := h.o.GetStateFor(gameID, citizen)
	require.NoError(t, err)
	assert.Equal(t, logic.ReasonAFK, view.Eliminated[citizen])
	assert.Len(t, h.notifier.find(citizen, "eliminated"), 1)
}

// longPhases keeps phase timers out of the way of AFK countdowns.
func longPhases() phase.Durations {
	return phase.DurationsFromSeconds(map[string]int{
		"day_voting":  600,
		"night_mafia": 600,
	})
}

func (h *harness) afk(t *testing.T, gameID, playerID string) {
	t.Helper()
	h.o.HandleDisconnect(gameID, playerID)
	h.clock.Advance(DefaultConfig().AFKTimeout)
	require.Eventually(t, func() bool {
		view, err := h.o.GetStateFor(gameID, playerID)
		return err == nil && !view.IsAlive
	}, time.Second, 5*time.Millisecond)
}

func TestAFKDropsPlayerFromDayVote(t *testing.T) {
	h := newHarnessWithDurations(t, longPhases())
	ctx := context.Background()
	gameID := h.started(t, 8)
	mafia := h.withRole(t, gameID, logic.RoleMafia)
	citizens := h.withRole(t, gameID, logic.RoleCitizen)
	gone, late := citizens[0], citizens[1]

	h.advanceTo(t, gameID, logic.PhaseDayVoting)
	view, err := h.o.GetStateFor(gameID, late)
	require.NoError(t, err)
	require.True(t, h.o.CastVote(ctx, view.VoteSession, late, ptr(gone)))
	for _, p := range view.AlivePlayers {
		if p != gone && p != late {
			require.True(t, h.o.CastVote(ctx, view.VoteSession, p, ptr(mafia[0])))
		}
	}

	h.afk(t, gameID, gone)
	assert.Equal(t, logic.PhaseDayVoting, h.phase(gameID), "the ballot aimed at the AFK player must be recast")
	assert.False(t, h.o.CastVote(ctx, view.VoteSession, gone, ptr(mafia[0])))
	assert.False(t, h.o.CastVote(ctx, view.VoteSession, late, ptr(gone)))

	require.True(t, h.o.CastVote(ctx, view.VoteSession, late, ptr(mafia[0])))
	assert.Equal(t, logic.PhaseDayExecution, h.phase(gameID))
	view, err = h.o.GetStateFor(gameID, late)
	require.NoError(t, err)
	assert.Equal(t, logic.ReasonVotedOut, view.Eliminated[mafia[0]])
}

func TestAFKOfLastVoterResolvesDayVote(t *testing.T) {
	h := newHarnessWithDurations(t, longPhases())
	ctx := context.Background()
	gameID := h.started(t, 8)
	mafia := h.withRole(t, gameID, logic.RoleMafia)
	gone := h.withRole(t, gameID, logic.RoleCitizen)[0]

	h.advanceTo(t, gameID, logic.PhaseDayVoting)
	view, err := h.o.GetStateFor(gameID, gone)
	require.NoError(t, err)
	for _, p := range view.AlivePlayers {
		if p != gone {
			require.True(t, h.o.CastVote(ctx, view.VoteSession, p, ptr(mafia[0])))
		}
	}
	require.Equal(t, logic.PhaseDayVoting, h.phase(gameID))

	h.afk(t, gameID, gone)
	require.Eventually(t, func() bool {
		return h.phase(gameID) == logic.PhaseDayExecution
	}, time.Second, 5*time.Millisecond)
	view, err = h.o.GetStateFor(gameID, gone)
	require.NoError(t, err)
	assert.Equal(t, logic.ReasonVotedOut, view.Eliminated[mafia[0]])
}

func TestAFKMafiaEndsMafiaPhase(t *testing.T) {
	h := newHarnessWithDurations(t, longPhases())
	ctx := context.Background()
	gameID := h.started(t, 8)
	mafia := h.withRole(t, gameID, logic.RoleMafia)
	citizen := h.withRole(t, gameID, logic.RoleCitizen)[0]

	h.advanceTo(t, gameID, logic.PhaseNightMafia)
	require.True(t, h.o.SubmitNightAction(ctx, gameID, mafia[0], logic.ActionKill, citizen))
	require.Equal(t, logic.PhaseNightMafia, h.phase(gameID))

	h.afk(t, gameID, mafia[1])
	require.Eventually(t, func() bool {
		return h.phase(gameID) == logic.PhaseNightDoctor
	}, time.Second, 5*time.Millisecond)
}

func TestPlayersGoneInLobbyGetNoRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.create(t, 7)

	g, ok := h.o.lookup(gameID)
	require.True(t, ok)
	g.mu.Lock()
	require.NoError(t, h.o.eliminateLocked(ctx, g, "p7", logic.ReasonAFK))
	g.mu.Unlock()

	require.NoError(t, h.o.StartGame(ctx, gameID))
	assert.Empty(t, h.notifier.find("p7", "role_assigned"))
	assert.Len(t, h.notifier.find("p1", "role_assigned"), 1)
	assert.Equal(t, 6, h.repo.roleUpdates)

	view, err := h.o.GetStateFor(gameID, "p7")
	require.NoError(t, err)
	assert.Empty(t, view.MyRole)
	assert.Len(t, view.AlivePlayers, 6)
}

func TestReconnectCancelsAFK(t *testing.T) {
	h := newHarness(t)
	gameID := h.started(t, 8)
	h.advanceTo(t, gameID, logic.PhaseDayDiscussion)
	citizen := h.withRole(t, gameID, logic.RoleCitizen)[0]

	h.o.HandleDisconnect(gameID, citizen)
	h.clock.Advance(DefaultConfig().AFKTimeout / 2)
	h.o.HandleReconnect(gameID, citizen)
	h.clock.Advance(DefaultConfig().AFKTimeout)

	require.Never(t, func() bool {
		view, err := h.o.GetStateFor(gameID, citizen)
		return err != nil || !view.IsAlive
	}, 50*time.Millisecond, 5*time.Millisecond)
	assert.Len(t, h.notifier.find("", "player_reconnected"), 1)
}

func TestEndGameForced(t *testing.T) {
	h := newHarness(t)
	gameID := h.started(t, 6)

	require.NoError(t, h.o.EndGame(context.Background(), gameID))
	assert.Equal(t, logic.TeamMafia, h.repo.winner, "mafia still alive wins a game cut short")
	assert.Equal(t, 0, h.o.ActiveGames())
	require.ErrorIs(t, h.o.EndGame(context.Background(), gameID), ErrGameNotFound)
}

func TestGetStateHidesMafia(t *testing.T) {
	h := newHarness(t)
	gameID := h.started(t, 8)
	mafia := h.withRole(t, gameID, logic.RoleMafia)
	citizen := h.withRole(t, gameID, logic.RoleCitizen)[0]

	view, err := h.o.GetStateFor(gameID, mafia[0])
	require.NoError(t, err)
	assert.ElementsMatch(t, mafia, view.MafiaPlayers)
	assert.Equal(t, logic.RoleMafia, view.MyRole)

	view, err = h.o.GetStateFor(gameID, citizen)
	require.NoError(t, err)
	assert.Empty(t, view.MafiaPlayers)
	assert.Equal(t, logic.RoleCitizen, view.MyRole)

	_, err = h.o.GetStateFor("missing", citizen)
	require.ErrorIs(t, err, ErrGameNotFound)
}

func clientEvent(t *testing.T, gameID, userID, msgType string, body map[string]any) events.Event {
	t.Helper()
	body["type"] = msgType
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	ev, err := events.New(events.ClientType(msgType), gameID, events.ClientMessagePayload{
		UserID: userID,
		GameID: gameID,
		Type:   msgType,
		Raw:    raw,
	})
	require.NoError(t, err)
	return ev
}

func TestClientEventsThroughBus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bus := events.NewBus(time.Second)
	unsubscribe := h.o.Subscribe(bus)
	defer unsubscribe()

	gameID := h.started(t, 4)
	h.advanceTo(t, gameID, logic.PhaseDayVoting)
	view, err := h.o.GetStateFor(gameID, "p1")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, clientEvent(t, gameID, "p1", MsgVote, map[string]any{
		"session_id": view.VoteSession,
		"target_id":  "p2",
	})))
	assert.Len(t, h.notifier.find("", "vote_cast"), 1)

	require.NoError(t, bus.Publish(ctx, clientEvent(t, gameID, "p1", MsgNightAction, map[string]any{
		"action":    "heal",
		"target_id": "p2",
	})))
	errs := h.notifier.find("p1", "error")
	require.Len(t, errs, 1)
	assert.Equal(t, "Action rejected", errs[0]["error"])

	require.NoError(t, bus.Publish(ctx, clientEvent(t, gameID, "p3", MsgChat, map[string]any{"message": " hello "})))
	chat := h.notifier.find("", "chat")
	require.Len(t, chat, 1)
	assert.Equal(t, "hello", chat[0]["message"])

	require.NoError(t, bus.Publish(ctx, clientEvent(t, gameID, "p4", MsgGetState, map[string]any{})))
	state := h.notifier.find("p4", "game_state")
	require.Len(t, state, 1)
	assert.Equal(t, logic.PhaseDayVoting, state[0]["state"].(PlayerView).Phase)
}

func TestMafiaChatAtNight(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	gameID := h.started(t, 8)
	mafia := h.withRole(t, gameID, logic.RoleMafia)
	citizen := h.withRole(t, gameID, logic.RoleCitizen)[0]
	h.advanceTo(t, gameID, logic.PhaseNightMafia)

	require.NoError(t, h.o.HandleClientEvent(ctx, clientEvent(t, gameID, mafia[0], MsgChat, map[string]any{"message": "them"})))
	assert.Len(t, h.notifier.find(mafia[1], "chat"), 1)
	assert.Empty(t, h.notifier.find("", "chat"))

	require.NoError(t, h.o.HandleClientEvent(ctx, clientEvent(t, gameID, citizen, MsgChat, map[string]any{"message": "hi"})))
	errs := h.notifier.find(citizen, "error")
	require.Len(t, errs, 1)
	assert.Equal(t, "You cannot chat now", errs[0]["error"])
}
