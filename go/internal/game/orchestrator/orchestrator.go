package orchestrator

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/events"
	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/mcdev12/mafia/go/internal/game/phase"
	"github.com/mcdev12/mafia/go/internal/game/voting"
	"github.com/mcdev12/mafia/go/internal/gateway"
	"github.com/mcdev12/mafia/go/internal/models"
)

var (
	ErrGameNotFound   = errors.New("game not found")
	ErrGameStarted    = errors.New("game already started")
	ErrGameOver       = errors.New("game is over")
	ErrNotEnoughSeats = errors.New("not enough players to start a game")
)

// Repository persists game records.
type Repository interface {
	CreateGame(ctx context.Context, gameID string, players []string, settings models.LobbySettings) error
	UpdatePlayerRole(ctx context.Context, gameID, playerID string, role logic.Role) error
	UpdateGamePhase(ctx context.Context, gameID string, phase logic.Phase, dayCount int) error
	SaveAction(ctx context.Context, gameID string, action logic.NightAction, phase logic.Phase) error
	EliminatePlayer(ctx context.Context, gameID, playerID, reason string) error
	EndGame(ctx context.Context, gameID string, winner logic.Team, results map[string]models.PlayerResult) error
}

// Economy settles rewards for a finished game.
type Economy interface {
	CalculateGameRewards(ctx context.Context, gameID string, results map[string]models.PlayerResult) (map[string]int, error)
	DistributeGameRewards(ctx context.Context, gameID string, rewards map[string]int) error
}

// Notifier delivers messages to connected players.
type Notifier interface {
	Broadcast(gameID string, msg any, exclude []string, priority gateway.Priority) int
	SendToUser(userID string, msg any, priority gateway.Priority) bool
}

// Publisher publishes lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Config holds orchestrator timing and rules.
type Config struct {
	StartCountdown      time.Duration    `yaml:"start_countdown"`
	AFKTimeout          time.Duration    `yaml:"afk_timeout"`
	CollaboratorTimeout time.Duration    `yaml:"collaborator_timeout"`
	MinPlayers          int              `yaml:"min_players"`
	RoleTiers           []logic.RoleTier `yaml:"role_tiers"`
}

func DefaultConfig() Config {
	return Config{
		StartCountdown:      10 * time.Second,
		AFKTimeout:          120 * time.Second,
		CollaboratorTimeout: 5 * time.Second,
		MinPlayers:          4,
		RoleTiers:           logic.DefaultRoleTiers,
	}
}

// maxCollaboratorCalls bounds the repository, economy and publisher calls a
// single action makes under a game lock: an AFK elimination followed by an
// advance that settles the game.
const maxCollaboratorCalls = 10

// HandlerTimeout is how long an event handler driving the orchestrator may
// run before the bus gives up on it.
func (c Config) HandlerTimeout() time.Duration {
	d := c.CollaboratorTimeout
	if d <= 0 {
		d = DefaultConfig().CollaboratorTimeout
	}
	return maxCollaboratorCalls * d
}

// Deps are the collaborators of an Orchestrator. Clock, Phases and Votes
// default to fresh instances on a real clock; Rand defaults to a time seed.
type Deps struct {
	Clock     clockwork.Clock
	Phases    *phase.Manager
	Votes     *voting.Engine
	Repo      Repository
	Economy   Economy
	Notifier  Notifier
	Publisher Publisher
	Rand      *rand.Rand
}

// game is the registry entry of one active game. mu serializes every
// mutation of the game: timer expiry, manual advance, ballots, night actions
// and AFK elimination.
type game struct {
	mu       sync.Mutex
	state    *logic.GameState
	lobbyID  string
	settings models.LobbySettings

	voteSession  string
	skipSession  string
	mafiaSession string
	voteResult   *voting.Result
	lastNight    *logic.NightResult

	disconnected map[string]bool
	createdAt    time.Time
	phaseEndsAt  time.Time
	ended        bool
}

// Orchestrator runs the lifecycle of every active game.
type Orchestrator struct {
	config    Config
	clock     clockwork.Clock
	phases    *phase.Manager
	votes     *voting.Engine
	afk       *phase.Timers
	repo      Repository
	economy   Economy
	notifier  Notifier
	publisher Publisher

	rngMu sync.Mutex
	rng   *rand.Rand

	mu    sync.RWMutex
	games map[string]*game
}

func New(config Config, deps Deps) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Phases == nil {
		deps.Phases = phase.NewManager(deps.Clock, phase.DefaultDurations())
	}
	if deps.Votes == nil {
		deps.Votes = voting.NewEngine(deps.Clock)
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(deps.Clock.Now().UnixNano()))
	}
	if len(config.RoleTiers) == 0 {
		config.RoleTiers = logic.DefaultRoleTiers
	}

	o := &Orchestrator{
		config:    config,
		clock:     deps.Clock,
		phases:    deps.Phases,
		votes:     deps.Votes,
		afk:       phase.NewTimers(deps.Clock),
		repo:      deps.Repo,
		economy:   deps.Economy,
		notifier:  deps.Notifier,
		publisher: deps.Publisher,
		rng:       deps.Rand,
		games:     make(map[string]*game),
	}
	o.phases.SetHandler(o.onPhaseTimeout)
	return o
}

// Start binds the phase and AFK timers to ctx.
func (o *Orchestrator) Start(ctx context.Context) {
	o.phases.Start(ctx)
	o.afk.Bind(ctx)
	log.Info().Msg("game orchestrator started")
}

// Stop cancels every pending timer. Game state is kept.
func (o *Orchestrator) Stop() {
	o.phases.Stop()
	o.afk.Stop()
	log.Info().Int("active_games", o.ActiveGames()).Msg("game orchestrator stopped")
}

// ActiveGames returns the number of games in memory.
func (o *Orchestrator) ActiveGames() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.games)
}

func (o *Orchestrator) lookup(gameID string) (*game, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	g, ok := o.games[gameID]
	return g, ok
}

func (o *Orchestrator) forget(gameID string) {
	o.mu.Lock()
	delete(o.games, gameID)
	o.mu.Unlock()
}

// collaborate runs fn with a bounded context. Failures are logged; the
// in-memory game has already moved on.
func (o *Orchestrator) collaborate(ctx context.Context, gameID, op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.config.CollaboratorTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error().
			Err(err).
			Str("game_id", gameID).
			Str("op", op).
			Msg("collaborator call failed")
	}
}

func (o *Orchestrator) persist(ctx context.Context, gameID, op string, fn func(ctx context.Context, repo Repository) error) {
	if o.repo == nil {
		return
	}
	o.collaborate(ctx, gameID, op, func(ctx context.Context) error { return fn(ctx, o.repo) })
}

func (o *Orchestrator) publish(ctx context.Context, t events.Type, gameID string, payload any) {
	if o.publisher == nil {
		return
	}
	ev, err := events.New(t, gameID, payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	o.collaborate(ctx, gameID, "publish "+string(t), func(ctx context.Context) error {
		return o.publisher.Publish(ctx, ev)
	})
}

func (o *Orchestrator) broadcast(gameID string, msg any, priority gateway.Priority) {
	if o.notifier == nil {
		return
	}
	o.notifier.Broadcast(gameID, msg, nil, priority)
}

func (o *Orchestrator) sendTo(userID string, msg any, priority gateway.Priority) {
	if o.notifier == nil {
		return
	}
	o.notifier.SendToUser(userID, msg, priority)
}

func (o *Orchestrator) shuffleSource() *rand.Rand {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return rand.New(rand.NewSource(o.rng.Int63()))
}
