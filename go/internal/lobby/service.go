package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/events"
	"github.com/mcdev12/mafia/go/internal/game/phase"
	"github.com/mcdev12/mafia/go/internal/gateway"
	"github.com/mcdev12/mafia/go/internal/models"
)

var (
	ErrLobbyExists = errors.New("lobby already exists")
	ErrEmptyLobby  = errors.New("lobby has no players")
)

// GameCreator turns a fully ready lobby into a game.
type GameCreator interface {
	CreateFromLobby(ctx context.Context, players []models.PlayerProfile, settings models.LobbySettings) (string, error)
}

// VoiceRooms opens the voice room of a new game.
type VoiceRooms interface {
	CreateRoom(ctx context.Context, gameID string, quality models.VoiceQuality) (string, error)
}

// Notifier delivers messages to connected players.
type Notifier interface {
	SendToUser(userID string, msg any, priority gateway.Priority) bool
}

// Announcer tells players outside the app that a lobby was found.
type Announcer interface {
	LobbyFound(ctx context.Context, lobby models.FormingLobby) error
}

// Requeuer puts players back into matchmaking.
type Requeuer interface {
	AddPlayer(ctx context.Context, qp models.QueuePlayer) (string, error)
}

// Publisher publishes lobby events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

type Config struct {
	ReadyTimeout        time.Duration `yaml:"ready_timeout"`
	CollaboratorTimeout time.Duration `yaml:"collaborator_timeout"`
}

func DefaultConfig() Config {
	return Config{
		ReadyTimeout:        60 * time.Second,
		CollaboratorTimeout: 10 * time.Second,
	}
}

// Deps are the collaborators of a Service. Only Games is required.
type Deps struct {
	Games     GameCreator
	Voice     VoiceRooms
	Notifier  Notifier
	Announcer Announcer
	Requeuer  Requeuer
	Publisher Publisher
}

type entry struct {
	lobby models.FormingLobby
	ready map[string]bool
}

// View is a snapshot of a forming lobby.
type View struct {
	Lobby models.FormingLobby `json:"lobby"`
	Ready []string            `json:"ready"`
}

// Service tracks formed lobbies until every player is ready.
type Service struct {
	config Config
	clock  clockwork.Clock
	deps   Deps
	timers *phase.Timers

	mu      sync.Mutex
	lobbies map[string]*entry
}

func NewService(config Config, clock clockwork.Clock, deps Deps) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.CollaboratorTimeout <= 0 {
		config.CollaboratorTimeout = DefaultConfig().CollaboratorTimeout
	}
	return &Service{
		config:  config,
		clock:   clock,
		deps:    deps,
		timers:  phase.NewTimers(clock),
		lobbies: make(map[string]*entry),
	}
}

// SetRequeuer wires the matchmaking queue after construction; the queue and
// the service hold each other.
func (s *Service) SetRequeuer(r Requeuer) {
	s.mu.Lock()
	s.deps.Requeuer = r
	s.mu.Unlock()
}

// Start binds the ready timers to ctx.
func (s *Service) Start(ctx context.Context) {
	s.timers.Bind(ctx)
}

// Stop cancels every ready timer.
func (s *Service) Stop() {
	s.timers.Stop()
}

// Create registers a formed lobby and asks its players to get ready.
func (s *Service) Create(ctx context.Context, lobby models.FormingLobby) error {
	if len(lobby.Players) == 0 {
		return ErrEmptyLobby
	}
	if lobby.CreatedAt.IsZero() {
		lobby.CreatedAt = s.clock.Now()
	}

	s.mu.Lock()
	if _, ok := s.lobbies[lobby.LobbyID]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLobbyExists, lobby.LobbyID)
	}
	s.lobbies[lobby.LobbyID] = &entry{lobby: lobby, ready: make(map[string]bool)}
	if s.config.ReadyTimeout > 0 {
		s.timers.Schedule(lobby.LobbyID, s.config.ReadyTimeout, s.onReadyTimeout)
	}
	s.mu.Unlock()

	ids := lobby.PlayerIDs()
	for _, id := range ids {
		s.send(id, gateway.Message{
			"event":         "lobby_found",
			"lobby_id":      lobby.LobbyID,
			"mode":          lobby.Mode,
			"language":      lobby.Language,
			"players":       ids,
			"settings":      lobby.Settings,
			"ready_timeout": s.config.ReadyTimeout.Seconds(),
		}, gateway.PriorityCritical)
	}

	if s.deps.Announcer != nil {
		s.collaborate(ctx, lobby.LobbyID, "announce lobby", func(ctx context.Context) error {
			return s.deps.Announcer.LobbyFound(ctx, lobby)
		})
	}
	s.publish(ctx, events.TypeLobbyFormed, events.LobbyFormedPayload{
		LobbyID:  lobby.LobbyID,
		Mode:     string(lobby.Mode),
		Language: lobby.Language,
		Players:  ids,
	})

	log.Info().
		Str("lobby_id", lobby.LobbyID).
		Str("mode", string(lobby.Mode)).
		Int("players", len(ids)).
		Msg("lobby created")
	return nil
}

// PlayerReady marks userID ready. The call that completes the lobby removes
// it and converts it into a game; calls on a removed lobby return false.
func (s *Service) PlayerReady(ctx context.Context, lobbyID, userID string) bool {
	s.mu.Lock()
	e, ok := s.lobbies[lobbyID]
	if !ok || !e.has(userID) {
		s.mu.Unlock()
		return false
	}
	e.ready[userID] = true
	readyCount, total := len(e.ready), len(e.lobby.Players)
	complete := readyCount == total
	if complete {
		delete(s.lobbies, lobbyID)
	}
	lobby := e.lobby
	s.mu.Unlock()

	s.notifyAll(lobby, gateway.Message{
		"event":       "player_ready",
		"lobby_id":    lobbyID,
		"player_id":   userID,
		"ready_count": readyCount,
		"total":       total,
	}, gateway.PriorityNormal)

	if complete {
		s.timers.Cancel(lobbyID)
		s.convert(ctx, lobby)
	}
	return true
}

// PlayerLeave removes userID from the lobby. An emptied lobby is deleted; a
// lobby whose remaining players are all ready starts.
func (s *Service) PlayerLeave(ctx context.Context, lobbyID, userID string) bool {
	s.mu.Lock()
	e, ok := s.lobbies[lobbyID]
	if !ok || !e.has(userID) {
		s.mu.Unlock()
		return false
	}
	players := e.lobby.Players[:0:0]
	for _, p := range e.lobby.Players {
		if p.Profile.UserID != userID {
			players = append(players, p)
		}
	}
	e.lobby.Players = players
	delete(e.ready, userID)

	emptied := len(players) == 0
	complete := !emptied && len(e.ready) == len(players)
	if emptied || complete {
		delete(s.lobbies, lobbyID)
	}
	lobby := e.lobby
	s.mu.Unlock()

	log.Info().Str("lobby_id", lobbyID).Str("user_id", userID).Int("remaining", len(players)).Msg("player left lobby")

	switch {
	case emptied:
		s.timers.Cancel(lobbyID)
	case complete:
		s.timers.Cancel(lobbyID)
		s.convert(ctx, lobby)
	default:
		s.notifyAll(lobby, gateway.Message{
			"event":     "player_left",
			"lobby_id":  lobbyID,
			"player_id": userID,
		}, gateway.PriorityNormal)
	}
	return true
}

// Get returns a snapshot of lobbyID.
func (s *Service) Get(lobbyID string) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.lobbies[lobbyID]
	if !ok {
		return View{}, false
	}
	lobby := e.lobby
	lobby.Players = append([]models.QueuePlayer(nil), e.lobby.Players...)
	var ready []string
	for _, id := range lobby.PlayerIDs() {
		if e.ready[id] {
			ready = append(ready, id)
		}
	}
	return View{Lobby: lobby, Ready: ready}, true
}

// Active returns the number of lobbies waiting for players.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lobbies)
}

// convert creates the game and its voice room. A failed creation sends the
// players back to matchmaking.
func (s *Service) convert(ctx context.Context, lobby models.FormingLobby) {
	var gameID string
	var createErr error
	s.collaborate(ctx, lobby.LobbyID, "create game", func(ctx context.Context) error {
		gameID, createErr = s.deps.Games.CreateFromLobby(ctx, lobby.Profiles(), lobby.Settings)
		return createErr
	})
	if createErr != nil {
		s.notifyAll(lobby, gateway.Message{
			"event":    "lobby_failed",
			"lobby_id": lobby.LobbyID,
		}, gateway.PriorityHigh)
		s.requeue(ctx, lobby.Players)
		return
	}

	roomID := ""
	if s.deps.Voice != nil {
		s.collaborate(ctx, lobby.LobbyID, "create voice room", func(ctx context.Context) error {
			id, err := s.deps.Voice.CreateRoom(ctx, gameID, lobby.Settings.VoiceQuality)
			roomID = id
			return err
		})
	}

	s.notifyAll(lobby, gateway.Message{
		"event":    "game_started",
		"game_id":  gameID,
		"room_id":  roomID,
		"lobby_id": lobby.LobbyID,
	}, gateway.PriorityCritical)
	s.publish(ctx, events.TypeLobbyStarted, events.LobbyStartedPayload{
		LobbyID: lobby.LobbyID,
		GameID:  gameID,
		RoomID:  roomID,
	})

	log.Info().
		Str("lobby_id", lobby.LobbyID).
		Str("game_id", gameID).
		Str("room_id", roomID).
		Msg("lobby converted into game")
}

func (s *Service) onReadyTimeout(ctx context.Context, lobbyID string, token phase.Token) {
	s.mu.Lock()
	e, ok := s.lobbies[lobbyID]
	if !ok || !s.timers.IsCurrent(lobbyID, token) {
		s.mu.Unlock()
		return
	}
	delete(s.lobbies, lobbyID)
	var ready []models.QueuePlayer
	for _, p := range e.lobby.Players {
		if e.ready[p.Profile.UserID] {
			ready = append(ready, p)
		}
	}
	lobby := e.lobby
	s.mu.Unlock()
	s.timers.Forget(lobbyID)

	log.Info().
		Str("lobby_id", lobbyID).
		Int("ready", len(ready)).
		Int("players", len(lobby.Players)).
		Msg("lobby expired before everyone was ready")

	s.notifyAll(lobby, gateway.Message{
		"event":    "lobby_expired",
		"lobby_id": lobbyID,
		"requeued": len(ready),
	}, gateway.PriorityHigh)
	s.requeue(ctx, ready)
}

func (s *Service) requeue(ctx context.Context, players []models.QueuePlayer) {
	s.mu.Lock()
	r := s.deps.Requeuer
	s.mu.Unlock()
	if r == nil {
		return
	}
	for _, p := range players {
		if _, err := r.AddPlayer(ctx, p); err != nil {
			log.Warn().Err(err).Str("user_id", p.Profile.UserID).Msg("failed to requeue player")
		}
	}
}

func (e *entry) has(userID string) bool {
	for _, p := range e.lobby.Players {
		if p.Profile.UserID == userID {
			return true
		}
	}
	return false
}

func (s *Service) notifyAll(lobby models.FormingLobby, msg gateway.Message, priority gateway.Priority) {
	for _, p := range lobby.Players {
		s.send(p.Profile.UserID, msg, priority)
	}
}

func (s *Service) send(userID string, msg any, priority gateway.Priority) {
	if s.deps.Notifier == nil {
		return
	}
	s.deps.Notifier.SendToUser(userID, msg, priority)
}

func (s *Service) collaborate(ctx context.Context, lobbyID, op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.CollaboratorTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Error().Err(err).Str("lobby_id", lobbyID).Str("op", op).Msg("collaborator call failed")
	}
}

func (s *Service) publish(ctx context.Context, t events.Type, payload any) {
	if s.deps.Publisher == nil {
		return
	}
	ev, err := events.New(t, "", payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	if err := s.deps.Publisher.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event_type", string(t)).Msg("failed to publish lobby event")
	}
}
