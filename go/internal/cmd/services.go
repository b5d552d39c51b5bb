package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/clients/voice"
	"github.com/mcdev12/mafia/go/internal/auth"
	"github.com/mcdev12/mafia/go/internal/config"
	"github.com/mcdev12/mafia/go/internal/economy"
	"github.com/mcdev12/mafia/go/internal/events"
	"github.com/mcdev12/mafia/go/internal/game/orchestrator"
	"github.com/mcdev12/mafia/go/internal/game/phase"
	"github.com/mcdev12/mafia/go/internal/gateway"
	"github.com/mcdev12/mafia/go/internal/lobby"
	"github.com/mcdev12/mafia/go/internal/matchmaking"
	"github.com/mcdev12/mafia/go/internal/repository"
)

type Services struct {
	Bus         *events.Bus
	Connections *gateway.ConnectionManager
	Games       *orchestrator.Orchestrator
	Lobbies     *lobby.Service
	Queue       *matchmaking.Queue
	Repo        *repository.Postgres
	Economy     *economy.Service
	Tokens      *auth.Tokens

	forwarder *events.JetStreamForwarder
	redis     *redis.Client
	pool      *pgxpool.Pool
	unsubs    []func()
}

func setupServices(ctx context.Context, cfg *config.Config, database *sql.DB) (*Services, error) {
	// Wire up dependency injection chain
	// Event bus → Connection manager → Game orchestrator → Lobby service → Matchmaking queue
	clock := clockwork.NewRealClock()
	s := &Services{
		Bus:    events.NewBus(cfg.Rules.Game.HandlerTimeout()),
		Repo:   repository.NewPostgres(database),
		Tokens: auth.NewTokens(cfg.JWTSecret, clock),
	}

	if cfg.NATSURL != "" {
		jsConfig := events.DefaultJetStreamConfig()
		jsConfig.URL = cfg.NATSURL
		forwarder, err := events.NewJetStreamForwarder(jsConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to set up event forwarder: %w", err)
		}
		forwarder.Attach(s.Bus, events.GameTypes...)
		s.forwarder = forwarder
	}

	pool, err := economy.NewPool(ctx, cfg.DB.DSN())
	if err != nil {
		s.Close()
		return nil, err
	}
	s.pool = pool
	s.Economy = economy.NewService(pool, cfg.Rules.Rewards)

	s.Connections = gateway.NewConnectionManager(cfg.Rules.Connection, clock, s.Bus)

	s.Games = orchestrator.New(cfg.Rules.Game, orchestrator.Deps{
		Clock:     clock,
		Phases:    phase.NewManager(clock, cfg.Rules.PhaseDurations()),
		Repo:      s.Repo,
		Economy:   s.Economy,
		Notifier:  s.Connections,
		Publisher: s.Bus,
	})
	s.Connections.SetPresenceHooks(s.Games.PresenceHooks())
	s.unsubs = append(s.unsubs, s.Games.Subscribe(s.Bus))

	lobbyDeps := lobby.Deps{
		Games:     s.Games,
		Notifier:  s.Connections,
		Publisher: s.Bus,
	}
	if cfg.MediasoupURL != "" {
		voiceClient := voice.NewClient(cfg.MediasoupURL)
		lobbyDeps.Voice = voiceClient
		s.unsubs = append(s.unsubs, voice.NewSyncer(voiceClient).Subscribe(s.Bus))
	} else {
		log.Warn().Msg("MEDIASOUP_URL not set, games start without voice rooms")
	}
	if cfg.TelegramToken != "" {
		bot, err := lobby.NewBot(cfg.TelegramToken)
		if err != nil {
			s.Close()
			return nil, err
		}
		lobbyDeps.Announcer = lobby.NewTelegramAnnouncer(bot, cfg.MiniAppURL)
	}
	s.Lobbies = lobby.NewService(cfg.Rules.Lobby, clock, lobbyDeps)

	var store matchmaking.Store
	if cfg.RedisURL != "" {
		rdb, err := matchmaking.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.redis = rdb
		store = matchmaking.NewRedisStore(rdb)
	}
	s.Queue = matchmaking.NewQueue(cfg.Rules.Matchmaking, clock, s.Lobbies, store)
	s.Lobbies.SetRequeuer(s.Queue)

	return s, nil
}

// Start runs every background loop until ctx is cancelled.
func (s *Services) Start(ctx context.Context) error {
	s.Games.Start(ctx)
	s.Lobbies.Start(ctx)
	if err := s.Connections.Start(ctx); err != nil {
		return fmt.Errorf("failed to start connection manager: %w", err)
	}
	restored, err := s.Queue.Restore(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("failed to restore matchmaking queue")
	}
	if err := s.Queue.Start(ctx); err != nil {
		return fmt.Errorf("failed to start matchmaking: %w", err)
	}
	log.Info().Int("restored_players", restored).Msg("services started")
	return nil
}

// Stop halts the loops and closes every live connection.
func (s *Services) Stop() {
	s.Queue.Stop()
	s.Connections.CloseAll("server shutting down")
	s.Connections.Stop()
	s.Lobbies.Stop()
	s.Games.Stop()
	s.Bus.Wait()
	s.Close()
}

// Close releases external clients.
func (s *Services) Close() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	if s.forwarder != nil {
		if err := s.forwarder.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close event forwarder")
		}
		s.forwarder = nil
	}
	if s.redis != nil {
		_ = s.redis.Close()
		s.redis = nil
	}
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
