package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/mafia/go/internal/dbconfig"
	"github.com/mcdev12/mafia/go/internal/economy"
	"github.com/mcdev12/mafia/go/internal/game/orchestrator"
	"github.com/mcdev12/mafia/go/internal/game/phase"
	"github.com/mcdev12/mafia/go/internal/gateway"
	"github.com/mcdev12/mafia/go/internal/lobby"
	"github.com/mcdev12/mafia/go/internal/matchmaking"
)

// Config is the process configuration: environment plus the rules file.
type Config struct {
	Port          string
	NATSURL       string
	RedisURL      string
	MediasoupURL  string
	JWTSecret     string
	TelegramToken string
	MiniAppURL    string
	LogLevel      zerolog.Level
	RulesFile     string
	ShutdownGrace time.Duration

	DB    dbconfig.Config
	Rules Rules
}

// Rules are the tunable game rules read from YAML.
type Rules struct {
	// Phases overrides phase lengths in seconds, keyed by phase name.
	Phases      map[string]int      `yaml:"phases"`
	Game        orchestrator.Config `yaml:"game"`
	Matchmaking matchmaking.Config  `yaml:"matchmaking"`
	Lobby       lobby.Config        `yaml:"lobby"`
	Connection  gateway.Config      `yaml:"connection"`
	Rewards     economy.Rules       `yaml:"rewards"`
}

func DefaultRules() Rules {
	return Rules{
		Game:        orchestrator.DefaultConfig(),
		Matchmaking: matchmaking.DefaultConfig(),
		Lobby:       lobby.DefaultConfig(),
		Connection:  gateway.DefaultConfig(),
		Rewards:     economy.DefaultRules(),
	}
}

// PhaseDurations returns the default phase lengths with the file's overrides.
func (r Rules) PhaseDurations() phase.Durations {
	return phase.DurationsFromSeconds(r.Phases)
}

// Load reads .env (if present), the environment and the rules file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	level, err := zerolog.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		NATSURL:       os.Getenv("NATS_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		MediasoupURL:  os.Getenv("MEDIASOUP_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		MiniAppURL:    os.Getenv("MINI_APP_URL"),
		LogLevel:      level,
		RulesFile:     getEnv("RULES_FILE", "rules.yaml"),
		ShutdownGrace: getEnvAsDuration("SHUTDOWN_GRACE", 10*time.Second),
		DB:            dbconfig.NewConfigFromEnv(),
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is required")
	}

	cfg.Rules, err = LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRules overlays the YAML file at path on DefaultRules. A missing file
// yields the defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", path).Msg("no rules file, using default rules")
		return rules, nil
	}
	if err != nil {
		return rules, fmt.Errorf("failed to read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return rules, fmt.Errorf("failed to parse rules file: %w", err)
	}
	if err := rules.validate(); err != nil {
		return rules, fmt.Errorf("invalid rules file %s: %w", path, err)
	}
	return rules, nil
}

func (r Rules) validate() error {
	c := r.Matchmaking.Criteria
	if c.MinPlayers < 1 || c.MaxPlayers < c.MinPlayers {
		return fmt.Errorf("matchmaking players must satisfy 1 <= min (%d) <= max (%d)", c.MinPlayers, c.MaxPlayers)
	}
	if c.MinPlayersFloor > c.MinPlayers {
		return fmt.Errorf("matchmaking min_players_floor %d exceeds min_players %d", c.MinPlayersFloor, c.MinPlayers)
	}
	if len(r.Game.RoleTiers) == 0 {
		return errors.New("game.role_tiers must not be empty")
	}
	if last := r.Game.RoleTiers[len(r.Game.RoleTiers)-1]; last.MaxPlayers != 0 {
		return errors.New("the last role tier must have max_players 0")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs := getEnvAsInt(key, -1); secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
