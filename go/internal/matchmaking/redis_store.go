package matchmaking

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/models"
)

const queueKeyPrefix = "mm:queue:"

func queueKey(mode models.GameMode) string {
	return queueKeyPrefix + string(mode)
}

// RedisStore keeps queue entries in one Redis hash per mode, keyed by user id.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// NewRedisClient connects to a redis:// or rediss:// URL and pings it.
func NewRedisClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("redis url is empty")
	}
	opts, err := parseRedisURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	pass, _ := u.User.Password()
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if db, err = strconv.Atoi(p); err != nil {
			return nil, fmt.Errorf("invalid redis db %q: %w", p, err)
		}
	}
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

func (s *RedisStore) Save(ctx context.Context, qp models.QueuePlayer) error {
	raw, err := json.Marshal(qp)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	if err := s.rdb.HSet(ctx, queueKey(qp.Mode), qp.Profile.UserID, raw).Err(); err != nil {
		return fmt.Errorf("save queue entry %s: %w", qp.Profile.UserID, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, mode models.GameMode, userID string) error {
	if err := s.rdb.HDel(ctx, queueKey(mode), userID).Err(); err != nil {
		return fmt.Errorf("delete queue entry %s: %w", userID, err)
	}
	return nil
}

// Load returns every stored entry. Entries that no longer decode are dropped.
func (s *RedisStore) Load(ctx context.Context) ([]models.QueuePlayer, error) {
	var out []models.QueuePlayer
	for _, mode := range models.GameModes {
		entries, err := s.rdb.HGetAll(ctx, queueKey(mode)).Result()
		if err != nil {
			return nil, fmt.Errorf("load %s queue: %w", mode, err)
		}
		for userID, raw := range entries {
			var qp models.QueuePlayer
			if err := json.Unmarshal([]byte(raw), &qp); err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("dropping undecodable queue entry")
				s.rdb.HDel(ctx, queueKey(mode), userID)
				continue
			}
			out = append(out, qp)
		}
	}
	return out, nil
}
