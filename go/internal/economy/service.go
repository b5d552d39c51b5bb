package economy

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/models"
)

var ErrUnknownUser = errors.New("unknown user")

// DB is the part of *pgxpool.Pool the service uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Service settles game rewards into the token ledger.
type Service struct {
	db         DB
	calculator *Calculator
}

func NewService(db DB, rules Rules) *Service {
	return &Service{
		db:         db,
		calculator: NewCalculator(rules),
	}
}

// NewPool opens a pgx pool and checks it is reachable.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// CalculateGameRewards prices every result using the players' report counts.
func (s *Service) CalculateGameRewards(ctx context.Context, gameID string, results map[string]models.PlayerResult) (map[string]int, error) {
	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	standings, err := s.standings(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load standings for game %s: %w", gameID, err)
	}
	return s.calculator.Rewards(results, standings), nil
}

func (s *Service) standings(ctx context.Context, ids []string) (map[string]Standing, error) {
	out := make(map[string]Standing, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.Query(ctx, `SELECT id, report_count FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var reports int32
		if err := rows.Scan(&id, &reports); err != nil {
			return nil, err
		}
		out[id] = Standing{ReportCount: int(reports)}
	}
	return out, rows.Err()
}

// DistributeGameRewards credits every reward and records it in the ledger in
// one transaction. A player already paid for gameID is skipped, so settling
// the same game twice pays once.
func (s *Service) DistributeGameRewards(ctx context.Context, gameID string, rewards map[string]int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin reward transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	paid := 0
	for userID, amount := range rewards {
		tag, err := tx.Exec(ctx, `
            INSERT INTO reward_ledger (game_id, user_id, amount)
            VALUES ($1, $2, $3)
            ON CONFLICT (game_id, user_id) DO NOTHING
        `, gameID, userID, amount)
		if err != nil {
			return fmt.Errorf("failed to record reward for %s: %w", userID, err)
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET balance = balance + $2 WHERE id = $1`, userID, amount); err != nil {
			return fmt.Errorf("failed to credit %s: %w", userID, err)
		}
		paid++
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rewards: %w", err)
	}
	log.Info().Str("game_id", gameID).Int("paid", paid).Int("players", len(rewards)).Msg("distributed game rewards")
	return nil
}

// Balance returns the token balance of userID.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}
