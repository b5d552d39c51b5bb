package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/mcdev12/mafia/go/internal/models"
	"github.com/mcdev12/mafia/go/internal/repository/db"
	"github.com/mcdev12/mafia/go/internal/sqlutil"
)

//go:embed schema.sql
var Schema string

var (
	ErrGameNotFound   = errors.New("game not found")
	ErrPlayerNotFound = errors.New("player not found")
	ErrUserNotFound   = errors.New("user not found")
)

// Postgres persists games, their players and actions.
type Postgres struct {
	db      *sql.DB
	queries *db.Queries
}

func NewPostgres(database *sql.DB) *Postgres {
	return &Postgres{
		db:      database,
		queries: db.New(database),
	}
}

// Migrate applies the schema. Every statement is idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func newQueries(tx *sql.Tx) *db.Queries {
	return db.New(tx)
}

// CreateGame stores the game and seats its players in one transaction.
func (p *Postgres) CreateGame(ctx context.Context, gameID string, players []string, settings models.LobbySettings) error {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal game settings: %w", err)
	}

	err = sqlutil.Run(ctx, p.db, newQueries, func(q *db.Queries) error {
		if _, err := q.CreateGame(ctx, db.CreateGameParams{
			ID:       gameID,
			LobbyID:  settings.LobbyID,
			Settings: settingsJSON,
		}); err != nil {
			return err
		}
		return q.InsertGamePlayers(ctx, db.InsertGamePlayersParams{
			GameID:  gameID,
			UserIDs: players,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to create game %s: %w", gameID, err)
	}
	return nil
}

func (p *Postgres) UpdatePlayerRole(ctx context.Context, gameID, playerID string, role logic.Role) error {
	n, err := p.queries.UpdatePlayerRole(ctx, db.UpdatePlayerRoleParams{
		GameID: gameID,
		UserID: playerID,
		Role:   string(role),
	})
	if err != nil {
		return fmt.Errorf("failed to update role of %s: %w", playerID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s in %s", ErrPlayerNotFound, playerID, gameID)
	}
	return nil
}

func (p *Postgres) UpdateGamePhase(ctx context.Context, gameID string, phase logic.Phase, dayCount int) error {
	n, err := p.queries.UpdateGamePhase(ctx, db.UpdateGamePhaseParams{
		ID:       gameID,
		Phase:    string(phase),
		DayCount: int32(dayCount),
	})
	if err != nil {
		return fmt.Errorf("failed to update game phase: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	return nil
}

func (p *Postgres) SaveAction(ctx context.Context, gameID string, action logic.NightAction, phase logic.Phase) error {
	err := p.queries.InsertGameAction(ctx, db.InsertGameActionParams{
		GameID:   gameID,
		ActorID:  action.Actor,
		Action:   string(action.Type),
		TargetID: action.Target,
		Phase:    string(phase),
	})
	if err != nil {
		return fmt.Errorf("failed to save night action: %w", err)
	}
	return nil
}

// EliminatePlayer marks playerID dead. Eliminating a dead player is a no-op.
func (p *Postgres) EliminatePlayer(ctx context.Context, gameID, playerID, reason string) error {
	_, err := p.queries.EliminatePlayer(ctx, db.EliminatePlayerParams{
		GameID: gameID,
		UserID: playerID,
		Reason: reason,
	})
	if err != nil {
		return fmt.Errorf("failed to eliminate %s: %w", playerID, err)
	}
	return nil
}

// EndGame finishes the game, stores per-player results and bumps each user's
// played and won counters. A game already finished is left untouched.
func (p *Postgres) EndGame(ctx context.Context, gameID string, winner logic.Team, results map[string]models.PlayerResult) error {
	resultsJSON, err := sqlutil.ToNullJSONMap(results)
	if err != nil {
		return err
	}

	err = sqlutil.Run(ctx, p.db, newQueries, func(q *db.Queries) error {
		n, err := q.FinishGame(ctx, db.FinishGameParams{
			ID:      gameID,
			Winner:  sqlutil.ToSqlString(teamPtr(winner)),
			Results: resultsJSON,
		})
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		for userID, r := range results {
			role := r.Role
			if err := q.SetPlayerResult(ctx, db.SetPlayerResultParams{
				GameID: gameID,
				UserID: userID,
				Won:    r.Won,
				Role:   sqlutil.ToSqlString(&role),
			}); err != nil {
				return err
			}
			if err := q.RecordUserResult(ctx, db.RecordUserResultParams{ID: userID, Won: r.Won}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to end game %s: %w", gameID, err)
	}
	return nil
}

// GetGame returns the persisted game record.
func (p *Postgres) GetGame(ctx context.Context, gameID string) (*models.Game, error) {
	g, err := p.queries.GetGame(ctx, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	return dbGameToModel(g)
}

// GetResults returns the stored per-player results of a finished game.
func (p *Postgres) GetResults(ctx context.Context, gameID string) (map[string]models.PlayerResult, error) {
	g, err := p.queries.GetGame(ctx, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get game: %w", err)
	}
	var out map[string]models.PlayerResult
	if _, err := sqlutil.FromNullJSON(g.Results, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetProfile loads the matchmaking profile of a user.
func (p *Postgres) GetProfile(ctx context.Context, userID string) (models.PlayerProfile, error) {
	u, err := p.queries.GetUser(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PlayerProfile{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return models.PlayerProfile{}, fmt.Errorf("failed to get user: %w", err)
	}
	return dbUserToProfile(u), nil
}

// SaveProfile creates or updates a user. Rating and counters are kept on
// update.
func (p *Postgres) SaveProfile(ctx context.Context, profile models.PlayerProfile) error {
	err := p.queries.UpsertUser(ctx, db.UpsertUserParams{
		ID:                 profile.UserID,
		TelegramID:         profile.TelegramID,
		Username:           profile.Username,
		Rating:             int32(profile.Rating),
		Country:            profile.Country,
		NativeLanguage:     profile.NativeLanguage,
		SpokenLanguages:    nonNil(profile.SpokenLanguages),
		PurchasedLanguages: nonNil(profile.PurchasedLanguages),
		IsPremium:          profile.IsPremium,
	})
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", profile.UserID, err)
	}
	return nil
}

func dbGameToModel(g db.Game) (*models.Game, error) {
	var settings models.LobbySettings
	if len(g.Settings) > 0 {
		if err := json.Unmarshal(g.Settings, &settings); err != nil {
			return nil, fmt.Errorf("failed to decode game settings: %w", err)
		}
	}
	return &models.Game{
		ID:        g.ID,
		LobbyID:   g.LobbyID,
		Status:    models.GameStatus(g.Status),
		Phase:     g.Phase,
		DayCount:  int(g.DayCount),
		Winner:    sqlutil.FromSqlStringPtr(g.Winner),
		Settings:  settings,
		CreatedAt: g.CreatedAt,
		EndedAt:   sqlutil.FromSqlTime(g.EndedAt),
	}, nil
}

func dbUserToProfile(u db.User) models.PlayerProfile {
	var winRate float64
	if u.GamesPlayed > 0 {
		winRate = float64(u.GamesWon) / float64(u.GamesPlayed)
	}
	return models.PlayerProfile{
		UserID:             u.ID,
		TelegramID:         u.TelegramID,
		Username:           u.Username,
		Rating:             int(u.Rating),
		Country:            u.Country,
		NativeLanguage:     u.NativeLanguage,
		SpokenLanguages:    u.SpokenLanguages,
		PurchasedLanguages: u.PurchasedLanguages,
		GamesPlayed:        int(u.GamesPlayed),
		WinRate:            winRate,
		IsPremium:          u.IsPremium,
		SkinID:             sqlutil.FromSqlStringPtr(u.SkinID),
		BannedUntil:        sqlutil.FromSqlTime(u.BannedUntil),
		ReportCount:        int(u.ReportCount),
	}
}

func teamPtr(t logic.Team) *string {
	if t == "" {
		return nil
	}
	s := string(t)
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
