package repository

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/mcdev12/mafia/go/internal/models"
	"github.com/mcdev12/mafia/go/internal/testdb"
)

func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	database, err := sql.Open("postgres", testdb.DSN(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	p := NewPostgres(database)
	require.NoError(t, p.Migrate(context.Background()))
	require.NoError(t, p.Migrate(context.Background()), "schema must be re-appliable")
	return p
}

func TestGameLifecycle(t *testing.T) {
	ctx := context.Background()
	p := newTestPostgres(t)

	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, p.SaveProfile(ctx, models.PlayerProfile{
			UserID:         id,
			TelegramID:     int64(len(id)) * 100,
			Username:       id,
			Rating:         1000,
			NativeLanguage: "en",
		}))
	}

	settings := models.DefaultLobbySettings("lobby_1", models.GameModeQuick, "en")
	settings.DayDuration = 90
	require.NoError(t, p.CreateGame(ctx, "g1", []string{"u1", "u2", "u3"}, settings))

	g, err := p.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusWaiting, g.Status)
	assert.Equal(t, "lobby_1", g.LobbyID)
	assert.Equal(t, 90, g.Settings.DayDuration)

	require.NoError(t, p.UpdatePlayerRole(ctx, "g1", "u1", logic.RoleMafia))
	require.ErrorIs(t, p.UpdatePlayerRole(ctx, "g1", "nobody", logic.RoleMafia), ErrPlayerNotFound)

	require.NoError(t, p.UpdateGamePhase(ctx, "g1", logic.PhaseNightMafia, 1))
	require.ErrorIs(t, p.UpdateGamePhase(ctx, "missing", logic.PhaseNightMafia, 1), ErrGameNotFound)
	g, err = p.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusInProgress, g.Status)
	assert.Equal(t, 1, g.DayCount)

	require.NoError(t, p.SaveAction(ctx, "g1", logic.NightAction{Actor: "u1", Type: logic.ActionKill, Target: "u2"}, logic.PhaseNightMafia))
	require.NoError(t, p.EliminatePlayer(ctx, "g1", "u2", "killed_by_mafia"))
	require.NoError(t, p.EliminatePlayer(ctx, "g1", "u2", "killed_by_mafia"))

	results := map[string]models.PlayerResult{
		"u1": {Won: true, Role: "mafia", Survived: true},
		"u2": {Won: false, Role: "citizen"},
		"u3": {Won: false, Role: "citizen", Survived: true},
	}
	require.NoError(t, p.EndGame(ctx, "g1", logic.TeamMafia, results))
	require.NoError(t, p.EndGame(ctx, "g1", logic.TeamMafia, results), "second settlement is ignored")

	g, err = p.GetGame(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusFinished, g.Status)
	require.NotNil(t, g.Winner)
	assert.Equal(t, "mafia", *g.Winner)
	assert.NotNil(t, g.EndedAt)

	stored, err := p.GetResults(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, results, stored)

	profile, err := p.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.GamesPlayed)
	assert.InDelta(t, 1.0, profile.WinRate, 1e-9)
	assert.Equal(t, []string{}, profile.SpokenLanguages)
}

func TestGetProfileNotFound(t *testing.T) {
	p := newTestPostgres(t)
	_, err := p.GetProfile(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
	_, err = p.GetGame(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrGameNotFound)
}
