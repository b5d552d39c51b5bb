package dbconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("DB_USER", "game")
	t.Setenv("DB_PASSWORD", "p@ss/word")
	t.Setenv("DB_NAME", "")

	cfg := NewConfigFromEnv()
	assert.Equal(t, "mafia", cfg.Database)
	assert.Equal(t, "postgres://game:p%40ss%2Fword@db:6543/mafia?sslmode=disable", cfg.DSN())

	t.Setenv("DATABASE_URL", "postgres://other/db")
	assert.Equal(t, "postgres://other/db", cfg.DSN())
}
