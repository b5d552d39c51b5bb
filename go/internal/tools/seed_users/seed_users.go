package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/mafia/go/internal/dbconfig"
)

// User mirrors one entry of the seed file. A missing id gets a fresh uuid.
type User struct {
	ID              string   `json:"id"`
	TelegramID      int64    `json:"telegram_id"`
	Username        string   `json:"username"`
	Rating          int      `json:"rating"`
	Country         string   `json:"country"`
	NativeLanguage  string   `json:"native_language"`
	SpokenLanguages []string `json:"spoken_languages"`
	IsPremium       bool     `json:"is_premium"`
	Balance         int      `json:"balance"`
}

func main() {
	path := flag.String("file", "go/internal/assets/users.json", "seed file with a JSON array of users")
	flag.Parse()

	ctx := context.Background()

	// 1) Load users
	data, err := os.ReadFile(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read %s: %v\n", *path, err)
		os.Exit(1)
	}
	var users []User
	if err := json.Unmarshal(data, &users); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal users: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect to DB
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Seed users
	total, inserted, skipped, errs := len(users), 0, 0, 0
	for _, u := range users {
		if u.ID == "" {
			u.ID = uuid.NewString()
		}
		if u.Rating == 0 {
			u.Rating = 1000
		}
		if u.SpokenLanguages == nil {
			u.SpokenLanguages = []string{}
		}
		tag, err := pool.Exec(ctx, `
            INSERT INTO users (
              id, telegram_id, username, rating, country,
              native_language, spoken_languages, is_premium, balance
            ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
            ON CONFLICT (id) DO NOTHING
        `, u.ID, u.TelegramID, u.Username, u.Rating, u.Country,
			u.NativeLanguage, u.SpokenLanguages, u.IsPremium, u.Balance)
		if err != nil {
			fmt.Fprintf(os.Stderr, "insert %s: %v\n", u.Username, err)
			errs++
			continue
		}
		if tag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}
	fmt.Printf(
		"Users seed: total=%d inserted=%d skipped=%d errors=%d\n",
		total, inserted, skipped, errs,
	)
}
