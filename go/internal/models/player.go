package models

import (
	"time"
)

// PlayerProfile is the matchmaking view of a registered player.
type PlayerProfile struct {
	UserID             string     `json:"user_id"`
	TelegramID         int64      `json:"telegram_id"`
	Username           string     `json:"username"`
	Rating             int        `json:"rating"`
	Country            string     `json:"country"`
	NativeLanguage     string     `json:"native_language"`
	SpokenLanguages    []string   `json:"spoken_languages,omitempty"`
	PurchasedLanguages []string   `json:"purchased_languages,omitempty"`
	GamesPlayed        int        `json:"games_played"`
	WinRate            float64    `json:"win_rate"`
	IsPremium          bool       `json:"is_premium"`
	SkinID             *string    `json:"skin_id,omitempty"`
	BannedUntil        *time.Time `json:"banned_until,omitempty"`
	ReportCount        int        `json:"report_count"`
}

// IsBanned reports whether the ban on p is still running at now.
func (p PlayerProfile) IsBanned(now time.Time) bool {
	return p.BannedUntil != nil && p.BannedUntil.After(now)
}

// Languages returns every language p can play in: native, spoken and purchased.
func (p PlayerProfile) Languages() map[string]bool {
	out := map[string]bool{p.NativeLanguage: true}
	for _, l := range p.SpokenLanguages {
		out[l] = true
	}
	for _, l := range p.PurchasedLanguages {
		out[l] = true
	}
	return out
}
