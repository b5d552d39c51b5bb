package matchmaking

import "time"

// Criteria are the rules a group of waiting players must satisfy to form a
// lobby. The escalation fields relax them for players who have waited long.
type Criteria struct {
	MinPlayers      int           `yaml:"min_players"`
	MaxPlayers      int           `yaml:"max_players"`
	RatingTolerance int           `yaml:"rating_tolerance"`
	MaxWait         time.Duration `yaml:"max_wait"`
	IgnoreLanguage  bool          `yaml:"-"`

	WidenAfter       time.Duration `yaml:"widen_after"`
	ToleranceStep    int           `yaml:"tolerance_step"`
	MaxTolerance     int           `yaml:"max_tolerance"`
	AnyLanguageAfter time.Duration `yaml:"any_language_after"`
	ShrinkAfter      time.Duration `yaml:"shrink_after"`
	ShrinkBy         int           `yaml:"shrink_by"`
	MinPlayersFloor  int           `yaml:"min_players_floor"`
}

func DefaultCriteria() Criteria {
	return Criteria{
		MinPlayers:      6,
		MaxPlayers:      12,
		RatingTolerance: 200,
		MaxWait:         120 * time.Second,

		WidenAfter:       30 * time.Second,
		ToleranceStep:    100,
		MaxTolerance:     500,
		AnyLanguageAfter: 60 * time.Second,
		ShrinkAfter:      90 * time.Second,
		ShrinkBy:         2,
		MinPlayersFloor:  4,
	}
}

// Escalate returns the criteria a player who has waited for wait has earned.
func (c Criteria) Escalate(wait time.Duration) Criteria {
	out := c
	if wait > c.WidenAfter {
		out.RatingTolerance = min(c.MaxTolerance, c.RatingTolerance+c.ToleranceStep)
	}
	if wait > c.AnyLanguageAfter {
		out.IgnoreLanguage = true
	}
	if wait > c.ShrinkAfter {
		out.MinPlayers = max(c.MinPlayersFloor, c.MinPlayers-c.ShrinkBy)
	}
	return out
}
