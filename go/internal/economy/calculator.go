package economy

import "github.com/mcdev12/mafia/go/internal/models"

// Rules are the per-game reward amounts.
type Rules struct {
	Base            int `yaml:"base"`
	WinBonus        int `yaml:"win_bonus"`
	AFKPenalty      int `yaml:"afk_penalty"`
	ReportThreshold int `yaml:"report_threshold"`
}

func DefaultRules() Rules {
	return Rules{
		Base:            10,
		WinBonus:        20,
		AFKPenalty:      5,
		ReportThreshold: 2,
	}
}

// Standing is what the calculator knows about a player besides the game
// result.
type Standing struct {
	ReportCount int
}

// Calculator turns game results into token rewards.
type Calculator struct {
	rules Rules
}

func NewCalculator(rules Rules) *Calculator {
	return &Calculator{rules: rules}
}

// Reward is the payout of one player. Going AFK costs AFKPenalty and more than
// ReportThreshold reports halve what is left. Rewards are never negative.
func (c *Calculator) Reward(r models.PlayerResult, s Standing) int {
	reward := c.rules.Base
	if r.Won {
		reward += c.rules.WinBonus
	}
	if r.AFK {
		reward = max(0, reward-c.rules.AFKPenalty)
	}
	if s.ReportCount > c.rules.ReportThreshold {
		reward /= 2
	}
	return reward
}

// Rewards computes the payout of every player in results.
func (c *Calculator) Rewards(results map[string]models.PlayerResult, standings map[string]Standing) map[string]int {
	out := make(map[string]int, len(results))
	for id, r := range results {
		out[id] = c.Reward(r, standings[id])
	}
	return out
}
