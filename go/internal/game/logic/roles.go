package logic

import "math/rand"

// RoleTier fixes the special-role counts for games up to MaxPlayers players.
// A zero MaxPlayers matches any size.
type RoleTier struct {
	MaxPlayers int `yaml:"max_players"`
	Mafia      int `yaml:"mafia"`
	Doctor     int `yaml:"doctor"`
	Detective  int `yaml:"detective"`
	Prostitute int `yaml:"prostitute"`
}

// DefaultRoleTiers: up to 6 players one mafia and a doctor, up to 10 two mafia
// with a detective, larger games three mafia and a prostitute.
var DefaultRoleTiers = []RoleTier{
	{MaxPlayers: 6, Mafia: 1, Doctor: 1},
	{MaxPlayers: 10, Mafia: 2, Doctor: 1, Detective: 1},
	{MaxPlayers: 0, Mafia: 3, Doctor: 1, Detective: 1, Prostitute: 1},
}

// RoleOptions tunes role assignment for a single game.
type RoleOptions struct {
	Tiers             []RoleTier
	DisableDetective  bool
	DisableProstitute bool
}

// TierFor picks the tier for n players.
func TierFor(tiers []RoleTier, n int) RoleTier {
	if len(tiers) == 0 {
		tiers = DefaultRoleTiers
	}
	for _, t := range tiers {
		if t.MaxPlayers == 0 || n <= t.MaxPlayers {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// RoleDeck returns the multiset of roles dealt to n players, specials first.
func RoleDeck(n int, opts RoleOptions) []Role {
	tier := TierFor(opts.Tiers, n)
	if opts.DisableDetective {
		tier.Detective = 0
	}
	if opts.DisableProstitute {
		tier.Prostitute = 0
	}

	deck := make([]Role, 0, n)
	add := func(r Role, count int) {
		for i := 0; i < count && len(deck) < n; i++ {
			deck = append(deck, r)
		}
	}
	add(RoleMafia, tier.Mafia)
	add(RoleDoctor, tier.Doctor)
	add(RoleDetective, tier.Detective)
	add(RoleProstitute, tier.Prostitute)
	for len(deck) < n {
		deck = append(deck, RoleCitizen)
	}
	return deck
}

// AssignRoles deals roles to the alive players using rng for the permutation
// and stores them on the state. Players who left during the lobby get none.
func AssignRoles(s *GameState, rng *rand.Rand, opts RoleOptions) map[string]Role {
	seats := s.AlivePlayers()
	deck := RoleDeck(len(seats), opts)

	rng.Shuffle(len(seats), func(i, j int) { seats[i], seats[j] = seats[j], seats[i] })

	roles := make(map[string]Role, len(seats))
	for i, p := range seats {
		roles[p] = deck[i]
	}
	s.Roles = roles
	return roles
}
