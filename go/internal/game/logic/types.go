package logic

import "errors"

// Role is the secret role a player holds for the duration of a game.
type Role string

const (
	RoleCitizen    Role = "citizen"
	RoleMafia      Role = "mafia"
	RoleDoctor     Role = "doctor"
	RoleDetective  Role = "detective"
	RoleProstitute Role = "prostitute"
)

// Team is the side a role plays for.
type Team string

const (
	TeamMafia    Team = "mafia"
	TeamCitizens Team = "citizens"
)

// Team returns the side the role wins with.
func (r Role) Team() Team {
	if r == RoleMafia {
		return TeamMafia
	}
	return TeamCitizens
}

// Description is the short text sent with the role assignment.
func (r Role) Description() string {
	switch r {
	case RoleMafia:
		return "Each night choose a victim together with the other mafia. Win when you equal the town."
	case RoleDoctor:
		return "Each night choose one player to protect from the mafia."
	case RoleDetective:
		return "Each night investigate one player to learn whether they are mafia."
	case RoleProstitute:
		return "Each night visit one player. Whatever they planned that night does not happen."
	default:
		return "Find the mafia and vote them out during the day."
	}
}

// ActionType is a night action.
type ActionType string

const (
	ActionKill        ActionType = "kill"
	ActionHeal        ActionType = "heal"
	ActionBlock       ActionType = "block"
	ActionInvestigate ActionType = "investigate"
)

// Role returns the role allowed to perform the action.
func (a ActionType) Role() Role {
	switch a {
	case ActionKill:
		return RoleMafia
	case ActionHeal:
		return RoleDoctor
	case ActionBlock:
		return RoleProstitute
	case ActionInvestigate:
		return RoleDetective
	}
	return ""
}

// Phase returns the night phase in which the action is accepted.
func (a ActionType) Phase() Phase {
	switch a {
	case ActionKill:
		return PhaseNightMafia
	case ActionHeal:
		return PhaseNightDoctor
	case ActionBlock:
		return PhaseNightProstitute
	case ActionInvestigate:
		return PhaseNightDetective
	}
	return ""
}

// PhaseAction returns the night action accepted in p, or "" when p takes none.
func PhaseAction(p Phase) ActionType {
	for _, a := range []ActionType{ActionKill, ActionHeal, ActionBlock, ActionInvestigate} {
		if a.Phase() == p {
			return a
		}
	}
	return ""
}

// Elimination reasons.
const (
	ReasonVotedOut      = "voted_out"
	ReasonKilledByMafia = "killed_by_mafia"
	ReasonAFK           = "afk"
)

var (
	ErrWrongPhase      = errors.New("action not allowed in current phase")
	ErrWrongRole       = errors.New("player role cannot perform this action")
	ErrNotAlive        = errors.New("player is not alive")
	ErrInvalidTarget   = errors.New("invalid target")
	ErrDuplicateAction = errors.New("action already submitted this night")
	ErrUnknownPlayer   = errors.New("player is not in this game")
	ErrUnknownPhase    = errors.New("unknown phase")
	ErrUnknownAction   = errors.New("unknown action")
)
