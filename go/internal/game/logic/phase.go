package logic

import "fmt"

// Phase is a named stage of the day/night cycle.
type Phase string

const (
	PhaseLobby           Phase = "lobby"
	PhaseRoleAssignment  Phase = "role_assignment"
	PhaseDayDiscussion   Phase = "day_discussion"
	PhaseDayVoting       Phase = "day_voting"
	PhaseDayExecution    Phase = "day_execution"
	PhaseNightStart      Phase = "night_start"
	PhaseNightMafia      Phase = "night_mafia"
	PhaseNightDoctor     Phase = "night_doctor"
	PhaseNightProstitute Phase = "night_prostitute"
	PhaseNightDetective  Phase = "night_detective"
	PhaseNightResults    Phase = "night_results"
	PhaseGameEnded       Phase = "game_ended"
)

var transitions = map[Phase]Phase{
	PhaseLobby:           PhaseRoleAssignment,
	PhaseRoleAssignment:  PhaseDayDiscussion,
	PhaseDayDiscussion:   PhaseDayVoting,
	PhaseDayVoting:       PhaseDayExecution,
	PhaseDayExecution:    PhaseNightStart,
	PhaseNightStart:      PhaseNightMafia,
	PhaseNightMafia:      PhaseNightDoctor,
	PhaseNightDoctor:     PhaseNightProstitute,
	PhaseNightProstitute: PhaseNightDetective,
	PhaseNightDetective:  PhaseNightResults,
	PhaseNightResults:    PhaseDayDiscussion,
	PhaseGameEnded:       PhaseGameEnded,
}

// Next returns the normal successor of p.
func Next(p Phase) (Phase, error) {
	next, ok := transitions[p]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, p)
	}
	return next, nil
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := transitions[p]
	return ok
}

// IsNight reports whether p belongs to the night half of the cycle.
func (p Phase) IsNight() bool {
	switch p {
	case PhaseNightStart, PhaseNightMafia, PhaseNightDoctor,
		PhaseNightProstitute, PhaseNightDetective, PhaseNightResults:
		return true
	}
	return false
}

// IsDay reports whether p belongs to the day half of the cycle.
func (p Phase) IsDay() bool {
	switch p {
	case PhaseDayDiscussion, PhaseDayVoting, PhaseDayExecution:
		return true
	}
	return false
}

func (p Phase) String() string { return string(p) }
