package logic

import "fmt"

// Investigation is what the detective learns about a target.
type Investigation struct {
	Detective string `json:"detective"`
	Target    string `json:"target"`
	IsMafia   bool   `json:"is_mafia"`
}

// NightResult is the outcome of one night.
type NightResult struct {
	Killed        *string
	Saved         bool
	Healed        *string
	Blocked       *string
	Investigation *Investigation
}

// SubmitAction records a night action. Nothing changes when an error is
// returned.
func SubmitAction(s *GameState, actor string, action ActionType, target string) error {
	role := action.Role()
	if role == "" {
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if !s.HasPlayer(actor) {
		return ErrUnknownPlayer
	}
	if s.Phase != action.Phase() {
		return ErrWrongPhase
	}
	if s.Roles[actor] != role {
		return ErrWrongRole
	}
	if !s.Alive[actor] {
		return ErrNotAlive
	}
	if !s.HasPlayer(target) || !s.Alive[target] {
		return ErrInvalidTarget
	}
	switch action {
	case ActionKill:
		if s.Roles[target] == RoleMafia {
			return ErrInvalidTarget
		}
	case ActionBlock, ActionInvestigate:
		if target == actor {
			return ErrInvalidTarget
		}
	}

	for _, a := range s.Night {
		if a.Type != action {
			continue
		}
		// every mafia member casts a ballot; the other roles act once
		if action != ActionKill || a.Actor == actor {
			return ErrDuplicateAction
		}
	}

	s.Night = append(s.Night, NightAction{Actor: actor, Type: action, Target: target})
	return nil
}

// ForgetActions drops the night actions taken by or aimed at playerID and
// returns how many were dropped.
func ForgetActions(s *GameState, playerID string) int {
	kept := s.Night[:0]
	for _, a := range s.Night {
		if a.Actor == playerID || a.Target == playerID {
			continue
		}
		kept = append(kept, a)
	}
	n := len(s.Night) - len(kept)
	s.Night = kept
	return n
}

// ResolveNight applies the fixed night order to the recorded actions: block,
// mafia kill, heal, investigation. It does not eliminate anyone.
func ResolveNight(s *GameState) NightResult {
	var res NightResult

	blocked := ""
	for _, a := range s.Night {
		if a.Type == ActionBlock {
			blocked = a.Target
			t := a.Target
			res.Blocked = &t
			break
		}
	}
	counts := func(a NightAction) bool {
		return a.Type == ActionBlock || a.Actor != blocked
	}

	tally := make(map[string]int)
	first := make(map[string]int)
	for i, a := range s.Night {
		if a.Type != ActionKill || !counts(a) {
			continue
		}
		if _, seen := first[a.Target]; !seen {
			first[a.Target] = i
		}
		tally[a.Target]++
	}
	victim := ""
	for target, n := range tally {
		if victim == "" || n > tally[victim] || (n == tally[victim] && first[target] < first[victim]) {
			victim = target
		}
	}

	for _, a := range s.Night {
		if a.Type != ActionHeal || !counts(a) {
			continue
		}
		t := a.Target
		res.Healed = &t
		if t == victim {
			res.Saved = true
			victim = ""
		}
		break
	}
	if victim != "" {
		res.Killed = &victim
	}

	for _, a := range s.Night {
		if a.Type != ActionInvestigate || !counts(a) {
			continue
		}
		res.Investigation = &Investigation{
			Detective: a.Actor,
			Target:    a.Target,
			IsMafia:   s.Roles[a.Target] == RoleMafia,
		}
		break
	}
	return res
}
