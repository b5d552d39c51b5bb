package voting

import (
	"errors"
	"time"
)

// Type is the kind of vote a session collects.
type Type string

const (
	TypeDayElimination Type = "day_elimination"
	TypeMafiaKill      Type = "mafia_kill"
	TypeSkip           Type = "skip_vote"
)

var (
	ErrSessionNotFound  = errors.New("voting session not found")
	ErrSessionExists    = errors.New("an open session of this type already exists for the game")
	ErrSessionClosed    = errors.New("voting session already resolved")
	ErrSessionExpired   = errors.New("voting session expired")
	ErrNotEligibleVoter = errors.New("voter is not eligible in this session")
	ErrInvalidTarget    = errors.New("target is not eligible in this session")
	ErrUnknownType      = errors.New("unknown voting type")
)

// Ballot is one voter's choice. A nil Target is a skip.
type Ballot struct {
	Voter  string
	Target *string
	CastAt time.Time
}

// Result is the outcome of a resolved session.
type Result struct {
	SessionID  string
	GameID     string
	Type       Type
	Eliminated *string
	VoteCounts map[string]int
	Skips      int
	Cast       int
}

// CastResult tells the caller whether the ballot completed the session.
type CastResult struct {
	Cast     int
	Eligible int
	Complete bool
}

// Session collects ballots for one vote.
type Session struct {
	ID              string
	GameID          string
	Type            Type
	EligibleVoters  map[string]bool
	EligibleTargets map[string]bool
	CreatedAt       time.Time
	ExpiresAt       time.Time

	// ballots keep the position of a voter's first submission; a later ballot
	// from the same voter overwrites the target in place.
	ballots []Ballot
	index   map[string]int

	Resolved bool
	Result   *Result
}

// Ballots returns a copy of the ballots in first-submission order.
func (s *Session) Ballots() []Ballot {
	return append([]Ballot(nil), s.ballots...)
}

// Complete reports whether every eligible voter has a ballot in.
func (s *Session) Complete() bool {
	return len(s.EligibleVoters) > 0 && len(s.ballots) >= len(s.EligibleVoters)
}

// TargetList returns eligible targets in a stable order.
func (s *Session) TargetList() []string {
	return sortedKeys(s.EligibleTargets)
}

// VoterList returns eligible voters in a stable order.
func (s *Session) VoterList() []string {
	return sortedKeys(s.EligibleVoters)
}
