package voting

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Engine holds the voting sessions of every game.
type Engine struct {
	clock clockwork.Clock

	mu       sync.Mutex
	sessions map[string]*Session
	open     map[string]map[Type]string // game -> type -> open session id
}

// NewEngine creates an empty engine.
func NewEngine(clock clockwork.Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Engine{
		clock:    clock,
		sessions: make(map[string]*Session),
		open:     make(map[string]map[Type]string),
	}
}

// Open starts a session. A zero ttl never expires.
func (e *Engine) Open(gameID string, t Type, voters, targets []string, ttl time.Duration) (*Session, error) {
	switch t {
	case TypeDayElimination, TypeMafiaKill, TypeSkip:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if id, ok := e.open[gameID][t]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}

	now := e.clock.Now()
	s := &Session{
		ID:              uuid.New().String(),
		GameID:          gameID,
		Type:            t,
		EligibleVoters:  toSet(voters),
		EligibleTargets: toSet(targets),
		CreatedAt:       now,
		index:           make(map[string]int),
	}
	if ttl > 0 {
		s.ExpiresAt = now.Add(ttl)
	}

	e.sessions[s.ID] = s
	if e.open[gameID] == nil {
		e.open[gameID] = make(map[Type]string)
	}
	e.open[gameID][t] = s.ID

	return s.clone(), nil
}

// Cast records a ballot, overwriting an earlier ballot from the same voter.
// A nil target is a skip.
func (e *Engine) Cast(sessionID, voter string, target *string) (CastResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return CastResult{}, ErrSessionNotFound
	}
	if s.Resolved {
		return CastResult{}, ErrSessionClosed
	}
	if s.expired(e.clock.Now()) {
		return CastResult{}, ErrSessionExpired
	}
	if !s.EligibleVoters[voter] {
		return CastResult{}, ErrNotEligibleVoter
	}
	if target != nil && !s.EligibleTargets[*target] {
		return CastResult{}, ErrInvalidTarget
	}

	var t *string
	if target != nil {
		v := *target
		t = &v
	}
	b := Ballot{Voter: voter, Target: t, CastAt: e.clock.Now()}
	if i, ok := s.index[voter]; ok {
		s.ballots[i] = b
	} else {
		s.index[voter] = len(s.ballots)
		s.ballots = append(s.ballots, b)
	}

	return CastResult{
		Cast:     len(s.ballots),
		Eligible: len(s.EligibleVoters),
		Complete: len(s.ballots) >= len(s.EligibleVoters),
	}, nil
}

// Resolve closes the session and returns its result. Resolving again returns
// the same result.
func (e *Engine) Resolve(sessionID string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return Result{}, ErrSessionNotFound
	}
	return e.resolveLocked(s), nil
}

// ResolveIfOpen resolves the open session of type t for gameID, if any, and
// removes it from the engine.
func (e *Engine) ResolveIfOpen(gameID string, t Type) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.open[gameID][t]
	if !ok {
		return Result{}, false
	}
	s := e.sessions[id]
	res := e.resolveLocked(s)
	delete(e.sessions, id)
	return res, true
}

// Consume removes a resolved session.
func (e *Engine) Consume(sessionID string) (Result, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok || !s.Resolved {
		return Result{}, false
	}
	delete(e.sessions, sessionID)
	return *s.Result, true
}

// Get returns a snapshot of a session.
func (e *Engine) Get(sessionID string) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// Active returns a snapshot of the open session of type t for gameID.
func (e *Engine) Active(gameID string, t Type) (*Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id, ok := e.open[gameID][t]
	if !ok {
		return nil, false
	}
	return e.sessions[id].clone(), true
}

// Withdraw removes playerID from the open sessions of gameID: they can no
// longer vote or be voted for, their ballot is dropped, and ballots naming
// them are dropped so those voters can choose again. It returns the number of
// sessions touched.
func (e *Engine) Withdraw(gameID, playerID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for _, id := range e.open[gameID] {
		s := e.sessions[id]
		if s == nil || s.Resolved {
			continue
		}
		delete(s.EligibleVoters, playerID)
		delete(s.EligibleTargets, playerID)

		kept := s.ballots[:0]
		for _, b := range s.ballots {
			if b.Voter == playerID || (b.Target != nil && *b.Target == playerID) {
				continue
			}
			kept = append(kept, b)
		}
		s.ballots = kept
		s.index = make(map[string]int, len(kept))
		for i, b := range kept {
			s.index[b.Voter] = i
		}
		n++
	}
	return n
}

// Discard drops every session of gameID and returns how many were dropped.
func (e *Engine) Discard(gameID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	for id, s := range e.sessions {
		if s.GameID == gameID {
			delete(e.sessions, id)
			n++
		}
	}
	delete(e.open, gameID)
	return n
}

// Sweep drops unresolved sessions whose expiry has passed. Expiry cancels a
// vote without a result.
func (e *Engine) Sweep() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	n := 0
	for id, s := range e.sessions {
		if s.Resolved || !s.expired(now) {
			continue
		}
		e.unindex(s)
		delete(e.sessions, id)
		n++
	}
	return n
}

// Len returns the number of sessions held.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Engine) resolveLocked(s *Session) Result {
	if s.Resolved {
		return *s.Result
	}
	res := Tally(s.Type, s.ballots)
	res.SessionID = s.ID
	res.GameID = s.GameID
	s.Resolved = true
	s.Result = &res
	e.unindex(s)
	return res
}

func (e *Engine) unindex(s *Session) {
	if byType, ok := e.open[s.GameID]; ok && byType[s.Type] == s.ID {
		delete(byType, s.Type)
		if len(byType) == 0 {
			delete(e.open, s.GameID)
		}
	}
}

// Tally counts ballots. Skips count as cast ballots. Elimination votes need a
// strict majority of cast ballots and a tie eliminates nobody; a mafia kill
// goes to the most voted target with ties broken by the earliest ballot.
func Tally(t Type, ballots []Ballot) Result {
	res := Result{Type: t, VoteCounts: make(map[string]int), Cast: len(ballots)}

	first := make(map[string]int)
	for i, b := range ballots {
		if b.Target == nil {
			res.Skips++
			continue
		}
		if _, ok := first[*b.Target]; !ok {
			first[*b.Target] = i
		}
		res.VoteCounts[*b.Target]++
	}

	leader := ""
	for target, n := range res.VoteCounts {
		if leader == "" || n > res.VoteCounts[leader] ||
			(n == res.VoteCounts[leader] && first[target] < first[leader]) {
			leader = target
		}
	}
	if leader == "" {
		return res
	}

	switch t {
	case TypeMafiaKill:
		res.Eliminated = &leader
	default:
		if res.VoteCounts[leader]*2 > res.Cast {
			res.Eliminated = &leader
		}
	}
	return res
}

func (s *Session) expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

func (s *Session) clone() *Session {
	c := *s
	c.EligibleVoters = copySet(s.EligibleVoters)
	c.EligibleTargets = copySet(s.EligibleTargets)
	c.ballots = append([]Ballot(nil), s.ballots...)
	c.index = make(map[string]int, len(s.index))
	for k, v := range s.index {
		c.index[k] = v
	}
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	return &c
}

func toSet(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func copySet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
