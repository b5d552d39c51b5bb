package phase

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Token identifies one scheduling of a key. A callback whose token is no
// longer current lost a race with a reschedule or a cancel and must do nothing.
type Token uint64

// Callback runs when a timer fires.
type Callback func(ctx context.Context, key string, token Token)

type scheduled struct {
	timer    clockwork.Timer
	token    Token
	deadline time.Time
	stop     chan struct{}
}

// Timers is a set of one-shot timers with at most one live timer per key.
type Timers struct {
	clock clockwork.Clock

	mu     sync.Mutex
	active map[string]*scheduled
	fired  map[string]Token
	seq    Token
	ctx    context.Context
}

// NewTimers creates an empty timer set on clock.
func NewTimers(clock clockwork.Clock) *Timers {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timers{
		clock:  clock,
		active: make(map[string]*scheduled),
		ctx:    context.Background(),
	}
}

// Bind sets the context handed to callbacks. Cancelling it stops every
// pending timer.
func (t *Timers) Bind(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
}

// Schedule arms fn to run after d, replacing any timer already armed for key.
func (t *Timers) Schedule(key string, d time.Duration, fn Callback) Token {
	if d < 0 {
		d = 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.active[key]; ok {
		stopScheduled(existing)
		log.Debug().Str("key", key).Msg("replaced existing timer")
	}

	t.seq++
	s := &scheduled{
		timer:    t.clock.NewTimer(d),
		token:    t.seq,
		deadline: t.clock.Now().Add(d),
		stop:     make(chan struct{}),
	}
	t.active[key] = s

	go t.wait(t.ctx, key, s, fn)

	log.Debug().
		Str("key", key).
		Dur("duration", d).
		Time("deadline", s.deadline).
		Msg("scheduled one-shot timer")

	return s.token
}

func (t *Timers) wait(ctx context.Context, key string, s *scheduled, fn Callback) {
	select {
	case <-s.timer.Chan():
		t.remove(key, s.token, true)
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("key", key).Msg("timer callback panicked")
			}
		}()
		fn(ctx, key, s.token)
	case <-s.stop:
	case <-ctx.Done():
		stopAndDrainTimer(s.timer)
		t.remove(key, s.token, false)
		log.Debug().Str("key", key).Msg("timer cancelled due to context cancellation")
	}
}

// Cancel stops and forgets the timer armed for key, if any.
func (t *Timers) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.fired, key)
	s, ok := t.active[key]
	if !ok {
		return false
	}
	stopScheduled(s)
	delete(t.active, key)
	log.Debug().Str("key", key).Msg("cancelled existing timer")
	return true
}

// IsCurrent reports whether token is still the live scheduling of key, or the
// one that just fired with nothing scheduled after it.
func (t *Timers) IsCurrent(key string, token Token) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.active[key]; ok {
		return s.token == token
	}
	return t.lastFired(key) == token
}

// Pending returns the deadline of the timer armed for key.
func (t *Timers) Pending(key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.active[key]
	if !ok {
		return time.Time{}, false
	}
	return s.deadline, true
}

// Len returns the number of armed timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}

// Stop cancels every armed timer.
func (t *Timers) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, s := range t.active {
		stopScheduled(s)
		log.Debug().Str("key", key).Msg("cancelled timer on shutdown")
	}
	t.active = make(map[string]*scheduled)
	t.fired = nil
}

// remove drops key once its timer is done, unless it was already replaced.
func (t *Timers) remove(key string, token Token, fired bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.active[key]; ok && s.token == token {
		delete(t.active, key)
		if !fired {
			return
		}
		if t.fired == nil {
			t.fired = make(map[string]Token)
		}
		t.fired[key] = token
	}
}

func (t *Timers) lastFired(key string) Token {
	if t.fired == nil {
		return 0
	}
	return t.fired[key]
}

// Forget drops the fired-token record of key.
func (t *Timers) Forget(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.fired, key)
}

func stopScheduled(s *scheduled) {
	stopAndDrainTimer(s.timer)
	close(s.stop)
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
