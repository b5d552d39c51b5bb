package phase

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/rs/zerolog/log"
)

// DefaultDuration is used for phases missing from the table.
const DefaultDuration = 30 * time.Second

// Durations maps each phase to how long it lasts before the automatic advance.
type Durations map[logic.Phase]time.Duration

// DefaultDurations returns the standard phase lengths.
func DefaultDurations() Durations {
	return Durations{
		logic.PhaseLobby:           30 * time.Second,
		logic.PhaseRoleAssignment:  10 * time.Second,
		logic.PhaseDayDiscussion:   180 * time.Second,
		logic.PhaseDayVoting:       60 * time.Second,
		logic.PhaseDayExecution:    10 * time.Second,
		logic.PhaseNightStart:      5 * time.Second,
		logic.PhaseNightMafia:      30 * time.Second,
		logic.PhaseNightDoctor:     15 * time.Second,
		logic.PhaseNightProstitute: 15 * time.Second,
		logic.PhaseNightDetective:  15 * time.Second,
		logic.PhaseNightResults:    10 * time.Second,
	}
}

// DurationsFromSeconds overlays per-phase seconds (keyed by wire name) on the
// defaults. Unknown phases and non-positive values are ignored.
func DurationsFromSeconds(overrides map[string]int) Durations {
	d := DefaultDurations()
	for name, secs := range overrides {
		p := logic.Phase(name)
		if !p.Valid() || secs <= 0 {
			log.Warn().Str("phase", name).Int("seconds", secs).Msg("ignoring phase duration override")
			continue
		}
		d[p] = time.Duration(secs) * time.Second
	}
	return d
}

// For returns the duration of p.
func (d Durations) For(p logic.Phase) time.Duration {
	if v, ok := d[p]; ok {
		return v
	}
	return DefaultDuration
}

// TimeoutHandler is invoked when a game's phase timer elapses. The handler
// must check IsCurrent under its own game lock before advancing.
type TimeoutHandler func(ctx context.Context, gameID string, token Token)

// Manager owns the single outstanding phase-advance timer of every game.
type Manager struct {
	timers    *Timers
	durations Durations
	handler   TimeoutHandler
}

// NewManager creates a phase manager.
func NewManager(clock clockwork.Clock, durations Durations) *Manager {
	if durations == nil {
		durations = DefaultDurations()
	}
	return &Manager{
		timers:    NewTimers(clock),
		durations: durations,
	}
}

// SetHandler registers the callback run on every phase timeout.
func (m *Manager) SetHandler(h TimeoutHandler) {
	m.handler = h
}

// Start binds the timer context; stopping ctx cancels every pending advance.
func (m *Manager) Start(ctx context.Context) {
	m.timers.Bind(ctx)
	log.Info().Int("phases", len(m.durations)).Msg("phase manager started")
}

// Stop cancels all pending advances.
func (m *Manager) Stop() {
	m.timers.Stop()
	log.Info().Msg("phase manager stopped")
}

// Duration returns the configured length of p.
func (m *Manager) Duration(p logic.Phase) time.Duration {
	return m.durations.For(p)
}

// Arm schedules the advance out of phase p for gameID, replacing any pending one.
func (m *Manager) Arm(gameID string, p logic.Phase) Token {
	return m.ArmAfter(gameID, m.durations.For(p))
}

// ArmAfter schedules the advance for gameID after d.
func (m *Manager) ArmAfter(gameID string, d time.Duration) Token {
	return m.timers.Schedule(gameID, d, func(ctx context.Context, key string, token Token) {
		if m.handler == nil {
			log.Warn().Str("game_id", key).Msg("phase timer fired without a handler")
			return
		}
		m.handler(ctx, key, token)
	})
}

// Disarm cancels the pending advance for gameID.
func (m *Manager) Disarm(gameID string) bool {
	return m.timers.Cancel(gameID)
}

// IsCurrent reports whether token is the latest arming for gameID.
func (m *Manager) IsCurrent(gameID string, token Token) bool {
	return m.timers.IsCurrent(gameID, token)
}

// Deadline returns when the pending advance for gameID fires.
func (m *Manager) Deadline(gameID string) (time.Time, bool) {
	return m.timers.Pending(gameID)
}

// Forget drops every trace of gameID.
func (m *Manager) Forget(gameID string) {
	m.timers.Cancel(gameID)
	m.timers.Forget(gameID)
}

// Active returns the number of games with a pending advance.
func (m *Manager) Active() int {
	return m.timers.Len()
}
