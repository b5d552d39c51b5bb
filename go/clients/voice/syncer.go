package voice

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/events"
	"github.com/mcdev12/mafia/go/internal/game/logic"
)

// Rooms is the part of Client the syncer drives.
type Rooms interface {
	SendCommands(ctx context.Context, roomID string, cmds []logic.VoiceCommand) error
	CloseRoom(ctx context.Context, roomID string) error
}

// Syncer keeps voice rooms muted according to the phase of their game.
type Syncer struct {
	rooms Rooms

	mu     sync.Mutex
	byGame map[string]string
}

func NewSyncer(rooms Rooms) *Syncer {
	return &Syncer{rooms: rooms, byGame: make(map[string]string)}
}

// Subscribe attaches the syncer to bus. The returned func detaches it.
func (s *Syncer) Subscribe(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(events.TypeLobbyStarted, "voice", s.onLobbyStarted),
		bus.Subscribe(events.TypePhaseChanged, "voice", s.onPhaseChanged),
		bus.Subscribe(events.TypeGameEnded, "voice", s.onGameEnded),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// RoomFor returns the room bound to gameID.
func (s *Syncer) RoomFor(gameID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byGame[gameID]
	return id, ok
}

func (s *Syncer) onLobbyStarted(_ context.Context, ev events.Event) error {
	var p events.LobbyStartedPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if p.RoomID == "" {
		return nil
	}
	s.mu.Lock()
	s.byGame[p.GameID] = p.RoomID
	s.mu.Unlock()
	return nil
}

func (s *Syncer) onPhaseChanged(ctx context.Context, ev events.Event) error {
	var p events.PhaseChangedPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	roomID, ok := s.RoomFor(p.GameID)
	if !ok || len(p.Voice) == 0 {
		return nil
	}
	if err := s.rooms.SendCommands(ctx, roomID, p.Voice); err != nil {
		return err
	}
	log.Debug().Str("game_id", p.GameID).Str("room_id", roomID).Str("phase", p.Phase).Int("commands", len(p.Voice)).Msg("voice room synced")
	return nil
}

func (s *Syncer) onGameEnded(ctx context.Context, ev events.Event) error {
	var p events.GameEndedPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	s.mu.Lock()
	roomID, ok := s.byGame[p.GameID]
	delete(s.byGame, p.GameID)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.rooms.CloseRoom(ctx, roomID)
}
