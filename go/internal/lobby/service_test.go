package lobby

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/mafia/go/internal/events"
	"github.com/mcdev12/mafia/go/internal/gateway"
	"github.com/mcdev12/mafia/go/internal/models"
)

type fakeGames struct {
	calls atomic.Int32
	err   error
	mu    sync.Mutex
	got   []models.PlayerProfile
}

func (f *fakeGames) CreateFromLobby(_ context.Context, players []models.PlayerProfile, _ models.LobbySettings) (string, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	f.got = players
	f.mu.Unlock()
	return fmt.Sprintf("game-%d", n), nil
}

type fakeVoice struct{ quality models.VoiceQuality }

func (f *fakeVoice) CreateRoom(_ context.Context, gameID string, quality models.VoiceQuality) (string, error) {
	f.quality = quality
	return "room-" + gameID, nil
}

type sent struct {
	to  string
	msg gateway.Message
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) SendToUser(userID string, msg any, _ gateway.Priority) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	m, _ := msg.(gateway.Message)
	n.sent = append(n.sent, sent{to: userID, msg: m})
	return true
}

func (n *recordingNotifier) events(to, event string) []gateway.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []gateway.Message
	for _, s := range n.sent {
		if s.to == to && s.msg["event"] == event {
			out = append(out, s.msg)
		}
	}
	return out
}

type fakeRequeuer struct {
	mu    sync.Mutex
	added []models.QueuePlayer
}

func (r *fakeRequeuer) AddPlayer(_ context.Context, qp models.QueuePlayer) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, qp)
	return "queued", nil
}

func (r *fakeRequeuer) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, p := range r.added {
		out = append(out, p.Profile.UserID)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) ofType(t events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	svc      *Service
	clock    *clockwork.FakeClock
	games    *fakeGames
	voice    *fakeVoice
	notifier *recordingNotifier
	requeuer *fakeRequeuer
	pub      *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:    clockwork.NewFakeClock(),
		games:    &fakeGames{},
		voice:    &fakeVoice{},
		notifier: &recordingNotifier{},
		requeuer: &fakeRequeuer{},
		pub:      &recordingPublisher{},
	}
	h.svc = NewService(DefaultConfig(), h.clock, Deps{
		Games:     h.games,
		Voice:     h.voice,
		Notifier:  h.notifier,
		Requeuer:  h.requeuer,
		Publisher: h.pub,
	})
	ctx, cancel := context.WithCancel(context.Background())
	h.svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		h.svc.Stop()
	})
	return h
}

func formingLobby(id string, n int) models.FormingLobby {
	l := models.FormingLobby{
		LobbyID:  id,
		Mode:     models.GameModeQuick,
		Language: "en",
		Settings: models.DefaultLobbySettings(id, models.GameModeQuick, "en"),
	}
	for i := 1; i <= n; i++ {
		l.Players = append(l.Players, models.QueuePlayer{
			Profile: models.PlayerProfile{
				UserID:         fmt.Sprintf("p%d", i),
				TelegramID:     int64(1000 + i),
				Rating:         1000,
				NativeLanguage: "en",
			},
			Mode: models.GameModeQuick,
		})
	}
	return l
}

func TestCreateNotifiesPlayers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.svc.Create(ctx, formingLobby("l1", 3)))
	assert.Equal(t, 1, h.svc.Active())
	for _, id := range []string{"p1", "p2", "p3"} {
		found := h.notifier.events(id, "lobby_found")
		require.Len(t, found, 1)
		assert.Equal(t, "l1", found[0]["lobby_id"])
	}
	assert.Len(t, h.pub.ofType(events.TypeLobbyFormed), 1)

	err := h.svc.Create(ctx, formingLobby("l1", 3))
	require.ErrorIs(t, err, ErrLobbyExists)
	require.ErrorIs(t, h.svc.Create(ctx, models.FormingLobby{LobbyID: "l2"}), ErrEmptyLobby)
}

func TestAllReadyStartsGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	lobby := formingLobby("l1", 3)
	lobby.Settings.VoiceQuality = models.VoiceQualityHigh
	require.NoError(t, h.svc.Create(ctx, lobby))

	assert.True(t, h.svc.PlayerReady(ctx, "l1", "p1"))
	assert.True(t, h.svc.PlayerReady(ctx, "l1", "p2"))
	view, ok := h.svc.Get("l1")
	require.True(t, ok)
	assert.Equal(t, []string{"p1", "p2"}, view.Ready)

	readies := h.notifier.events("p3", "player_ready")
	require.Len(t, readies, 2)
	assert.Equal(t, 2, readies[1]["ready_count"])
	assert.Equal(t, 3, readies[1]["total"])

	assert.True(t, h.svc.PlayerReady(ctx, "l1", "p3"))
	assert.Equal(t, int32(1), h.games.calls.Load())
	assert.Equal(t, 0, h.svc.Active())
	assert.Equal(t, models.VoiceQualityHigh, h.voice.quality)

	started := h.notifier.events("p2", "game_started")
	require.Len(t, started, 1)
	assert.Equal(t, "game-1", started[0]["game_id"])
	assert.Equal(t, "room-game-1", started[0]["room_id"])
	require.Len(t, h.pub.ofType(events.TypeLobbyStarted), 1)

	assert.False(t, h.svc.PlayerReady(ctx, "l1", "p3"), "lobby is gone once converted")
}

func TestReadyRejectsStrangers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.Create(ctx, formingLobby("l1", 2)))

	assert.False(t, h.svc.PlayerReady(ctx, "l1", "p9"))
	assert.False(t, h.svc.PlayerReady(ctx, "missing", "p1"))
}

func TestConcurrentReadyConvertsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	const n = 12
	require.NoError(t, h.svc.Create(ctx, formingLobby("l1", n)))

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		for k := 0; k < 3; k++ {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				h.svc.PlayerReady(ctx, "l1", id)
			}(fmt.Sprintf("p%d", i))
		}
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.games.calls.Load())
	assert.Len(t, h.pub.ofType(events.TypeLobbyStarted), 1)
}

func TestLeaveStartsWhenRestAreReady(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.Create(ctx, formingLobby("l1", 3)))

	h.svc.PlayerReady(ctx, "l1", "p1")
	h.svc.PlayerReady(ctx, "l1", "p2")
	assert.True(t, h.svc.PlayerLeave(ctx, "l1", "p3"))

	assert.Equal(t, int32(1), h.games.calls.Load())
	h.games.mu.Lock()
	require.Len(t, h.games.got, 2)
	h.games.mu.Unlock()
	assert.Empty(t, h.notifier.events("p3", "game_started"))
}

func TestLeaveDeletesEmptyLobby(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.Create(ctx, formingLobby("l1", 2)))

	assert.True(t, h.svc.PlayerLeave(ctx, "l1", "p1"))
	assert.Len(t, h.notifier.events("p2", "player_left"), 1)
	assert.True(t, h.svc.PlayerLeave(ctx, "l1", "p2"))
	assert.Equal(t, 0, h.svc.Active())
	assert.Zero(t, h.games.calls.Load())
	assert.False(t, h.svc.PlayerLeave(ctx, "l1", "p2"))
}

func TestReadyTimeoutRequeuesReadyPlayers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.svc.Create(ctx, formingLobby("l1", 4)))
	h.svc.PlayerReady(ctx, "l1", "p1")
	h.svc.PlayerReady(ctx, "l1", "p3")

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(waitCtx, 1))
	h.clock.Advance(DefaultConfig().ReadyTimeout)

	require.Eventually(t, func() bool { return h.svc.Active() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(h.requeuer.ids()) == 2 }, time.Second, 5*time.Millisecond)
	assert.ElementsMatch(t, []string{"p1", "p3"}, h.requeuer.ids())
	assert.Len(t, h.notifier.events("p2", "lobby_expired"), 1)
	assert.Zero(t, h.games.calls.Load())
}

func TestFailedCreationRequeuesEveryone(t *testing.T) {
	h := newHarness(t)
	h.games.err = errors.New("db down")
	ctx := context.Background()
	require.NoError(t, h.svc.Create(ctx, formingLobby("l1", 2)))

	h.svc.PlayerReady(ctx, "l1", "p1")
	h.svc.PlayerReady(ctx, "l1", "p2")

	assert.ElementsMatch(t, []string{"p1", "p2"}, h.requeuer.ids())
	assert.Len(t, h.notifier.events("p1", "lobby_failed"), 1)
	assert.Empty(t, h.pub.ofType(events.TypeLobbyStarted))
}

type fakeSender struct {
	mu   sync.Mutex
	msgs []tgbotapi.MessageConfig
	err  error
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		s.msgs = append(s.msgs, m)
	}
	return tgbotapi.Message{}, s.err
}

func TestTelegramAnnouncer(t *testing.T) {
	sender := &fakeSender{}
	a := NewTelegramAnnouncer(sender, "https://t.me/mafia_bot/app")
	lobby := formingLobby("lobby_ab12", 2)
	lobby.Players[1].Profile.TelegramID = 0

	require.NoError(t, a.LobbyFound(context.Background(), lobby))
	require.Len(t, sender.msgs, 1)
	msg := sender.msgs[0]
	assert.Equal(t, int64(1001), msg.ChatID)

	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.NotNil(t, markup.InlineKeyboard[0][0].URL)
	assert.Equal(t, "https://t.me/mafia_bot/app?startapp=lobby_ab12", *markup.InlineKeyboard[0][0].URL)

	sender.err = errors.New("blocked")
	require.Error(t, a.LobbyFound(context.Background(), lobby))
}
