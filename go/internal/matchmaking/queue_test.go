package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/mafia/go/internal/models"
)

type fakeSink struct {
	mu      sync.Mutex
	lobbies []models.FormingLobby
	fail    error
}

func (s *fakeSink) Create(ctx context.Context, lobby models.FormingLobby) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.lobbies = append(s.lobbies, lobby)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lobbies)
}

func newTestQueue(t *testing.T) (*Queue, *clockwork.FakeClock, *fakeSink) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	sink := &fakeSink{}
	return NewQueue(DefaultConfig(), clock, sink, nil), clock, sink
}

func player(id string, rating int, lang string, mode models.GameMode) models.QueuePlayer {
	return models.QueuePlayer{
		Profile: models.PlayerProfile{UserID: id, Rating: rating, NativeLanguage: lang},
		Mode:    mode,
	}
}

func addAll(t *testing.T, q *Queue, players ...models.QueuePlayer) string {
	t.Helper()
	last := ""
	for _, p := range players {
		id, err := q.AddPlayer(context.Background(), p)
		require.NoError(t, err)
		last = id
	}
	return last
}

func TestCriteriaEscalate(t *testing.T) {
	base := DefaultCriteria()
	tests := []struct {
		name      string
		wait      time.Duration
		tolerance int
		anyLang   bool
		min       int
	}{
		{"fresh", 10 * time.Second, 200, false, 6},
		{"widened", 31 * time.Second, 300, false, 6},
		{"any language", 61 * time.Second, 300, true, 6},
		{"shrunk", 91 * time.Second, 300, true, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base.Escalate(tt.wait)
			assert.Equal(t, tt.tolerance, c.RatingTolerance)
			assert.Equal(t, tt.anyLang, c.IgnoreLanguage)
			assert.Equal(t, tt.min, c.MinPlayers)
		})
	}

	capped := base
	capped.RatingTolerance = 450
	assert.Equal(t, 500, capped.Escalate(time.Minute).RatingTolerance)
	floored := base
	floored.MinPlayers = 5
	assert.Equal(t, 4, floored.Escalate(2*time.Minute).MinPlayers)
}

func TestInferLanguage(t *testing.T) {
	p := player("u", 1000, "ru", models.GameModeQuick)
	p.Profile.SpokenLanguages = []string{"en"}
	p.Profile.PurchasedLanguages = []string{"es"}

	p.PreferredLanguages = []string{"de", "es", "en"}
	assert.Equal(t, "es", InferLanguage(p))

	p.PreferredLanguages = []string{"fr"}
	assert.Equal(t, "ru", InferLanguage(p))

	p.PreferredLanguages = nil
	assert.Equal(t, "ru", InferLanguage(p))
}

func TestFilterByRatingUsesMedian(t *testing.T) {
	var players []models.QueuePlayer
	for i, r := range []int{900, 1000, 1100, 1150, 1600} {
		players = append(players, player(fmt.Sprint(i), r, "en", models.GameModeQuick))
	}
	fit := FilterByRating(players, 200)
	var ratings []int
	for _, p := range fit {
		ratings = append(ratings, p.Profile.Rating)
	}
	assert.Equal(t, []int{900, 1000, 1100, 1150}, ratings)
	assert.Empty(t, FilterByRating(nil, 200))
}

func TestAddPlayerFormsLobby(t *testing.T) {
	q, _, sink := newTestQueue(t)

	var players []models.QueuePlayer
	for i := 0; i < 6; i++ {
		players = append(players, player(fmt.Sprintf("u%d", i), 1000+i*10, "en", models.GameModeQuick))
	}
	players[2].Profile.IsPremium = true

	id := addAll(t, q, players[:5]...)
	assert.Equal(t, Queued, id)
	assert.Equal(t, 5, q.QueueSizes()[models.GameModeQuick])

	id = addAll(t, q, players[5])
	require.True(t, strings.HasPrefix(id, "lobby_"))
	assert.Len(t, id, len("lobby_")+8)
	assert.Zero(t, q.QueueSizes()[models.GameModeQuick])

	require.Equal(t, 1, sink.count())
	lobby := sink.lobbies[0]
	assert.Equal(t, id, lobby.LobbyID)
	assert.Equal(t, "en", lobby.Language)
	assert.Len(t, lobby.Players, 6)
	assert.Equal(t, 1000, lobby.Settings.MinRating)
	assert.Equal(t, 1050, lobby.Settings.MaxRating)
	assert.Equal(t, models.VoiceQualityHigh, lobby.Settings.VoiceQuality)
	assert.False(t, lobby.Private)
	assert.Equal(t, 1, q.Stats().LobbiesFormed)
}

func TestAddPlayerRejectsBanned(t *testing.T) {
	q, clock, _ := newTestQueue(t)
	p := player("u1", 1000, "en", models.GameModeQuick)
	until := clock.Now().Add(time.Hour)
	p.Profile.BannedUntil = &until

	_, err := q.AddPlayer(context.Background(), p)
	require.ErrorIs(t, err, ErrPlayerBanned)

	expired := clock.Now().Add(-time.Hour)
	p.Profile.BannedUntil = &expired
	id, err := q.AddPlayer(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, Queued, id)

	_, err = q.AddPlayer(context.Background(), player("u2", 1000, "en", "blitz"))
	require.ErrorIs(t, err, ErrUnknownMode)
}

func TestAddPlayerReplacesMembership(t *testing.T) {
	q, _, _ := newTestQueue(t)
	addAll(t, q,
		player("u1", 1000, "en", models.GameModeQuick),
		player("u2", 1000, "en", models.GameModeQuick),
		player("u1", 1000, "en", models.GameModeRanked),
	)

	mode, pos, ok := q.Position("u1")
	require.True(t, ok)
	assert.Equal(t, models.GameModeRanked, mode)
	assert.Equal(t, 1, pos)

	_, pos, _ = q.Position("u2")
	assert.Equal(t, 1, pos)
	assert.Equal(t, 1, q.QueueSizes()[models.GameModeQuick])

	assert.True(t, q.RemovePlayer(context.Background(), "u1"))
	assert.False(t, q.RemovePlayer(context.Background(), "u1"))
	_, _, ok = q.Position("u1")
	assert.False(t, ok)
}

func TestRatingOutlierStaysQueued(t *testing.T) {
	q, _, sink := newTestQueue(t)
	for i := 0; i < 5; i++ {
		addAll(t, q, player(fmt.Sprintf("u%d", i), 1000, "en", models.GameModeRanked))
	}
	id := addAll(t, q, player("whale", 1800, "en", models.GameModeRanked))
	assert.Equal(t, Queued, id)
	assert.Zero(t, sink.count())
}

func TestLanguagesAreMatchedSeparatelyUntilEscalation(t *testing.T) {
	q, clock, sink := newTestQueue(t)
	for i := 0; i < 3; i++ {
		addAll(t, q, player(fmt.Sprintf("en%d", i), 1000, "en", models.GameModeQuick))
		addAll(t, q, player(fmt.Sprintf("de%d", i), 1000, "de", models.GameModeQuick))
	}
	assert.Zero(t, sink.count())

	clock.Advance(45 * time.Second)
	assert.Empty(t, q.MatchAll(context.Background()))

	clock.Advance(20 * time.Second)
	formed := q.MatchAll(context.Background())
	require.Len(t, formed, 1)
	assert.Len(t, sink.lobbies[0].Players, 6)
	assert.Equal(t, "en", sink.lobbies[0].Language, "mixed lobbies take the longest waiter's language")
}

func TestLongWaitLowersMinimum(t *testing.T) {
	q, clock, sink := newTestQueue(t)
	for i := 0; i < 4; i++ {
		addAll(t, q, player(fmt.Sprintf("u%d", i), 1000, "en", models.GameModeQuick))
	}
	clock.Advance(80 * time.Second)
	assert.Empty(t, q.MatchAll(context.Background()))

	clock.Advance(11 * time.Second)
	require.Len(t, q.MatchAll(context.Background()), 1)
	assert.Len(t, sink.lobbies[0].Players, 4)
}

func TestFriendsModeGroupsByParty(t *testing.T) {
	q, _, sink := newTestQueue(t)
	for i := 0; i < 5; i++ {
		p := player(fmt.Sprintf("a%d", i), 1000+i*300, "en", models.GameModeFriends)
		p.PartyID = "party-a"
		p.PreferredLanguages = []string{"es"}
		addAll(t, q, p)
		o := player(fmt.Sprintf("b%d", i), 1000, "en", models.GameModeFriends)
		o.PartyID = "party-b"
		addAll(t, q, o)
	}
	assert.Zero(t, sink.count())

	last := player("a5", 3000, "fr", models.GameModeFriends)
	last.PartyID = "party-a"
	id := addAll(t, q, last)
	require.NotEqual(t, Queued, id)

	lobby := sink.lobbies[0]
	assert.True(t, lobby.Private)
	assert.False(t, lobby.Settings.AllowSpectators)
	assert.Equal(t, "es", lobby.Language)
	assert.Len(t, lobby.Players, 6)
	assert.Equal(t, 5, q.QueueSizes()[models.GameModeFriends])
}

func TestMaxPlayersCapsLobby(t *testing.T) {
	q, _, sink := newTestQueue(t)
	q.config.Criteria.MinPlayers = 20 // hold formation until everyone is in
	for i := 0; i < 14; i++ {
		addAll(t, q, player(fmt.Sprintf("u%02d", i), 1000, "en", models.GameModeQuick))
	}
	q.config.Criteria.MinPlayers = 6

	require.Len(t, q.MatchAll(context.Background()), 1)
	assert.Len(t, sink.lobbies[0].Players, 12)
	assert.Equal(t, 2, q.QueueSizes()[models.GameModeQuick])
}

func TestSinkFailureRequeuesPlayers(t *testing.T) {
	q, _, sink := newTestQueue(t)
	sink.fail = errors.New("lobby service down")

	for i := 0; i < 5; i++ {
		addAll(t, q, player(fmt.Sprintf("u%d", i), 1000, "en", models.GameModeQuick))
	}
	id, err := q.AddPlayer(context.Background(), player("u5", 1000, "en", models.GameModeQuick))
	require.Error(t, err)
	assert.Equal(t, Queued, id)
	assert.Equal(t, 6, q.QueueSizes()[models.GameModeQuick])
	assert.Zero(t, q.Stats().LobbiesFormed)

	sink.fail = nil
	require.Len(t, q.MatchAll(context.Background()), 1)
}

func TestLoopAppliesEscalationWithoutJoins(t *testing.T) {
	q, clock, sink := newTestQueue(t)
	for i := 0; i < 4; i++ {
		addAll(t, q, player(fmt.Sprintf("u%d", i), 1000, "en", models.GameModeQuick))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, q.Start(ctx))
	defer q.Stop()
	require.ErrorIs(t, q.Start(ctx), ErrAlreadyStarted)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(95 * time.Second)
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStatsReportsWaits(t *testing.T) {
	q, clock, _ := newTestQueue(t)
	addAll(t, q, player("u1", 1000, "en", models.GameModeQuick))
	clock.Advance(130 * time.Second)
	addAll(t, q, player("u2", 1000, "en", models.GameModeRanked))

	st := q.Stats()
	assert.Equal(t, 2, st.Waiting)
	assert.Equal(t, 130*time.Second, st.OldestWait)
	assert.Equal(t, 1, st.Overdue)
}
