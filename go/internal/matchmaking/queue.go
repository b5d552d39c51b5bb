package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/models"
)

// Queued is returned by AddPlayer when the player is waiting for a match.
const Queued = "queued"

var (
	ErrPlayerBanned   = errors.New("player is banned")
	ErrUnknownMode    = errors.New("unknown matchmaking mode")
	ErrMissingUser    = errors.New("queue player has no user id")
	ErrAlreadyStarted = errors.New("matchmaking loop already started")
)

// LobbySink receives every lobby the queue forms.
type LobbySink interface {
	Create(ctx context.Context, lobby models.FormingLobby) error
}

// Store persists queue entries so a restarted instance can restore them.
type Store interface {
	Save(ctx context.Context, qp models.QueuePlayer) error
	Delete(ctx context.Context, mode models.GameMode, userID string) error
	Load(ctx context.Context) ([]models.QueuePlayer, error)
}

// Config holds matchmaking rules and timing.
type Config struct {
	Criteria      Criteria      `yaml:"criteria"`
	MatchInterval time.Duration `yaml:"match_interval"`
}

func DefaultConfig() Config {
	return Config{
		Criteria:      DefaultCriteria(),
		MatchInterval: 5 * time.Second,
	}
}

// Stats is a snapshot of the queue.
type Stats struct {
	Waiting       int                     `json:"waiting"`
	ByMode        map[models.GameMode]int `json:"by_mode"`
	LobbiesFormed int                     `json:"lobbies_formed"`
	OldestWait    time.Duration           `json:"oldest_wait"`
	Overdue       int                     `json:"overdue"` // waiting longer than MaxWait
}

// Queue holds the waiting players of every mode and forms lobbies from them.
type Queue struct {
	config Config
	clock  clockwork.Clock
	sink   LobbySink
	store  Store

	mu      sync.Mutex
	queues  map[models.GameMode][]models.QueuePlayer
	members map[string]models.GameMode
	formed  int

	runMu   sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewQueue creates an empty queue. store may be nil.
func NewQueue(config Config, clock clockwork.Clock, sink LobbySink, store Store) *Queue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.MatchInterval <= 0 {
		config.MatchInterval = DefaultConfig().MatchInterval
	}
	q := &Queue{
		config:  config,
		clock:   clock,
		sink:    sink,
		store:   store,
		queues:  make(map[models.GameMode][]models.QueuePlayer),
		members: make(map[string]models.GameMode),
	}
	return q
}

// AddPlayer queues qp, replacing any earlier membership of the same user, and
// tries to form a lobby. It returns the lobby id or Queued.
func (q *Queue) AddPlayer(ctx context.Context, qp models.QueuePlayer) (string, error) {
	now := q.clock.Now()
	if qp.Profile.UserID == "" {
		return "", ErrMissingUser
	}
	if !qp.Mode.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, qp.Mode)
	}
	if qp.Profile.IsBanned(now) {
		return "", fmt.Errorf("%w until %s", ErrPlayerBanned, qp.Profile.BannedUntil.Format(time.RFC3339))
	}
	if qp.JoinTime.IsZero() {
		qp.JoinTime = now
	}

	q.mu.Lock()
	prev, had := q.removeLocked(qp.Profile.UserID)
	q.queues[qp.Mode] = append(q.queues[qp.Mode], qp)
	q.members[qp.Profile.UserID] = qp.Mode
	lobby, ok := q.formLocked(qp.Mode, now)
	q.mu.Unlock()

	if had && prev != qp.Mode {
		q.forget(ctx, prev, qp.Profile.UserID)
	}
	q.save(ctx, qp)

	log.Info().
		Str("user_id", qp.Profile.UserID).
		Str("mode", string(qp.Mode)).
		Int("rating", qp.Profile.Rating).
		Msg("player joined matchmaking")

	if !ok {
		return Queued, nil
	}
	if err := q.handOff(ctx, lobby); err != nil {
		return Queued, err
	}
	return lobby.LobbyID, nil
}

// RemovePlayer takes userID out of whatever queue it waits in.
func (q *Queue) RemovePlayer(ctx context.Context, userID string) bool {
	q.mu.Lock()
	mode, ok := q.removeLocked(userID)
	q.mu.Unlock()
	if !ok {
		return false
	}
	q.forget(ctx, mode, userID)
	log.Info().Str("user_id", userID).Str("mode", string(mode)).Msg("player left matchmaking")
	return true
}

// Position returns the mode userID waits in and its 1-based place in line.
func (q *Queue) Position(userID string) (models.GameMode, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	mode, ok := q.members[userID]
	if !ok {
		return "", 0, false
	}
	for i, p := range q.queues[mode] {
		if p.Profile.UserID == userID {
			return mode, i + 1, true
		}
	}
	return "", 0, false
}

// QueueSizes returns the number of waiting players per mode.
func (q *Queue) QueueSizes() map[models.GameMode]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[models.GameMode]int, len(models.GameModes))
	for _, m := range models.GameModes {
		out[m] = len(q.queues[m])
	}
	return out
}

func (q *Queue) Stats() Stats {
	now := q.clock.Now()
	q.mu.Lock()
	defer q.mu.Unlock()
	st := Stats{ByMode: make(map[models.GameMode]int), LobbiesFormed: q.formed}
	for mode, players := range q.queues {
		st.ByMode[mode] = len(players)
		st.Waiting += len(players)
		for _, p := range players {
			w := now.Sub(p.JoinTime)
			if w > st.OldestWait {
				st.OldestWait = w
			}
			if w > q.config.Criteria.MaxWait {
				st.Overdue++
			}
		}
	}
	return st
}

// TryMatch forms at most one lobby for mode from the players waiting now.
func (q *Queue) TryMatch(ctx context.Context, mode models.GameMode) (string, bool) {
	q.mu.Lock()
	lobby, ok := q.formLocked(mode, q.clock.Now())
	q.mu.Unlock()
	if !ok {
		return "", false
	}
	if err := q.handOff(ctx, lobby); err != nil {
		return "", false
	}
	return lobby.LobbyID, true
}

// Restore reloads persisted entries, keeping their join times.
func (q *Queue) Restore(ctx context.Context) (int, error) {
	if q.store == nil {
		return 0, nil
	}
	entries, err := q.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load queue: %w", err)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].JoinTime.Before(entries[j].JoinTime) })

	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, qp := range entries {
		if _, dup := q.members[qp.Profile.UserID]; dup || !qp.Mode.Valid() {
			continue
		}
		q.queues[qp.Mode] = append(q.queues[qp.Mode], qp)
		q.members[qp.Profile.UserID] = qp.Mode
		n++
	}
	log.Info().Int("players", n).Msg("matchmaking queue restored")
	return n, nil
}

// handOff gives a formed lobby to the sink. When the sink refuses it the
// players go back to the queue with their original join times.
func (q *Queue) handOff(ctx context.Context, lobby models.FormingLobby) error {
	for _, p := range lobby.Players {
		q.forget(ctx, p.Mode, p.Profile.UserID)
	}

	log.Info().
		Str("lobby_id", lobby.LobbyID).
		Str("mode", string(lobby.Mode)).
		Str("language", lobby.Language).
		Int("players", len(lobby.Players)).
		Msg("lobby formed")

	if q.sink == nil {
		return nil
	}
	if err := q.sink.Create(ctx, lobby); err != nil {
		log.Error().Err(err).Str("lobby_id", lobby.LobbyID).Msg("lobby sink failed, requeueing players")
		q.mu.Lock()
		for _, p := range lobby.Players {
			if _, back := q.members[p.Profile.UserID]; back {
				continue
			}
			q.queues[p.Mode] = append(q.queues[p.Mode], p)
			q.members[p.Profile.UserID] = p.Mode
		}
		q.formed--
		q.mu.Unlock()
		for _, p := range lobby.Players {
			q.save(ctx, p)
		}
		return fmt.Errorf("create lobby %s: %w", lobby.LobbyID, err)
	}
	return nil
}

func (q *Queue) removeLocked(userID string) (models.GameMode, bool) {
	mode, ok := q.members[userID]
	if !ok {
		return "", false
	}
	players := q.queues[mode]
	for i, p := range players {
		if p.Profile.UserID == userID {
			q.queues[mode] = append(players[:i:i], players[i+1:]...)
			break
		}
	}
	delete(q.members, userID)
	return mode, true
}

func (q *Queue) save(ctx context.Context, qp models.QueuePlayer) {
	if q.store == nil {
		return
	}
	if err := q.store.Save(ctx, qp); err != nil {
		log.Warn().Err(err).Str("user_id", qp.Profile.UserID).Msg("failed to persist queue entry")
	}
}

func (q *Queue) forget(ctx context.Context, mode models.GameMode, userID string) {
	if q.store == nil {
		return
	}
	if err := q.store.Delete(ctx, mode, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to delete queue entry")
	}
}

// formLocked picks one group that satisfies the criteria and removes it from
// the queue.
func (q *Queue) formLocked(mode models.GameMode, now time.Time) (models.FormingLobby, bool) {
	waiting := q.queues[mode]
	if len(waiting) == 0 {
		return models.FormingLobby{}, false
	}

	var (
		picked   []models.QueuePlayer
		language string
		private  bool
	)
	if mode == models.GameModeFriends {
		picked, language = q.friendsGroup(waiting)
		private = true
	} else {
		picked, language = q.ratedGroup(waiting, now)
	}
	if len(picked) == 0 {
		return models.FormingLobby{}, false
	}

	for _, p := range picked {
		q.removeLocked(p.Profile.UserID)
	}
	q.formed++

	lobby := models.FormingLobby{
		LobbyID:   newLobbyID(),
		Mode:      mode,
		Players:   picked,
		Language:  language,
		Private:   private,
		CreatedAt: now,
	}
	lobby.Settings = lobbySettings(lobby)
	return lobby, true
}

// friendsGroup returns the first party large enough to play.
func (q *Queue) friendsGroup(waiting []models.QueuePlayer) ([]models.QueuePlayer, string) {
	c := q.config.Criteria
	var order []string
	parties := make(map[string][]models.QueuePlayer)
	for _, p := range waiting {
		if p.PartyID == "" {
			continue
		}
		if _, seen := parties[p.PartyID]; !seen {
			order = append(order, p.PartyID)
		}
		parties[p.PartyID] = append(parties[p.PartyID], p)
	}
	for _, id := range order {
		members := parties[id]
		if len(members) < c.MinPlayers {
			continue
		}
		if len(members) > c.MaxPlayers {
			members = members[:c.MaxPlayers]
		}
		lead := members[0]
		language := lead.Profile.NativeLanguage
		if len(lead.PreferredLanguages) > 0 {
			language = lead.PreferredLanguages[0]
		}
		return members, language
	}
	return nil, ""
}

type languageGroup struct {
	language string
	players  []models.QueuePlayer
	oldest   time.Time
}

// ratedGroup groups players by inferred language, and once anybody has waited
// long enough also tries everyone together. Each group is held to the most
// relaxed criteria any of its members has earned.
func (q *Queue) ratedGroup(waiting []models.QueuePlayer, now time.Time) ([]models.QueuePlayer, string) {
	base := q.config.Criteria

	var groups []*languageGroup
	byLang := make(map[string]*languageGroup)
	for _, p := range waiting {
		lang := InferLanguage(p)
		g, ok := byLang[lang]
		if !ok {
			g = &languageGroup{language: lang, oldest: p.JoinTime}
			byLang[lang] = g
			groups = append(groups, g)
		}
		g.players = append(g.players, p)
		if p.JoinTime.Before(g.oldest) {
			g.oldest = p.JoinTime
		}
	}

	oldest := waiting[0]
	for _, p := range waiting[1:] {
		if p.JoinTime.Before(oldest.JoinTime) {
			oldest = p
		}
	}
	if base.Escalate(now.Sub(oldest.JoinTime)).IgnoreLanguage && len(groups) > 1 {
		groups = append(groups, &languageGroup{
			language: InferLanguage(oldest),
			players:  waiting,
			oldest:   oldest.JoinTime,
		})
	}

	for _, g := range groups {
		c := base.Escalate(now.Sub(g.oldest))
		if len(g.players) < c.MinPlayers {
			continue
		}
		fit := FilterByRating(g.players, c.RatingTolerance)
		if len(fit) < c.MinPlayers {
			continue
		}
		if len(fit) > c.MaxPlayers {
			fit = fit[:c.MaxPlayers]
		}
		return fit, g.language
	}
	return nil, ""
}

// InferLanguage returns the first preferred language the player can speak,
// else their native language.
func InferLanguage(p models.QueuePlayer) string {
	known := p.Profile.Languages()
	for _, l := range p.PreferredLanguages {
		if known[l] {
			return l
		}
	}
	return p.Profile.NativeLanguage
}

// FilterByRating keeps the players within tolerance of the median rating.
func FilterByRating(players []models.QueuePlayer, tolerance int) []models.QueuePlayer {
	if len(players) == 0 {
		return nil
	}
	ratings := make([]int, len(players))
	for i, p := range players {
		ratings[i] = p.Profile.Rating
	}
	sort.Ints(ratings)
	median := ratings[len(ratings)/2]

	var out []models.QueuePlayer
	for _, p := range players {
		d := p.Profile.Rating - median
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			out = append(out, p)
		}
	}
	return out
}

func lobbySettings(l models.FormingLobby) models.LobbySettings {
	s := models.DefaultLobbySettings(l.LobbyID, l.Mode, l.Language)
	s.Private = l.Private
	s.AllowSpectators = !l.Private
	for i, p := range l.Players {
		r := p.Profile.Rating
		if i == 0 || r < s.MinRating {
			s.MinRating = r
		}
		if i == 0 || r > s.MaxRating {
			s.MaxRating = r
		}
		if p.Profile.IsPremium {
			s.VoiceQuality = models.VoiceQualityHigh
		}
	}
	return s
}

func newLobbyID() string {
	return "lobby_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
