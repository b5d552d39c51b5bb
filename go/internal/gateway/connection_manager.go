package gateway

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/events"
)

// EventPublisher receives inbound client messages as events.
type EventPublisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// PresenceFunc is notified when a user's presence in a game changes.
type PresenceFunc func(gameID, userID string)

type reconnectInfo struct {
	UserID         string
	GameID         string
	Queue          []*QueuedMessage
	DisconnectedAt time.Time
}

type userBuffer struct {
	messages  []*QueuedMessage
	updatedAt time.Time
}

// ConnectionManager tracks client connections per user and game, delivers
// outbound messages with priority retry and buffers traffic for users that
// are offline or reconnecting.
type ConnectionManager struct {
	config    Config
	clock     clockwork.Clock
	publisher EventPublisher
	limiter   *RateLimiter
	upgrader  websocket.Upgrader

	mu              sync.RWMutex
	connections     map[string]*Connection
	userConnections map[string]map[string]*Connection
	gameConnections map[string]map[string]*Connection
	reconnectTokens map[string]*reconnectInfo
	buffers         map[string]*userBuffer
	seq             atomic.Uint64

	onConnect    PresenceFunc
	onDisconnect PresenceFunc

	runMu   sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewConnectionManager creates a connection manager. publisher may be nil,
// in which case inbound client messages are only answered locally.
func NewConnectionManager(config Config, clock clockwork.Clock, publisher EventPublisher) *ConnectionManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ConnectionManager{
		config:    config,
		clock:     clock,
		publisher: publisher,
		limiter:   NewRateLimiter(clock, config.RateLimit, config.RateWindow),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		connections:     make(map[string]*Connection),
		userConnections: make(map[string]map[string]*Connection),
		gameConnections: make(map[string]map[string]*Connection),
		reconnectTokens: make(map[string]*reconnectInfo),
		buffers:         make(map[string]*userBuffer),
	}
}

// SetPresenceHooks registers callbacks for a user's first connection to a
// game and for the loss of their last one. Hooks run on their own goroutine.
func (cm *ConnectionManager) SetPresenceHooks(onConnect, onDisconnect PresenceFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onConnect = onConnect
	cm.onDisconnect = onDisconnect
}

func (cm *ConnectionManager) nextSeq() uint64 {
	return cm.seq.Add(1)
}

func (cm *ConnectionManager) newQueued(data []byte, priority Priority) *QueuedMessage {
	return &QueuedMessage{
		Payload:    data,
		Priority:   priority,
		EnqueuedAt: cm.clock.Now(),
		MaxRetries: cm.config.MaxRetries,
		seq:        cm.nextSeq(),
	}
}

// Connect registers a client channel for userID, optionally bound to gameID.
// A valid reconnect token for the same user adopts the messages queued while
// the user was away; buffered messages are replayed after the acknowledgement.
func (cm *ConnectionManager) Connect(transport Transport, userID, gameID, reconnectToken string) *Connection {
	now := cm.clock.Now()
	conn := &Connection{
		ID:             uuid.NewString(),
		UserID:         userID,
		GameID:         gameID,
		ConnectedAt:    now,
		ReconnectToken: uuid.NewString(),
		transport:      transport,
		manager:        cm,
		send:           make(chan *QueuedMessage, cm.config.SendBuffer),
		done:           make(chan struct{}),
		lastPing:       now,
		lastPong:       now,
	}

	cm.mu.Lock()

	var pending []*QueuedMessage
	reconnected := false
	if reconnectToken != "" {
		if info, ok := cm.reconnectTokens[reconnectToken]; ok {
			if info.UserID == userID && now.Sub(info.DisconnectedAt) <= cm.config.ReconnectTimeout {
				pending = append(pending, info.Queue...)
				reconnected = true
				delete(cm.reconnectTokens, reconnectToken)
			} else if info.UserID != userID {
				log.Warn().
					Str("user_id", userID).
					Str("token_owner", info.UserID).
					Msg("reconnect token presented by another user")
			}
		}
	}
	if buf, ok := cm.buffers[userID]; ok {
		pending = append(pending, buf.messages...)
		delete(cm.buffers, userID)
	}
	sortQueue(pending)

	firstInGame := gameID != "" && len(cm.userGameConnectionsLocked(userID, gameID)) == 0

	ack, _ := json.Marshal(Message{
		"type":            "connected",
		"connection_id":   conn.ID,
		"user_id":         userID,
		"game_id":         gameID,
		"reconnect_token": conn.ReconnectToken,
		"timestamp":       now.UTC().Format(time.RFC3339Nano),
	})
	ackMsg := cm.newQueued(ack, PriorityCritical)
	ackMsg.transient = true
	if err := conn.trySend(ackMsg); err != nil {
		conn.queue = append(conn.queue, ackMsg)
	}
	for _, msg := range pending {
		if err := conn.trySend(msg); err != nil {
			conn.queue = append(conn.queue, msg)
		}
	}

	cm.connections[conn.ID] = conn
	if cm.userConnections[userID] == nil {
		cm.userConnections[userID] = make(map[string]*Connection)
	}
	cm.userConnections[userID][conn.ID] = conn
	if gameID != "" {
		if cm.gameConnections[gameID] == nil {
			cm.gameConnections[gameID] = make(map[string]*Connection)
		}
		cm.gameConnections[gameID][conn.ID] = conn
	}
	hook := cm.onConnect
	cm.mu.Unlock()

	go conn.writePump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", userID).
		Str("game_id", gameID).
		Bool("reconnected", reconnected).
		Int("replayed", len(pending)).
		Msg("connection established")

	if hook != nil && firstInGame {
		go hook(gameID, userID)
	}
	return conn
}

// userGameConnectionsLocked returns live connections of userID bound to gameID.
func (cm *ConnectionManager) userGameConnectionsLocked(userID, gameID string) []*Connection {
	var out []*Connection
	for _, c := range cm.userConnections[userID] {
		if c.GameID == gameID && c.IsAlive() {
			out = append(out, c)
		}
	}
	return out
}

// Disconnect removes conn. With allowReconnect its undelivered messages are
// kept under its reconnect token for ReconnectTimeout.
func (cm *ConnectionManager) Disconnect(conn *Connection, reason string, allowReconnect bool) {
	conn.shutdown(websocket.CloseNormalClosure, reason)

	cm.mu.Lock()
	if _, ok := cm.connections[conn.ID]; !ok {
		cm.mu.Unlock()
		return
	}
	delete(cm.connections, conn.ID)
	if conns, ok := cm.userConnections[conn.UserID]; ok {
		delete(conns, conn.ID)
		if len(conns) == 0 {
			delete(cm.userConnections, conn.UserID)
		}
	}
	if conn.GameID != "" {
		if conns, ok := cm.gameConnections[conn.GameID]; ok {
			delete(conns, conn.ID)
			if len(conns) == 0 {
				delete(cm.gameConnections, conn.GameID)
			}
		}
	}

	now := cm.clock.Now()
	queued := conn.takeQueue()
	if allowReconnect {
		cm.reconnectTokens[conn.ReconnectToken] = &reconnectInfo{
			UserID:         conn.UserID,
			GameID:         conn.GameID,
			Queue:          queued,
			DisconnectedAt: now,
		}
	}

	lastInGame := conn.GameID != "" && len(cm.userGameConnectionsLocked(conn.UserID, conn.GameID)) == 0
	hook := cm.onDisconnect
	cm.mu.Unlock()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Str("game_id", conn.GameID).
		Str("reason", reason).
		Bool("reconnectable", allowReconnect).
		Int("pending", len(queued)).
		Msg("connection closed")

	if hook != nil && lastInGame {
		go hook(conn.GameID, conn.UserID)
	}
}

// reclaim keeps a frame the write pump could not deliver. Before Disconnect
// it rejoins the connection queue; afterwards it joins the reconnect entry.
func (cm *ConnectionManager) reclaim(conn *Connection, msg *QueuedMessage) {
	if msg.transient || conn.giveBack(msg) {
		return
	}
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if info, ok := cm.reconnectTokens[conn.ReconnectToken]; ok {
		info.Queue = append(info.Queue, msg)
	}
}

// SendToConnection delivers msg to a single connection. It reports whether
// the message reached the send buffer; retryable priorities are queued
// otherwise.
func (cm *ConnectionManager) SendToConnection(conn *Connection, msg any, priority Priority) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message")
		return false
	}
	return cm.deliver(conn, data, priority)
}

func (cm *ConnectionManager) deliver(conn *Connection, data []byte, priority Priority) bool {
	msg := cm.newQueued(data, priority)
	err := conn.trySend(msg)
	switch err {
	case nil:
		return true
	case ErrConnectionClosed:
		cm.Disconnect(conn, "send failed", true)
		return false
	}

	if !priority.Retryable() {
		log.Warn().
			Str("connection_id", conn.ID).
			Str("priority", priority.String()).
			Msg("send buffer full, dropping message")
		return false
	}

	if !conn.enqueue(msg, cm.config.MaxQueueSize) {
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("retry queue full, dropping message")
	}
	return false
}

// SendToUser delivers msg to the first live connection of userID. Without
// one, the message is buffered until the user connects.
func (cm *ConnectionManager) SendToUser(userID string, msg any, priority Priority) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message")
		return false
	}

	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.userConnections[userID]))
	for _, c := range cm.userConnections[userID] {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()
	sort.Slice(conns, func(i, j int) bool { return conns[i].ConnectedAt.Before(conns[j].ConnectedAt) })

	for _, c := range conns {
		if !c.IsAlive() {
			continue
		}
		if cm.deliver(c, data, priority) {
			return true
		}
		if c.IsAlive() {
			// backpressure on a live connection; queued or dropped per priority
			return false
		}
	}

	cm.buffer(userID, data, priority)
	return false
}

func (cm *ConnectionManager) buffer(userID string, data []byte, priority Priority) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	buf, ok := cm.buffers[userID]
	if !ok {
		buf = &userBuffer{}
		cm.buffers[userID] = buf
	}
	if len(buf.messages) >= cm.config.MaxQueueSize {
		log.Warn().Str("user_id", userID).Msg("offline buffer full, dropping message")
		return
	}
	buf.messages = append(buf.messages, cm.newQueued(data, priority))
	buf.updatedAt = cm.clock.Now()
}

// Broadcast delivers msg to every connection bound to gameID except the
// excluded users, and to the pending queues of players of that game who are
// reconnecting. It returns the number of connections reached immediately.
func (cm *ConnectionManager) Broadcast(gameID string, msg any, exclude []string, priority Priority) int {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal broadcast")
		return 0
	}

	skip := make(map[string]bool, len(exclude))
	for _, u := range exclude {
		skip[u] = true
	}

	cm.mu.Lock()
	var targets []*Connection
	online := make(map[string]bool)
	for _, c := range cm.gameConnections[gameID] {
		if skip[c.UserID] {
			continue
		}
		targets = append(targets, c)
		if c.IsAlive() {
			online[c.UserID] = true
		}
	}
	for _, info := range cm.reconnectTokens {
		if info.GameID != gameID || skip[info.UserID] || online[info.UserID] {
			continue
		}
		if len(info.Queue) >= cm.config.MaxQueueSize {
			continue
		}
		info.Queue = append(info.Queue, cm.newQueued(data, priority))
	}
	cm.mu.Unlock()

	var (
		wg        sync.WaitGroup
		deliverMu sync.Mutex
		delivered int
	)
	for _, c := range targets {
		wg.Add(1)
		go func(c *Connection) {
			defer wg.Done()
			if cm.deliver(c, data, priority) {
				deliverMu.Lock()
				delivered++
				deliverMu.Unlock()
			}
		}(c)
	}
	wg.Wait()

	log.Debug().
		Str("game_id", gameID).
		Int("targets", len(targets)).
		Int("delivered", delivered).
		Msg("broadcast sent")

	return delivered
}

// IsConnected reports whether userID has a live connection bound to gameID.
func (cm *ConnectionManager) IsConnected(gameID, userID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.userGameConnectionsLocked(userID, gameID)) > 0
}

// Connection returns a registered connection by id.
func (cm *ConnectionManager) Connection(id string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.connections[id]
	return c, ok
}

// Stats returns a snapshot of the manager state.
func (cm *ConnectionManager) Stats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	s := Stats{
		TotalConnections: len(cm.connections),
		Users:            len(cm.userConnections),
		ActiveGames:      len(cm.gameConnections),
		GameConnections:  make(map[string]int, len(cm.gameConnections)),
		ReconnectTokens:  len(cm.reconnectTokens),
		BufferedUsers:    len(cm.buffers),
	}
	for gameID, conns := range cm.gameConnections {
		s.GameConnections[gameID] = len(conns)
	}
	for _, buf := range cm.buffers {
		s.BufferedMessages += len(buf.messages)
	}
	for _, c := range cm.connections {
		s.QueuedMessages += c.QueueLen()
	}
	return s
}

// CloseAll disconnects every client without keeping reconnect state.
func (cm *ConnectionManager) CloseAll(reason string) {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	for _, c := range conns {
		c.shutdown(websocket.CloseGoingAway, reason)
		cm.Disconnect(c, reason, false)
	}
	log.Info().Int("connections", len(conns)).Msg("all connections closed")
}
