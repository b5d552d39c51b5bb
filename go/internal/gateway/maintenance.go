package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
)

// Start runs the heartbeat, cleanup and retry loops until ctx is cancelled
// or Stop is called.
func (cm *ConnectionManager) Start(ctx context.Context) error {
	cm.runMu.Lock()
	defer cm.runMu.Unlock()
	if cm.started {
		return ErrAlreadyStarted
	}
	cm.started = true

	ctx, cm.cancel = context.WithCancel(ctx)
	cm.wg.Add(3)
	go cm.loop(ctx, "heartbeat", cm.config.PingInterval, cm.Heartbeat)
	go cm.loop(ctx, "cleanup", cm.config.CleanupInterval, func() { cm.Cleanup() })
	go cm.loop(ctx, "retry", cm.config.RetryInterval, cm.RetryPending)

	log.Info().
		Dur("ping_interval", cm.config.PingInterval).
		Dur("reconnect_timeout", cm.config.ReconnectTimeout).
		Msg("connection manager started")
	return nil
}

// Stop halts the background loops and waits for them to exit.
func (cm *ConnectionManager) Stop() {
	cm.runMu.Lock()
	cancel := cm.cancel
	cm.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	cm.wg.Wait()
	log.Info().Msg("connection manager stopped")
}

func (cm *ConnectionManager) loop(ctx context.Context, name string, every time.Duration, fn func()) {
	defer cm.wg.Done()
	if every <= 0 {
		log.Warn().Str("loop", name).Msg("non-positive interval, loop disabled")
		return
	}
	ticker := cm.clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			fn()
		}
	}
}

func (cm *ConnectionManager) snapshot() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		out = append(out, c)
	}
	return out
}

// Heartbeat pings every connection and disconnects those that have left
// their oldest unanswered ping unanswered for twice the pong timeout.
func (cm *ConnectionManager) Heartbeat() {
	now := cm.clock.Now()
	ping, _ := json.Marshal(Message{"type": "ping", "timestamp": now.UTC().Format(time.RFC3339Nano)})

	for _, c := range cm.snapshot() {
		c.mu.Lock()
		stale := c.lastPong.Before(c.lastPing) && now.Sub(c.lastPing) > 2*cm.config.PongTimeout
		c.mu.Unlock()

		if stale {
			log.Warn().
				Str("connection_id", c.ID).
				Str("user_id", c.UserID).
				Msg("heartbeat timeout")
			cm.Disconnect(c, "heartbeat timeout", true)
			continue
		}

		if err := c.transport.Ping(); err != nil {
			log.Debug().Err(err).Str("connection_id", c.ID).Msg("ping failed")
			cm.Disconnect(c, "ping failed", true)
			continue
		}
		pingMsg := cm.newQueued(ping, PriorityLow)
		pingMsg.transient = true
		_ = c.trySend(pingMsg)

		c.mu.Lock()
		// an unanswered ping keeps its time so a silent client still ages out
		if !c.lastPong.Before(c.lastPing) {
			c.lastPing = now
		}
		c.mu.Unlock()
	}
}

// CleanupResult counts what a cleanup sweep removed.
type CleanupResult struct {
	Tokens      int
	Buffers     int
	Connections int
	Limiters    int
}

// Cleanup expires reconnect tokens and offline buffers and reaps closed
// connections.
func (cm *ConnectionManager) Cleanup() CleanupResult {
	now := cm.clock.Now()
	var res CleanupResult

	cm.mu.Lock()
	for token, info := range cm.reconnectTokens {
		if now.Sub(info.DisconnectedAt) > cm.config.ReconnectTimeout {
			delete(cm.reconnectTokens, token)
			res.Tokens++
		}
	}
	for userID, buf := range cm.buffers {
		kept := buf.messages[:0]
		for _, msg := range buf.messages {
			if now.Sub(msg.EnqueuedAt) <= cm.config.BufferTTL {
				kept = append(kept, msg)
			}
		}
		buf.messages = kept
		if len(kept) == 0 || now.Sub(buf.updatedAt) > cm.config.BufferTTL {
			delete(cm.buffers, userID)
			res.Buffers++
		}
	}
	var dead []*Connection
	for _, c := range cm.connections {
		if !c.IsAlive() {
			dead = append(dead, c)
		}
	}
	cm.mu.Unlock()

	for _, c := range dead {
		cm.Disconnect(c, "connection lost", true)
	}
	res.Connections = len(dead)
	res.Limiters = cm.limiter.Cleanup()

	if res.Tokens+res.Buffers+res.Connections > 0 {
		log.Debug().
			Int("tokens", res.Tokens).
			Int("buffers", res.Buffers).
			Int("connections", res.Connections).
			Msg("connection cleanup")
	}
	return res
}

// RetryPending re-sends queued messages on every live connection.
func (cm *ConnectionManager) RetryPending() {
	for _, c := range cm.snapshot() {
		if !c.IsAlive() {
			continue
		}
		sent, dropped := c.retry(cm.config.RetryBatch)
		if dropped > 0 {
			log.Warn().
				Str("connection_id", c.ID).
				Int("dropped", dropped).
				Msg("dropped messages after max retries")
		}
		if sent > 0 {
			log.Debug().Str("connection_id", c.ID).Int("sent", sent).Msg("retried queued messages")
		}
	}
}
