package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/events"
)

// HandleInbound processes one message received from conn. Anything the
// manager does not answer itself is published as a client event for the
// game server.
func (cm *ConnectionManager) HandleInbound(ctx context.Context, conn *Connection, data []byte) {
	now := cm.clock.Now()
	conn.touch(now)

	if int64(len(data)) > cm.config.MaxMessageSize {
		cm.SendToConnection(conn, ErrorMessage("Message too large"), PriorityHigh)
		return
	}

	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		cm.SendToConnection(conn, ErrorMessage("Invalid JSON"), PriorityHigh)
		return
	}

	if !cm.limiter.Allow(conn.UserID) {
		log.Warn().Str("user_id", conn.UserID).Msg("inbound rate limit exceeded")
		cm.SendToConnection(conn, ErrorMessage("Rate limit exceeded"), PriorityHigh)
		return
	}

	msgType, _ := msg["type"].(string)
	switch msgType {
	case "ping":
		cm.SendToConnection(conn, Message{"type": "pong", "timestamp": now.UTC().Format(time.RFC3339Nano)}, PriorityHigh)
		return
	case "pong":
		return
	case "":
		cm.SendToConnection(conn, ErrorMessage("Missing message type"), PriorityHigh)
		return
	}

	if cm.publisher == nil {
		log.Debug().Str("type", msgType).Msg("no publisher, dropping client message")
		return
	}

	msg["user_id"] = conn.UserID
	msg["timestamp"] = now.UTC().Format(time.RFC3339Nano)
	if conn.GameID != "" {
		msg["game_id"] = conn.GameID
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("failed to re-marshal client message")
		return
	}

	ev, err := events.New(events.ClientType(msgType), conn.GameID, events.ClientMessagePayload{
		UserID:    conn.UserID,
		GameID:    conn.GameID,
		Type:      msgType,
		Timestamp: now.UTC(),
		Raw:       raw,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build client event")
		return
	}
	ev.UserID = conn.UserID

	if err := cm.publisher.Publish(ctx, ev); err != nil {
		log.Error().
			Err(err).
			Str("user_id", conn.UserID).
			Str("type", msgType).
			Msg("client message handler failed")
	}
}
