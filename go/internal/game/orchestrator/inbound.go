package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/events"
	"github.com/mcdev12/mafia/go/internal/game/logic"
	"github.com/mcdev12/mafia/go/internal/gateway"
)

// Client message types routed to the orchestrator.
const (
	MsgVote        = "vote"
	MsgNightAction = "night_action"
	MsgSkipVote    = "skip_vote"
	MsgChat        = "chat"
	MsgEmoji       = "emoji"
	MsgGetState    = "get_state"
)

const maxChatLength = 500

// clientMessage is the union of fields the routed client messages carry.
type clientMessage struct {
	SessionID string  `json:"session_id"`
	TargetID  *string `json:"target_id"`
	Action    string  `json:"action"`
	Skip      *bool   `json:"skip"`
	Message   string  `json:"message"`
	Emoji     string  `json:"emoji"`
}

// Subscribe routes the client messages published on bus to the orchestrator.
// The returned func removes every subscription.
func (o *Orchestrator) Subscribe(bus *events.Bus) func() {
	var unsubs []func()
	for _, t := range []string{MsgVote, MsgNightAction, MsgSkipVote, MsgChat, MsgEmoji, MsgGetState} {
		unsubs = append(unsubs, bus.Subscribe(events.ClientType(t), "orchestrator", o.HandleClientEvent))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// HandleClientEvent applies one inbound client message. Rejections are
// reported to the sender as error messages and never returned.
func (o *Orchestrator) HandleClientEvent(ctx context.Context, ev events.Event) error {
	var p events.ClientMessagePayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	var msg clientMessage
	if err := json.Unmarshal(p.Raw, &msg); err != nil {
		return fmt.Errorf("decode %s message: %w", p.Type, err)
	}

	userID, gameID := p.UserID, p.GameID
	reject := func(text string) error {
		o.sendTo(userID, gateway.ErrorMessage(text), gateway.PriorityHigh)
		return nil
	}
	if gameID == "" && p.Type != MsgVote {
		return reject("Not in a game")
	}

	switch p.Type {
	case MsgVote:
		if !o.CastVote(ctx, msg.SessionID, userID, msg.TargetID) {
			return reject("Vote rejected")
		}
	case MsgNightAction:
		if msg.TargetID == nil {
			return reject("Missing target")
		}
		if !o.SubmitNightAction(ctx, gameID, userID, logic.ActionType(msg.Action), *msg.TargetID) {
			return reject("Action rejected")
		}
		o.sendTo(userID, gateway.Message{"event": "action_accepted", "action": msg.Action}, gateway.PriorityNormal)
	case MsgSkipVote:
		skip := msg.Skip == nil || *msg.Skip
		if !o.VoteSkipDiscussion(ctx, gameID, userID, skip) {
			return reject("Skip vote rejected")
		}
	case MsgChat:
		return o.relayChat(gameID, userID, msg.Message, reject)
	case MsgEmoji:
		if msg.Emoji == "" {
			return reject("Missing emoji")
		}
		if ph, ok := o.Phase(gameID); !ok || ph.IsNight() {
			return reject("Reactions are closed")
		}
		o.broadcast(gameID, gateway.Message{"event": "emoji", "player_id": userID, "emoji": msg.Emoji}, gateway.PriorityLow)
	case MsgGetState:
		view, err := o.GetStateFor(gameID, userID)
		if err != nil {
			return reject("Game not found")
		}
		o.sendTo(userID, gateway.Message{"event": "game_state", "state": view}, gateway.PriorityHigh)
	default:
		log.Debug().Str("type", p.Type).Str("user_id", userID).Msg("unrouted client message")
	}
	return nil
}

// relayChat sends chat to whoever may hear the speaker: everybody during the
// day, the other mafia during the mafia phase, nobody otherwise.
func (o *Orchestrator) relayChat(gameID, userID, text string, reject func(string) error) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return reject("Empty message")
	}
	if len(text) > maxChatLength {
		return reject("Message too long")
	}

	g, ok := o.lookup(gameID)
	if !ok {
		return reject("Game not found")
	}
	g.mu.Lock()
	s := g.state
	speaks := logic.CanSpeak(s, userID)
	night := s.Phase == logic.PhaseNightMafia
	var mafia []string
	if night {
		mafia = s.PlayersWithRole(logic.RoleMafia, true)
	}
	g.mu.Unlock()

	if !speaks {
		return reject("You cannot chat now")
	}
	msg := gateway.Message{"event": "chat", "player_id": userID, "message": text}
	if night {
		msg["channel"] = "mafia"
		for _, m := range mafia {
			o.sendTo(m, msg, gateway.PriorityNormal)
		}
		return nil
	}
	o.broadcast(gameID, msg, gateway.PriorityNormal)
	return nil
}

// PresenceHooks adapts the orchestrator to the gateway's presence callbacks.
func (o *Orchestrator) PresenceHooks() (onConnect, onDisconnect gateway.PresenceFunc) {
	return o.HandleReconnect, o.HandleDisconnect
}
