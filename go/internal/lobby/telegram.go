package lobby

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/mafia/go/internal/models"
)

// Sender is the part of *tgbotapi.BotAPI the announcer needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBot authorizes a bot token.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Info().Str("bot", api.Self.UserName).Msg("authorized telegram bot")
	return api, nil
}

// TelegramAnnouncer messages every player of a new lobby in their Telegram
// chat with a button that opens the mini app on that lobby.
type TelegramAnnouncer struct {
	bot        Sender
	miniAppURL string
}

func NewTelegramAnnouncer(bot Sender, miniAppURL string) *TelegramAnnouncer {
	return &TelegramAnnouncer{bot: bot, miniAppURL: miniAppURL}
}

func (a *TelegramAnnouncer) LobbyFound(ctx context.Context, lobby models.FormingLobby) error {
	var errs []error
	for _, p := range lobby.Players {
		if err := ctx.Err(); err != nil {
			return err
		}
		chatID := p.Profile.TelegramID
		if chatID == 0 {
			continue
		}
		msg := tgbotapi.NewMessage(chatID, lobbyText(lobby))
		if link := a.lobbyLink(lobby.LobbyID); link != "" {
			msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
				tgbotapi.NewInlineKeyboardRow(
					tgbotapi.NewInlineKeyboardButtonURL("Join the game", link),
				),
			)
		}
		if _, err := a.bot.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("notify %s: %w", p.Profile.UserID, err))
		}
	}
	return errors.Join(errs...)
}

func (a *TelegramAnnouncer) lobbyLink(lobbyID string) string {
	if a.miniAppURL == "" {
		return ""
	}
	u, err := url.Parse(a.miniAppURL)
	if err != nil {
		log.Warn().Err(err).Msg("invalid mini app url")
		return ""
	}
	q := u.Query()
	q.Set("startapp", lobbyID)
	u.RawQuery = q.Encode()
	return u.String()
}

func lobbyText(lobby models.FormingLobby) string {
	return fmt.Sprintf("🎭 Match found! %d players, %s game in %s.\nPress ready within a minute.",
		len(lobby.Players), lobby.Mode, lobby.Language)
}
