package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
)

// Sender adapts the Telegram Bot API to the engine's outbound contract.
type Sender struct {
	api *tgbotapi.BotAPI
}

// NewSender wraps an authorized bot API client.
func NewSender(api *tgbotapi.BotAPI) *Sender {
	return &Sender{api: api}
}

// SendMessage delivers one reply. At most one reply-markup variant applies:
// inline buttons win over a contact request, which wins over keyboard
// removal.
func (s *Sender) SendMessage(_ context.Context, msg domain.OutboundMessage) error {
	out := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	if msg.MarkdownV2 {
		out.ParseMode = tgbotapi.ModeMarkdownV2
	}

	switch {
	case len(msg.InlineButtons) > 0:
		rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(msg.InlineButtons))
		for _, button := range msg.InlineButtons {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData(button.Label, button.Action),
			))
		}
		out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	case msg.ContactRequest:
		out.ReplyMarkup = tgbotapi.NewOneTimeReplyKeyboard(
			tgbotapi.NewKeyboardButtonRow(
				tgbotapi.NewKeyboardButtonContact("Share my contact"),
			),
		)
	case msg.RemoveKeyboard:
		out.ReplyMarkup = tgbotapi.NewRemoveKeyboard(true)
	}

	if _, err := s.api.Send(out); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	return nil
}

// DeleteMessage removes a message from the chat's visible history.
func (s *Sender) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	if _, err := s.api.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete telegram message: %w", err)
	}
	return nil
}

// AnswerCallback acknowledges a button press.
func (s *Sender) AnswerCallback(_ context.Context, callbackID string) error {
	if _, err := s.api.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("answer telegram callback: %w", err)
	}
	return nil
}
