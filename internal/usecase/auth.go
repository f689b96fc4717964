package usecase

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/infra/logger"
	"github.com/dfedez920912/tbot-project/internal/repository"
)

// handleStart resets the chat: any previous session is dropped, any active
// flow is abandoned, and the user is asked to authenticate by contact card.
func (e *Engine) handleStart(ctx context.Context, ev domain.InboundEvent) error {
	e.endFlow(ev.ChatID, outcomeCancelled)

	if _, err := e.sessions.Delete(ctx, sessionKey(ev.ChatID)); err != nil {
		e.logger.Warn("failed to drop previous session on start",
			zap.Int64("chat_id", ev.ChatID),
			zap.Error(err),
		)
	}

	name := ev.FirstName
	if name == "" {
		name = "there"
	}

	e.send(ctx, domain.OutboundMessage{
		ChatID: ev.ChatID,
		Text: e.catalog.Render(MsgWelcome, map[string]string{
			"greeting": greetingForHour(e.now().Hour()),
			"name":     name,
		}),
		ContactRequest: true,
	})
	return nil
}

// handleContact authenticates a shared contact card against the local user
// cache and the directory, then opens a session and shows the menu.
func (e *Engine) handleContact(ctx context.Context, ev domain.InboundEvent) error {
	if ev.Contact == nil || !ev.Contact.SenderMatches {
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgContactMismatch, nil))
		return nil
	}

	phone := strings.TrimPrefix(strings.TrimSpace(ev.Contact.Phone), "+")

	user, err := e.users.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			e.reply(ctx, ev.ChatID, e.catalog.Render(MsgUserNotFound, nil))
			return nil
		}
		return err
	}

	if !e.directory.IsAccountActive(ctx, user.Email) {
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgAccountInactive, nil))
		return nil
	}

	isAdmin := e.directory.IsGroupMember(ctx, user.Email)

	identity := domain.Identity{Name: user.Name, Email: user.Email}
	if err := e.sessions.CreateOrReplace(ctx, sessionKey(ev.ChatID), identity, e.sessionTTL); err != nil {
		return err
	}

	e.logger.Info("chat authenticated",
		zap.Int64("chat_id", ev.ChatID),
		zap.String("email", logger.MaskEmail(user.Email)),
		zap.Bool("admin", isAdmin),
	)

	e.send(ctx, domain.OutboundMessage{
		ChatID:         ev.ChatID,
		Text:           e.catalog.Render(MsgAuthenticated, map[string]string{"name": user.Name}),
		InlineButtons:  menuButtons(isAdmin),
		RemoveKeyboard: true,
	})
	return nil
}

func menuButtons(isAdmin bool) []domain.InlineButton {
	buttons := []domain.InlineButton{
		{Label: "Change my password", Action: actionSelfChange},
		{Label: "My password expiry", Action: actionSelfExpiry},
	}
	if isAdmin {
		buttons = append(buttons,
			domain.InlineButton{Label: "Change a user's password", Action: actionAdminChange},
			domain.InlineButton{Label: "Check a user's expiry", Action: actionAdminExpiry},
		)
	}
	return append(buttons, domain.InlineButton{Label: "Log out", Action: actionLogout})
}

func greetingForHour(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "Good morning"
	case hour >= 12 && hour < 19:
		return "Good afternoon"
	default:
		return "Good evening"
	}
}
