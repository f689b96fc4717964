package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/infra/logger"
	"github.com/dfedez920912/tbot-project/internal/policy"
)

// runSelfExpiryCheck reports the acting identity's own password expiry. No
// flow state is needed; the check completes within one event.
func (e *Engine) runSelfExpiryCheck(ctx context.Context, chatID int64) error {
	sess, ok := e.verifySession(ctx, chatID)
	if !ok {
		e.reply(ctx, chatID, e.catalog.Render(MsgSessionExpired, nil))
		return nil
	}

	e.sendExpiryReport(ctx, chatID, sess.Identity.Email)
	return nil
}

// startAdminExpiryCheck enters the administrator expiry flow: session plus
// privileged-group membership, then one email prompt.
func (e *Engine) startAdminExpiryCheck(ctx context.Context, chatID int64) error {
	sess, ok := e.verifySession(ctx, chatID)
	if !ok {
		e.reply(ctx, chatID, e.catalog.Render(MsgSessionExpired, nil))
		return nil
	}
	if !e.directory.IsGroupMember(ctx, sess.Identity.Email) {
		e.reply(ctx, chatID, e.catalog.Render(MsgRestricted, nil))
		return nil
	}

	e.beginFlow(chatID, domain.FlowAdminExpiryCheck, domain.StepAwaitingEmail)
	e.reply(ctx, chatID, e.catalog.Render(MsgAskExpiryEmail, nil))
	return nil
}

// handleExpiryEmail validates the target address with the same
// re-prompt-on-invalid rule as the password flow, then renders the report.
func (e *Engine) handleExpiryEmail(ctx context.Context, ev domain.InboundEvent, _ *domain.ConversationState) error {
	if _, ok := e.verifySession(ctx, ev.ChatID); !ok {
		e.endFlow(ev.ChatID, outcomeError)
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgSessionExpired, nil))
		return nil
	}

	email := strings.ToLower(strings.TrimSpace(ev.Text))
	if !ValidEmail(email) {
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgInvalidEmail, nil))
		return nil
	}

	e.endFlow(ev.ChatID, outcomeSuccess)
	e.sendExpiryReport(ctx, ev.ChatID, email)
	return nil
}

// sendExpiryReport evaluates and renders the expiry verdict for email. An
// unreadable last-set timestamp yields the fail-closed expired shape with a
// diagnostic line.
func (e *Engine) sendExpiryReport(ctx context.Context, chatID int64, email string) {
	lastSet, err := e.directory.GetPasswordLastSet(ctx, email)

	var result domain.PasswordExpiryResult
	if err != nil {
		e.logger.Warn("password last-set lookup failed",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
		result = domain.PasswordExpiryResult{
			Email:     email,
			IsExpired: true,
			Error:     "could not read the account's password metadata",
		}
	} else {
		result = policy.Evaluate(email, lastSet, e.policyDays, e.now())
	}

	e.send(ctx, domain.OutboundMessage{
		ChatID:     chatID,
		Text:       renderExpiryReport(result),
		MarkdownV2: true,
	})
}

// renderExpiryReport produces one of two fixed report shapes. Every
// interpolated field passes through the MarkdownV2 escaping pass.
func renderExpiryReport(result domain.PasswordExpiryResult) string {
	account := EscapeMarkdownV2(result.Email)

	if result.Error != "" {
		return fmt.Sprintf(
			"🔴 *PASSWORD EXPIRED*\n\nAccount: %s\nStatus could not be determined: %s",
			account,
			EscapeMarkdownV2(result.Error),
		)
	}

	expiry := EscapeMarkdownV2(result.ExpiryDate.UTC().Format(policy.ExpiryDateFormat))

	if result.IsExpired {
		return fmt.Sprintf(
			"🔴 *PASSWORD EXPIRED*\n\nAccount: %s\nExpired on: %s\nExpired %s ago",
			account,
			expiry,
			EscapeMarkdownV2(pluralDays(-*result.DaysRemaining)),
		)
	}

	return fmt.Sprintf(
		"🟢 *PASSWORD CURRENT*\n\nAccount: %s\nExpires on: %s\nDays remaining: %s",
		account,
		expiry,
		EscapeMarkdownV2(fmt.Sprintf("%d", *result.DaysRemaining)),
	)
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}
