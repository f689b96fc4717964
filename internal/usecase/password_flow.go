package usecase

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/infra/logger"
)

// startSelfPasswordChange enters the self-service flow. A valid session is
// the only gate: the user changes their own password.
func (e *Engine) startSelfPasswordChange(ctx context.Context, chatID int64) error {
	if _, ok := e.verifySession(ctx, chatID); !ok {
		e.reply(ctx, chatID, e.catalog.Render(MsgSessionExpired, nil))
		return nil
	}

	e.beginFlow(chatID, domain.FlowSelfPasswordChange, domain.StepAwaitingNewPassword)
	e.reply(ctx, chatID, e.catalog.Render(MsgAskNewPassword, nil))
	return nil
}

// startAdminPasswordChange enters the administrator flow. Requires a valid
// session and transitive membership in the privileged group; both checks
// fail closed before any state is entered.
func (e *Engine) startAdminPasswordChange(ctx context.Context, chatID int64) error {
	sess, ok := e.verifySession(ctx, chatID)
	if !ok {
		e.reply(ctx, chatID, e.catalog.Render(MsgSessionExpired, nil))
		return nil
	}
	if !e.directory.IsGroupMember(ctx, sess.Identity.Email) {
		e.reply(ctx, chatID, e.catalog.Render(MsgRestricted, nil))
		return nil
	}

	e.beginFlow(chatID, domain.FlowAdminPasswordChange, domain.StepAwaitingTargetEmail)
	e.reply(ctx, chatID, e.catalog.Render(MsgAskTargetEmail, nil))
	return nil
}

// handleTargetEmail validates the target address. Invalid input re-prompts
// in the same state; it never advances and never aborts.
func (e *Engine) handleTargetEmail(ctx context.Context, ev domain.InboundEvent, state *domain.ConversationState) error {
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

	state.Scratch.TargetEmail = email
	state.Step = domain.StepAwaitingNewPassword
	e.reply(ctx, ev.ChatID, e.catalog.Render(MsgAskNewPassword, nil))
	return nil
}

// handleNewPassword captures the candidate password. The triggering message
// is scrubbed from history immediately; weak candidates re-prompt without
// being stored.
func (e *Engine) handleNewPassword(ctx context.Context, ev domain.InboundEvent, state *domain.ConversationState) error {
	e.deleteMessage(ctx, ev.ChatID, ev.MessageID)

	if _, ok := e.verifySession(ctx, ev.ChatID); !ok {
		e.endFlow(ev.ChatID, outcomeError)
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgSessionExpired, nil))
		return nil
	}

	if err := e.validator.Validate(ev.Text); err != nil {
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgWeakPassword, map[string]string{
			"reason": err.Error(),
		}))
		return nil
	}

	state.Scratch.NewPassword = ev.Text
	state.Step = domain.StepAwaitingConfirmation
	e.reply(ctx, ev.ChatID, e.catalog.Render(MsgAskConfirmation, nil))
	return nil
}

// handleConfirmation compares the confirmation byte-for-byte. A mismatch
// discards the stored candidate and re-prompts for a fresh password; a match
// commits the change against the directory. The flow always ends terminal
// with scratch cleared.
func (e *Engine) handleConfirmation(ctx context.Context, ev domain.InboundEvent, state *domain.ConversationState) error {
	e.deleteMessage(ctx, ev.ChatID, ev.MessageID)

	sess, ok := e.verifySession(ctx, ev.ChatID)
	if !ok {
		e.endFlow(ev.ChatID, outcomeError)
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgSessionExpired, nil))
		return nil
	}

	if ev.Text != state.Scratch.NewPassword {
		state.Scratch.NewPassword = ""
		state.Step = domain.StepAwaitingNewPassword
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgConfirmationMismatch, nil))
		return nil
	}

	targetEmail := sess.Identity.Email
	if state.Flow == domain.FlowAdminPasswordChange {
		targetEmail = state.Scratch.TargetEmail
	}
	newPassword := state.Scratch.NewPassword

	result := e.directory.ChangePassword(ctx, targetEmail, newPassword)

	outcome := outcomeFailure
	if result.Success {
		outcome = outcomeSuccess
	}
	flow := state.Flow
	e.endFlow(ev.ChatID, outcome)

	e.reply(ctx, ev.ChatID, result.Message)

	if result.Success {
		e.logger.Info("password changed",
			zap.Int64("chat_id", ev.ChatID),
			zap.String("flow", flow.String()),
			zap.String("target", logger.MaskEmail(targetEmail)),
		)
		e.dispatchChangeNotifications(sess.Identity.Email, targetEmail, newPassword, flow)
	}
	return nil
}

// dispatchChangeNotifications runs the best-effort side channel after the
// directory modification committed. Notification or publish failures are
// logged and never alter the primary outcome.
func (e *Engine) dispatchChangeNotifications(actorEmail, targetEmail, newPassword string, flow domain.Flow) {
	adminEmails := e.adminEmails

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()

		if err := e.notifier.NotifyUserChanged(ctx, targetEmail, newPassword); err != nil {
			e.logger.Warn("user notification failed",
				zap.String("target", logger.MaskEmail(targetEmail)),
				zap.Error(err),
			)
		}
		if len(adminEmails) > 0 {
			if err := e.notifier.NotifyAdminsChanged(ctx, adminEmails, targetEmail); err != nil {
				e.logger.Warn("admin notification failed",
					zap.String("target", logger.MaskEmail(targetEmail)),
					zap.Error(err),
				)
			}
		}

		if err := e.publisher.PublishPasswordChanged(ctx, domain.PasswordChangedEvent{
			Email:     targetEmail,
			ChangedBy: actorEmail,
			Via:       flow.String(),
			ChangedAt: e.now().UTC(),
		}); err != nil {
			e.logger.Warn("password change event publish failed", zap.Error(err))
		}
	}()
}
