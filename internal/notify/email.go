package notify

import (
	"context"
	"fmt"
	"time"

	mail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/infra/config"
	"github.com/dfedez920912/tbot-project/internal/infra/logger"
)

// EmailNotifier delivers password change notices over SMTP. The affected
// user receives the new password; administrators only learn which account
// changed and when.
type EmailNotifier struct {
	cfg    config.EmailSettings
	logger *zap.Logger
}

// NewEmailNotifier constructs an SMTP-backed notifier.
func NewEmailNotifier(cfg config.EmailSettings, log *zap.Logger) *EmailNotifier {
	return &EmailNotifier{cfg: cfg, logger: log}
}

func (n *EmailNotifier) client() (*mail.Client, error) {
	return mail.NewClient(n.cfg.Host,
		mail.WithPort(n.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(n.cfg.Username),
		mail.WithPassword(n.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
		mail.WithTimeout(15*time.Second),
	)
}

func (n *EmailNotifier) send(ctx context.Context, to []string, subject, htmlBody string) error {
	msg := mail.NewMsg()
	if err := msg.From(n.cfg.Sender); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(to...); err != nil {
		return fmt.Errorf("set recipients: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)

	client, err := n.client()
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer client.Close()

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// NotifyUserChanged emails the affected user their new password.
func (n *EmailNotifier) NotifyUserChanged(ctx context.Context, email, newPassword string) error {
	body := fmt.Sprintf(
		`<html><body>
<p>Hello,</p>
<p>The password for your account <b>%s</b> was changed.</p>
<p>Your new password is: <b>%s</b></p>
<p>Please sign in and change it to a password only you know.</p>
<p>If you did not request this change, contact your administrator immediately.</p>
</body></html>`,
		email, newPassword,
	)

	if err := n.send(ctx, []string{email}, "Your account password was changed", body); err != nil {
		n.logger.Error("failed to notify user of password change",
			zap.String("email", logger.MaskEmail(email)),
			zap.Error(err),
		)
		return err
	}

	n.logger.Info("password change notice sent to user",
		zap.String("email", logger.MaskEmail(email)),
	)
	return nil
}

// NotifyAdminsChanged emails the administrators that an account password
// changed. The new password is never included.
func (n *EmailNotifier) NotifyAdminsChanged(ctx context.Context, adminEmails []string, affectedEmail string) error {
	if len(adminEmails) == 0 {
		return nil
	}

	body := fmt.Sprintf(
		`<html><body>
<p>Hello,</p>
<p>The password for account <b>%s</b> was changed via the support bot at %s.</p>
<p>No action is required. This message is for your records.</p>
</body></html>`,
		affectedEmail, time.Now().UTC().Format("02/01/2006 15:04 UTC"),
	)

	if err := n.send(ctx, adminEmails, fmt.Sprintf("Password changed for %s", affectedEmail), body); err != nil {
		n.logger.Error("failed to notify admins of password change",
			zap.String("affected", logger.MaskEmail(affectedEmail)),
			zap.Int("admins", len(adminEmails)),
			zap.Error(err),
		)
		return err
	}

	n.logger.Info("password change notice sent to admins",
		zap.String("affected", logger.MaskEmail(affectedEmail)),
		zap.Int("admins", len(adminEmails)),
	)
	return nil
}
