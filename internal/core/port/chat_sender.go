package port

import (
	"context"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
)

// ChatSender is the outbound side of the chat transport.
type ChatSender interface {
	// SendMessage delivers a reply to a chat.
	SendMessage(ctx context.Context, msg domain.OutboundMessage) error

	// DeleteMessage removes a message from the chat's visible history. Used
	// to scrub captured secrets; failures are non-fatal.
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error

	// AnswerCallback acknowledges a button press so the client stops showing
	// a progress indicator.
	AnswerCallback(ctx context.Context, callbackID string) error
}
