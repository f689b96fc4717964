// Package telegram hosts the long-polling loop and the per-chat worker model
// that feeds the conversation engine.
package telegram

import (
	"context"
	"fmt"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/infra/config"
)

// EventHandler consumes normalized inbound events. It must never panic
// outward; the worker still guards with recover as a last resort.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.InboundEvent)
}

const workerQueueSize = 16

// Bot drives the Telegram long-polling loop. Each chat gets its own worker
// goroutine fed by a dedicated channel, so events for one chat are strictly
// sequential while different chats proceed concurrently.
type Bot struct {
	api     *tgbotapi.BotAPI
	handler EventHandler
	logger  *zap.Logger
	cfg     config.TelegramSettings

	mu      sync.Mutex
	workers map[int64]chan domain.InboundEvent
	wg      sync.WaitGroup
}

// NewBot authorizes against the Bot API and prepares the dispatcher.
func NewBot(cfg config.TelegramSettings, handler EventHandler, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("authorize telegram bot: %w", err)
	}

	logger.Info("telegram bot authorized", zap.String("username", api.Self.UserName))

	return &Bot{
		api:     api,
		handler: handler,
		logger:  logger,
		cfg:     cfg,
		workers: make(map[int64]chan domain.InboundEvent),
	}, nil
}

// API exposes the underlying client for the outbound sender.
func (b *Bot) API() *tgbotapi.BotAPI {
	return b.api
}

// Run blocks on the update stream until ctx is cancelled, then drains the
// per-chat workers.
func (b *Bot) Run(ctx context.Context) error {
	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = b.cfg.PollTimeout

	updates := b.api.GetUpdatesChan(updateCfg)

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return nil
		case update, ok := <-updates:
			if !ok {
				b.shutdown()
				return nil
			}
			ev, ok := normalizeUpdate(update)
			if !ok {
				continue
			}
			b.dispatch(ctx, ev)
		}
	}
}

func (b *Bot) shutdown() {
	b.api.StopReceivingUpdates()

	b.mu.Lock()
	for _, queue := range b.workers {
		close(queue)
	}
	b.workers = make(map[int64]chan domain.InboundEvent)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("telegram dispatcher stopped")
}

// dispatch routes the event to its chat's worker, spawning one on first
// contact. A full queue drops the event rather than stalling other chats.
func (b *Bot) dispatch(ctx context.Context, ev domain.InboundEvent) {
	b.mu.Lock()
	queue, ok := b.workers[ev.ChatID]
	if !ok {
		queue = make(chan domain.InboundEvent, workerQueueSize)
		b.workers[ev.ChatID] = queue
		b.wg.Add(1)
		go b.worker(ctx, ev.ChatID, queue)
	}
	b.mu.Unlock()

	select {
	case queue <- ev:
	default:
		b.logger.Warn("chat queue full, dropping event", zap.Int64("chat_id", ev.ChatID))
	}
}

func (b *Bot) worker(ctx context.Context, chatID int64, queue <-chan domain.InboundEvent) {
	defer b.wg.Done()

	for ev := range queue {
		b.handleOne(ctx, chatID, ev)
	}
}

// handleOne isolates a single event so a panicking step never kills the
// chat's worker.
func (b *Bot) handleOne(ctx context.Context, chatID int64, ev domain.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic in event handler",
				zap.Int64("chat_id", chatID),
				zap.Any("panic", r),
			)
		}
	}()

	b.handler.HandleEvent(ctx, ev)
}

// normalizeUpdate maps a raw Telegram update onto the engine's event model.
// Updates the engine has no use for are discarded here.
func normalizeUpdate(update tgbotapi.Update) (domain.InboundEvent, bool) {
	if cq := update.CallbackQuery; cq != nil && cq.Message != nil {
		return domain.InboundEvent{
			ChatID:     cq.Message.Chat.ID,
			MessageID:  cq.Message.MessageID,
			Kind:       domain.EventCallback,
			CallbackID: cq.ID,
			Action:     cq.Data,
			FirstName:  cq.From.FirstName,
		}, true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return domain.InboundEvent{}, false
	}

	ev := domain.InboundEvent{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
	}
	if msg.From != nil {
		ev.FirstName = msg.From.FirstName
	}

	switch {
	case msg.Contact != nil:
		ev.Kind = domain.EventContact
		senderMatches := msg.From != nil && msg.Contact.UserID == msg.From.ID
		ev.Contact = &domain.Contact{
			Phone:         msg.Contact.PhoneNumber,
			SenderMatches: senderMatches,
		}
	case msg.IsCommand():
		ev.Kind = domain.EventCommand
		ev.Command = msg.Command()
		ev.Text = msg.CommandArguments()
	case msg.Text != "":
		ev.Kind = domain.EventText
		ev.Text = msg.Text
	default:
		return domain.InboundEvent{}, false
	}

	return ev, true
}
