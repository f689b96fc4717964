// Package usecase implements the conversation engine: a per-chat state
// machine driving the password change and expiry dialogues behind a
// session-gated authentication step.
package usecase

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/core/port"
	"github.com/dfedez920912/tbot-project/internal/infra/security"
	"github.com/dfedez920912/tbot-project/internal/infra/telemetry"
	"github.com/dfedez920912/tbot-project/internal/repository"
)

// Callback actions attached to menu buttons.
const (
	actionSelfChange  = "self_change_password"
	actionSelfExpiry  = "self_check_expiry"
	actionAdminChange = "admin_change_password"
	actionAdminExpiry = "admin_check_expiry"
	actionLogout      = "logout"
)

// Flow outcomes recorded on terminal transitions.
const (
	outcomeSuccess   = "success"
	outcomeFailure   = "failure"
	outcomeCancelled = "cancelled"
	outcomeError     = "error"
)

// EngineParams collects the engine's collaborators.
type EngineParams struct {
	Logger    *zap.Logger
	Sessions  port.SessionStore
	Users     port.UserRepository
	Directory port.Directory
	Notifier  port.Notifier
	Publisher port.EventPublisher
	Sender    port.ChatSender
	Validator *security.PasswordValidator
	Metrics   *telemetry.Metrics
	Catalog   *Catalog

	SessionTTL  time.Duration
	PolicyDays  int
	AdminEmails []string

	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Engine routes inbound chat events through the per-chat conversation state
// machine. The transport guarantees at most one in-flight event per chat, so
// a state is never mutated concurrently; the mutex only guards the map.
type Engine struct {
	logger    *zap.Logger
	sessions  port.SessionStore
	users     port.UserRepository
	directory port.Directory
	notifier  port.Notifier
	publisher port.EventPublisher
	sender    port.ChatSender
	validator *security.PasswordValidator
	metrics   *telemetry.Metrics
	catalog   *Catalog

	sessionTTL  time.Duration
	policyDays  int
	adminEmails []string
	now         func() time.Time

	mu     sync.Mutex
	states map[int64]*domain.ConversationState
}

// NewEngine constructs the conversation engine.
func NewEngine(p EngineParams) *Engine {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Validator == nil {
		p.Validator = security.DefaultPasswordValidator()
	}
	if p.Catalog == nil {
		p.Catalog = NewCatalog(nil)
	}
	if p.Now == nil {
		p.Now = time.Now
	}

	return &Engine{
		logger:      p.Logger,
		sessions:    p.Sessions,
		users:       p.Users,
		directory:   p.Directory,
		notifier:    p.Notifier,
		publisher:   p.Publisher,
		sender:      p.Sender,
		validator:   p.Validator,
		metrics:     p.Metrics,
		catalog:     p.Catalog,
		sessionTTL:  p.SessionTTL,
		policyDays:  p.PolicyDays,
		adminEmails: p.AdminEmails,
		now:         p.Now,
		states:      make(map[int64]*domain.ConversationState),
	}
}

// SetSender installs the outbound transport. The sender depends on the
// authorized bot client, which itself dispatches into the engine, so it is
// attached after construction and before the first event.
func (e *Engine) SetSender(sender port.ChatSender) {
	e.sender = sender
}

func sessionKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// HandleEvent is the single entry point per inbound chat event. A failing
// step degrades to a generic reply and a terminal transition; it never
// escapes to the dispatcher.
func (e *Engine) HandleEvent(ctx context.Context, ev domain.InboundEvent) {
	var err error
	switch ev.Kind {
	case domain.EventCommand:
		err = e.handleCommand(ctx, ev)
	case domain.EventContact:
		err = e.handleContact(ctx, ev)
	case domain.EventCallback:
		err = e.handleCallback(ctx, ev)
	case domain.EventText:
		err = e.handleText(ctx, ev)
	}

	if err != nil {
		e.logger.Error("conversation step failed",
			zap.Int64("chat_id", ev.ChatID),
			zap.Error(err),
		)
		e.endFlow(ev.ChatID, outcomeError)
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgGenericError, nil))
	}
}

func (e *Engine) handleCommand(ctx context.Context, ev domain.InboundEvent) error {
	switch ev.Command {
	case "start":
		return e.handleStart(ctx, ev)
	case "cancel":
		return e.handleCancel(ctx, ev.ChatID)
	case "logout", "terminate":
		return e.handleLogout(ctx, ev.ChatID)
	default:
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgUnknown, nil))
		return nil
	}
}

func (e *Engine) handleCallback(ctx context.Context, ev domain.InboundEvent) error {
	if ev.CallbackID != "" {
		if err := e.sender.AnswerCallback(ctx, ev.CallbackID); err != nil {
			e.logger.Warn("answer callback failed",
				zap.Int64("chat_id", ev.ChatID),
				zap.Error(err),
			)
		}
	}

	switch ev.Action {
	case actionSelfChange:
		return e.startSelfPasswordChange(ctx, ev.ChatID)
	case actionAdminChange:
		return e.startAdminPasswordChange(ctx, ev.ChatID)
	case actionSelfExpiry:
		return e.runSelfExpiryCheck(ctx, ev.ChatID)
	case actionAdminExpiry:
		return e.startAdminExpiryCheck(ctx, ev.ChatID)
	case actionLogout:
		return e.handleLogout(ctx, ev.ChatID)
	default:
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgUnknown, nil))
		return nil
	}
}

func (e *Engine) handleText(ctx context.Context, ev domain.InboundEvent) error {
	state := e.stateFor(ev.ChatID)

	switch {
	case state.Step == domain.StepAwaitingTargetEmail:
		return e.handleTargetEmail(ctx, ev, state)
	case state.Step == domain.StepAwaitingNewPassword:
		return e.handleNewPassword(ctx, ev, state)
	case state.Step == domain.StepAwaitingConfirmation:
		return e.handleConfirmation(ctx, ev, state)
	case state.Flow == domain.FlowAdminExpiryCheck && state.Step == domain.StepAwaitingEmail:
		return e.handleExpiryEmail(ctx, ev, state)
	default:
		e.reply(ctx, ev.ChatID, e.catalog.Render(MsgUnknown, nil))
		return nil
	}
}

func (e *Engine) handleCancel(ctx context.Context, chatID int64) error {
	state := e.stateFor(chatID)
	if state.Flow == domain.FlowNone {
		e.reply(ctx, chatID, e.catalog.Render(MsgUnknown, nil))
		return nil
	}

	e.endFlow(chatID, outcomeCancelled)
	e.reply(ctx, chatID, e.catalog.Render(MsgCancelled, nil))
	return nil
}

func (e *Engine) handleLogout(ctx context.Context, chatID int64) error {
	e.endFlow(chatID, outcomeCancelled)

	removed, err := e.sessions.Delete(ctx, sessionKey(chatID))
	if err != nil {
		return err
	}
	if removed == 0 {
		e.reply(ctx, chatID, e.catalog.Render(MsgNoSession, nil))
		return nil
	}

	e.metrics.RecordSessionTerminated()
	e.publishDetached(func(ctx context.Context) error {
		return e.publisher.PublishSessionTerminated(ctx, domain.SessionTerminatedEvent{
			SessionKey: sessionKey(chatID),
			Removed:    removed,
			At:         e.now().UTC(),
		})
	})

	e.reply(ctx, chatID, e.catalog.Render(MsgLoggedOut, nil))
	return nil
}

// verifySession gates every privileged step: the session must exist and be
// unexpired, and a passing check extends it by one sliding window.
func (e *Engine) verifySession(ctx context.Context, chatID int64) (*domain.Session, bool) {
	key := sessionKey(chatID)

	sess, err := e.sessions.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			e.logger.Error("session lookup failed",
				zap.Int64("chat_id", chatID),
				zap.Error(err),
			)
		}
		return nil, false
	}
	if !sess.IsValid(e.now()) {
		return nil, false
	}

	if err := e.sessions.Touch(ctx, key, e.sessionTTL); err != nil && !errors.Is(err, repository.ErrNotFound) {
		e.logger.Warn("session refresh failed",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
	}

	return sess, true
}

func (e *Engine) stateFor(chatID int64) *domain.ConversationState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.states[chatID]
	if !ok {
		state = &domain.ConversationState{ChatID: chatID}
		e.states[chatID] = state
	}
	return state
}

// beginFlow replaces whatever flow was active: a fresh entry point always
// supersedes a mid-flight dialogue, wiping its scratch first.
func (e *Engine) beginFlow(chatID int64, flow domain.Flow, step domain.Step) {
	state := e.stateFor(chatID)

	if state.Flow != domain.FlowNone {
		e.metrics.RecordFlowCompleted(state.Flow.String(), outcomeCancelled)
	}
	state.Scratch.Clear()
	state.Flow = flow
	state.Step = step

	e.metrics.RecordFlowStarted(flow.String())
}

// endFlow is the terminal transition: scratch is wiped on every exit path so
// no candidate password outlives its flow.
func (e *Engine) endFlow(chatID int64, outcome string) {
	state := e.stateFor(chatID)

	if state.Flow != domain.FlowNone {
		e.metrics.RecordFlowCompleted(state.Flow.String(), outcome)
	}
	state.Scratch.Clear()
	state.Flow = domain.FlowNone
	state.Step = domain.StepNone
}

func (e *Engine) reply(ctx context.Context, chatID int64, text string) {
	e.send(ctx, domain.OutboundMessage{ChatID: chatID, Text: text})
}

func (e *Engine) send(ctx context.Context, msg domain.OutboundMessage) {
	if err := e.sender.SendMessage(ctx, msg); err != nil {
		e.logger.Warn("send message failed",
			zap.Int64("chat_id", msg.ChatID),
			zap.Error(err),
		)
	}
}

// deleteMessage scrubs a captured secret from the visible chat history.
// Failure is logged, never fatal.
func (e *Engine) deleteMessage(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := e.sender.DeleteMessage(ctx, chatID, messageID); err != nil {
		e.logger.Warn("delete message failed",
			zap.Int64("chat_id", chatID),
			zap.Int("message_id", messageID),
			zap.Error(err),
		)
	}
}

// publishDetached runs fn on a detached context: the primary outcome has
// already committed, so a publish failure is only logged.
func (e *Engine) publishDetached(fn func(ctx context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			e.logger.Warn("event publish failed", zap.Error(err))
		}
	}()
}
