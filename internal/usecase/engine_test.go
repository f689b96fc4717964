package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/dfedez920912/tbot-project/internal/core/domain"
	"github.com/dfedez920912/tbot-project/internal/infra/security"
	"github.com/dfedez920912/tbot-project/internal/repository"
)

var testNow = time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	getErr   error
	touchErr error
	saveErr  error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: make(map[string]domain.Session)}
}

func (f *fakeSessions) Get(_ context.Context, key string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	sess, ok := f.sessions[key]
	if !ok || testNow.After(sess.ExpiresAt) {
		return nil, repository.ErrNotFound
	}
	copied := sess
	return &copied, nil
}

func (f *fakeSessions) CreateOrReplace(_ context.Context, key string, identity domain.Identity, extension time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.sessions[key] = domain.Session{
		Key:       key,
		Identity:  identity,
		CreatedAt: testNow,
		ExpiresAt: testNow.Add(extension),
	}
	return nil
}

func (f *fakeSessions) Touch(_ context.Context, key string, extension time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	sess, ok := f.sessions[key]
	if !ok {
		return repository.ErrNotFound
	}
	sess.ExpiresAt = testNow.Add(extension)
	f.sessions[key] = sess
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, key string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[key]; !ok {
		return 0, nil
	}
	delete(f.sessions, key)
	return 1, nil
}

type passwordChangeCall struct {
	email    string
	password string
}

type fakeDirectory struct {
	mu           sync.Mutex
	active       map[string]bool
	members      map[string]bool
	changeResult domain.PasswordChangeResult
	changeCalls  []passwordChangeCall
	lastSet      time.Time
	lastSetErr   error
	fetchUsers   []domain.DirectoryUser
	fetchErr     error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		active:       map[string]bool{},
		members:      map[string]bool{},
		changeResult: domain.PasswordChangeResult{Success: true, Message: "The password was changed successfully."},
	}
}

func (f *fakeDirectory) Authenticate(context.Context, string, string) bool { return false }

func (f *fakeDirectory) ChangePassword(_ context.Context, email, newPassword string) domain.PasswordChangeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changeCalls = append(f.changeCalls, passwordChangeCall{email: email, password: newPassword})
	return f.changeResult
}

func (f *fakeDirectory) FetchAllUsers(context.Context, int, time.Duration) ([]domain.DirectoryUser, error) {
	return f.fetchUsers, f.fetchErr
}

func (f *fakeDirectory) IsGroupMember(_ context.Context, email string) bool {
	return f.members[email]
}

func (f *fakeDirectory) IsAccountActive(_ context.Context, email string) bool {
	return f.active[email]
}

func (f *fakeDirectory) GetPasswordLastSet(context.Context, string) (time.Time, error) {
	return f.lastSet, f.lastSetErr
}

func (f *fakeDirectory) calls() []passwordChangeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]passwordChangeCall(nil), f.changeCalls...)
}

type fakeSender struct {
	mu       sync.Mutex
	sent     []domain.OutboundMessage
	deleted  []int
	answered []string
}

func (f *fakeSender) SendMessage(_ context.Context, msg domain.OutboundMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeSender) AnswerCallback(_ context.Context, callbackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeSender) lastText(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no messages sent")
	}
	return f.sent[len(f.sent)-1].Text
}

func (f *fakeSender) deletedIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.deleted...)
}

type notifyUserCall struct {
	email    string
	password string
}

type fakeNotifier struct {
	userCalls  chan notifyUserCall
	adminCalls chan string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		userCalls:  make(chan notifyUserCall, 8),
		adminCalls: make(chan string, 8),
	}
}

func (f *fakeNotifier) NotifyUserChanged(_ context.Context, email, newPassword string) error {
	f.userCalls <- notifyUserCall{email: email, password: newPassword}
	return nil
}

func (f *fakeNotifier) NotifyAdminsChanged(_ context.Context, _ []string, affectedEmail string) error {
	f.adminCalls <- affectedEmail
	return nil
}

type fakePublisher struct {
	passwordChanged   chan domain.PasswordChangedEvent
	sessionTerminated chan domain.SessionTerminatedEvent
	usersSynced       chan domain.UsersSyncedEvent
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		passwordChanged:   make(chan domain.PasswordChangedEvent, 8),
		sessionTerminated: make(chan domain.SessionTerminatedEvent, 8),
		usersSynced:       make(chan domain.UsersSyncedEvent, 8),
	}
}

func (f *fakePublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	f.passwordChanged <- event
	return nil
}

func (f *fakePublisher) PublishSessionTerminated(_ context.Context, event domain.SessionTerminatedEvent) error {
	f.sessionTerminated <- event
	return nil
}

func (f *fakePublisher) PublishUsersSynced(_ context.Context, event domain.UsersSyncedEvent) error {
	f.usersSynced <- event
	return nil
}

type fakeUsers struct {
	byPhone  map[string]domain.DirectoryUser
	getErr   error
	replaced []domain.DirectoryUser
}

func (f *fakeUsers) GetByPhone(_ context.Context, phone string) (*domain.DirectoryUser, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	user, ok := f.byPhone[phone]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (f *fakeUsers) ReplaceAll(_ context.Context, users []domain.DirectoryUser) (int, error) {
	f.replaced = append([]domain.DirectoryUser(nil), users...)
	return len(users), nil
}

type engineFixture struct {
	engine    *Engine
	sessions  *fakeSessions
	directory *fakeDirectory
	sender    *fakeSender
	notifier  *fakeNotifier
	publisher *fakePublisher
	users     *fakeUsers
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	f := &engineFixture{
		sessions:  newFakeSessions(),
		directory: newFakeDirectory(),
		sender:    &fakeSender{},
		notifier:  newFakeNotifier(),
		publisher: newFakePublisher(),
		users:     &fakeUsers{byPhone: map[string]domain.DirectoryUser{}},
	}

	f.engine = NewEngine(EngineParams{
		Logger:    zaptest.NewLogger(t),
		Sessions:  f.sessions,
		Users:     f.users,
		Directory: f.directory,
		Notifier:  f.notifier,
		Publisher: f.publisher,
		Sender:    f.sender,
		Validator: security.NewPasswordValidator(security.MinLengthRule(8)),

		SessionTTL:  30 * time.Minute,
		PolicyDays:  90,
		AdminEmails: []string{"it@example.com"},
		Now:         func() time.Time { return testNow },
	})
	return f
}

func (f *engineFixture) authenticate(chatID int64, email string) {
	f.sessions.sessions[sessionKey(chatID)] = domain.Session{
		Key:       sessionKey(chatID),
		Identity:  domain.Identity{Name: "Jordan Doe", Email: email},
		CreatedAt: testNow,
		ExpiresAt: testNow.Add(30 * time.Minute),
	}
}

func command(chatID int64, name string) domain.InboundEvent {
	return domain.InboundEvent{ChatID: chatID, Kind: domain.EventCommand, Command: name}
}

func callback(chatID int64, action string) domain.InboundEvent {
	return domain.InboundEvent{ChatID: chatID, Kind: domain.EventCallback, CallbackID: "cb", Action: action}
}

func text(chatID int64, messageID int, body string) domain.InboundEvent {
	return domain.InboundEvent{ChatID: chatID, Kind: domain.EventText, MessageID: messageID, Text: body}
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for detached call")
		panic("unreachable")
	}
}

func assertFlowClosed(t *testing.T, e *Engine, chatID int64) {
	t.Helper()
	state := e.stateFor(chatID)
	if state.Flow != domain.FlowNone || state.Step != domain.StepNone {
		t.Fatalf("expected terminal state, got flow=%v step=%v", state.Flow, state.Step)
	}
	if state.Scratch.NewPassword != "" || state.Scratch.TargetEmail != "" {
		t.Fatalf("scratch not cleared: %+v", state.Scratch)
	}
}

func TestContactAuthenticationOpensSession(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.users.byPhone["5355512345"] = domain.DirectoryUser{
		Username: "jdoe",
		Name:     "Jordan Doe",
		Email:    "jdoe@example.com",
		Phone:    "5355512345",
	}
	f.directory.active["jdoe@example.com"] = true
	f.directory.members["jdoe@example.com"] = true

	f.engine.HandleEvent(ctx, domain.InboundEvent{
		ChatID:  7,
		Kind:    domain.EventContact,
		Contact: &domain.Contact{Phone: "+5355512345", SenderMatches: true},
	})

	sess, err := f.sessions.Get(ctx, sessionKey(7))
	if err != nil {
		t.Fatalf("expected session, got %v", err)
	}
	if sess.Identity.Email != "jdoe@example.com" {
		t.Fatalf("unexpected identity: %+v", sess.Identity)
	}

	last := f.sender.sent[len(f.sender.sent)-1]
	if len(last.InlineButtons) != 5 {
		t.Fatalf("expected full admin menu, got %d buttons", len(last.InlineButtons))
	}
}

func TestContactFromAnotherUserRejected(t *testing.T) {
	f := newEngineFixture(t)

	f.engine.HandleEvent(context.Background(), domain.InboundEvent{
		ChatID:  7,
		Kind:    domain.EventContact,
		Contact: &domain.Contact{Phone: "+5355512345", SenderMatches: false},
	})

	if got := f.sender.lastText(t); got != defaultMessages[MsgContactMismatch] {
		t.Fatalf("unexpected reply: %q", got)
	}
	if _, err := f.sessions.Get(context.Background(), sessionKey(7)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatal("no session should exist")
	}
}

func TestContactWithInactiveAccountRejected(t *testing.T) {
	f := newEngineFixture(t)
	f.users.byPhone["5355512345"] = domain.DirectoryUser{Name: "J", Email: "jdoe@example.com"}
	// directory reports inactive (fail-closed default)

	f.engine.HandleEvent(context.Background(), domain.InboundEvent{
		ChatID:  7,
		Kind:    domain.EventContact,
		Contact: &domain.Contact{Phone: "5355512345", SenderMatches: true},
	})

	if got := f.sender.lastText(t); got != defaultMessages[MsgAccountInactive] {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestSelfPasswordChangeHappyPath(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "jdoe@example.com")

	f.engine.HandleEvent(ctx, callback(7, actionSelfChange))
	if got := f.sender.lastText(t); got != defaultMessages[MsgAskNewPassword] {
		t.Fatalf("unexpected prompt: %q", got)
	}

	f.engine.HandleEvent(ctx, text(7, 101, "Str0ng#Candidate"))
	if got := f.sender.lastText(t); got != defaultMessages[MsgAskConfirmation] {
		t.Fatalf("unexpected prompt: %q", got)
	}

	f.engine.HandleEvent(ctx, text(7, 102, "Str0ng#Candidate"))

	calls := f.directory.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one change call, got %d", len(calls))
	}
	if calls[0].email != "jdoe@example.com" || calls[0].password != "Str0ng#Candidate" {
		t.Fatalf("unexpected change call: %+v", calls[0])
	}

	if got := f.sender.lastText(t); got != "The password was changed successfully." {
		t.Fatalf("unexpected reply: %q", got)
	}

	deleted := f.sender.deletedIDs()
	if len(deleted) != 2 || deleted[0] != 101 || deleted[1] != 102 {
		t.Fatalf("secret messages not scrubbed: %v", deleted)
	}

	userCall := waitFor(t, f.notifier.userCalls)
	if userCall.email != "jdoe@example.com" || userCall.password != "Str0ng#Candidate" {
		t.Fatalf("unexpected user notification: %+v", userCall)
	}
	if affected := waitFor(t, f.notifier.adminCalls); affected != "jdoe@example.com" {
		t.Fatalf("unexpected admin notification: %q", affected)
	}
	event := waitFor(t, f.publisher.passwordChanged)
	if event.Email != "jdoe@example.com" || event.ChangedBy != "jdoe@example.com" {
		t.Fatalf("unexpected event: %+v", event)
	}

	assertFlowClosed(t, f.engine, 7)
}

func TestConfirmationMismatchDiscardsCandidate(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "jdoe@example.com")

	f.engine.HandleEvent(ctx, callback(7, actionSelfChange))
	f.engine.HandleEvent(ctx, text(7, 101, "Str0ng#Candidate"))
	f.engine.HandleEvent(ctx, text(7, 102, "different-text"))

	if calls := f.directory.calls(); len(calls) != 0 {
		t.Fatalf("change must not be called on mismatch, got %d calls", len(calls))
	}
	if got := f.sender.lastText(t); got != defaultMessages[MsgConfirmationMismatch] {
		t.Fatalf("unexpected reply: %q", got)
	}

	state := f.engine.stateFor(7)
	if state.Step != domain.StepAwaitingNewPassword {
		t.Fatalf("expected re-prompt for a fresh password, got step %v", state.Step)
	}
	if state.Scratch.NewPassword != "" {
		t.Fatal("old candidate must be discarded")
	}

	// a fresh candidate still completes the flow
	f.engine.HandleEvent(ctx, text(7, 103, "Fresh#Candidate1"))
	f.engine.HandleEvent(ctx, text(7, 104, "Fresh#Candidate1"))

	calls := f.directory.calls()
	if len(calls) != 1 || calls[0].password != "Fresh#Candidate1" {
		t.Fatalf("unexpected change calls: %+v", calls)
	}
	assertFlowClosed(t, f.engine, 7)
}

func TestChangeFailureMessageSurfacedVerbatim(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "jdoe@example.com")
	f.directory.changeResult = domain.PasswordChangeResult{Success: false, Message: "X"}

	f.engine.HandleEvent(ctx, callback(7, actionSelfChange))
	f.engine.HandleEvent(ctx, text(7, 101, "Str0ng#Candidate"))
	f.engine.HandleEvent(ctx, text(7, 102, "Str0ng#Candidate"))

	if got := f.sender.lastText(t); got != "X" {
		t.Fatalf("expected verbatim directory message, got %q", got)
	}
	assertFlowClosed(t, f.engine, 7)

	select {
	case <-f.notifier.userCalls:
		t.Fatal("no notification on failure")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWeakPasswordRePrompts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "jdoe@example.com")

	f.engine.HandleEvent(ctx, callback(7, actionSelfChange))
	f.engine.HandleEvent(ctx, text(7, 101, "short"))

	if !strings.Contains(f.sender.lastText(t), "at least 8 characters") {
		t.Fatalf("expected weak password reply, got %q", f.sender.lastText(t))
	}

	state := f.engine.stateFor(7)
	if state.Step != domain.StepAwaitingNewPassword {
		t.Fatalf("expected same step, got %v", state.Step)
	}
	if state.Scratch.NewPassword != "" {
		t.Fatal("weak candidate must not be stored")
	}
}

func TestAdminFlowRequiresMembership(t *testing.T) {
	f := newEngineFixture(t)
	f.authenticate(7, "jdoe@example.com")
	// jdoe is not in the privileged group

	f.engine.HandleEvent(context.Background(), callback(7, actionAdminChange))

	if got := f.sender.lastText(t); got != defaultMessages[MsgRestricted] {
		t.Fatalf("unexpected reply: %q", got)
	}
	assertFlowClosed(t, f.engine, 7)
}

func TestAdminFlowInvalidEmailRePromptsSameState(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "admin@example.com")
	f.directory.members["admin@example.com"] = true

	f.engine.HandleEvent(ctx, callback(7, actionAdminChange))

	for _, bad := range []string{"bad-email", "user@@example", "no-at-sign.com", "user@.com"} {
		f.engine.HandleEvent(ctx, text(7, 0, bad))
		state := f.engine.stateFor(7)
		if state.Flow != domain.FlowAdminPasswordChange || state.Step != domain.StepAwaitingTargetEmail {
			t.Fatalf("flow advanced or aborted on %q: flow=%v step=%v", bad, state.Flow, state.Step)
		}
		if got := f.sender.lastText(t); got != defaultMessages[MsgInvalidEmail] {
			t.Fatalf("unexpected reply for %q: %q", bad, got)
		}
	}

	f.engine.HandleEvent(ctx, text(7, 0, "user.name+tag@sub.example.com"))
	state := f.engine.stateFor(7)
	if state.Step != domain.StepAwaitingNewPassword {
		t.Fatalf("valid email should advance, got step %v", state.Step)
	}
	if state.Scratch.TargetEmail != "user.name+tag@sub.example.com" {
		t.Fatalf("target not captured: %+v", state.Scratch)
	}
}

func TestAdminPasswordChangeTargetsScratchEmail(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "admin@example.com")
	f.directory.members["admin@example.com"] = true

	f.engine.HandleEvent(ctx, callback(7, actionAdminChange))
	f.engine.HandleEvent(ctx, text(7, 0, "target@example.com"))
	f.engine.HandleEvent(ctx, text(7, 101, "Str0ng#Candidate"))
	f.engine.HandleEvent(ctx, text(7, 102, "Str0ng#Candidate"))

	calls := f.directory.calls()
	if len(calls) != 1 || calls[0].email != "target@example.com" {
		t.Fatalf("unexpected change calls: %+v", calls)
	}

	event := waitFor(t, f.publisher.passwordChanged)
	if event.Email != "target@example.com" || event.ChangedBy != "admin@example.com" {
		t.Fatalf("unexpected event: %+v", event)
	}
	assertFlowClosed(t, f.engine, 7)
}

func TestFlowEntryWithoutSessionAborts(t *testing.T) {
	f := newEngineFixture(t)

	for _, action := range []string{actionSelfChange, actionAdminChange, actionSelfExpiry, actionAdminExpiry} {
		f.engine.HandleEvent(context.Background(), callback(7, action))
		if got := f.sender.lastText(t); got != defaultMessages[MsgSessionExpired] {
			t.Fatalf("action %s: unexpected reply %q", action, got)
		}
		assertFlowClosed(t, f.engine, 7)
	}
}

func TestSessionExpiryMidFlowAborts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "jdoe@example.com")

	f.engine.HandleEvent(ctx, callback(7, actionSelfChange))
	f.engine.HandleEvent(ctx, text(7, 101, "Str0ng#Candidate"))

	// session disappears between steps
	delete(f.sessions.sessions, sessionKey(7))

	f.engine.HandleEvent(ctx, text(7, 102, "Str0ng#Candidate"))

	if calls := f.directory.calls(); len(calls) != 0 {
		t.Fatal("change must not run without a session")
	}
	if got := f.sender.lastText(t); got != defaultMessages[MsgSessionExpired] {
		t.Fatalf("unexpected reply: %q", got)
	}
	assertFlowClosed(t, f.engine, 7)
}

func TestCancelClearsScratchInEveryState(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "admin@example.com")
	f.directory.members["admin@example.com"] = true

	steps := []struct {
		name  string
		setup func()
	}{
		{"awaiting_target_email", func() {
			f.engine.HandleEvent(ctx, callback(7, actionAdminChange))
		}},
		{"awaiting_new_password", func() {
			f.engine.HandleEvent(ctx, callback(7, actionAdminChange))
			f.engine.HandleEvent(ctx, text(7, 0, "target@example.com"))
		}},
		{"awaiting_confirmation", func() {
			f.engine.HandleEvent(ctx, callback(7, actionSelfChange))
			f.engine.HandleEvent(ctx, text(7, 101, "Str0ng#Candidate"))
		}},
		{"awaiting_expiry_email", func() {
			f.engine.HandleEvent(ctx, callback(7, actionAdminExpiry))
		}},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			step.setup()
			f.engine.HandleEvent(ctx, command(7, "cancel"))
			if got := f.sender.lastText(t); got != defaultMessages[MsgCancelled] {
				t.Fatalf("unexpected reply: %q", got)
			}
			assertFlowClosed(t, f.engine, 7)
		})
	}

	if calls := f.directory.calls(); len(calls) != 0 {
		t.Fatal("cancelled flows must never reach the directory")
	}
}

func TestScratchClearedOnInjectedSessionFailure(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "jdoe@example.com")

	f.engine.HandleEvent(ctx, callback(7, actionSelfChange))
	f.engine.HandleEvent(ctx, text(7, 101, "Str0ng#Candidate"))

	f.sessions.getErr = errors.New("backend down")
	f.engine.HandleEvent(ctx, text(7, 102, "Str0ng#Candidate"))

	if calls := f.directory.calls(); len(calls) != 0 {
		t.Fatal("change must not run when the session backend fails")
	}
	assertFlowClosed(t, f.engine, 7)
}

func TestNewFlowReplacesActiveFlow(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "admin@example.com")
	f.directory.members["admin@example.com"] = true

	f.engine.HandleEvent(ctx, callback(7, actionAdminChange))
	f.engine.HandleEvent(ctx, text(7, 0, "target@example.com"))
	f.engine.HandleEvent(ctx, text(7, 101, "Str0ng#Candidate"))

	f.engine.HandleEvent(ctx, callback(7, actionSelfChange))

	state := f.engine.stateFor(7)
	if state.Flow != domain.FlowSelfPasswordChange || state.Step != domain.StepAwaitingNewPassword {
		t.Fatalf("expected replacement flow, got flow=%v step=%v", state.Flow, state.Step)
	}
	if state.Scratch.NewPassword != "" || state.Scratch.TargetEmail != "" {
		t.Fatalf("previous flow scratch leaked: %+v", state.Scratch)
	}
}

func TestLogoutDeletesSessionAndPublishes(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "jdoe@example.com")

	f.engine.HandleEvent(ctx, command(7, "logout"))

	if _, err := f.sessions.Get(ctx, sessionKey(7)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatal("session should be gone")
	}
	if got := f.sender.lastText(t); got != defaultMessages[MsgLoggedOut] {
		t.Fatalf("unexpected reply: %q", got)
	}

	event := waitFor(t, f.publisher.sessionTerminated)
	if event.SessionKey != sessionKey(7) || event.Removed != 1 {
		t.Fatalf("unexpected event: %+v", event)
	}

	// a second logout finds nothing
	f.engine.HandleEvent(ctx, command(7, "logout"))
	if got := f.sender.lastText(t); got != defaultMessages[MsgNoSession] {
		t.Fatalf("unexpected reply: %q", got)
	}
}

func TestStartDropsPreviousSession(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "jdoe@example.com")

	f.engine.HandleEvent(ctx, domain.InboundEvent{
		ChatID: 7, Kind: domain.EventCommand, Command: "start", FirstName: "Jordan",
	})

	if _, err := f.sessions.Get(ctx, sessionKey(7)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatal("previous session should be dropped")
	}

	last := f.sender.sent[len(f.sender.sent)-1]
	if !last.ContactRequest {
		t.Fatal("start must request a contact card")
	}
	if !strings.Contains(last.Text, "Jordan") {
		t.Fatalf("greeting should address the user: %q", last.Text)
	}
}

func TestSelfExpiryReportShapes(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "jdoe@example.com")

	// 30 days into a 90 day window: 60 days remaining
	f.directory.lastSet = testNow.AddDate(0, 0, -30)
	f.engine.HandleEvent(ctx, callback(7, actionSelfExpiry))

	report := f.sender.lastText(t)
	if !strings.Contains(report, "PASSWORD CURRENT") || !strings.Contains(report, "Days remaining: 60") {
		t.Fatalf("unexpected current report: %q", report)
	}
	last := f.sender.sent[len(f.sender.sent)-1]
	if !last.MarkdownV2 {
		t.Fatal("report must use MarkdownV2")
	}

	// 91 days in: expired yesterday
	f.directory.lastSet = testNow.AddDate(0, 0, -91)
	f.engine.HandleEvent(ctx, callback(7, actionSelfExpiry))

	report = f.sender.lastText(t)
	if !strings.Contains(report, "PASSWORD EXPIRED") || !strings.Contains(report, "Expired 1 day ago") {
		t.Fatalf("unexpected expired report: %q", report)
	}

	// unreadable metadata fails closed
	f.directory.lastSetErr = errors.New("attribute missing")
	f.engine.HandleEvent(ctx, callback(7, actionSelfExpiry))

	report = f.sender.lastText(t)
	if !strings.Contains(report, "PASSWORD EXPIRED") || !strings.Contains(report, "could not be determined") {
		t.Fatalf("unexpected error report: %q", report)
	}
}

func TestAdminExpiryFlow(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	f.authenticate(7, "admin@example.com")
	f.directory.members["admin@example.com"] = true
	f.directory.lastSet = testNow.AddDate(0, 0, -30)

	f.engine.HandleEvent(ctx, callback(7, actionAdminExpiry))
	f.engine.HandleEvent(ctx, text(7, 0, "not-an-email"))

	state := f.engine.stateFor(7)
	if state.Flow != domain.FlowAdminExpiryCheck || state.Step != domain.StepAwaitingEmail {
		t.Fatalf("invalid email must re-prompt, got flow=%v step=%v", state.Flow, state.Step)
	}

	f.engine.HandleEvent(ctx, text(7, 0, "target@example.com"))

	report := f.sender.lastText(t)
	if !strings.Contains(report, "target@example\\.com") {
		t.Fatalf("account must be escaped for MarkdownV2: %q", report)
	}
	assertFlowClosed(t, f.engine, 7)
}

func TestConcurrentEventsForDifferentChats(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	const chats = 16
	for i := 0; i < chats; i++ {
		f.authenticate(int64(i+1), fmt.Sprintf("user%d@example.com", i+1))
	}

	var wg sync.WaitGroup
	for i := 0; i < chats; i++ {
		chatID := int64(i + 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.engine.HandleEvent(ctx, callback(chatID, actionSelfChange))
			f.engine.HandleEvent(ctx, text(chatID, 101, "Str0ng#Candidate"))
			f.engine.HandleEvent(ctx, text(chatID, 102, "Str0ng#Candidate"))
		}()
	}
	wg.Wait()

	if calls := f.directory.calls(); len(calls) != chats {
		t.Fatalf("expected %d change calls, got %d", chats, len(calls))
	}
	for i := 0; i < chats; i++ {
		assertFlowClosed(t, f.engine, int64(i+1))
	}
}
