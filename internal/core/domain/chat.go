package domain

// EventKind classifies an inbound chat update.
type EventKind int

const (
	EventText EventKind = iota
	EventCommand
	EventContact
	EventCallback
)

// Contact is a shared contact card. SenderMatches is true when the card
// belongs to the account that sent it, which is the only case authentication
// accepts.
type Contact struct {
	Phone         string
	SenderMatches bool
}

// InboundEvent is a transport-normalized chat update.
type InboundEvent struct {
	ChatID     int64
	MessageID  int
	Kind       EventKind
	Command    string
	Text       string
	Contact    *Contact
	CallbackID string
	Action     string
	FirstName  string
}

// InlineButton is one tappable option attached to an outbound message.
type InlineButton struct {
	Label  string
	Action string
}

// OutboundMessage is a transport-agnostic reply.
type OutboundMessage struct {
	ChatID         int64
	Text           string
	MarkdownV2     bool
	InlineButtons  []InlineButton
	ContactRequest bool
	RemoveKeyboard bool
}
