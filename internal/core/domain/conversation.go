package domain

// Flow identifies a multi-step conversation a chat can be engaged in. A chat
// runs at most one flow at a time; starting a new flow replaces the current
// one.
type Flow int

const (
	FlowNone Flow = iota
	FlowSelfPasswordChange
	FlowAdminPasswordChange
	FlowAdminExpiryCheck
)

// String returns a stable flow label for logging and metrics.
func (f Flow) String() string {
	switch f {
	case FlowSelfPasswordChange:
		return "self_password_change"
	case FlowAdminPasswordChange:
		return "admin_password_change"
	case FlowAdminExpiryCheck:
		return "admin_expiry_check"
	default:
		return "none"
	}
}

// Step is the position within the active flow.
type Step int

const (
	StepNone Step = iota
	StepAwaitingTargetEmail
	StepAwaitingNewPassword
	StepAwaitingConfirmation
	StepAwaitingEmail
)

// Scratch holds per-flow transient values. It must be wiped on every flow
// exit, normal or not, so no candidate password outlives its flow.
type Scratch struct {
	NewPassword string
	TargetEmail string
}

// Clear wipes all scratch values.
func (s *Scratch) Clear() {
	s.NewPassword = ""
	s.TargetEmail = ""
}

// ConversationState is the engine's per-chat record.
type ConversationState struct {
	ChatID  int64
	Flow    Flow
	Step    Step
	Scratch Scratch
}
