package usecase

import (
	"encoding/json"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// MessageKey identifies one user-facing reply template.
type MessageKey string

const (
	MsgWelcome              MessageKey = "welcome"
	MsgContactMismatch      MessageKey = "contact_mismatch"
	MsgUserNotFound         MessageKey = "user_not_found"
	MsgAccountInactive      MessageKey = "account_inactive"
	MsgAuthenticated        MessageKey = "authenticated"
	MsgSessionExpired       MessageKey = "session_expired"
	MsgRestricted           MessageKey = "restricted"
	MsgAskNewPassword       MessageKey = "ask_new_password"
	MsgAskConfirmation      MessageKey = "ask_confirmation"
	MsgConfirmationMismatch MessageKey = "confirmation_mismatch"
	MsgWeakPassword         MessageKey = "weak_password"
	MsgAskTargetEmail       MessageKey = "ask_target_email"
	MsgAskExpiryEmail       MessageKey = "ask_expiry_email"
	MsgInvalidEmail         MessageKey = "invalid_email"
	MsgCancelled            MessageKey = "cancelled"
	MsgLoggedOut            MessageKey = "logged_out"
	MsgNoSession            MessageKey = "no_session"
	MsgGenericError         MessageKey = "generic_error"
	MsgUnknown              MessageKey = "unknown"
)

var defaultMessages = map[MessageKey]string{
	MsgWelcome:              "{greeting}, {name}! I can help you manage your directory account password. Please share your contact card to authenticate.",
	MsgContactMismatch:      "Please share your own contact card, not someone else's.",
	MsgUserNotFound:         "Your phone number is not registered. Contact your administrator.",
	MsgAccountInactive:      "Your account is disabled. Contact your administrator.",
	MsgAuthenticated:        "You are authenticated, {name}. Choose an option:",
	MsgSessionExpired:       "Your session has expired. Please share your contact card to authenticate again.",
	MsgRestricted:           "This option is restricted to administrators.",
	MsgAskNewPassword:       "Send the new password.",
	MsgAskConfirmation:      "Send the new password again to confirm.",
	MsgConfirmationMismatch: "The passwords do not match. Send a new password.",
	MsgWeakPassword:         "{reason}. Send a different password.",
	MsgAskTargetEmail:       "Send the email address of the account whose password you want to change.",
	MsgAskExpiryEmail:       "Send the email address of the account to check.",
	MsgInvalidEmail:         "That does not look like a valid email address. Try again.",
	MsgCancelled:            "Operation cancelled.",
	MsgLoggedOut:            "Your session was terminated. Use /start to authenticate again.",
	MsgNoSession:            "You have no active session.",
	MsgGenericError:         "Something went wrong. Please try again later.",
	MsgUnknown:              "I did not understand that. Use the menu buttons or /start.",
}

// Catalog resolves message keys to reply text. Unknown keys and missing
// overrides fall back to the built-in defaults so a broken override file can
// never silence the bot.
type Catalog struct {
	overrides map[MessageKey]string
}

// NewCatalog wraps an optional override map.
func NewCatalog(overrides map[MessageKey]string) *Catalog {
	return &Catalog{overrides: overrides}
}

// LoadCatalog reads a JSON object of key to template overrides. A missing or
// malformed file is logged and yields the default catalog.
func LoadCatalog(path string, log *zap.Logger) *Catalog {
	if path == "" {
		return NewCatalog(nil)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("message catalog file unreadable, using defaults",
			zap.String("path", path),
			zap.Error(err),
		)
		return NewCatalog(nil)
	}

	var overrides map[MessageKey]string
	if err := json.Unmarshal(raw, &overrides); err != nil {
		log.Warn("message catalog file malformed, using defaults",
			zap.String("path", path),
			zap.Error(err),
		)
		return NewCatalog(nil)
	}

	return NewCatalog(overrides)
}

// Render resolves key and substitutes {placeholder} variables.
func (c *Catalog) Render(key MessageKey, vars map[string]string) string {
	template, ok := "", false
	if c != nil && c.overrides != nil {
		template, ok = c.overrides[key]
	}
	if !ok {
		template, ok = defaultMessages[key]
	}
	if !ok {
		template = defaultMessages[MsgGenericError]
	}

	if len(vars) == 0 {
		return template
	}

	pairs := make([]string, 0, len(vars)*2)
	for name, value := range vars {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9-]+(\.[a-zA-Z0-9-]+)*\.[a-zA-Z]{2,}$`)

// ValidEmail reports whether s matches the accepted email syntax.
func ValidEmail(s string) bool {
	return emailPattern.MatchString(s)
}

const markdownV2Reserved = "_*[]()~`>#+-=|{}.!\\"

// EscapeMarkdownV2 backslash-escapes every character the transport's
// MarkdownV2 markup reserves, so interpolated values cannot break rendering.
func EscapeMarkdownV2(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(markdownV2Reserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
