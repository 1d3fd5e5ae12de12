package entities

import (
	"strconv"
	"time"
)

// Identity holds the binding and verification state for one directory account.
// A zero ID means the record has not been persisted yet.
type Identity struct {
	ID              string      `json:"id" db:"id"`
	Version         int64       `json:"version" db:"version"`
	Login           string      `json:"login" db:"login"`
	DisplayName     string      `json:"display_name" db:"-"` // resolved from the directory, not stored
	EmailChannel    *string     `json:"email_channel,omitempty" db:"email_channel"`
	PhoneChannel    *string     `json:"phone_channel,omitempty" db:"phone_channel"`
	ChatChannel     *int64      `json:"chat_channel,omitempty" db:"chat_channel"`
	OTPSecret       *string     `json:"-" db:"otp_secret"`
	BindToken       *string     `json:"-" db:"bind_token"`
	BindDestination Destination `json:"bind_destination" db:"bind_destination"`
	ResetToken      *string     `json:"-" db:"reset_token"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
}

// NewIdentity returns a transient record for login
func NewIdentity(login string) *Identity {
	return &Identity{Login: login}
}

// IsPersisted reports whether the record has a row in the store
func (i *Identity) IsPersisted() bool {
	return i.ID != ""
}

// HasChat reports whether a chat is bound
func (i *Identity) HasChat() bool {
	return i.ChatChannel != nil
}

// HasOTP reports whether a TOTP factor is committed
func (i *Identity) HasOTP() bool {
	return i.OTPSecret != nil && *i.OTPSecret != ""
}

// HasBindToken reports whether a binding is outstanding
func (i *Identity) HasBindToken() bool {
	return i.BindToken != nil
}

// HasResetToken reports whether a reset challenge is outstanding
func (i *Identity) HasResetToken() bool {
	return i.ResetToken != nil
}

// SetBindToken records an outstanding binding for dest, replacing any previous one
func (i *Identity) SetBindToken(token string, dest Destination) {
	i.BindToken = &token
	i.BindDestination = dest
}

// ClearBindToken drops the outstanding binding, if any
func (i *Identity) ClearBindToken() {
	i.BindToken = nil
	i.BindDestination = DestinationNone
}

// SetResetToken records an outstanding reset challenge
func (i *Identity) SetResetToken(token string) {
	i.ResetToken = &token
}

// ClearResetToken drops the outstanding reset challenge, if any
func (i *Identity) ClearResetToken() {
	i.ResetToken = nil
}

// BindChat commits chatID as the record's chat channel
func (i *Identity) BindChat(chatID int64) {
	i.ChatChannel = &chatID
}

// UnbindChat clears the chat channel and returns the previous value
func (i *Identity) UnbindChat() (int64, bool) {
	if i.ChatChannel == nil {
		return 0, false
	}
	prev := *i.ChatChannel
	i.ChatChannel = nil
	return prev, true
}

// ChatDestinationID renders the chat channel the way the messenger expects it
func (i *Identity) ChatDestinationID() string {
	if i.ChatChannel == nil {
		return ""
	}
	return strconv.FormatInt(*i.ChatChannel, 10)
}

// AvailableDestinations lists the channels a password reset can currently use,
// in display order.
func (i *Identity) AvailableDestinations() []Destination {
	var out []Destination
	if i.EmailChannel != nil && *i.EmailChannel != "" {
		out = append(out, DestinationEmail)
	}
	if i.PhoneChannel != nil && *i.PhoneChannel != "" {
		out = append(out, DestinationPhone)
	}
	if i.HasChat() {
		out = append(out, DestinationChat)
	}
	if i.HasOTP() {
		out = append(out, DestinationOTP)
	}
	return out
}

// Clone returns a deep copy of the record
func (i *Identity) Clone() *Identity {
	c := *i
	c.EmailChannel = cloneString(i.EmailChannel)
	c.PhoneChannel = cloneString(i.PhoneChannel)
	c.OTPSecret = cloneString(i.OTPSecret)
	c.BindToken = cloneString(i.BindToken)
	c.ResetToken = cloneString(i.ResetToken)
	if i.ChatChannel != nil {
		v := *i.ChatChannel
		c.ChatChannel = &v
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
