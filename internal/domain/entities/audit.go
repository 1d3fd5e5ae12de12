package entities

import (
	"encoding/json"
	"time"
)

// AuditLog records one security relevant step of a binding, reset or login flow
type AuditLog struct {
	ID          string         `json:"id" db:"id"`
	Login       string         `json:"login" db:"login"`
	Action      AuditAction    `json:"action" db:"action"`
	Destination Destination    `json:"destination" db:"destination"`
	Success     bool           `json:"success" db:"success"`
	Metadata    map[string]any `json:"metadata,omitempty" db:"-"` // stored as JSON in DB
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}

// AuditAction represents the type of action being audited
type AuditAction string

const (
	ActionTokenIssued   AuditAction = "token.issued"
	ActionTokenMismatch AuditAction = "token.mismatch"

	ActionChatBound   AuditAction = "chat.bound"
	ActionChatUnbound AuditAction = "chat.unbound"

	ActionOTPProvisioned AuditAction = "otp.provisioned"
	ActionOTPCommitted   AuditAction = "otp.committed"
	ActionOTPDestroyed   AuditAction = "otp.destroyed"

	ActionPasswordReset       AuditAction = "password.reset"
	ActionPasswordResetFailed AuditAction = "password.reset_failed"

	ActionSessionLogin  AuditAction = "session.login"
	ActionSessionLogout AuditAction = "session.logout"
)

// NewAuditLog creates a new, successful audit log entry
func NewAuditLog(login string, action AuditAction) *AuditLog {
	return &AuditLog{
		Login:     login,
		Action:    action,
		Success:   true,
		CreatedAt: time.Now(),
		Metadata:  make(map[string]any),
	}
}

// WithDestination sets the destination the action targeted
func (a *AuditLog) WithDestination(d Destination) *AuditLog {
	a.Destination = d
	return a
}

// WithError marks the audit log as failed with an error message
func (a *AuditLog) WithError(err error) *AuditLog {
	a.Success = false
	if err != nil {
		a.WithMetadata("error", err.Error())
	}
	return a
}

// WithMetadata adds metadata to the audit log
func (a *AuditLog) WithMetadata(key string, value any) *AuditLog {
	if a.Metadata == nil {
		a.Metadata = make(map[string]any)
	}
	a.Metadata[key] = value
	return a
}

// MarshalMetadataToJSON converts metadata map to JSON string for database storage
func (a *AuditLog) MarshalMetadataToJSON() (string, error) {
	if a.Metadata == nil {
		return "{}", nil
	}
	data, err := json.Marshal(a.Metadata)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UnmarshalMetadataFromJSON converts JSON string from database to metadata map
func (a *AuditLog) UnmarshalMetadataFromJSON(data string) error {
	if data == "" || data == "{}" {
		a.Metadata = make(map[string]any)
		return nil
	}
	return json.Unmarshal([]byte(data), &a.Metadata)
}
