package broadcast

import (
	"errors"
	"time"
)

// Severity classifies how a broadcast is rendered.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeveritySuccess Severity = "success"
)

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeveritySuccess:
		return true
	}
	return false
}

// Broadcast is a global announcement. Content is immutable after creation; only
// Active changes.
type Broadcast struct {
	ID                   int64      `json:"id"`
	Title                string     `json:"title"`
	Message              string     `json:"message"`
	Severity             Severity   `json:"severity"`
	RequiresConfirmation bool       `json:"requires_confirmation"`
	Permanent            bool       `json:"permanent"`
	Active               bool       `json:"active"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Expired reports whether the broadcast's expiry has been reached at now.
func (b Broadcast) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !b.ExpiresAt.After(now)
}

// Draft carries the fields an administrator supplies on creation.
type Draft struct {
	Title                string     `json:"title"`
	Message              string     `json:"message"`
	Severity             Severity   `json:"severity"`
	RequiresConfirmation bool       `json:"requires_confirmation"`
	Permanent            bool       `json:"permanent"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
}

// UserBroadcast pairs a broadcast with one user's confirmation state.
// Whether a confirmed item is shown minimized or dismissed is left to the
// client; only the confirmation itself is stored.
type UserBroadcast struct {
	Broadcast
	Confirmed   bool       `json:"confirmed"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// Summary is the administrator view with acknowledgement progress.
type Summary struct {
	Broadcast
	ConfirmationCount int64 `json:"confirmation_count"`
	TotalUsers        int64 `json:"total_users"`
}

const (
	MaxTitleLen   = 200
	MaxMessageLen = 5000
)

var (
	ErrNotFound     = errors.New("broadcast: not found")
	ErrInvalidInput = errors.New("broadcast: invalid input")
)
