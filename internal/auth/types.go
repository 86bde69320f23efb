package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is a registered account. PasswordHash never leaves the server.
type Identity struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	IsAdmin      bool      `json:"is_admin"`
	CreatedAt    time.Time `json:"created_at"`
}

// IdentitySummary is the administrator view of an account.
type IdentitySummary struct {
	Identity
	ConfirmationCount int64 `json:"confirmation_count"`
}

// Claims are the identity claims carried inside a bearer token.
type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
	Epoch    string `json:"epoch,omitempty"`
	jwt.RegisteredClaims
}

// ExpiresAtTime returns the token expiry or the zero time when absent.
func (c *Claims) ExpiresAtTime() time.Time {
	if c == nil || c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}
