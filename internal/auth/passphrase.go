package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
)

var (
	ErrPassphraseMismatch = errors.New("auth: administrator passphrase mismatch")
	ErrPassphraseDisabled = errors.New("auth: administrator passphrase channel disabled")
)

// Passphrase is the shared administrator secret of the legacy passphrase channel.
// It is independent of identity tokens and grants no identity.
type Passphrase struct {
	digest  [32]byte
	enabled bool
}

// NewPassphrase returns a checker for secret. An empty secret disables the channel:
// every Check fails.
func NewPassphrase(secret string) Passphrase {
	if strings.TrimSpace(secret) == "" {
		return Passphrase{}
	}
	return Passphrase{digest: sha256.Sum256([]byte(secret)), enabled: true}
}

// Enabled reports whether a passphrase was configured.
func (p Passphrase) Enabled() bool { return p.enabled }

// Check compares candidate in constant time.
func (p Passphrase) Check(candidate string) error {
	if !p.enabled {
		return ErrPassphraseDisabled
	}
	got := sha256.Sum256([]byte(candidate))
	if subtle.ConstantTimeCompare(got[:], p.digest[:]) != 1 {
		return ErrPassphraseMismatch
	}
	return nil
}
