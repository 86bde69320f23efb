package auth

import "errors"

var (
	ErrNotFound           = errors.New("auth: not found")
	ErrConflict           = errors.New("auth: already exists")
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrMissingSecret      = errors.New("auth: signing secret is not configured")
)

// ErrInvalidToken is the client-visible class for every token validation failure.
// The specific causes below all satisfy errors.Is(err, ErrInvalidToken).
var ErrInvalidToken = errors.New("invalid token")

var (
	ErrTokenExpired     = &tokenError{reason: "token expired"}
	ErrTokenMalformed   = &tokenError{reason: "token malformed"}
	ErrSignatureInvalid = &tokenError{reason: "token signature invalid"}
	ErrStaleSession     = &tokenError{reason: "token issued before service restart"}
)

type tokenError struct {
	reason string
}

func (e *tokenError) Error() string { return e.reason }

func (e *tokenError) Is(target error) bool {
	return target == ErrInvalidToken || target == error(e)
}
