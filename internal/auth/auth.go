package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "shoplist"
	DefaultTokenTTL = 24 * time.Hour
)

// Issuer mints and validates HS256 bearer tokens. Validation is a pure function of
// the token, the signing secret, the session epoch and the clock.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	epoch  string
	now    func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer) error

// WithIssuerName overrides the iss claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) error {
		name = strings.TrimSpace(name)
		if name != "" {
			i.issuer = name
		}
		return nil
	}
}

// WithTokenTTL configures the validity window of issued tokens.
func WithTokenTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) error {
		if ttl <= 0 {
			return fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
		}
		i.ttl = ttl
		return nil
	}
}

// WithSessionEpoch binds issued tokens to epoch; tokens carrying another epoch fail
// validation with ErrStaleSession.
func WithSessionEpoch(epoch string) IssuerOption {
	return func(i *Issuer) error {
		i.epoch = strings.TrimSpace(epoch)
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) error {
		if fn != nil {
			i.now = fn
		}
		return nil
	}
}

// NewIssuer builds an Issuer. An empty secret is a configuration error; there is no default.
func NewIssuer(secret string, opts ...IssuerOption) (*Issuer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrMissingSecret
	}
	i := &Issuer{
		secret: []byte(secret),
		issuer: defaultIssuer,
		ttl:    DefaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(i); err != nil {
			return nil, err
		}
	}
	return i, nil
}

// NewSessionEpoch returns a random per-process epoch value.
func NewSessionEpoch() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}

// TTL reports the validity window of issued tokens.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs a token for the identity.
func (i *Issuer) Issue(id Identity) (string, *Claims, error) {
	userID := strings.TrimSpace(id.ID)
	if userID == "" {
		return "", nil, fmt.Errorf("%w: identity id is required", ErrInvalidInput)
	}
	now := i.now().UTC()
	claims := &Claims{
		UserID:   userID,
		Username: id.Username,
		IsAdmin:  id.IsAdmin,
		Epoch:    i.epoch,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return signed, claims, nil
}

// Validate verifies signature, issuer and expiry and returns the embedded claims.
func (i *Issuer) Validate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrTokenMalformed
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.UserID) == "" || claims.UserID != claims.Subject {
		return nil, ErrTokenMalformed
	}
	if i.epoch != "" && claims.Epoch != i.epoch {
		return nil, ErrStaleSession
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrSignatureInvalid
	default:
		return ErrTokenMalformed
	}
}
